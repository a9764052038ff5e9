//go:build !linux

package filesource

func adviseRandom(data []byte) {}
