//go:build linux

package filesource

import "golang.org/x/sys/unix"

// adviseRandom disables readahead: voxel reads jump across the file.
func adviseRandom(data []byte) {
	_ = unix.Madvise(data, unix.MADV_RANDOM)
}
