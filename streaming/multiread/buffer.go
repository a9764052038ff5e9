package multiread

// Buffer is the destination of an executed set. An owned buffer belongs to
// the execution and is given back through Release. A borrowed buffer belongs
// to the caller and Release never touches it.
type Buffer struct {
	b         []byte
	owned     bool
	onRelease func()
}

// Allocate makes an owned buffer of size bytes. onRelease, if set, runs once
// when the buffer is released.
func Allocate(size uint64, onRelease func()) *Buffer {
	return &Buffer{
		b:         make([]byte, size),
		owned:     true,
		onRelease: onRelease,
	}
}

// Borrow wraps caller memory.
func Borrow(b []byte) *Buffer {
	return &Buffer{b: b}
}

func (b *Buffer) Bytes() []byte {
	return b.b
}

func (b *Buffer) Len() uint64 {
	return uint64(len(b.b))
}

func (b *Buffer) Owned() bool {
	return b.owned
}

// Released reports whether an owned buffer was already released.
func (b *Buffer) Released() bool {
	return b.owned && b.b == nil
}

// Release drops an owned buffer. It is a no-op for borrowed and already
// released buffers.
func (b *Buffer) Release() {
	if !b.owned || b.b == nil {
		return
	}
	b.b = nil
	if b.onRelease != nil {
		b.onRelease()
		b.onRelease = nil
	}
}
