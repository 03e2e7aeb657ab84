package event

import (
	"unsafe"

	"github.com/ringbahn/ringbahn/cancellation"
	"github.com/ringbahn/ringbahn/driver"
	"github.com/ringbahn/ringbahn/internal/iouring"
)

// Read is a basic (or vectored, when len(Bufs) > 1) read event. Bufs are
// owned by Read for as long as the kernel may be writing into them; Cancel
// keeps them pinned alive until the kernel is done, instead of manually
// freeing, since Go's GC — not an allocator call — is what reclaims a plain
// []byte once nothing references it anymore.
type Read struct {
	Fd     int32
	Bufs   [][]byte
	Offset uint64

	iovecs []iouring.Iovec
}

func (r *Read) SqesNeeded() uint32 { return 1 }

func (r *Read) Prepare(res driver.Reservation) {
	sqe := res.Next()
	sqe.Fd = r.Fd
	sqe.Off = r.Offset

	if len(r.Bufs) == 1 {
		sqe.Opcode = iouring.IORING_OP_READ
		b := r.Bufs[0]
		sqe.Len = uint32(len(b))
		if len(b) > 0 {
			sqe.Addr = uint64(uintptr(unsafe.Pointer(&b[0])))
		}
		return
	}

	sqe.Opcode = iouring.IORING_OP_READV
	r.iovecs = r.iovecs[:0]
	for _, b := range r.Bufs {
		var iv iouring.Iovec
		if len(b) > 0 {
			iv.Set(b)
		}
		r.iovecs = append(r.iovecs, iv)
	}
	sqe.Len = uint32(len(r.iovecs))
	if len(r.iovecs) > 0 {
		sqe.Addr = uint64(uintptr(unsafe.Pointer(&r.iovecs[0])))
	}
}

func (r *Read) Cancel() cancellation.Cancellation {
	bufs := r.Bufs
	r.Bufs = nil
	return cancellation.New(func(*cancellation.Result) { _ = bufs })
}
