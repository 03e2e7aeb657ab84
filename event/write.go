package event

import (
	"unsafe"

	"github.com/ringbahn/ringbahn/cancellation"
	"github.com/ringbahn/ringbahn/driver"
	"github.com/ringbahn/ringbahn/internal/iouring"
)

// Write is a basic (or vectored, when len(Bufs) > 1) write event.
type Write struct {
	Fd     int32
	Bufs   [][]byte
	Offset uint64

	iovecs []iouring.Iovec
}

func (w *Write) SqesNeeded() uint32 { return 1 }

func (w *Write) Prepare(res driver.Reservation) {
	sqe := res.Next()
	sqe.Fd = w.Fd
	sqe.Off = w.Offset

	if len(w.Bufs) == 1 {
		sqe.Opcode = iouring.IORING_OP_WRITE
		b := w.Bufs[0]
		sqe.Len = uint32(len(b))
		if len(b) > 0 {
			sqe.Addr = uint64(uintptr(unsafe.Pointer(&b[0])))
		}
		return
	}

	sqe.Opcode = iouring.IORING_OP_WRITEV
	w.iovecs = w.iovecs[:0]
	for _, b := range w.Bufs {
		var iv iouring.Iovec
		if len(b) > 0 {
			iv.Set(b)
		}
		w.iovecs = append(w.iovecs, iv)
	}
	sqe.Len = uint32(len(w.iovecs))
	if len(w.iovecs) > 0 {
		sqe.Addr = uint64(uintptr(unsafe.Pointer(&w.iovecs[0])))
	}
}

func (w *Write) Cancel() cancellation.Cancellation {
	bufs := w.Bufs
	w.Bufs = nil
	return cancellation.New(func(*cancellation.Result) { _ = bufs })
}
