package event

import (
	"unsafe"

	"github.com/ringbahn/ringbahn/cancellation"
	"github.com/ringbahn/ringbahn/driver"
	"github.com/ringbahn/ringbahn/internal/iouring"
)

// Recv reads from a connected socket via recv(2) semantics.
type Recv struct {
	Fd    int32
	Buf   []byte
	Flags uint32
}

func (r *Recv) SqesNeeded() uint32 { return 1 }

func (r *Recv) Prepare(res driver.Reservation) {
	sqe := res.Next()
	sqe.Opcode = iouring.IORING_OP_RECV
	sqe.Fd = r.Fd
	sqe.OpcodeFlags = r.Flags
	sqe.Len = uint32(len(r.Buf))
	if len(r.Buf) > 0 {
		sqe.Addr = uint64(uintptr(unsafe.Pointer(&r.Buf[0])))
	}
}

func (r *Recv) Cancel() cancellation.Cancellation {
	buf := r.Buf
	r.Buf = nil
	return cancellation.New(func(*cancellation.Result) { _ = buf })
}
