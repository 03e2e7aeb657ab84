package event

import (
	"unsafe"

	"github.com/ringbahn/ringbahn/cancellation"
	"github.com/ringbahn/ringbahn/driver"
	"github.com/ringbahn/ringbahn/internal/iouring"
)

// Send writes Buf to a connected socket via send(2) semantics. Unlike Write,
// io_uring's IORING_OP_SEND takes a single buffer and a flags word (MSG_*)
// rather than an offset.
type Send struct {
	Fd    int32
	Buf   []byte
	Flags uint32
}

func (s *Send) SqesNeeded() uint32 { return 1 }

func (s *Send) Prepare(res driver.Reservation) {
	sqe := res.Next()
	sqe.Opcode = iouring.IORING_OP_SEND
	sqe.Fd = s.Fd
	sqe.OpcodeFlags = s.Flags
	sqe.Len = uint32(len(s.Buf))
	if len(s.Buf) > 0 {
		sqe.Addr = uint64(uintptr(unsafe.Pointer(&s.Buf[0])))
	}
}

func (s *Send) Cancel() cancellation.Cancellation {
	buf := s.Buf
	s.Buf = nil
	return cancellation.New(func(*cancellation.Result) { _ = buf })
}
