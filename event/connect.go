package event

import (
	"syscall"
	"unsafe"

	"github.com/ringbahn/ringbahn/cancellation"
	"github.com/ringbahn/ringbahn/driver"
	"github.com/ringbahn/ringbahn/internal/iouring"
)

// Connect issues a non-blocking connect(2) against Fd through the ring.
// Sockaddr must already be populated by the caller (e.g. via
// syscall.RawSockaddrInet4) before Prepare runs, and is read by the kernel
// for the lifetime of the request.
type Connect struct {
	Fd       int32
	Sockaddr syscall.RawSockaddrAny
	Addrlen  uint32
}

func (c *Connect) SqesNeeded() uint32 { return 1 }

func (c *Connect) Prepare(res driver.Reservation) {
	sqe := res.Next()
	sqe.Opcode = iouring.IORING_OP_CONNECT
	sqe.Fd = c.Fd
	sqe.Addr = uint64(uintptr(unsafe.Pointer(&c.Sockaddr)))
	sqe.Off = uint64(c.Addrlen)
}

func (c *Connect) Cancel() cancellation.Cancellation {
	return cancellation.New(func(*cancellation.Result) { _ = c })
}
