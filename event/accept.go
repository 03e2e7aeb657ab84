package event

import (
	"syscall"
	"unsafe"

	"github.com/ringbahn/ringbahn/cancellation"
	"github.com/ringbahn/ringbahn/driver"
	"github.com/ringbahn/ringbahn/internal/iouring"
)

// Accept accepts one incoming connection on a listening socket. The kernel
// writes the peer address into a scratch syscall.RawSockaddrAny and its
// length into a scratch uint32, both owned by Accept until completion; Addr
// holds the sockaddr pointer, Off doubles as the addrlen pointer the way
// liburing overlays it for IORING_OP_ACCEPT.
type Accept struct {
	Fd    int32
	Flags uint32

	sockaddr syscall.RawSockaddrAny
	addrlen  uint32
}

func (a *Accept) SqesNeeded() uint32 { return 1 }

func (a *Accept) Prepare(res driver.Reservation) {
	a.addrlen = uint32(unsafe.Sizeof(a.sockaddr))

	sqe := res.Next()
	sqe.Opcode = iouring.IORING_OP_ACCEPT
	sqe.Fd = a.Fd
	sqe.OpcodeFlags = a.Flags
	sqe.Addr = uint64(uintptr(unsafe.Pointer(&a.sockaddr)))
	sqe.Off = uint64(uintptr(unsafe.Pointer(&a.addrlen)))
}

// Sockaddr returns the peer address the kernel filled in, valid only after
// the operation has completed successfully.
func (a *Accept) Sockaddr() *syscall.RawSockaddrAny {
	return &a.sockaddr
}

// Cancel pins the scratch address fields alive; there is no allocator
// ownership to hand off since they are plain struct fields on Accept, which
// the caller must keep reachable until the kernel is done with them.
func (a *Accept) Cancel() cancellation.Cancellation {
	return cancellation.New(func(*cancellation.Result) { _ = a })
}
