package event

import (
	"unsafe"

	"github.com/ringbahn/ringbahn/cancellation"
	"github.com/ringbahn/ringbahn/driver"
	"github.com/ringbahn/ringbahn/internal/iouring"
)

// OpenAt opens path relative to DirFd (use AT_FDCWD for process-relative
// paths), mirroring openat(2). The kernel reads Path directly out of
// user-space memory while the request is outstanding, so the NUL-terminated
// byte slice must stay alive and unmoved until completion or cancellation.
type OpenAt struct {
	DirFd int32
	Path  string // converted to a NUL-terminated buffer in Prepare
	Flags uint32
	Mode  uint32

	pathBuf []byte
}

func (o *OpenAt) SqesNeeded() uint32 { return 1 }

func (o *OpenAt) Prepare(res driver.Reservation) {
	sqe := res.Next()
	sqe.Opcode = iouring.IORING_OP_OPENAT
	sqe.Fd = o.DirFd
	sqe.OpcodeFlags = o.Flags
	sqe.Len = o.Mode

	o.pathBuf = make([]byte, len(o.Path)+1)
	copy(o.pathBuf, o.Path)
	sqe.Addr = uint64(uintptr(unsafe.Pointer(&o.pathBuf[0])))
}

func (o *OpenAt) Cancel() cancellation.Cancellation {
	buf := o.pathBuf
	o.pathBuf = nil
	return cancellation.New(func(*cancellation.Result) { _ = buf })
}
