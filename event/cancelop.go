package event

import (
	"github.com/ringbahn/ringbahn/cancellation"
	"github.com/ringbahn/ringbahn/driver"
	"github.com/ringbahn/ringbahn/internal/iouring"
)

// AsyncCancel asks the kernel to cancel the operation previously submitted
// with user-data TargetAddr. It is the event ring.Ring hard-links in front
// of a reused cell's next operation to race-free the prior operation off the
// ring before its memory is reused for something else (spec.md §4.6).
type AsyncCancel struct {
	TargetAddr uint64
}

func (a *AsyncCancel) SqesNeeded() uint32 { return 1 }

func (a *AsyncCancel) Prepare(res driver.Reservation) {
	sqe := res.Next()
	sqe.Opcode = iouring.IORING_OP_ASYNC_CANCEL
	sqe.Addr = a.TargetAddr
}

// Cancel is a no-op: an async-cancel request owns no resources of its own.
func (a *AsyncCancel) Cancel() cancellation.Cancellation {
	return cancellation.Null()
}
