package event

import (
	"github.com/ringbahn/ringbahn/cancellation"
	"github.com/ringbahn/ringbahn/driver"
	"github.com/ringbahn/ringbahn/internal/iouring"
)

// Close closes a file descriptor through the ring instead of a blocking
// syscall.Close, so it serializes correctly with other operations already
// queued against the same fd.
//
// Per the reference "on failure, fd remains open" semantics: if the close
// is abandoned (Cancel) before the kernel confirms it, and the kernel later
// reports the close itself failed, Reclaimed (if set) is invoked with Fd so
// the caller can decide whether to retry. A successful close needs no
// reclaim: the fd is gone either way.
type Close struct {
	Fd        int32
	Reclaimed func(fd int32)
}

func (c *Close) SqesNeeded() uint32 { return 1 }

func (c *Close) Prepare(res driver.Reservation) {
	sqe := res.Next()
	sqe.Opcode = iouring.IORING_OP_CLOSE
	sqe.Fd = c.Fd
}

// Cancel hands off the close's outcome rather than dropping it: a failed
// kernel-side close leaves the fd owned by the caller again.
func (c *Close) Cancel() cancellation.Cancellation {
	fd := c.Fd
	reclaimed := c.Reclaimed
	return cancellation.New(func(result *cancellation.Result) {
		if result != nil && result.Err != nil && reclaimed != nil {
			reclaimed(fd)
		}
	})
}
