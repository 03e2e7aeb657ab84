// Package event implements the per-opcode event descriptors of spec.md §4.8:
// trivial records, each a pair of (i) a function that fills an SQE to
// describe one kernel operation and (ii) a function that converts an
// abandoned descriptor into a cancellation.Cancellation carrying exactly the
// resources it lent the kernel.
package event

import (
	"github.com/ringbahn/ringbahn/cancellation"
	"github.com/ringbahn/ringbahn/driver"
)

// Event describes one kernel operation plus the resources it lends it. No
// Event performs I/O itself; each is a pure prep function over kernel-visible
// argument records (§4.8).
type Event interface {
	// SqesNeeded returns the number of SQEs this event needs, >= 1. Most
	// events need one; chained events (e.g. a link-timeout) need more.
	SqesNeeded() uint32

	// Prepare fills the reserved SQEs, imposing the ownership lend
	// described in spec.md §3: while the operation is outstanding, the
	// event's owned resources are conceptually lent to the kernel. Prepare
	// must not retain references to its own fields beyond what it writes
	// into the SQE(s).
	Prepare(res driver.Reservation)

	// Cancel converts the event into a Cancellation carrying exactly the
	// heap resources handed to the kernel, called when a Submission/Ring
	// abandons interest in this event while it is Prepared or Submitted.
	Cancel() cancellation.Cancellation
}
