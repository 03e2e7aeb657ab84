// Package driver defines the pluggable adapter between the core
// (submission, ring) and a concrete SQ/CQ ownership strategy, per spec.md
// §4.3. Any implementation that honors this contract can be plugged in; the
// reference implementation lives in driver/iouringdriver.
package driver

import (
	"github.com/ringbahn/ringbahn/completion"
)

// Reservation is a handle onto n contiguous, kernel-shaped submission queue
// entries reserved by a driver. Events fill them one at a time via Next.
type Reservation interface {
	// Next returns the next reserved SQE, as an *SQE the caller fills in
	// place. Calling it more times than the reservation's entry count
	// violates the contract; the reference driver panics once prep
	// returns with a different number of entries filled.
	Next() *SQE
}

// SQE mirrors the kernel-visible fields of a submission queue entry (§6):
// opcode, fd, offset, address, length, per-opcode flags, user-data, and link
// flags. The core writes UserData; events write everything else.
type SQE struct {
	Opcode      uint8
	Flags       uint8
	IoPrio      uint16
	Fd          int32
	Off         uint64
	Addr        uint64
	Len         uint32
	OpcodeFlags uint32
	UserData    uint64
	BufIndex    uint16
}

// LinkNext marks this SQE as hard-linked to the one immediately following it
// in the same reservation: the kernel will not start the next entry until
// this one completes. Used by ring.Ring's linked-cancel-on-reuse (§4.6).
func (s *SQE) LinkNext(flag uint8) {
	s.Flags |= flag
}

// Token is the completion token a driver hands back from PollPrepare: it
// binds the reserved SQEs to a completion cell created with the caller's
// waker. A driver that receives a Token from PrepareFunc but does not hand
// it back to the caller is incorrect (§4.3's contract) and will drive
// Submission/Ring into their Lost state, which panics on the next poll.
type Token struct {
	Cell *completion.Cell
}

// PrepareFunc is invoked by a driver's PollPrepare once it has reserved n
// SQEs, to let the caller fill them in and bind them to a completion cell.
// It must return the Token produced for that cell (see Token's doc).
type PrepareFunc func(res Reservation) Token

// Driver abstracts SQ reservation and CQ submission (§4.3). Both operations
// are non-blocking "try once" steps: on success they return (value, true,
// nil); if the driver cannot make progress right now (e.g. the SQ is full),
// it registers waker to be woken when progress might be possible and
// returns (zero, false, nil).
type Driver interface {
	// PollPrepare attempts to reserve n contiguous SQEs and invoke prep with
	// them. If the driver cannot allocate n entries right now, it must
	// register waker and return (Token{}, false, nil); the caller will
	// retry later.
	PollPrepare(waker completion.Waker, n uint32, prep PrepareFunc) (Token, bool, error)

	// PollSubmit asks the driver to push outstanding prepared entries to
	// the kernel. eager hints that the caller would like this pushed
	// immediately rather than batched. A driver that batches lazily may
	// treat this as a no-op and return (0, true, nil). If the driver cannot
	// submit right now, it registers waker and returns (0, false, nil).
	PollSubmit(waker completion.Waker, eager bool) (submitted int, ready bool, err error)
}

// RecordingReservation wraps a Reservation, remembering every SQE it hands
// out so a caller can stamp fields (typically UserData, once a completion
// cell exists) onto exactly the entries an Event filled, after the fact.
type RecordingReservation struct {
	Inner  Reservation
	Issued []*SQE
}

func (r *RecordingReservation) Next() *SQE {
	sqe := r.Inner.Next()
	r.Issued = append(r.Issued, sqe)
	return sqe
}
