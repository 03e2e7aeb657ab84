// Package ring implements the reusable cyclic operation stream of spec.md
// §4.6: a single in-flight-operation slot for a long-lived handle (file,
// socket, stdio) that cycles through many events instead of being consumed
// by one.
package ring

import (
	"context"

	"github.com/ringbahn/ringbahn/cancellation"
	"github.com/ringbahn/ringbahn/completion"
	"github.com/ringbahn/ringbahn/driver"
	"github.com/ringbahn/ringbahn/event"
)

type state int

const (
	stateInert state = iota
	statePrepared
	stateSubmitted
	stateCancelled
	stateLost
)

// Ring holds exactly one in-flight operation for its owning handle. After an
// operation completes, state returns to Inert and the next Poll call starts
// a fresh one. Within one Ring, operations are strictly serial: a new
// operation cannot be prepared until the previous one has either completed
// or been linked-cancelled (spec.md §5, Ordering guarantees).
type Ring struct {
	drv  driver.Driver
	st   state
	ev   event.Event
	cell *completion.Cell

	// cancelledAddr is the address of the cell belonging to the operation
	// that Cancel abandoned, valid only while st == stateCancelled. The
	// next Poll hard-links an AsyncCancel targeting this address in front
	// of the new operation.
	cancelledAddr uint64
}

// New builds a Ring bound to drv. It starts Inert; the first Poll call
// begins the first operation.
func New(drv driver.Driver) *Ring {
	return &Ring{drv: drv, st: stateInert}
}

// Poll drives the ring's current operation, or starts a new one from ev if
// the ring is Inert (or Cancelled, in which case the new operation is
// hard-linked behind a kernel-side cancel of the prior one). It has the
// same two-step-per-call shape as Submission.Poll.
func (r *Ring) Poll(waker completion.Waker, ev event.Event) (completion.Result, event.Event, bool, error) {
	switch r.st {
	case stateInert:
		r.ev = ev
		if !r.prepare(waker, nil) {
			return completion.Result{}, nil, false, nil
		}
		return r.advance(waker)

	case stateCancelled:
		r.ev = ev
		if !r.prepare(waker, &event.AsyncCancel{TargetAddr: r.cancelledAddr}) {
			return completion.Result{}, nil, false, nil
		}
		return r.advance(waker)

	case statePrepared:
		return r.advance(waker)

	case stateSubmitted:
		return r.tryComplete(waker)

	default:
		panic("ring: Poll called on a Ring left in Lost state by a faulty driver")
	}
}

// advance runs the Prepared-state portion of Poll shared by a freshly
// prepared operation and one already sitting in Prepared from a prior call:
// try complete, then try submit, then try complete again.
func (r *Ring) advance(waker completion.Waker) (completion.Result, event.Event, bool, error) {
	if res, outEv, done, err := r.tryComplete(waker); done || err != nil {
		return res, outEv, done, err
	}
	if !r.trySubmit(waker) {
		return completion.Result{}, nil, false, nil
	}
	return r.tryComplete(waker)
}

// Wait blocks until the current operation (starting ev, if the ring is
// Inert or Cancelled) completes or ctx is done.
func (r *Ring) Wait(ctx context.Context, ev event.Event) (completion.Result, event.Event, error) {
	waker, ch := completion.NewChanWaker()
	for {
		res, outEv, done, err := r.Poll(waker, ev)
		if err != nil {
			return completion.Result{}, nil, err
		}
		if done {
			return res, outEv, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			r.cancelCurrent()
			return completion.Result{}, nil, ctx.Err()
		}
	}
}

// cancelCurrent abandons whatever operation is outstanding, converting the
// event Wait was driving into a Cancellation via its own cancel operation.
// Used when a caller's context is done before the kernel reports back.
func (r *Ring) cancelCurrent() {
	switch r.st {
	case statePrepared, stateSubmitted:
		r.Cancel(r.ev.Cancel())
	}
}

// prepare reserves r.ev's SQEs, plus lead's when lead is non-nil (the
// linked-cancel-on-reuse case), with lead's entries filled first and hard-
// linked to the ones that follow.
func (r *Ring) prepare(waker completion.Waker, lead event.Event) bool {
	priorState := r.st
	r.st = stateLost
	n := r.ev.SqesNeeded()
	if lead != nil {
		n += lead.SqesNeeded()
	}
	tok, ready, err := r.drv.PollPrepare(waker, n, func(res driver.Reservation) driver.Token {
		if lead != nil {
			// lead's SQEs are left with UserData 0: their own CQE is
			// discarded by dispatch, only the main event's completion
			// matters (it carries the real cell address).
			leadRes := &linkedReservation{inner: res}
			lead.Prepare(leadRes)
		}
		rec := &driver.RecordingReservation{Inner: res}
		r.ev.Prepare(rec)
		cell := completion.New(waker)
		for _, sqe := range rec.Issued {
			sqe.UserData = cell.Addr()
		}
		return driver.Token{Cell: cell}
	})
	if err != nil || !ready {
		r.st = priorState
		return false
	}
	if tok.Cell == nil {
		// The driver reported success without handing prep's token back:
		// stay Lost so the next Poll panics.
		return false
	}
	r.cell = tok.Cell
	r.st = statePrepared
	return true
}

// linkedReservation wraps a driver.Reservation so that every SQE it hands
// out on behalf of a lead event (the kernel-side cancel) is marked
// IOSQE_IO_HARDLINK, hard-linking it to whatever the underlying reservation
// yields next: the next entry still runs when the cancel itself fails (e.g.
// ENOENT because the prior operation had already finished).
type linkedReservation struct {
	inner driver.Reservation
}

const ioSqeIOHardlink = 1 << 3 // IOSQE_IO_HARDLINK; internal/iouring defines only IOSQE_IO_LINK (1 << 2)

func (l *linkedReservation) Next() *driver.SQE {
	sqe := l.inner.Next()
	sqe.LinkNext(ioSqeIOHardlink)
	return sqe
}

func (r *Ring) trySubmit(waker completion.Waker) bool {
	_, ready, err := r.drv.PollSubmit(waker, true)
	if err != nil || !ready {
		return false
	}
	r.st = stateSubmitted
	return true
}

func (r *Ring) tryComplete(waker completion.Waker) (completion.Result, event.Event, bool, error) {
	res, done := r.cell.Check(waker)
	if !done {
		return completion.Result{}, nil, false, nil
	}
	r.st = stateInert
	ev := r.ev
	r.ev = nil
	r.cell = nil
	return res, ev, true, nil
}

// Cancel abandons the current operation without blocking. If state is
// Prepared or Submitted, the cell moves to Cancelled(address) and payload is
// handed to the old cell's cancel path; the next Poll call hard-links a
// kernel-side cancel of that address in front of the caller's next
// operation. In Inert or Cancelled, payload is dropped immediately since
// there is no outstanding kernel reference to race against.
func (r *Ring) Cancel(payload cancellation.Cancellation) {
	switch r.st {
	case statePrepared, stateSubmitted:
		addr := r.cell.Addr()
		r.cell.Cancel(payload)
		r.cell = nil
		r.ev = nil
		r.cancelledAddr = addr
		r.st = stateCancelled
	default:
		payload.Drop()
	}
}

// Close abandons the ring. If an operation is outstanding, it is cancelled
// using the event's own cancel conversion, matching Submission.Close.
func (r *Ring) Close() {
	switch r.st {
	case statePrepared, stateSubmitted:
		r.cell.Cancel(r.ev.Cancel())
		r.cell = nil
		r.ev = nil
		r.st = stateInert
	}
}
