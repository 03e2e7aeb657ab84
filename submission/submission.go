// Package submission implements the one-shot operation future of spec.md
// §4.4: an Event bound to a Driver, driven through Waiting/Prepared/
// Submitted/Completed (and the defensive Lost state) until the kernel
// reports back.
package submission

import (
	"context"
	"fmt"

	"github.com/ringbahn/ringbahn/completion"
	"github.com/ringbahn/ringbahn/driver"
	"github.com/ringbahn/ringbahn/event"
)

type state int

const (
	stateWaiting state = iota
	statePrepared
	stateSubmitted
	stateCompleted
	stateLost
)

// Submission drives one event through exactly one kernel round-trip. The
// zero value is not usable; construct with New.
type Submission struct {
	drv   driver.Driver
	ev    event.Event
	st    state
	cell  *completion.Cell
	token driver.Token
}

// New builds a Submission for ev against drv. The event is not submitted
// until the first Poll call.
func New(drv driver.Driver, ev event.Event) *Submission {
	return &Submission{drv: drv, ev: ev, st: stateWaiting}
}

// Poll advances the state machine by at most two steps, per spec.md §4.4:
// from Waiting it tries prepare then submit; from Prepared it tries
// complete, falling back to submit; from Submitted it tries complete. It
// returns (result, event, true) once the operation has completed, or
// (zero, nil, false) if the caller must wait and retry after waker fires.
func (s *Submission) Poll(waker completion.Waker) (completion.Result, event.Event, bool, error) {
	switch s.st {
	case stateWaiting:
		if !s.prepare(waker) {
			return completion.Result{}, nil, false, nil
		}
		fallthrough
	case statePrepared:
		if res, ev, done, err := s.tryComplete(waker); done || err != nil {
			return res, ev, done, err
		}
		if !s.trySubmit(waker) {
			return completion.Result{}, nil, false, nil
		}
		return s.tryComplete(waker)
	case stateSubmitted:
		return s.tryComplete(waker)
	case stateCompleted:
		return completion.Result{}, nil, false, fmt.Errorf("submission: Poll called after completion")
	default:
		panic("submission: Poll called on a Submission left in Lost state by a faulty driver")
	}
}

// Wait blocks until the operation completes or ctx is done, using a
// channel-backed Waker as the convenience wrapper over the low-level Poll
// API described in §4.4.
func (s *Submission) Wait(ctx context.Context) (completion.Result, event.Event, error) {
	waker, ch := completion.NewChanWaker()
	for {
		res, ev, done, err := s.Poll(waker)
		if err != nil {
			return completion.Result{}, nil, err
		}
		if done {
			return res, ev, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			s.Close()
			return completion.Result{}, nil, ctx.Err()
		}
	}
}

func (s *Submission) prepare(waker completion.Waker) bool {
	s.st = stateLost
	n := s.ev.SqesNeeded()
	tok, ready, err := s.drv.PollPrepare(waker, n, func(res driver.Reservation) driver.Token {
		rec := &driver.RecordingReservation{Inner: res}
		s.ev.Prepare(rec)
		cell := completion.New(waker)
		for _, sqe := range rec.Issued {
			sqe.UserData = cell.Addr()
		}
		return driver.Token{Cell: cell}
	})
	if err != nil || !ready {
		s.st = stateWaiting
		return false
	}
	if tok.Cell == nil {
		// The driver reported success without handing prep's token back:
		// stay Lost so the next Poll panics.
		return false
	}
	s.cell = tok.Cell
	s.token = tok
	s.st = statePrepared
	return true
}

func (s *Submission) trySubmit(waker completion.Waker) bool {
	_, ready, err := s.drv.PollSubmit(waker, true)
	if err != nil || !ready {
		return false
	}
	s.st = stateSubmitted
	return true
}

func (s *Submission) tryComplete(waker completion.Waker) (completion.Result, event.Event, bool, error) {
	res, done := s.cell.Check(waker)
	if !done {
		return completion.Result{}, nil, false, nil
	}
	s.st = stateCompleted
	ev := s.ev
	s.ev = nil
	return res, ev, true, nil
}

// Close abandons the Submission. If an operation is outstanding with the
// kernel (Prepared or Submitted), the event is converted into a
// Cancellation attached to the completion cell instead of being freed
// outright; in Waiting or Completed the event is simply dropped.
func (s *Submission) Close() {
	switch s.st {
	case statePrepared, stateSubmitted:
		s.cell.Cancel(s.ev.Cancel())
		s.ev = nil
	case stateWaiting, stateCompleted:
		s.ev = nil
	}
}
