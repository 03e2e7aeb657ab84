package submission

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ringbahn/ringbahn/cancellation"
	"github.com/ringbahn/ringbahn/completion"
	"github.com/ringbahn/ringbahn/driver"
)

// fakeDriver grants SQ space and submit capacity only after a configured
// number of refusals, to exercise the Waiting/Prepared retry paths.
type fakeDriver struct {
	prepareRefusals int
	submitRefusals  int
	submitted       []*completion.Cell
}

func (d *fakeDriver) PollPrepare(waker completion.Waker, n uint32, prep driver.PrepareFunc) (driver.Token, bool, error) {
	if d.prepareRefusals > 0 {
		d.prepareRefusals--
		return driver.Token{}, false, nil
	}
	res := &fakeReservation{sqes: make([]*driver.SQE, n)}
	for i := range res.sqes {
		res.sqes[i] = &driver.SQE{}
	}
	tok := prep(res)
	return tok, true, nil
}

func (d *fakeDriver) PollSubmit(waker completion.Waker, eager bool) (int, bool, error) {
	if d.submitRefusals > 0 {
		d.submitRefusals--
		return 0, false, nil
	}
	return 1, true, nil
}

type fakeReservation struct {
	sqes []*driver.SQE
	next int
}

func (r *fakeReservation) Next() *driver.SQE {
	sqe := r.sqes[r.next]
	r.next++
	return sqe
}

type nopEvent struct {
	canceled bool
}

func (e *nopEvent) SqesNeeded() uint32 { return 1 }
func (e *nopEvent) Prepare(res driver.Reservation) {
	res.Next()
}
func (e *nopEvent) Cancel() cancellation.Cancellation {
	e.canceled = true
	return cancellation.Null()
}

func TestSubmissionCompletesAfterDispatch(t *testing.T) {
	d := &fakeDriver{}
	ev := &nopEvent{}
	s := New(d, ev)

	waker, _ := completion.NewChanWaker()
	res, _, done, err := s.Poll(waker)
	require.NoError(t, err)
	assert.False(t, done, "must not complete before dispatch")

	completion.Dispatch(s.cell.Addr(), 42)

	res, outEv, done, err := s.Poll(waker)
	require.NoError(t, err)
	require.True(t, done)
	assert.Equal(t, 42, res.N)
	assert.NotNil(t, outEv)
}

func TestSubmissionRetriesOnPrepareRefusal(t *testing.T) {
	d := &fakeDriver{prepareRefusals: 2}
	ev := &nopEvent{}
	s := New(d, ev)
	waker, _ := completion.NewChanWaker()

	_, _, done, err := s.Poll(waker)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, stateWaiting, s.st)

	_, _, done, err = s.Poll(waker)
	require.NoError(t, err)
	assert.False(t, done)

	_, _, done, err = s.Poll(waker)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, stateSubmitted, s.st)
}

func TestCloseWhilePreparedCancelsEvent(t *testing.T) {
	d := &fakeDriver{submitRefusals: 1}
	ev := &nopEvent{}
	s := New(d, ev)
	waker, _ := completion.NewChanWaker()

	s.Poll(waker)
	require.Equal(t, statePrepared, s.st)

	s.Close()
	assert.True(t, ev.canceled)
}

func TestWaitReturnsOnContextCancellation(t *testing.T) {
	d := &fakeDriver{prepareRefusals: 1000000}
	ev := &nopEvent{}
	s := New(d, ev)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := s.Wait(ctx)
	assert.Error(t, err)
}
