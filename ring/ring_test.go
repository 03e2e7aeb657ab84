package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ringbahn/ringbahn/cancellation"
	"github.com/ringbahn/ringbahn/completion"
	"github.com/ringbahn/ringbahn/driver"
)

type fakeDriver struct{}

func (d *fakeDriver) PollPrepare(waker completion.Waker, n uint32, prep driver.PrepareFunc) (driver.Token, bool, error) {
	res := &fakeReservation{sqes: make([]*driver.SQE, n)}
	for i := range res.sqes {
		res.sqes[i] = &driver.SQE{}
	}
	return prep(res), true, nil
}

func (d *fakeDriver) PollSubmit(waker completion.Waker, eager bool) (int, bool, error) {
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

func (e *nopEvent) SqesNeeded() uint32         { return 1 }
func (e *nopEvent) Prepare(res driver.Reservation) { res.Next() }
func (e *nopEvent) Cancel() cancellation.Cancellation {
	e.canceled = true
	return cancellation.Null()
}

func TestRingReturnsToInertAfterCompletion(t *testing.T) {
	d := &fakeDriver{}
	r := New(d)
	waker, _ := completion.NewChanWaker()

	ev1 := &nopEvent{}
	_, _, done, err := r.Poll(waker, ev1)
	require.NoError(t, err)
	assert.False(t, done)
	require.Equal(t, stateSubmitted, r.st)

	completion.Dispatch(r.cell.Addr(), 7)
	res, outEv, done, err := r.Poll(waker, ev1)
	require.NoError(t, err)
	require.True(t, done)
	assert.Equal(t, 7, res.N)
	assert.Same(t, ev1, outEv)
	assert.Equal(t, stateInert, r.st)

	ev2 := &nopEvent{}
	_, _, done, err = r.Poll(waker, ev2)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, stateSubmitted, r.st)
}

func TestCancelThenReuseLinksCancelAhead(t *testing.T) {
	d := &fakeDriver{}
	r := New(d)
	waker, _ := completion.NewChanWaker()

	ev1 := &nopEvent{}
	r.Poll(waker, ev1)
	require.Equal(t, stateSubmitted, r.st)
	addr := r.cell.Addr()

	r.Cancel(cancellation.Null())
	assert.Equal(t, stateCancelled, r.st)
	assert.Equal(t, addr, r.cancelledAddr)

	ev2 := &nopEvent{}
	_, _, done, err := r.Poll(waker, ev2)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, stateSubmitted, r.st)
}

func TestCloseWhileSubmittedCancelsCurrentEvent(t *testing.T) {
	d := &fakeDriver{}
	r := New(d)
	waker, _ := completion.NewChanWaker()

	ev := &nopEvent{}
	r.Poll(waker, ev)
	r.Close()
	assert.True(t, ev.canceled)
	assert.Equal(t, stateInert, r.st)
}
