package completion

import (
	"sync"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ringbahn/ringbahn/cancellation"
)

type recordingWaker struct {
	id     int
	woken  chan struct{}
}

func newRecordingWaker(id int) *recordingWaker {
	return &recordingWaker{id: id, woken: make(chan struct{}, 1)}
}

func (w *recordingWaker) Wake() {
	select {
	case w.woken <- struct{}{}:
	default:
	}
}

func (w *recordingWaker) Same(other Waker) bool {
	o, ok := other.(*recordingWaker)
	return ok && o.id == w.id
}

// TestRoundTripAddress covers universal invariant 4 (§8): the address
// recovered from a CQE's user-data equals the cell address written to the
// SQE.
func TestRoundTripAddress(t *testing.T) {
	c := New(newRecordingWaker(1))
	addr := c.Addr()
	got := CellFromAddr(addr)
	assert.Same(t, c, got)
	Dispatch(addr, 5)
}

func TestCheckThenDispatchWakesAndReturnsResult(t *testing.T) {
	w := newRecordingWaker(1)
	c := New(w)
	addr := c.Addr()

	result, done := c.Check(w)
	assert.False(t, done)
	assert.Zero(t, result)

	Dispatch(addr, 42)
	select {
	case <-w.woken:
	default:
		t.Fatal("waker was not woken on dispatch")
	}

	result, done = c.Check(w)
	require.True(t, done)
	assert.Equal(t, 42, result.N)
}

func TestDispatchNegativeResultDecodesErrno(t *testing.T) {
	c := New(newRecordingWaker(1))
	addr := c.Addr()
	Dispatch(addr, -int32(syscall.ENOENT))

	result, done := c.Check(newRecordingWaker(1))
	require.True(t, done)
	require.Error(t, result.Err)
	assert.Equal(t, syscall.ENOENT, result.Err)
}

// TestWakerReplacement covers universal invariant 5 (§8): after Check is
// called with a new waker that would not wake the same task as the stored
// one, a subsequent dispatch wakes the new waker, not the old one.
func TestWakerReplacement(t *testing.T) {
	old := newRecordingWaker(1)
	c := New(old)
	addr := c.Addr()

	next := newRecordingWaker(2)
	_, done := c.Check(next)
	require.False(t, done)

	Dispatch(addr, 1)

	select {
	case <-old.woken:
		t.Fatal("stale waker was woken")
	default:
	}
	select {
	case <-next.woken:
	default:
		t.Fatal("replacement waker was not woken")
	}
}

// TestCheckSameWakerNotReplaced exercises the "will-wake" row of §4.2's
// table: checking with a waker that Same()s the stored one leaves it alone.
func TestCheckSameWakerNotReplaced(t *testing.T) {
	w1 := newRecordingWaker(7)
	c := New(w1)
	addr := c.Addr()

	w2 := newRecordingWaker(7) // distinct instance, same logical task (id 7)
	_, done := c.Check(w2)
	require.False(t, done)

	Dispatch(addr, 9)
	// Same() reported the same task, so the waker stored by New is kept and
	// is the one woken.
	select {
	case <-w1.woken:
	default:
		t.Fatal("stored waker was not woken")
	}
	select {
	case <-w2.woken:
		t.Fatal("waker was replaced although Same() reported the same task")
	default:
	}
}

func TestCancelBeforeDispatchStoresPayloadAndFreesOnDispatch(t *testing.T) {
	c := New(newRecordingWaker(1))
	addr := c.Addr()

	var handledWith *Result
	var mu sync.Mutex
	c.Cancel(cancellation.New(func(r *Result) {
		mu.Lock()
		handledWith = r
		mu.Unlock()
	}))

	Dispatch(addr, 3)

	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, handledWith)
	assert.Equal(t, 3, handledWith.N)
}

func TestCancelAfterCompleteHandlesImmediately(t *testing.T) {
	c := New(newRecordingWaker(1))
	addr := c.Addr()
	Dispatch(addr, 11)

	called := false
	c.Cancel(cancellation.New(func(r *Result) {
		called = true
		assert.Equal(t, 11, r.N)
	}))
	assert.True(t, called)
}

// TestCancelDispatchInterleavings covers universal invariant 3 (§8): for any
// interleaving of {cancel, dispatch}, the resource is released exactly once.
func TestCancelDispatchInterleavings(t *testing.T) {
	for i := 0; i < 50; i++ {
		c := New(newRecordingWaker(1))
		addr := c.Addr()

		var n int32
		payload := cancellation.New(func(*Result) { n++ })

		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); c.Cancel(payload) }()
		go func() { defer wg.Done(); Dispatch(addr, 1) }()
		wg.Wait()

		assert.EqualValues(t, 1, n)
	}
}

func TestCheckFreesCellOnTerminalTransition(t *testing.T) {
	c := New(newRecordingWaker(1))
	addr := c.Addr()
	Dispatch(addr, 1)
	_, done := c.Check(newRecordingWaker(1))
	require.True(t, done)
	// the cell is now pooled for reuse; touching it again would be a
	// use-after-free by contract, so this test only establishes that the
	// terminal Check succeeds and returns the dispatched result.
}
