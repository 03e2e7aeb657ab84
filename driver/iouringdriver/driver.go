package iouringdriver

import (
	"fmt"
	"sync"

	"github.com/ringbahn/ringbahn/completion"
	"github.com/ringbahn/ringbahn/driver"
	"github.com/ringbahn/ringbahn/internal/iouring"
)

// Driver is the reference driver.Driver: a single real io_uring instance
// shared by every Submission/Ring that runs against it. SQ reservation and
// submission happen synchronously under a mutex; a background goroutine
// blocks on completions and feeds them to completion.Dispatch.
type Driver struct {
	mu       sync.Mutex
	ring     *iouring.IoUring
	capacity uint32
	pending  []completion.Waker

	panicHandler func(any)
	closeOnce    sync.Once
	closed       chan struct{}
}

// New creates a Driver backed by a freshly opened io_uring instance sized
// per cfg, and starts its completion-reader goroutine. A nil cfg uses
// DefaultConfig.
func New(cfg *Config) (*Driver, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	panicHandler := cfg.PanicHandler
	if panicHandler == nil {
		panicHandler = defaultPanicHandler
	}

	r, err := iouring.NewIOUring(cfg.QueueSize)
	if err != nil {
		return nil, fmt.Errorf("iouringdriver: %w", err)
	}

	d := &Driver{
		ring:         r,
		capacity:     cfg.QueueSize,
		panicHandler: panicHandler,
		closed:       make(chan struct{}),
	}
	go d.completionLoop()
	return d, nil
}

// SetPanicHandler overrides the handler invoked when the completion loop
// recovers a panic, mirroring the overridable-handler idiom used elsewhere
// in the pack's worker-pool code.
func (d *Driver) SetPanicHandler(h func(recovered any)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if h == nil {
		h = defaultPanicHandler
	}
	d.panicHandler = h
}

// Close shuts down the completion loop and releases the underlying ring.
// Outstanding operations are abandoned; their cells are never dispatched.
func (d *Driver) Close() error {
	var err error
	d.closeOnce.Do(func() {
		close(d.closed)
		err = d.ring.Close()
	})
	return err
}

// scratchReservation accumulates driver.SQE values in plain heap memory; the
// caller copies them into the real ring only once every entry an Event
// needs has been filled in, so a partially-filled Event can never leave a
// torn SQE visible to the kernel.
type scratchReservation struct {
	sqes []*driver.SQE
}

func (s *scratchReservation) Next() *driver.SQE {
	sqe := &driver.SQE{}
	s.sqes = append(s.sqes, sqe)
	return sqe
}

// PollPrepare reserves n SQ slots if the ring has room for them, invokes
// prep to fill them (via the caller's own recording wrapper), then copies
// the filled-in scratch entries into the real submission queue in order.
func (d *Driver) PollPrepare(waker completion.Waker, n uint32, prep driver.PrepareFunc) (driver.Token, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ring.PendingSQEs()+n > d.capacity {
		d.pending = append(d.pending, waker)
		return driver.Token{}, false, nil
	}

	scratch := &scratchReservation{}
	tok := prep(scratch)
	if uint32(len(scratch.sqes)) != n {
		panic("iouringdriver: event claimed a different SqesNeeded than it actually prepared")
	}

	for _, sqe := range scratch.sqes {
		real := d.ring.PeekSQE(true)
		if real == nil {
			// Capacity was checked above under the same lock; this would
			// mean another caller snuck in submissions without the lock.
			panic("iouringdriver: submission queue unexpectedly full mid-reservation")
		}
		real.Opcode = sqe.Opcode
		real.Flags = sqe.Flags
		real.IoPrio = sqe.IoPrio
		real.Fd = sqe.Fd
		real.Off = sqe.Off
		real.Addr = sqe.Addr
		real.Len = sqe.Len
		real.OpcodeFlags = sqe.OpcodeFlags
		real.UserData = sqe.UserData
		real.BufIndex = sqe.BufIndex
		d.ring.AdvanceSQ()
	}

	return tok, true, nil
}

// PollSubmit flushes queued SQEs to the kernel via io_uring_enter. eager is
// honored unconditionally: this driver does not batch across calls, only
// within a single PollPrepare-then-PollSubmit pairing's worth of reserved
// entries (callers needing batching submit less eagerly themselves).
func (d *Driver) PollSubmit(waker completion.Waker, eager bool) (int, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	submitted, errno := d.ring.Submit()
	if errno != 0 {
		return submitted, false, fmt.Errorf("iouringdriver: io_uring_enter: %w", errno)
	}
	d.wakeAllPending()
	return submitted, true, nil
}

func (d *Driver) wakeAllPending() {
	for _, w := range d.pending {
		w.Wake()
	}
	d.pending = d.pending[:0]
}

// completionLoop blocks on WaitCQE, dispatching each completion, until
// Close is called. A panic while handling one CQE is recovered and logged
// so a single misbehaving completion does not take the whole driver down.
func (d *Driver) completionLoop() {
	for {
		select {
		case <-d.closed:
			return
		default:
		}

		cqe, err := d.ring.WaitCQE()
		if err != nil {
			d.panicHandler(fmt.Errorf("iouringdriver: WaitCQE: %w", err))
			return
		}
		d.dispatchOne(cqe.UserData, cqe.Res)
		d.ring.AdvanceCQ()
	}
}

func (d *Driver) dispatchOne(userData uint64, res int32) {
	defer func() {
		if r := recover(); r != nil {
			d.panicHandler(r)
		}
	}()
	completion.Dispatch(userData, res)
}
