package completion

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/ringbahn/ringbahn/cancellation"
)

// Result is the decoded result of a completed kernel operation: N holds the
// byte count (or other non-negative result) and Err holds the OS-coded error
// when the kernel reported a negative result.
type Result = cancellation.Result

// state is the tag of Cell's variant, matching spec.md §3/§4.2 exactly:
// Submitted(waker) / Completed(result) / Cancelled(cancellation) / Empty.
type state uint8

const (
	stateSubmitted state = iota
	stateCompleted
	stateCancelled
	stateEmpty // transient: only observed mid-transition, under the lock
)

const cellMagic = 0x43454c4c494f5552 // "CELLIOUR" — validates an address round-tripped from a CQE

// Cell is the shared state object §4.2 describes: a heap allocation whose
// address is handed to the kernel as user-data, jointly owned by the
// submitting task and the completion dispatcher until exactly one of them
// performs the terminal state transition and frees it.
//
// Cell must never be moved once its address has been handed to a driver;
// callers only ever see *Cell, obtained from New and implicitly freed by
// Check/Cancel/complete, never copied.
type Cell struct {
	mu     sync.Mutex
	st     state
	waker  Waker
	result Result
	cancel cancellation.Cancellation
	magic  uint64
}

var cellPool = sync.Pool{
	New: func() any { return &Cell{} },
}

// New allocates a completion cell in the Submitted state, holding waker.
// Its address (Addr) must be written into the SQE's user-data field before
// the operation is submitted to the kernel.
func New(waker Waker) *Cell {
	c := cellPool.Get().(*Cell)
	c.mu.Lock()
	c.st = stateSubmitted
	c.waker = waker
	c.result = Result{}
	c.cancel = cancellation.Null()
	c.magic = cellMagic
	c.mu.Unlock()
	return c
}

func free(c *Cell) {
	c.mu.Lock()
	c.magic = 0
	c.waker = nil
	c.cancel = cancellation.Null()
	c.mu.Unlock()
	cellPool.Put(c)
}

// Addr returns the address the kernel should round-trip as user-data.
func (c *Cell) Addr() uint64 {
	return uint64(uintptr(unsafe.Pointer(c)))
}

// CellFromAddr recovers the *Cell a CQE's user-data field pointed at. addr
// must be a value previously returned by (*Cell).Addr and not yet freed.
func CellFromAddr(addr uint64) *Cell {
	if addr == 0 {
		return nil
	}
	return (*Cell)(unsafe.Pointer(uintptr(addr)))
}

// IsValid reports whether this address still names a live completion cell,
// guarding against the kernel's reserved timeout-marker sentinel (§4.7/§9)
// being misdereferenced as a cell.
func (c *Cell) IsValid() bool {
	return atomic.LoadUint64(&c.magic) == cellMagic
}

// Check implements the Submitted/Completed branches of §4.2's table. If the
// cell has completed, Check returns the result and frees the cell (the
// caller, having observed Completed, is the party responsible for
// deallocation). Otherwise it stores waker (replacing the old one only if
// waker would not wake the same task, per the waker-replacement row of the
// table) and returns (zero, false).
func (c *Cell) Check(waker Waker) (Result, bool) {
	c.mu.Lock()
	switch c.st {
	case stateSubmitted:
		if c.waker == nil || !c.waker.Same(waker) {
			c.waker = waker
		}
		c.mu.Unlock()
		return Result{}, false
	case stateCompleted:
		result := c.result
		c.mu.Unlock()
		free(c)
		return result, true
	default:
		c.mu.Unlock()
		panic("completion: Check called on a cell not in Submitted or Completed state")
	}
}

// Cancel implements the Submitted/Completed branches of the cancel column of
// §4.2's table: if the operation is still outstanding, the cancellation
// payload is stored for dispatch to hand off to later; if it already
// completed, the cancellation is handled immediately with the stored result
// and the cell is freed here, since no dispatch will ever observe this cell
// again.
func (c *Cell) Cancel(payload cancellation.Cancellation) {
	c.mu.Lock()
	switch c.st {
	case stateSubmitted:
		c.st = stateCancelled
		c.cancel = payload
		c.waker = nil
		c.mu.Unlock()
	case stateCompleted:
		result := c.result
		c.mu.Unlock()
		free(c)
		payload.Handle(&result)
	default:
		c.mu.Unlock()
		panic("completion: Cancel called on a cell not in Submitted or Completed state")
	}
}

// complete implements the dispatch-side transition of §4.2's table: it is
// called exactly once per cell, by Dispatch, with the kernel's decoded
// result. On Submitted, it stores the result and wakes the task. On
// Cancelled, it hands the stored cancellation the result and frees the cell
// itself, since the waiting task already abandoned interest.
func (c *Cell) complete(result Result) {
	c.mu.Lock()
	switch c.st {
	case stateSubmitted:
		waker := c.waker
		c.st = stateCompleted
		c.result = result
		c.waker = nil
		c.mu.Unlock()
		if waker != nil {
			waker.Wake()
		}
	case stateCancelled:
		payload := c.cancel
		c.cancel = cancellation.Null()
		c.mu.Unlock()
		free(c)
		payload.Handle(&result)
	default:
		c.mu.Unlock()
		panic("completion: dispatch observed a cell already in Completed/Empty state")
	}
}
