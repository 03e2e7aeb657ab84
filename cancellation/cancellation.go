// Package cancellation implements the type-erased deferred destructor used to
// release resources a kernel completion ring may still be touching after a
// caller has abandoned interest in an operation.
package cancellation

import "sync/atomic"

// Result is the outcome of the kernel operation the Cancellation was attached
// to, when known. It is nil when the Cancellation is dropped before the
// kernel ever reports a result (the resource is still exclusively owned by
// user-space at that point).
type Result struct {
	N   int
	Err error
}

// Cancellation defers the release of a resource a completion ring may still
// reference. It must be handled exactly once, either by Drop (the resource
// was never handed to the kernel, or the kernel never reported back) or by
// Handle (the kernel reported a result).
//
// A zero Cancellation is a valid "null" cancellation that does nothing.
type Cancellation struct {
	handled int32
	handle  func(*Result)
}

// New builds a Cancellation whose handle function takes ownership of the
// resources it closes over. handle is called exactly once, receiving nil if
// the cancellation is dropped before the kernel reports back.
func New(handle func(result *Result)) Cancellation {
	if handle == nil {
		return Cancellation{}
	}
	return Cancellation{handle: handle}
}

// Null returns a Cancellation that does nothing when handled or dropped.
func Null() Cancellation {
	return Cancellation{}
}

// FromBytes builds a Cancellation that owns a byte slice the kernel was
// lent (a read/write buffer). Its handler passes the slice to free (e.g. to
// return it to a pool); with a nil free the slice is left to the garbage
// collector.
func FromBytes(free func([]byte), buf []byte) Cancellation {
	if buf == nil {
		return Null()
	}
	return New(func(*Result) {
		if free != nil {
			free(buf)
		}
	})
}

// FromCloser builds a Cancellation around a value with a Close method, used
// for file descriptors and similar resources pending release. The Result is
// consulted for close-like operations: a non-nil error means the fd was not
// actually released by the kernel and ownership returns to closer.
func FromCloser(closer func(result *Result) error) Cancellation {
	if closer == nil {
		return Null()
	}
	return New(func(result *Result) {
		_ = closer(result)
	})
}

// Pair combines two Cancellations into one that drives both when handled,
// sufficient for composite events that own two independently-typed
// resources (e.g. a path string and an output record).
func Pair(a, b Cancellation) Cancellation {
	return New(func(result *Result) {
		a.Handle(result)
		b.Handle(result)
	})
}

// Handle runs the cancellation's handler with the kernel's result. The
// handler fires at most once: a second call to Handle, or a call after Drop
// already ran the handler, is a silent no-op, matching spec's "handler runs
// exactly once" invariant regardless of which side observes the terminal
// transition first.
func (c *Cancellation) Handle(result *Result) {
	c.run(result)
}

// Drop runs the cancellation's handler with no result, for the case where
// the operation is abandoned before the kernel reports back. It is safe (and
// expected) to call this via defer even on an already-handled Cancellation —
// Drop is a no-op once Handle or Drop has already fired.
func (c *Cancellation) Drop() {
	c.run(nil)
}

func (c *Cancellation) run(result *Result) {
	if c.handle == nil {
		return
	}
	if !atomic.CompareAndSwapInt32(&c.handled, 0, 1) {
		return
	}
	c.handle(result)
}
