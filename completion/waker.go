package completion

// Waker is a task's wake token: the handle a completion cell uses to resume
// whoever is waiting on it. It stands in for the wake-token described in
// spec.md §3/§4.2.
type Waker interface {
	// Wake resumes whatever is blocked waiting on this token. It must be
	// safe to call from the completion dispatcher's goroutine, and safe to
	// call more than once.
	Wake()

	// Same reports whether other would wake the same waiter as this one,
	// standing in for Rust's Waker::will_wake. When Same returns true,
	// Cell.Check leaves the stored waker untouched instead of replacing it.
	Same(other Waker) bool
}

// chanWaker is the default Waker used by the blocking Wait helpers on
// Submission and Ring: waking sends on a buffered channel.
type chanWaker struct {
	c chan struct{}
}

// NewChanWaker returns a Waker backed by a 1-buffered channel, along with the
// channel itself so callers can select on it.
func NewChanWaker() (Waker, <-chan struct{}) {
	c := make(chan struct{}, 1)
	return &chanWaker{c: c}, c
}

func (w *chanWaker) Wake() {
	select {
	case w.c <- struct{}{}:
	default:
	}
}

func (w *chanWaker) Same(other Waker) bool {
	o, ok := other.(*chanWaker)
	return ok && o.c == w.c
}
