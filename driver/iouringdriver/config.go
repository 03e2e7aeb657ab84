// Package iouringdriver is the reference driver.Driver implementation
// backed by a real Linux io_uring instance (internal/iouring), grounded on
// cloudwego-gopkg's IOUringEventLoop: SQE reservation and submission run
// synchronously under a mutex in the caller's goroutine, and one background
// goroutine blocks on completions and dispatches them into the
// completion-cell state machine.
package iouringdriver

import (
	"log"
	"runtime/debug"
)

// Config configures a Driver's backing ring and background goroutines.
type Config struct {
	// QueueSize sizes both the SQ and CQ rings (rounded up to a power of
	// two by the kernel). Must be > 0.
	QueueSize uint32

	// PanicHandler is invoked with the recovered value whenever the
	// completion-reader goroutine would otherwise crash the process.
	// Defaults to logging the value and a stack trace via log.Printf and
	// continuing to serve completions.
	PanicHandler func(recovered any)
}

// DefaultConfig returns a Config with a modest ring size and the default
// log-and-continue panic handler.
func DefaultConfig() *Config {
	return &Config{
		QueueSize:    4096,
		PanicHandler: defaultPanicHandler,
	}
}

func defaultPanicHandler(recovered any) {
	log.Printf("iouringdriver: recovered panic in completion loop: %v\n%s", recovered, debug.Stack())
}
