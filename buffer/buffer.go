// Package buffer implements the reusable read/write scratch buffer that
// stream-like I/O objects built on ring.Ring hold, per spec.md §4.5.
package buffer

import (
	"github.com/bytedance/gopkg/lang/mcache"

	"github.com/ringbahn/ringbahn/cancellation"
)

// DefaultCapacity is the reference capacity spec.md §4.5 calls out; larger
// reads/writes spill to repeated ring turns rather than growing the buffer.
const DefaultCapacity = 8 * 1024

// kind tags which of the buffer's two lifetime uses the backing allocation
// currently holds.
type kind uint8

const (
	kindEmpty kind = iota
	kindBytes
	kindRecord
)

// Buffer is a bounded byte region with two cursors (position, capacity-used)
// plus an invariant: position <= capacityUsed <= len(data). It can be
// repurposed between holding a byte scratch region and holding a fixed-size
// kernel-written record (e.g. a statx result) by clearing its cursors and
// re-typing the backing allocation.
type Buffer struct {
	kind         kind
	data         []byte
	position     int
	capacityUsed int
}

// New returns an empty Buffer; it allocates nothing until FillRead, Bytes
// or Record is first called.
func New() *Buffer {
	return &Buffer{}
}

// Buffered returns the unconsumed slice [position, capacityUsed).
func (b *Buffer) Buffered() []byte {
	if b.kind != kindBytes {
		return nil
	}
	return b.data[b.position:b.capacityUsed]
}

// FillRead ensures a byte allocation exists, and if the buffer is fully
// drained (position >= capacityUsed), calls fill with the whole backing
// slice to refill it and resets position to 0. It returns the unconsumed
// slice, same as Buffered. fill returns the new capacityUsed (bytes actually
// read) and an error.
func (b *Buffer) FillRead(fill func(slice []byte) (int, error)) ([]byte, error) {
	if b.position >= b.capacityUsed {
		if b.kind != kindBytes || b.data == nil {
			b.reset(kindBytes, mcache.Malloc(DefaultCapacity))
		}
		n, err := fill(b.data)
		if err != nil {
			return nil, err
		}
		b.capacityUsed = n
		b.position = 0
	}
	return b.Buffered(), nil
}

// Consume advances position by n, saturating at capacityUsed — it is only
// valid to call this once data has been made available via FillRead.
func (b *Buffer) Consume(n int) {
	b.position += n
	if b.position > b.capacityUsed {
		b.position = b.capacityUsed
	}
}

// Clear resets both cursors to zero without freeing the backing allocation,
// so the next FillRead call reuses it.
func (b *Buffer) Clear() {
	b.position = 0
	b.capacityUsed = 0
}

// Bytes returns the full backing allocation for direct use as a kernel
// read/write target (e.g. from an event's prepare method), allocating an
// empty byte buffer first if none exists yet.
func (b *Buffer) Bytes() []byte {
	if b.kind != kindBytes || b.data == nil {
		b.reset(kindBytes, mcache.Malloc(DefaultCapacity))
	}
	return b.data
}

// SetFilled tells the buffer that n bytes of its Bytes() backing slice were
// just filled by the kernel (used by callers driving the read directly
// through an event rather than through FillRead's callback).
func (b *Buffer) SetFilled(n int) {
	b.capacityUsed = n
	b.position = 0
}

// Record repurposes the buffer to hold a fixed-size kernel-written record
// (e.g. a statx result) of size n, clearing cursors and re-typing the
// backing allocation if it does not already hold a record of that size.
func (b *Buffer) Record(n int) []byte {
	if b.kind != kindRecord || len(b.data) != n {
		b.reset(kindRecord, mcache.Malloc(n))
	}
	return b.data
}

// Cancellation moves the current backing allocation (if any) into a
// Cancellation payload, leaving the buffer empty. This is what lets a
// Ring-owning handle be safely dropped mid-operation: the kernel may still
// be writing into the slice, so the slice's lifetime is handed to the
// Cancellation instead of being freed here.
func (b *Buffer) Cancellation() cancellation.Cancellation {
	if b.kind == kindEmpty || b.data == nil {
		return cancellation.Null()
	}
	data := b.data
	b.data = nil
	b.kind = kindEmpty
	b.position = 0
	b.capacityUsed = 0
	return cancellation.FromBytes(mcache.Free, data)
}

func (b *Buffer) reset(k kind, data []byte) {
	if b.data != nil {
		mcache.Free(b.data)
	}
	b.kind = k
	b.data = data
	b.position = 0
	b.capacityUsed = 0
}
