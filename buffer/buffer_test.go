package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFillReadThenConsume(t *testing.T) {
	b := New()

	data, err := b.FillRead(func(slice []byte) (int, error) {
		copy(slice, []byte("hello"))
		return 5, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	b.Consume(2)
	assert.Equal(t, "llo", string(b.Buffered()))

	b.Consume(100) // saturates at capacityUsed
	assert.Empty(t, b.Buffered())
}

func TestFillReadOnlyCalledWhenDrained(t *testing.T) {
	b := New()
	calls := 0
	fill := func(slice []byte) (int, error) {
		calls++
		copy(slice, []byte("ab"))
		return 2, nil
	}

	_, err := b.FillRead(fill)
	require.NoError(t, err)
	b.Consume(1) // not fully drained yet

	_, err = b.FillRead(fill)
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "fill must not be called while buffer is not drained")

	b.Consume(1)
	_, err = b.FillRead(fill)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestClearResetsCursorsWithoutFreeing(t *testing.T) {
	b := New()
	_, err := b.FillRead(func(slice []byte) (int, error) {
		copy(slice, []byte("abcd"))
		return 4, nil
	})
	require.NoError(t, err)

	before := b.Bytes()
	b.Clear()
	assert.Empty(t, b.Buffered())
	assert.Same(t, &before[0], &b.Bytes()[0], "Clear must not reallocate the backing store")
}

func TestRecordRepurposesBackingAllocation(t *testing.T) {
	b := New()
	_, err := b.FillRead(func(slice []byte) (int, error) { return 0, nil })
	require.NoError(t, err)

	rec := b.Record(256)
	assert.Len(t, rec, 256)
	assert.Empty(t, b.Buffered(), "repurposing to a record clears the byte cursors")
}

func TestCancellationHandsOffBackingAllocationAndEmpties(t *testing.T) {
	b := New()
	_, err := b.FillRead(func(slice []byte) (int, error) {
		copy(slice, []byte("xyz"))
		return 3, nil
	})
	require.NoError(t, err)

	c := b.Cancellation()
	assert.Empty(t, b.Buffered())

	c.Drop() // hands the detached allocation to mcache.Free; must not panic
}

func TestCancellationOnEmptyBufferIsNull(t *testing.T) {
	b := New()
	c := b.Cancellation()
	c.Drop() // must not panic
	c.Handle(nil)
}
