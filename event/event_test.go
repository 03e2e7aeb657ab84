package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ringbahn/ringbahn/cancellation"
	"github.com/ringbahn/ringbahn/driver"
	"github.com/ringbahn/ringbahn/internal/iouring"
)

type fakeReservation struct {
	sqes []*driver.SQE
	next int
}

func newFakeReservation(n int) *fakeReservation {
	sqes := make([]*driver.SQE, n)
	for i := range sqes {
		sqes[i] = &driver.SQE{}
	}
	return &fakeReservation{sqes: sqes}
}

func (f *fakeReservation) Next() *driver.SQE {
	sqe := f.sqes[f.next]
	f.next++
	return sqe
}

func TestReadSingleBufferUsesPlainRead(t *testing.T) {
	buf := make([]byte, 16)
	r := &Read{Fd: 3, Bufs: [][]byte{buf}, Offset: 5}
	res := newFakeReservation(1)

	r.Prepare(res)

	sqe := res.sqes[0]
	assert.Equal(t, uint8(iouring.IORING_OP_READ), sqe.Opcode)
	assert.Equal(t, int32(3), sqe.Fd)
	assert.Equal(t, uint64(5), sqe.Off)
	assert.Equal(t, uint32(16), sqe.Len)
	assert.NotZero(t, sqe.Addr)
}

func TestReadVectoredUsesReadv(t *testing.T) {
	r := &Read{Fd: 3, Bufs: [][]byte{make([]byte, 4), make([]byte, 8)}}
	res := newFakeReservation(1)

	r.Prepare(res)

	sqe := res.sqes[0]
	assert.Equal(t, uint8(iouring.IORING_OP_READV), sqe.Opcode)
	assert.Equal(t, uint32(2), sqe.Len)
	require.Len(t, r.iovecs, 2)
}

func TestWriteCancelReleasesBuffers(t *testing.T) {
	w := &Write{Fd: 1, Bufs: [][]byte{[]byte("hello")}}
	c := w.Cancel()
	assert.Nil(t, w.Bufs)
	c.Drop() // must not panic
}

func TestOpenAtBuildsNulTerminatedPath(t *testing.T) {
	o := &OpenAt{DirFd: -100, Path: "/tmp/x", Flags: 0, Mode: 0o644}
	res := newFakeReservation(1)

	o.Prepare(res)

	require.NotNil(t, o.pathBuf)
	assert.Equal(t, byte(0), o.pathBuf[len(o.pathBuf)-1])
	assert.Equal(t, "/tmp/x", string(o.pathBuf[:len(o.pathBuf)-1]))

	c := o.Cancel()
	assert.Nil(t, o.pathBuf)
	c.Drop()
}

func TestCloseCancelDropIsHarmless(t *testing.T) {
	c := &Close{Fd: 5}
	res := newFakeReservation(1)
	c.Prepare(res)
	assert.Equal(t, uint8(iouring.IORING_OP_CLOSE), res.sqes[0].Opcode)

	cancel := c.Cancel()
	cancel.Drop()
}

func TestCloseCancelReclaimsFdOnKernelFailure(t *testing.T) {
	var reclaimedFd int32 = -1
	c := &Close{Fd: 5, Reclaimed: func(fd int32) { reclaimedFd = fd }}

	cancel := c.Cancel()
	cancel.Handle(&cancellation.Result{Err: assertErr{}})
	assert.Equal(t, int32(5), reclaimedFd)
}

type assertErr struct{}

func (assertErr) Error() string { return "close failed" }

func TestAsyncCancelTargetsPriorAddress(t *testing.T) {
	a := &AsyncCancel{TargetAddr: 0xdeadbeef}
	res := newFakeReservation(1)
	a.Prepare(res)
	assert.Equal(t, uint8(iouring.IORING_OP_ASYNC_CANCEL), res.sqes[0].Opcode)
	assert.Equal(t, uint64(0xdeadbeef), res.sqes[0].Addr)
}

func TestAcceptPreparesScratchSockaddr(t *testing.T) {
	a := &Accept{Fd: 7}
	res := newFakeReservation(1)
	a.Prepare(res)
	sqe := res.sqes[0]
	assert.Equal(t, uint8(iouring.IORING_OP_ACCEPT), sqe.Opcode)
	assert.NotZero(t, sqe.Addr)
	assert.NotZero(t, sqe.Off)
}
