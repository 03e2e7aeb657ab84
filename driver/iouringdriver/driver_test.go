package iouringdriver

import (
	"os"
	"runtime"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ringbahn/ringbahn/completion"
	"github.com/ringbahn/ringbahn/driver"
)

func skipIfUnsupported(t *testing.T) {
	t.Helper()
	if runtime.GOOS != "linux" {
		t.Skip("io_uring is only supported on Linux")
	}
	d, err := New(&Config{QueueSize: 8})
	if err != nil {
		t.Skipf("io_uring unavailable on this kernel: %v", err)
	}
	d.Close()
}

func TestReadFileThroughDriver(t *testing.T) {
	skipIfUnsupported(t)

	f, err := os.CreateTemp(t.TempDir(), "iouringdriver")
	require.NoError(t, err)
	_, err = f.WriteString("hello ring")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	rf, err := os.Open(f.Name())
	require.NoError(t, err)
	defer rf.Close()

	d, err := New(DefaultConfig())
	require.NoError(t, err)
	defer d.Close()

	buf := make([]byte, 32)
	waker, ch := completion.NewChanWaker()

	var tok driver.Token
	for {
		var ready bool
		tok, ready, err = d.PollPrepare(waker, 1, func(res driver.Reservation) driver.Token {
			sqe := res.Next()
			sqe.Opcode = 22 // IORING_OP_READ
			sqe.Fd = int32(rf.Fd())
			sqe.Len = uint32(len(buf))
			sqe.Addr = uint64(uintptr(unsafe.Pointer(&buf[0])))
			cell := completion.New(waker)
			sqe.UserData = cell.Addr()
			return driver.Token{Cell: cell}
		})
		require.NoError(t, err)
		if ready {
			break
		}
		<-ch
	}

	for {
		_, ready, err := d.PollSubmit(waker, true)
		require.NoError(t, err)
		if ready {
			break
		}
		<-ch
	}

	for {
		res, done := tok.Cell.Check(waker)
		if done {
			assert.Equal(t, len("hello ring"), res.N)
			assert.NoError(t, res.Err)
			break
		}
		<-ch
	}
}
