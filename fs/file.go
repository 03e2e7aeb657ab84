// Package fs is a stream-like file handle built on ring.Ring, grounded on
// original_source/src/fs.rs: open/create issue an OpenAt event, reads are
// served out of a buffer.Buffer cache (so small reads don't each cost a
// kernel round trip), writes and closes go straight through the ring.
package fs

import (
	"context"
	"io"
	"syscall"

	"github.com/ringbahn/ringbahn/buffer"
	"github.com/ringbahn/ringbahn/driver"
	"github.com/ringbahn/ringbahn/event"
	"github.com/ringbahn/ringbahn/ring"
)

const atFDCWD = -100

// File is an io.ReadWriteCloser-shaped file handle (its methods also take a
// context.Context) backed by io_uring read/write/close operations issued
// through a single reusable Ring.
type File struct {
	ring *ring.Ring
	fd   int32
	buf  *buffer.Buffer
	pos  uint64
}

// Open opens path read-only.
func Open(ctx context.Context, drv driver.Driver, path string) (*File, error) {
	return openWith(ctx, drv, path, syscall.O_CLOEXEC|syscall.O_RDONLY, 0o666)
}

// Create opens path for writing, creating and truncating it if necessary.
func Create(ctx context.Context, drv driver.Driver, path string) (*File, error) {
	return openWith(ctx, drv, path, syscall.O_CLOEXEC|syscall.O_WRONLY|syscall.O_CREAT|syscall.O_TRUNC, 0o666)
}

func openWith(ctx context.Context, drv driver.Driver, path string, flags uint32, mode uint32) (*File, error) {
	r := ring.New(drv)
	ev := &event.OpenAt{DirFd: atFDCWD, Path: path, Flags: flags, Mode: mode}
	res, _, err := r.Wait(ctx, ev)
	if err != nil {
		return nil, err
	}
	if res.Err != nil {
		return nil, res.Err
	}
	return &File{ring: r, fd: int32(res.N), buf: buffer.New()}, nil
}

// FromFD adopts an already-open file descriptor, transferring ownership of
// it to the returned File.
func FromFD(drv driver.Driver, fd int32) *File {
	return &File{ring: ring.New(drv), fd: fd, buf: buffer.New()}
}

// Read reads into p like io.Reader's Read (with an added ctx), filling from
// the internal buffer and issuing a new ring read only once it is drained.
func (f *File) Read(ctx context.Context, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	data, err := f.buf.FillRead(func(slice []byte) (int, error) {
		res, _, err := f.ring.Wait(ctx, &event.Read{Fd: f.fd, Bufs: [][]byte{slice}, Offset: f.pos})
		if err != nil {
			return 0, err
		}
		if res.Err != nil {
			return 0, res.Err
		}
		if res.N == 0 {
			return 0, io.EOF
		}
		f.pos += uint64(res.N)
		return res.N, nil
	})
	if err != nil && len(data) == 0 {
		return 0, err
	}
	n := copy(p, data)
	f.buf.Consume(n)
	return n, nil
}

// Write writes p like io.Writer's Write (with an added ctx), issuing one
// ring write per call (the caller's
// slice is handed directly to the kernel; no internal copy is made since
// Wait blocks until the kernel is done with it).
func (f *File) Write(ctx context.Context, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	res, _, err := f.ring.Wait(ctx, &event.Write{Fd: f.fd, Bufs: [][]byte{p}, Offset: f.pos})
	if err != nil {
		return 0, err
	}
	if res.Err != nil {
		return 0, res.Err
	}
	f.pos += uint64(res.N)
	return res.N, nil
}

// Close issues a ring close of the underlying file descriptor. The internal
// buffer's backing allocation, if any, is handed off through Cancellation
// so a read that is still outstanding elsewhere does not race a freed
// buffer (see buffer.Buffer.Cancellation).
func (f *File) Close(ctx context.Context) error {
	c := f.buf.Cancellation()
	defer c.Drop()

	res, _, err := f.ring.Wait(ctx, &event.Close{Fd: f.fd})
	if err != nil {
		return err
	}
	return res.Err
}

// Seek repositions the next Read/Write's offset. SeekEnd is not supported:
// the ring has no notion of file size without a separate stat round trip.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		f.pos = uint64(offset)
	case io.SeekCurrent:
		f.pos = uint64(int64(f.pos) + offset)
	default:
		return 0, syscall.EINVAL
	}
	return int64(f.pos), nil
}
