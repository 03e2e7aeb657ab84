// Package netio is a stream-like TCP connection built on ring.Ring,
// mirroring fs.File's shape: a single reusable Ring drives Accept/Connect
// once, then Send/Recv/Close for the life of the connection. Listening
// sockets are set up with plain blocking syscalls (bind/listen are one-shot
// local setup, not kernel round trips this design routes through the ring)
// the way cloudwego-gopkg/netx.Wrap adapts an already-established net.Conn
// rather than building one from raw syscalls itself.
package netio

import (
	"context"
	"io"
	"net"
	"syscall"
	"unsafe"

	"github.com/ringbahn/ringbahn/buffer"
	"github.com/ringbahn/ringbahn/driver"
	"github.com/ringbahn/ringbahn/event"
	"github.com/ringbahn/ringbahn/ring"
)

// Conn is an io.ReadWriteCloser-shaped TCP connection whose data-path
// operations (connect, send, recv, close) all go through io_uring.
type Conn struct {
	ring *ring.Ring
	fd   int32
	buf  *buffer.Buffer
}

// Listen opens a listening TCP socket bound to addr ("host:port"), using
// plain synchronous syscalls: accepting connections on it is the part that
// goes through the ring, via Accept.
func Listen(addr string) (int32, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp4", addr)
	if err != nil {
		return -1, err
	}
	fd, err := syscall.Socket(syscall.AF_INET, syscall.SOCK_STREAM, 0)
	if err != nil {
		return -1, err
	}
	if err := syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1); err != nil {
		syscall.Close(fd)
		return -1, err
	}
	var ipArr [4]byte
	if ip := tcpAddr.IP.To4(); ip != nil {
		copy(ipArr[:], ip)
	}
	if err := syscall.Bind(fd, &syscall.SockaddrInet4{Port: tcpAddr.Port, Addr: ipArr}); err != nil {
		syscall.Close(fd)
		return -1, err
	}
	if err := syscall.Listen(fd, 128); err != nil {
		syscall.Close(fd)
		return -1, err
	}
	return int32(fd), nil
}

// Accept waits for one incoming connection on listenFd.
func Accept(ctx context.Context, drv driver.Driver, listenFd int32) (*Conn, error) {
	r := ring.New(drv)
	res, _, err := r.Wait(ctx, &event.Accept{Fd: listenFd})
	if err != nil {
		return nil, err
	}
	if res.Err != nil {
		return nil, res.Err
	}
	return &Conn{ring: r, fd: int32(res.N), buf: buffer.New()}, nil
}

// Dial opens a TCP connection to addr ("host:port") through the ring.
func Dial(ctx context.Context, drv driver.Driver, addr string) (*Conn, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp4", addr)
	if err != nil {
		return nil, err
	}
	fd, err := syscall.Socket(syscall.AF_INET, syscall.SOCK_STREAM, 0)
	if err != nil {
		return nil, err
	}

	var ipArr [4]byte
	if ip := tcpAddr.IP.To4(); ip != nil {
		copy(ipArr[:], ip)
	}
	sockaddr := sockaddrInet4(ipArr, tcpAddr.Port)

	r := ring.New(drv)
	ev := &event.Connect{
		Fd:       int32(fd),
		Sockaddr: sockaddr,
		Addrlen:  uint32(unsafe.Sizeof(syscall.RawSockaddrInet4{})),
	}
	res, _, err := r.Wait(ctx, ev)
	if err != nil {
		syscall.Close(fd)
		return nil, err
	}
	if res.Err != nil {
		syscall.Close(fd)
		return nil, res.Err
	}
	return &Conn{ring: r, fd: int32(fd), buf: buffer.New()}, nil
}

func sockaddrInet4(ip [4]byte, port int) syscall.RawSockaddrAny {
	var raw syscall.RawSockaddrAny
	sa := (*syscall.RawSockaddrInet4)(unsafe.Pointer(&raw))
	sa.Family = syscall.AF_INET
	sa.Port = htons(uint16(port))
	sa.Addr = ip
	return raw
}

func htons(port uint16) uint16 {
	return (port << 8) | (port >> 8)
}

// Read is a buffered, io.Reader-shaped read (with an added ctx) over recv(2)
// semantics.
func (c *Conn) Read(ctx context.Context, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	data, err := c.buf.FillRead(func(slice []byte) (int, error) {
		res, _, err := c.ring.Wait(ctx, &event.Recv{Fd: c.fd, Buf: slice})
		if err != nil {
			return 0, err
		}
		if res.Err != nil {
			return 0, res.Err
		}
		if res.N == 0 {
			return 0, io.EOF
		}
		return res.N, nil
	})
	if err != nil && len(data) == 0 {
		return 0, err
	}
	n := copy(p, data)
	c.buf.Consume(n)
	return n, nil
}

// Write is an io.Writer-shaped write (with an added ctx) over send(2)
// semantics.
func (c *Conn) Write(ctx context.Context, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	res, _, err := c.ring.Wait(ctx, &event.Send{Fd: c.fd, Buf: p})
	if err != nil {
		return 0, err
	}
	if res.Err != nil {
		return 0, res.Err
	}
	return res.N, nil
}

// Close issues a ring close of the underlying socket.
func (c *Conn) Close(ctx context.Context) error {
	pending := c.buf.Cancellation()
	defer pending.Drop()

	res, _, err := c.ring.Wait(ctx, &event.Close{Fd: c.fd})
	if err != nil {
		return err
	}
	return res.Err
}
