// Package transport provides the BACnet/IP datagram transport.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"
)

// ErrNotOpen is returned when the transport is used before Open or after Close.
var ErrNotOpen = errors.New("transport: not open")

// maxDatagram bounds a BACnet/IP datagram: BVLC, NPDU and a 1476 octet APDU.
const maxDatagram = 1500

// UDPTransport sends and receives BACnet/IP datagrams on one IPv4 socket.
type UDPTransport struct {
	localAddr    string
	conn         *net.UDPConn
	mu           sync.RWMutex
	readTimeout  time.Duration
	writeTimeout time.Duration
	closed       bool
}

// NewUDPTransport creates a transport bound to localAddr ("ip:port") on Open.
// An empty address binds an ephemeral port on all interfaces.
func NewUDPTransport(localAddr string) *UDPTransport {
	return &UDPTransport{
		localAddr:    localAddr,
		readTimeout:  3 * time.Second,
		writeTimeout: 3 * time.Second,
	}
}

// SetReadTimeout sets the read timeout used when the context has no deadline.
func (t *UDPTransport) SetReadTimeout(d time.Duration) {
	t.mu.Lock()
	t.readTimeout = d
	t.mu.Unlock()
}

// SetWriteTimeout sets the write timeout used when the context has no deadline.
func (t *UDPTransport) SetWriteTimeout(d time.Duration) {
	t.mu.Lock()
	t.writeTimeout = d
	t.mu.Unlock()
}

// Open binds the socket.
func (t *UDPTransport) Open(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil && !t.closed {
		return nil
	}

	var lc net.ListenConfig
	conn, err := lc.ListenPacket(ctx, "udp4", t.localAddr)
	if err != nil {
		return fmt.Errorf("listen UDP %q: %w", t.localAddr, err)
	}

	t.conn = conn.(*net.UDPConn)
	t.closed = false
	return nil
}

// Close closes the socket. Closing twice is a no-op.
func (t *UDPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil || t.closed {
		return nil
	}

	t.closed = true
	return t.conn.Close()
}

// LocalAddr returns the bound address.
func (t *UDPTransport) LocalAddr() netip.AddrPort {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.conn == nil {
		return netip.AddrPort{}
	}
	return t.conn.LocalAddr().(*net.UDPAddr).AddrPort()
}

func (t *UDPTransport) open() (*net.UDPConn, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.conn == nil || t.closed {
		return nil, ErrNotOpen
	}
	return t.conn, nil
}

// Send writes one datagram to addr.
func (t *UDPTransport) Send(ctx context.Context, addr netip.AddrPort, data []byte) error {
	conn, err := t.open()
	if err != nil {
		return err
	}

	t.mu.RLock()
	writeTimeout := t.writeTimeout
	t.mu.RUnlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(writeTimeout)
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}

	n, err := conn.WriteToUDPAddrPort(data, addr)
	if err != nil {
		return fmt.Errorf("write UDP to %s: %w", addr, err)
	}
	if n != len(data) {
		return fmt.Errorf("partial write: %d of %d bytes", n, len(data))
	}
	return nil
}

// Receive reads one datagram. It fails with a timeout net.Error when no
// datagram arrives before the deadline.
func (t *UDPTransport) Receive(ctx context.Context) ([]byte, netip.AddrPort, error) {
	conn, err := t.open()
	if err != nil {
		return nil, netip.AddrPort{}, err
	}

	t.mu.RLock()
	readTimeout := t.readTimeout
	t.mu.RUnlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(readTimeout)
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, netip.AddrPort{}, fmt.Errorf("set read deadline: %w", err)
	}

	buf := make([]byte, maxDatagram)
	n, from, err := conn.ReadFromUDPAddrPort(buf)
	if err != nil {
		return nil, netip.AddrPort{}, err
	}
	return buf[:n], netip.AddrPortFrom(from.Addr().Unmap(), from.Port()), nil
}

// ReceiveWithTimeout reads one datagram, waiting at most timeout.
func (t *UDPTransport) ReceiveWithTimeout(timeout time.Duration) ([]byte, netip.AddrPort, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return t.Receive(ctx)
}

// IsClosed reports whether Close was called.
func (t *UDPTransport) IsClosed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.closed
}

// IsTimeout reports whether err is a read or write deadline expiry.
func IsTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
