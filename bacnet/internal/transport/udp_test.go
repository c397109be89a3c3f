package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openLoopback(t *testing.T) *UDPTransport {
	t.Helper()
	tr := NewUDPTransport("127.0.0.1:0")
	require.NoError(t, tr.Open(context.Background()))
	t.Cleanup(func() { tr.Close() })
	return tr
}

func TestUDPTransportSendReceive(t *testing.T) {
	a := openLoopback(t)
	b := openLoopback(t)

	frame := []byte{0x81, 0x0A, 0x00, 0x08, 0x01, 0x00, 0x10, 0x08}
	require.NoError(t, a.Send(context.Background(), b.LocalAddr(), frame))

	got, from, err := b.ReceiveWithTimeout(time.Second)
	require.NoError(t, err)
	assert.Equal(t, frame, got)
	assert.Equal(t, a.LocalAddr(), from)
}

func TestUDPTransportTimeout(t *testing.T) {
	tr := openLoopback(t)
	tr.SetReadTimeout(20 * time.Millisecond)

	_, _, err := tr.Receive(context.Background())
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
}

func TestUDPTransportClosed(t *testing.T) {
	tr := NewUDPTransport("127.0.0.1:0")
	assert.False(t, tr.LocalAddr().IsValid())

	_, _, err := tr.ReceiveWithTimeout(time.Millisecond)
	assert.ErrorIs(t, err, ErrNotOpen)

	require.NoError(t, tr.Open(context.Background()))
	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
	assert.True(t, tr.IsClosed())

	err = tr.Send(context.Background(), tr.LocalAddr(), []byte{0x81})
	assert.ErrorIs(t, err, ErrNotOpen)
	assert.False(t, IsTimeout(err))
}
