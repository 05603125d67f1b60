package transport

import (
	"net"
	"testing"
	"time"

	"github.com/lstefano71/hmonclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFramer_WriteReadRoundTrip(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	fa := New(a, 0)
	fb := New(b, 0)

	payload := []byte(`["Facts",{"UID":"1"}]`)
	done := make(chan error, 1)
	go func() { done <- fa.WriteFrame(payload) }()

	got, err := fb.ReadFrame()
	require.NoError(t, err)
	require.NoError(t, <-done)
	assert.Equal(t, payload, got)
}

func TestFramer_ReadFrame_RejectsBadMagic(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	fb := New(b, 0)
	go func() {
		header := make([]byte, 8)
		header[3] = 8 // length = 8, magic left as zero bytes (bad)
		a.Write(header)
	}()

	_, err := fb.ReadFrame()
	require.Error(t, err)
	assert.True(t, hmon.IsProtocolError(err))
}

func TestFramer_ReadFrame_RejectsShortLength(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	fb := New(b, 0)
	go func() {
		header := make([]byte, 8)
		header[3] = 4 // total length 4 < HeaderSize
		a.Write(header)
	}()

	_, err := fb.ReadFrame()
	require.Error(t, err)
	assert.True(t, hmon.IsProtocolError(err))
}

func TestFramer_ReadFrame_RejectsOversizedFrame(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	fb := New(b, 16)
	go func() {
		fa := New(a, 0)
		fa.WriteFrame(make([]byte, 100))
	}()

	_, err := fb.ReadFrame()
	require.Error(t, err)
	assert.True(t, hmon.IsProtocolError(err))
}

func TestFramer_Handshake_DialerSendsFirst(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	fa := New(a, 0)
	fb := New(b, 0)

	dialErr := make(chan error, 1)
	acceptErr := make(chan error, 1)
	go func() { dialErr <- fa.Handshake(RoleDial) }()
	go func() { acceptErr <- fb.Handshake(RoleAccept) }()

	select {
	case err := <-dialErr:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("dial handshake timed out")
	}
	select {
	case err := <-acceptErr:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("accept handshake timed out")
	}
}

func TestFramer_Handshake_RejectsWrongPayload(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	fb := New(b, 0)
	go func() {
		fa := New(a, 0)
		fa.WriteFrame([]byte("bogus"))
	}()

	err := fb.Handshake(RoleAccept)
	require.Error(t, err)
	assert.True(t, hmon.IsHandshakeFailed(err))
}
