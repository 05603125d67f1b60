package dial

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lstefano71/hmonclient"
	"github.com/lstefano71/hmonclient/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// serveHandshake runs the accept side of the HMON handshake on conn, for
// the fake server end of a net.Pipe pair.
func serveHandshake(t *testing.T, serverConn net.Conn) {
	t.Helper()
	f := transport.New(serverConn, 0)
	require.NoError(t, f.Handshake(transport.RoleAccept))
}

func TestDialer_SucceedsOnFirstAttempt(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go serveHandshake(t, server)

	var events []hmon.Event
	d := New("localhost", 4502, "test", func(e hmon.Event) { events = append(events, e) },
		WithNetDialer(func(ctx context.Context, network, address string) (net.Conn, error) {
			return client, nil
		}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	c, err := d.Dial(ctx)
	require.NoError(t, err)
	require.NotNil(t, c)
	defer c.Dispose("test done")

	require.Len(t, events, 1)
	assert.Equal(t, hmon.EventSessionConnected, events[0].Type)
}

func TestDialer_RetriesUntilSuccess(t *testing.T) {
	var attempts int32

	d := New("localhost", 4502, "test", nil,
		WithRetryPolicy(RetryPolicy{InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond, Multiplier: 2}),
		WithNetDialer(func(ctx context.Context, network, address string) (net.Conn, error) {
			n := atomic.AddInt32(&attempts, 1)
			if n < 3 {
				return nil, errors.New("connection refused")
			}
			client, server := net.Pipe()
			go func() {
				f := transport.New(server, 0)
				_ = f.Handshake(transport.RoleAccept)
			}()
			return client, nil
		}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	c, err := d.Dial(ctx)
	require.NoError(t, err)
	defer c.Dispose("test done")
	assert.GreaterOrEqual(t, atomic.LoadInt32(&attempts), int32(3))
}

func TestDialer_GivesUpWhenContextCancelled(t *testing.T) {
	d := New("localhost", 4502, "test", nil,
		WithRetryPolicy(RetryPolicy{InitialInterval: 5 * time.Millisecond, MaxInterval: 10 * time.Millisecond, Multiplier: 2}),
		WithNetDialer(func(ctx context.Context, network, address string) (net.Conn, error) {
			return nil, errors.New("connection refused")
		}))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := d.Dial(ctx)
	require.Error(t, err)
}
