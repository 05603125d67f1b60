// Package listen implements inbound HMON connections: spec §4.1 "Listening
// for inbound connections" (the interpreter dials out to us). Unlike dial,
// there is no retry policy here — if an accepted connection drops, it is
// simply gone; the interpreter is responsible for redialing.
//
// Grounded on the teacher's transport/server/stdio/server.go
// Server.ListenAndServe: a loop that checks ctx.Err() each iteration and
// otherwise blocks on the next unit of input, here net.Listener.Accept
// instead of a buffered line read.
package listen

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"

	"github.com/lstefano71/hmonclient"
	"github.com/lstefano71/hmonclient/conn"
	"github.com/lstefano71/hmonclient/transport"
)

// Listener accepts inbound HMON connections on a single net.Listener.
type Listener struct {
	Name         string
	MaxFrameSize uint32
	Logger       hmon.Logger
	Sink         conn.EventSink

	// OnAccept, if set, is invoked synchronously with each newly constructed
	// Connection before it starts serving traffic, so a caller (the
	// orchestrator) can register it in a SessionRegistry.
	OnAccept func(*conn.Connection)
	// OnDisconnect, if set, is invoked once the accepted Connection's read
	// loop has exited, so the caller can remove it from a SessionRegistry.
	// Inbound sessions are never retried (spec §4.7), so this is the only
	// notification of their departure.
	OnDisconnect func(hmon.SessionId)

	listener net.Listener
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// Option configures a Listener.
type Option func(*Listener)

// WithMaxFrameSize overrides the default maximum accepted frame size.
func WithMaxFrameSize(n uint32) Option { return func(l *Listener) { l.MaxFrameSize = n } }

// WithLogger overrides the default no-op logger.
func WithLogger(logger hmon.Logger) Option { return func(l *Listener) { l.Logger = logger } }

// WithOnAccept sets the registration callback.
func WithOnAccept(f func(*conn.Connection)) Option { return func(l *Listener) { l.OnAccept = f } }

// WithOnDisconnect sets the deregistration callback.
func WithOnDisconnect(f func(hmon.SessionId)) Option {
	return func(l *Listener) { l.OnDisconnect = f }
}

// New wraps an already-bound net.Listener. name labels every SessionEndpoint
// this Listener produces.
func New(listener net.Listener, name string, sink conn.EventSink, opts ...Option) *Listener {
	l := &Listener{
		Name:     name,
		Logger:   hmon.NoopLogger{},
		Sink:     sink,
		listener: listener,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Serve runs the accept loop until ctx is cancelled or the listener is
// closed. Each accepted connection is handshaken and wrapped as a
// conn.Connection on its own goroutine so a slow or failed handshake on one
// peer does not block accepting the next.
func (l *Listener) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	defer cancel()

	go func() {
		<-ctx.Done()
		_ = l.listener.Close()
	}()

	for {
		rawConn, err := l.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		l.wg.Add(1)
		go l.handleAccepted(ctx, rawConn)
	}
}

func (l *Listener) handleAccepted(ctx context.Context, rawConn net.Conn) {
	defer l.wg.Done()

	framer := transport.New(rawConn, l.MaxFrameSize)
	if err := framer.Handshake(transport.RoleAccept); err != nil {
		l.Logger.Errorf("inbound handshake from %s failed: %v", rawConn.RemoteAddr(), err)
		_ = framer.Close()
		return
	}

	host, port := splitHostPort(rawConn.RemoteAddr())
	session := hmon.NewSessionId()
	endpoint := hmon.SessionEndpoint{Session: session, Host: host, Port: port, Name: l.Name}

	c := conn.New(ctx, session, endpoint, framer, l.Sink, l.Logger)
	if l.OnAccept != nil {
		l.OnAccept(c)
	}
	// SessionConnected must reach the event bus before the read loop can
	// dispatch and publish anything further for this session (spec §3
	// invariant 5, §5), so Sink is called before Start.
	if l.Sink != nil {
		l.Sink(hmon.NewSessionConnected(endpoint))
	}
	c.Start()
	c.Wait()
	if l.OnDisconnect != nil {
		l.OnDisconnect(session)
	}
}

func splitHostPort(addr net.Addr) (string, int) {
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String(), 0
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return host, 0
	}
	return host, port
}

// Close stops the accept loop and waits for all in-flight accepted
// connections' Connection goroutines to finish.
func (l *Listener) Close() error {
	if l.cancel != nil {
		l.cancel()
	}
	err := l.listener.Close()
	if errors.Is(err, net.ErrClosed) {
		// Serve's cancellation watcher may already have closed it.
		err = nil
	}
	l.wg.Wait()
	return err
}
