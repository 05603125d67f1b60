// Package dial implements outbound HMON connections: spec §4.1 "Connecting
// to a server" plus §4.6 dial retry-with-backoff.
//
// The connect/handshake/construct-Connection sequence is grounded on the
// teacher's transport/client/stdio/client.go Client.start, which similarly
// stands up a transport, launches a background goroutine, and reports setup
// failure back through the client's error slot. The teacher has no retry
// loop of its own (a failed stdio command start is terminal), so the
// exponential-backoff retry policy here is grounded instead on the broader
// pack's retry vocabulary and implemented with
// github.com/cenkalti/backoff/v4, the idiomatic ecosystem choice named in
// the dependency plan.
package dial

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/lstefano71/hmonclient"
	"github.com/lstefano71/hmonclient/conn"
	"github.com/lstefano71/hmonclient/transport"
)

// RetryPolicy configures the backoff applied between failed dial attempts
// for a single target, per spec §4.6.
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	Jitter          float64
	// MaxElapsedTime bounds the whole retry run; zero means retry
	// indefinitely until ctx is cancelled.
	MaxElapsedTime time.Duration
}

// DefaultRetryPolicy matches the defaults named in spec §4.6.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval: hmon.DefaultRetryInitial,
		MaxInterval:     hmon.DefaultRetryMax,
		Multiplier:      2,
		Jitter:          hmon.DefaultRetryJitter,
	}
}

func (p RetryPolicy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	if p.Multiplier > 0 {
		b.Multiplier = p.Multiplier
	}
	if p.Jitter > 0 {
		b.RandomizationFactor = p.Jitter
	}
	b.MaxElapsedTime = p.MaxElapsedTime
	return b
}

// Dialer connects outbound to a single HMON server target, retrying with
// backoff on failure until it succeeds or its context is cancelled.
// Grounded on the teacher's Client struct, which likewise bundles the
// connection parameters (host, command/args) with the machinery to
// establish the transport.
type Dialer struct {
	Host         string
	Port         int
	Name         string
	MaxFrameSize uint32
	Retry        RetryPolicy
	Logger       hmon.Logger
	Sink         conn.EventSink
	NetDialer    func(ctx context.Context, network, address string) (net.Conn, error)
}

// Option configures a Dialer, per the functional-options pattern used
// throughout the teacher's client constructors.
type Option func(*Dialer)

// WithRetryPolicy overrides the default backoff policy.
func WithRetryPolicy(p RetryPolicy) Option { return func(d *Dialer) { d.Retry = p } }

// WithMaxFrameSize overrides the default maximum accepted frame size.
func WithMaxFrameSize(n uint32) Option { return func(d *Dialer) { d.MaxFrameSize = n } }

// WithLogger overrides the default no-op logger.
func WithLogger(l hmon.Logger) Option { return func(d *Dialer) { d.Logger = l } }

// WithNetDialer overrides how Dialer opens the underlying TCP connection;
// tests substitute a fake to avoid real sockets.
func WithNetDialer(f func(ctx context.Context, network, address string) (net.Conn, error)) Option {
	return func(d *Dialer) { d.NetDialer = f }
}

// New creates a Dialer targeting host:port. name labels the resulting
// SessionEndpoint (spec §3 Session.Name).
func New(host string, port int, name string, sink conn.EventSink, opts ...Option) *Dialer {
	d := &Dialer{
		Host:   host,
		Port:   port,
		Name:   name,
		Retry:  DefaultRetryPolicy(),
		Logger: hmon.NoopLogger{},
		Sink:   sink,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.NetDialer == nil {
		var nd net.Dialer
		d.NetDialer = nd.DialContext
	}
	return d
}

// Dial connects, retrying with backoff per spec §4.6, performs the HMON
// handshake, and returns a live Connection on success. The retry loop
// resets on the caller's next independent Dial call; it does not persist
// backoff state across calls (spec §4.6: "backoff state is per dial
// attempt sequence, reset once a connection reaches Ready").
func (d *Dialer) Dial(ctx context.Context) (*conn.Connection, error) {
	var connection *conn.Connection
	operation := func() error {
		c, err := d.attempt(ctx)
		if err != nil {
			d.Logger.Debugf("dial %s:%d failed, retrying: %v", d.Host, d.Port, err)
			return err
		}
		connection = c
		return nil
	}

	b := backoff.WithContext(d.Retry.backOff(), ctx)
	if err := backoff.Retry(operation, b); err != nil {
		return nil, err
	}
	return connection, nil
}

func (d *Dialer) attempt(ctx context.Context) (*conn.Connection, error) {
	address := net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
	rawConn, err := d.NetDialer(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}

	framer := transport.New(rawConn, d.MaxFrameSize)
	if err := framer.Handshake(transport.RoleDial); err != nil {
		_ = framer.Close()
		return nil, err
	}

	session := hmon.NewSessionId()
	endpoint := hmon.SessionEndpoint{Session: session, Host: d.Host, Port: d.Port, Name: d.Name}
	c := conn.New(context.Background(), session, endpoint, framer, d.Sink, d.Logger)
	// SessionConnected must reach the event bus before the read loop can
	// dispatch and publish anything further for this session (spec §3
	// invariant 5, §5), so Sink is called before Start.
	if d.Sink != nil {
		d.Sink(hmon.NewSessionConnected(endpoint))
	}
	c.Start()
	return c, nil
}
