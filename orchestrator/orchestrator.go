// Package orchestrator implements Orchestrator, the public façade described
// in spec §4.8: it owns every Dialer, Listener, Connection, the
// SessionRegistry, the FactCache, and the per-session Pollers, and routes
// consumer calls to the right Connection.
//
// Grounded on the teacher's transport/client/base/client.go Client as the
// shape of "one façade composing a transport, a pending-request table, and
// a logger", generalized here to a façade composing many Connections
// instead of one, plus the registry/factcache/poll/dial/listen packages
// that do the per-concern work.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/lstefano71/hmonclient"
	"github.com/lstefano71/hmonclient/conn"
	"github.com/lstefano71/hmonclient/dial"
	"github.com/lstefano71/hmonclient/factcache"
	"github.com/lstefano71/hmonclient/listen"
	"github.com/lstefano71/hmonclient/poll"
	"github.com/lstefano71/hmonclient/registry"
)

// ServerRef identifies one configured outbound target added via AddServer.
type ServerRef uint64

// ListenerRef identifies one inbound listener started via
// StartListenerAsync.
type ListenerRef uint64

// Option configures an Orchestrator at construction, per spec §6's
// configuration surface. The core takes no environment/file/flag input
// directly (per Non-goals); every knob arrives through an Option.
type Option func(*Orchestrator)

// WithDefaultTimeout overrides the default per-command timeout (spec
// default: 30s).
func WithDefaultTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.defaultTimeout = d }
}

// WithFactCacheTTL overrides the FactCache TTL (spec default: 5m).
func WithFactCacheTTL(d time.Duration) Option {
	return func(o *Orchestrator) { o.factCacheTTL = d }
}

// WithRetryPolicy overrides the Dialer backoff policy applied to every
// server added after this Option takes effect.
func WithRetryPolicy(p dial.RetryPolicy) Option {
	return func(o *Orchestrator) { o.retry = p }
}

// WithMaxFrameSize overrides the maximum accepted frame size for every
// Dialer/Listener this Orchestrator creates.
func WithMaxFrameSize(n uint32) Option {
	return func(o *Orchestrator) { o.maxFrameSize = n }
}

// WithLogger overrides the default no-op logger.
func WithLogger(logger hmon.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

type serverEntry struct {
	host, name string
	port       int
	dialer     *dial.Dialer
	cancel     context.CancelFunc

	mu      sync.Mutex
	session hmon.SessionId
	hasConn bool
}

type listenerEntry struct {
	listener *listen.Listener
	cancel   context.CancelFunc
}

// Orchestrator is the public façade. Construct with New, then AddServer /
// StartListenerAsync to bring sessions up, consume Events() for the unified
// stream, and call the request-style operations against SessionIds observed
// via SessionConnected events.
type Orchestrator struct {
	defaultTimeout time.Duration
	factCacheTTL   time.Duration
	retry          dial.RetryPolicy
	maxFrameSize   uint32
	logger         hmon.Logger

	registry *registry.Registry
	cache    *factcache.Cache
	bus      *eventBus

	rootCtx    context.Context
	rootCancel context.CancelFunc

	mu        sync.Mutex
	closed    bool
	nextRef   uint64
	servers   map[ServerRef]*serverEntry
	listeners map[ListenerRef]*listenerEntry
	conns     map[hmon.SessionId]*conn.Connection
	pollers   map[hmon.SessionId]*poll.Poller

	wg sync.WaitGroup
}

// New constructs an Orchestrator with no servers or listeners configured
// yet.
func New(opts ...Option) *Orchestrator {
	o := &Orchestrator{
		defaultTimeout: hmon.DefaultCommandTimeout,
		factCacheTTL:   hmon.DefaultFactCacheTTL,
		retry:          dial.DefaultRetryPolicy(),
		maxFrameSize:   hmon.DefaultMaxFrameSize,
		logger:         hmon.NoopLogger{},
		servers:        make(map[ServerRef]*serverEntry),
		listeners:      make(map[ListenerRef]*listenerEntry),
		conns:          make(map[hmon.SessionId]*conn.Connection),
		pollers:        make(map[hmon.SessionId]*poll.Poller),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.cache = factcache.New(o.factCacheTTL)
	o.bus = newEventBus()
	o.registry = registry.New()
	o.registry.OnDisconnect(func(s registry.Session) {
		o.cache.PurgeSession(s.Id)
		o.stopPolling(s.Id)
	})
	o.rootCtx, o.rootCancel = context.WithCancel(context.Background())
	return o
}

// Events returns the unified event stream. Per spec §4.8/§9, ordering of
// events for a single SessionId is preserved; no ordering is guaranteed
// across SessionIds. The channel is closed by Shutdown.
func (o *Orchestrator) Events() <-chan hmon.Event {
	return o.bus.events()
}

// AddServer registers an outbound target. The Dialer starts connecting
// immediately in the background with retry/backoff per spec §4.6; the
// resulting SessionId is published via a SessionConnected event, not
// returned here, since it changes across reconnects.
func (o *Orchestrator) AddServer(host string, port int, name string) ServerRef {
	o.mu.Lock()
	o.nextRef++
	ref := ServerRef(o.nextRef)
	ctx, cancel := context.WithCancel(o.rootCtx)
	entry := &serverEntry{host: host, port: port, name: name, cancel: cancel}
	entry.dialer = dial.New(host, port, name, o.sessionSink,
		dial.WithRetryPolicy(o.retry),
		dial.WithMaxFrameSize(o.maxFrameSize),
		dial.WithLogger(o.logger))
	o.servers[ref] = entry
	o.mu.Unlock()

	o.wg.Add(1)
	go o.dialLoop(ctx, entry)
	return ref
}

// RemoveServerAsync cancels the Dialer for ref and disposes any live
// session it owns.
func (o *Orchestrator) RemoveServerAsync(ref ServerRef) error {
	o.mu.Lock()
	entry, ok := o.servers[ref]
	delete(o.servers, ref)
	o.mu.Unlock()
	if !ok {
		return &hmon.ConfigurationError{Detail: fmt.Sprintf("unknown server ref %d", ref)}
	}
	entry.cancel()

	entry.mu.Lock()
	session, hasConn := entry.session, entry.hasConn
	entry.mu.Unlock()
	if hasConn {
		if c, ok := o.lookupConn(session); ok {
			c.Dispose("server removed")
		}
	}
	return nil
}

func (o *Orchestrator) dialLoop(ctx context.Context, entry *serverEntry) {
	defer o.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		c, err := entry.dialer.Dial(ctx)
		if err != nil {
			return // ctx cancelled; RemoveServerAsync was called
		}

		entry.mu.Lock()
		entry.session = c.Session()
		entry.hasConn = true
		entry.mu.Unlock()

		o.registerSession(c, entry.host, entry.port, entry.name, hmon.Outbound)
		c.Wait()
		o.unregisterSession(c.Session())

		entry.mu.Lock()
		entry.hasConn = false
		entry.mu.Unlock()
	}
}

// StartListenerAsync binds a local address and accepts inbound HMON
// connections. Accepted sessions are registered exactly like outbound ones;
// per spec §4.7 they are never retried on disconnect.
func (o *Orchestrator) StartListenerAsync(ip string, port int, name string) (ListenerRef, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort(ip, strconv.Itoa(port)))
	if err != nil {
		return 0, err
	}

	o.mu.Lock()
	o.nextRef++
	ref := ListenerRef(o.nextRef)
	ctx, cancel := context.WithCancel(o.rootCtx)
	l := listen.New(ln, name, o.sessionSink,
		listen.WithMaxFrameSize(o.maxFrameSize),
		listen.WithLogger(o.logger),
		listen.WithOnAccept(func(c *conn.Connection) {
			o.registerSession(c, ip, port, name, hmon.Inbound)
		}),
		listen.WithOnDisconnect(o.unregisterSession),
	)
	o.listeners[ref] = &listenerEntry{listener: l, cancel: cancel}
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if err := l.Serve(ctx); err != nil {
			o.logger.Errorf("listener %s:%d stopped: %v", ip, port, err)
		}
	}()
	return ref, nil
}

// StopListenerAsync stops accepting new connections on ref. Sessions already
// accepted on it are disposed too, since their Connections derive from the
// listener's context.
func (o *Orchestrator) StopListenerAsync(ref ListenerRef) error {
	o.mu.Lock()
	entry, ok := o.listeners[ref]
	delete(o.listeners, ref)
	o.mu.Unlock()
	if !ok {
		return &hmon.ConfigurationError{Detail: fmt.Sprintf("unknown listener ref %d", ref)}
	}
	entry.cancel()
	return entry.listener.Close()
}

// sessionSink is the EventSink handed to every Dialer/Listener/Connection;
// it simply forwards to the unified bus. Separated into its own method
// (rather than o.bus.push directly) so future cross-cutting concerns
// (metrics, auditing) have one seam to hook into.
func (o *Orchestrator) sessionSink(e hmon.Event) {
	o.bus.push(e)
}

func (o *Orchestrator) registerSession(c *conn.Connection, host string, port int, name string, direction hmon.Direction) {
	s := &registry.Session{
		Id:        c.Session(),
		Host:      host,
		Port:      port,
		Name:      name,
		Direction: direction,
		CreatedAt: time.Now(),
	}
	o.registry.Insert(s)
	o.registry.SetConnection(c.Session(), c)
	o.mu.Lock()
	o.conns[c.Session()] = c
	o.mu.Unlock()
}

func (o *Orchestrator) unregisterSession(id hmon.SessionId) {
	o.registry.Remove(id)
	o.mu.Lock()
	delete(o.conns, id)
	o.mu.Unlock()
}

func (o *Orchestrator) lookupConn(id hmon.SessionId) (*conn.Connection, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	c, ok := o.conns[id]
	return c, ok
}

func (o *Orchestrator) stopPolling(id hmon.SessionId) {
	o.mu.Lock()
	p, ok := o.pollers[id]
	delete(o.pollers, id)
	o.mu.Unlock()
	if ok {
		p.Stop()
	}
}

// effectiveTimeout implements spec §4.8: "min(defaultTimeout,
// callerTimeout) when both are set, otherwise the non-null one."
func (o *Orchestrator) effectiveTimeout(caller time.Duration) time.Duration {
	if caller <= 0 {
		return o.defaultTimeout
	}
	if o.defaultTimeout <= 0 {
		return caller
	}
	if caller < o.defaultTimeout {
		return caller
	}
	return o.defaultTimeout
}

// request issues a UID-correlated command on session and returns the raw
// response payload. Fails with SessionNotFound if session is not Ready.
func (o *Orchestrator) request(ctx context.Context, session hmon.SessionId, command string, payload interface{}, timeout time.Duration) ([]byte, error) {
	if !o.registry.Ready(session) {
		return nil, &hmon.SessionNotFound{Session: session}
	}
	c, ok := o.lookupConn(session)
	if !ok {
		return nil, &hmon.SessionNotFound{Session: session}
	}

	uid := hmon.NewSessionId().String()
	body, err := hmon.WithUID(payload, uid)
	if err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, o.effectiveTimeout(timeout))
	defer cancel()
	return c.Request(reqCtx, command, uid, body)
}

// GetFactsAsync issues GetFacts for kinds and returns the decoded response.
// The result also refreshes the FactCache, same as a Poller tick would.
func (o *Orchestrator) GetFactsAsync(ctx context.Context, session hmon.SessionId, kinds hmon.FactKindList, timeout time.Duration) (hmon.FactsResponse, error) {
	raw, err := o.request(ctx, session, hmon.CommandGetFacts, hmon.GetFactsRequest{Facts: kinds}, timeout)
	if err != nil {
		return hmon.FactsResponse{}, err
	}
	var resp hmon.FactsResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return hmon.FactsResponse{}, &hmon.ProtocolError{Detail: "decode Facts response", Cause: err}
	}
	o.cache.PutAll(session, resp.Facts)
	return resp, nil
}

// GetLastKnownStateAsync issues GetLastKnownState and returns the raw
// decoded payload; the core does not interpret its shape beyond JSON.
func (o *Orchestrator) GetLastKnownStateAsync(ctx context.Context, session hmon.SessionId, timeout time.Duration) (json.RawMessage, error) {
	return o.request(ctx, session, hmon.CommandGetLastKnownState, struct{}{}, timeout)
}

// SubscribeAsync issues Subscribe for the given subscription kind names and
// returns the raw Subscribed response payload.
func (o *Orchestrator) SubscribeAsync(ctx context.Context, session hmon.SessionId, subscriptionKinds []string, timeout time.Duration) (json.RawMessage, error) {
	return o.request(ctx, session, hmon.CommandSubscribe, struct {
		Kinds []string `json:"Kinds"`
	}{Kinds: subscriptionKinds}, timeout)
}

// PollFactsAsync starts (or replaces, per spec §4.4) periodic GetFacts
// polling for session. Each tick's result is published as a Facts event AND
// written into the FactCache, per spec §9's Open Question resolution that
// poller-driven Facts events are indistinguishable from consumer-initiated
// ones.
func (o *Orchestrator) PollFactsAsync(session hmon.SessionId, kinds hmon.FactKindList, interval time.Duration) error {
	c, ok := o.lookupConn(session)
	if !ok || !o.registry.Ready(session) {
		return &hmon.SessionNotFound{Session: session}
	}

	p := poll.New(session, c, kinds, interval, o.defaultTimeout,
		func() string { return hmon.NewSessionId().String() },
		func(fr hmon.FactsResponse, err error) {
			if err != nil {
				o.logger.Debugf("poll session %s failed: %v", session, err)
				return
			}
			o.cache.PutAll(session, fr.Facts)
			o.bus.push(hmon.Event{Type: hmon.EventFacts, Session: session, Facts: &fr})
		}, o.logger)

	o.mu.Lock()
	if old, exists := o.pollers[session]; exists {
		old.Stop()
	}
	o.pollers[session] = p
	o.mu.Unlock()

	p.Start(o.rootCtx)
	return nil
}

// StopFactsPollingAsync cancels polling for session, if any is active.
// Idempotent.
func (o *Orchestrator) StopFactsPollingAsync(session hmon.SessionId) error {
	o.stopPolling(session)
	return nil
}

// BumpFactsAsync sends BumpFacts fire-and-forget (no UID, no response
// correlation), per the command's absence from the response-variant list
// in spec §3.
func (o *Orchestrator) BumpFactsAsync(session hmon.SessionId) error {
	c, ok := o.lookupConn(session)
	if !ok || !o.registry.Ready(session) {
		return &hmon.SessionNotFound{Session: session}
	}
	return c.Send(hmon.CommandBumpFacts, struct{}{})
}

// ConnectRideAsync issues ConnectRide and returns the raw RideConnection
// response payload.
func (o *Orchestrator) ConnectRideAsync(ctx context.Context, session hmon.SessionId, timeout time.Duration) (json.RawMessage, error) {
	return o.request(ctx, session, hmon.CommandConnectRide, struct{}{}, timeout)
}

// DisconnectRideAsync sends DisconnectRide fire-and-forget.
func (o *Orchestrator) DisconnectRideAsync(session hmon.SessionId) error {
	c, ok := o.lookupConn(session)
	if !ok || !o.registry.Ready(session) {
		return &hmon.SessionNotFound{Session: session}
	}
	return c.Send(hmon.CommandDisconnectRide, struct{}{})
}

// FactCacheGet exposes a read against the FactCache directly, per spec
// §4.5, without round-tripping to the interpreter.
func (o *Orchestrator) FactCacheGet(session hmon.SessionId, kind hmon.FactKind) (hmon.Fact, bool) {
	return o.cache.Get(session, kind)
}

// Sessions returns a snapshot of every currently Ready session.
func (o *Orchestrator) Sessions() []registry.Session {
	return o.registry.Enumerate()
}

// Shutdown closes every listener, cancels every dialer, disposes every live
// Connection, and drains the event stream. Idempotent; safe to call more
// than once and from any goroutine. Per spec §4.8, this also respects ctx:
// if resources do not release before ctx is done, Shutdown returns ctx's
// error without blocking forever.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	listeners := o.listeners
	o.listeners = make(map[ListenerRef]*listenerEntry)
	conns := make([]*conn.Connection, 0, len(o.conns))
	for _, c := range o.conns {
		conns = append(conns, c)
	}
	pollers := o.pollers
	o.pollers = make(map[hmon.SessionId]*poll.Poller)
	o.mu.Unlock()

	for _, entry := range listeners {
		entry.cancel()
		_ = entry.listener.Close()
	}
	for _, p := range pollers {
		p.Stop()
	}
	for _, c := range conns {
		c.Dispose("orchestrator shutdown")
	}
	o.rootCancel()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	o.bus.close()
	return nil
}
