// Package conn implements Connection, the per-session read/write/dispatch
// loop described in spec §3 and §4.2.
//
// Grounded on the teacher's transport/client/base/client.go Client, whose
// HandleMessage dispatches an inbound frame by type (notification/
// request/response) and whose send/sendRequest/sendResponse pair serializes
// outgoing writes. HMON has no inbound "request" variant at all (every
// server->client frame is either a correlated response or an unsolicited
// notification-shaped command), so HandleMessage's three-way switch
// collapses to a two-way one: does the frame's UID match a PendingRequest,
// or not.
package conn

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lstefano71/hmonclient"
	"github.com/lstefano71/hmonclient/registry"
	"github.com/lstefano71/hmonclient/transport"
)

// Stats are diagnostic counters exposed per spec's SUPPLEMENTED FEATURES
// (dropped/malformed frame counters), grounded on the teacher's habit of
// exposing atomic counters alongside a Client (see base.Client.counter).
type Stats struct {
	FramesRead      uint64
	FramesWritten   uint64
	DroppedFrames   uint64
	MalformedFrames uint64
}

// EventSink receives every Event a Connection produces, including the
// SessionConnected/SessionDisconnected lifecycle markers. The orchestrator
// supplies a single fan-in sink shared by every Connection it owns.
type EventSink func(hmon.Event)

// Connection owns one live HMON session: the read loop, the pending-request
// table, and outgoing frame serialization. It is constructed post-handshake-success by
// dial.Dialer or listen.Listener, which perform the network accept/connect
// step and hand the resulting transport.Stream here.
type Connection struct {
	session  hmon.SessionId
	endpoint hmon.SessionEndpoint
	framer   *transport.Framer
	pending  *transport.PendingTable
	sink     EventSink
	logger   hmon.Logger

	ctx        context.Context
	cancel     context.CancelFunc
	readLoopWg sync.WaitGroup

	disposeOnce sync.Once

	framesRead      uint64
	framesWritten   uint64
	droppedFrames   uint64
	malformedFrames uint64
}

// New wraps an already-handshaken framer as a live Connection. Its read loop
// does not start until Start is called: per spec §3 invariant 5 and §5,
// SessionConnected must reach the event bus before any frame this Connection
// receives can be dispatched, so the caller publishes SessionConnected first
// and only then calls Start.
func New(parent context.Context, session hmon.SessionId, endpoint hmon.SessionEndpoint, framer *transport.Framer, sink EventSink, logger hmon.Logger) *Connection {
	if logger == nil {
		logger = hmon.NoopLogger{}
	}
	ctx, cancel := context.WithCancel(parent)
	return &Connection{
		session:  session,
		endpoint: endpoint,
		framer:   framer,
		pending:  transport.NewPendingTable(),
		sink:     sink,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the read loop. Callers must publish SessionConnected (or
// otherwise settle ordering) before calling Start, since the read loop may
// immediately dispatch and publish further events for this session.
// Cancelling the parent context given to New disposes the Connection.
func (c *Connection) Start() {
	c.readLoopWg.Add(1)
	go c.readLoop()
	go func() {
		<-c.ctx.Done()
		c.disposeWithReason("cancelled")
	}()
}

// Session returns the id of the session this Connection serves.
func (c *Connection) Session() hmon.SessionId { return c.session }

// Stats returns a snapshot of the diagnostic counters.
func (c *Connection) Stats() Stats {
	return Stats{
		FramesRead:      atomic.LoadUint64(&c.framesRead),
		FramesWritten:   atomic.LoadUint64(&c.framesWritten),
		DroppedFrames:   atomic.LoadUint64(&c.droppedFrames),
		MalformedFrames: atomic.LoadUint64(&c.malformedFrames),
	}
}

// Send transmits command/payload as a fire-and-forget frame: no UID
// correlation, no waiter. Used for commands that never carry a UID (e.g.
// BumpFacts, DisconnectRide) per spec §4.1/§4.4.
func (c *Connection) Send(command string, payload interface{}) error {
	data, err := hmon.EncodeEnvelope(command, payload)
	if err != nil {
		return err
	}
	if err := c.framer.WriteFrame(data); err != nil {
		return &hmon.ConnectionLost{Session: c.session, Reason: "write failed", Cause: err}
	}
	atomic.AddUint64(&c.framesWritten, 1)
	return nil
}

// Request transmits command/payload (which must already carry the supplied
// uid, injected by the caller via hmon.WithUID) and blocks until a response
// with the same uid is read, ctx is done, or the Connection is disposed.
// Grounded on base.Client.Send's Add-then-sendRequest-then-Wait shape.
func (c *Connection) Request(ctx context.Context, command, uid string, payload interface{}) ([]byte, error) {
	start := time.Now()
	p, err := c.pending.Add(command, uid)
	if err != nil {
		return nil, err
	}
	data, err := hmon.EncodeEnvelope(command, payload)
	if err != nil {
		c.pending.Remove(uid)
		return nil, err
	}
	if err := c.framer.WriteFrame(data); err != nil {
		c.pending.Remove(uid)
		return nil, &hmon.ConnectionLost{Session: c.session, Reason: "write failed", Cause: err}
	}
	atomic.AddUint64(&c.framesWritten, 1)

	payloadOut, err := p.Wait(ctx)
	if err != nil {
		c.pending.Remove(uid)
		if ctxErr := ctx.Err(); ctxErr != nil {
			if errors.Is(ctxErr, context.Canceled) {
				return nil, &hmon.Cancelled{Cause: ctxErr}
			}
			return nil, &hmon.CommandTimeout{Command: command, Duration: time.Since(start)}
		}
		return nil, err
	}
	return payloadOut, nil
}

// readLoop is the Connection's single reader goroutine. It runs until the
// framer reports an error (peer closed, protocol violation) or the
// Connection is disposed, at which point it calls disposeWithReason to tear
// down state exactly once.
func (c *Connection) readLoop() {
	defer c.readLoopWg.Done()
	for {
		payload, err := c.framer.ReadFrame()
		if err != nil {
			c.disposeWithReason("read error: " + err.Error())
			return
		}
		atomic.AddUint64(&c.framesRead, 1)
		if !c.dispatch(payload) {
			return
		}
	}
}

// dispatch decodes and routes one inbound frame, returning false if the
// Connection was torn down as a result (a malformed envelope is a
// ProtocolError, which per spec §7 is fatal to the session) and the read
// loop must stop rather than attempt another read.
func (c *Connection) dispatch(payload []byte) bool {
	command, body, err := hmon.DecodeEnvelope(payload)
	if err != nil {
		atomic.AddUint64(&c.malformedFrames, 1)
		c.logger.Errorf("session %s: malformed frame: %v", c.session, err)
		c.disposeWithReason("protocol error: " + err.Error())
		return false
	}

	if uid, ok := hmon.PayloadUID(body); ok {
		if req, matched := c.pending.Match(uid); matched {
			req.Complete(body)
			return true
		}
	}

	evt, ok := hmon.DecodeEvent(c.session, command, body)
	if !ok {
		atomic.AddUint64(&c.droppedFrames, 1)
		c.logger.Debugf("session %s: dropping frame for unrecognized command %q", c.session, command)
		return true
	}
	c.publish(evt)
	return true
}

func (c *Connection) publish(evt hmon.Event) {
	if c.sink != nil {
		c.sink(evt)
	}
}

// Dispose cancels the read loop, closes the transport, fails every
// outstanding request with a ConnectionLost error, and emits exactly one
// SessionDisconnected event. Safe to call multiple times and from any
// goroutine; only the first call has effect, per spec invariant 3.
func (c *Connection) Dispose(reason string) {
	c.disposeWithReason(reason)
}

func (c *Connection) disposeWithReason(reason string) {
	c.disposeOnce.Do(func() {
		c.cancel()
		_ = c.framer.Close()
		c.pending.DrainWithError(&hmon.ConnectionLost{Session: c.session, Reason: reason})
		c.publish(hmon.NewSessionDisconnected(c.endpoint, reason))
	})
}

// Wait blocks until the read loop has exited, for orderly shutdown.
func (c *Connection) Wait() {
	c.readLoopWg.Wait()
}

var _ registry.Handle = (*Connection)(nil)
