package transport

import (
	"context"
	"sync"

	"github.com/lstefano71/hmonclient"
)

// PendingRequest is a single in-flight correlated command: a UID paired
// with a single-shot completion channel. Adapted from the teacher's
// transport/trip.go RoundTrip/RoundTrips, which correlates by a monotonic
// integer JSON-RPC id in a fixed-capacity ring. HMON UIDs are caller-chosen
// strings with no ordering guarantee, so this keeps the same
// Add/Match/Wait/Complete/Fail shape but backs it with a plain unbounded
// map instead of a ring buffer.
type PendingRequest struct {
	UID     string
	Command string

	done    chan struct{}
	once    sync.Once
	payload []byte
	err     error
}

func newPendingRequest(command, uid string) *PendingRequest {
	return &PendingRequest{Command: command, UID: uid, done: make(chan struct{})}
}

// Wait blocks until the request completes or ctx is done. Callers arrange
// timeouts by deriving ctx with context.WithTimeout.
func (p *PendingRequest) Wait(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.done:
		return p.payload, p.err
	}
}

// Complete delivers a successful response payload exactly once.
func (p *PendingRequest) Complete(payload []byte) {
	p.once.Do(func() {
		p.payload = payload
		close(p.done)
	})
}

// Fail delivers a terminal error exactly once.
func (p *PendingRequest) Fail(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}

// PendingTable is a Connection-scoped, concurrency-safe map from UID to
// PendingRequest. Per spec invariant 2, a UID is unique within its owning
// session for the lifetime of its PendingRequest.
type PendingTable struct {
	mu       sync.Mutex
	pending  map[string]*PendingRequest
	closed   bool
	closeErr error
}

// NewPendingTable creates an empty table.
func NewPendingTable() *PendingTable {
	return &PendingTable{pending: make(map[string]*PendingRequest)}
}

// Add installs a new PendingRequest for uid. It fails if the table has
// already been closed (the Connection is disposed) or if uid is already in
// flight.
func (t *PendingTable) Add(command, uid string) (*PendingRequest, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, t.closeErr
	}
	if _, exists := t.pending[uid]; exists {
		return nil, &hmon.ConfigurationError{Detail: "UID " + uid + " already in flight on this session"}
	}
	p := newPendingRequest(command, uid)
	t.pending[uid] = p
	return p, nil
}

// Match removes and returns the PendingRequest for uid, if any is
// outstanding. A miss (no waiter, or a duplicate delivery after the first
// already completed) is reported via ok=false; per spec §4.2 the caller
// then publishes the payload as an event instead.
func (t *PendingTable) Match(uid string) (*PendingRequest, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.pending[uid]
	if ok {
		delete(t.pending, uid)
	}
	return p, ok
}

// Remove drops uid without completing it; used by the write-failure,
// timeout and cancel paths, whose caller removes the entry and then reports
// the error itself.
func (t *PendingTable) Remove(uid string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, uid)
}

// DrainWithError fails every outstanding PendingRequest with err, clears the
// table, and marks it closed so no further Add succeeds. Used by
// Connection.Dispose.
func (t *PendingTable) DrainWithError(err error) {
	t.mu.Lock()
	pending := t.pending
	t.pending = make(map[string]*PendingRequest)
	t.closed = true
	t.closeErr = err
	t.mu.Unlock()
	for _, p := range pending {
		p.Fail(err)
	}
}

// Len reports the number of outstanding requests (diagnostics/tests only).
func (t *PendingTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
