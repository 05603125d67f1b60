// Package registry implements the process-wide mapping of SessionId to live
// session metadata described in spec §4.3 SessionRegistry.
//
// Grounded on the teacher's transport/server/base/session.go Session type
// and store.go SessionStore interface: both keep lifecycle metadata
// (CreatedAt/LastSeen/State) alongside the live transport handle, and expose
// Get/Put/Delete/Range over a concurrent backing map. HMON's Session sheds
// the teacher's SSE replay buffer and writer-reattachment machinery (no
// analogue in a single TCP connection) but keeps the same shape: metadata
// record plus a back-reference to the live connection.
package registry

import (
	"time"

	"github.com/lstefano71/hmonclient"
	"github.com/lstefano71/hmonclient/internal/syncmap"
)

// Handle is the subset of *conn.Connection the registry needs, kept as an
// interface here to avoid a dependency cycle (conn imports registry to
// assert that *Connection satisfies Handle).
type Handle interface {
	Dispose(reason string)
}

// Session is Session metadata as described in spec §3. Per the ownership
// note there, Session is exclusively owned by the SessionRegistry; the
// Connection holds only its SessionId, which the code that owns it (the
// orchestrator's dial loop or listener callback) uses to remove the session
// once the read loop exits, and never holds a pointer back into this struct.
type Session struct {
	Id        hmon.SessionId
	Host      string
	Port      int
	Name      string
	Direction hmon.Direction
	State     hmon.State
	CreatedAt time.Time

	// conn is the live connection handle, present only while State==Ready
	// (or transitioning to it). nil once Closed.
	conn Handle
}

// Endpoint projects the SessionEndpoint shape used on lifecycle events.
func (s Session) Endpoint() hmon.SessionEndpoint {
	return hmon.SessionEndpoint{Session: s.Id, Host: s.Host, Port: s.Port, Name: s.Name}
}

// DisconnectCallback is invoked after a session is removed from the
// registry, per spec §4.3 ("Removing a session triggers ... any configured
// disconnect callbacks").
type DisconnectCallback func(Session)

// Registry is the concurrent SessionId -> Session map. All mutations are
// serialized by the backing syncmap.Map; readers observe point-in-time
// snapshots via Range/Enumerate.
type Registry struct {
	sessions  *syncmap.Map[hmon.SessionId, *Session]
	callbacks []DisconnectCallback
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{sessions: syncmap.New[hmon.SessionId, *Session]()}
}

// OnDisconnect registers a callback invoked whenever a session is removed.
// Not concurrency-safe against concurrent registrations; register all
// callbacks before the registry is used.
func (r *Registry) OnDisconnect(cb DisconnectCallback) {
	r.callbacks = append(r.callbacks, cb)
}

// Insert adds a session in the Ready state. Per invariant 1, a SessionId
// must appear at most once; Insert overwrites any identical id (which
// should never occur given SessionIds are freshly generated per connection).
func (r *Registry) Insert(s *Session) {
	s.State = hmon.Ready
	r.sessions.Put(s.Id, s)
}

// Track inserts a session before it reaches Ready (Connecting/Handshaking),
// so lookups by id can observe it mid-setup if needed by diagnostics.
func (r *Registry) Track(s *Session) {
	r.sessions.Put(s.Id, s)
}

// Lookup returns the session for id, if present.
func (r *Registry) Lookup(id hmon.SessionId) (*Session, bool) {
	return r.sessions.Get(id)
}

// Ready reports whether id is currently present and in the Ready state.
// Request-style orchestrator operations use this to decide whether to fail
// fast with SessionNotFound.
func (r *Registry) Ready(id hmon.SessionId) bool {
	s, ok := r.sessions.Get(id)
	return ok && s.State == hmon.Ready
}

// SetConnection attaches the live Connection handle once the handshake
// completes, so Remove can call back into it.
func (r *Registry) SetConnection(id hmon.SessionId, conn Handle) {
	if s, ok := r.sessions.Get(id); ok {
		s.conn = conn
	}
}

// Remove deletes id from the registry and fires disconnect callbacks. Per
// spec §4.3, this is the trigger point for FactCache purge and Poller
// cancellation, which the orchestrator wires up via OnDisconnect.
func (r *Registry) Remove(id hmon.SessionId) {
	s, ok := r.sessions.Get(id)
	if !ok {
		return
	}
	s.State = hmon.Closed
	r.sessions.Delete(id)
	if s.conn != nil {
		s.conn.Dispose("removed from registry")
		s.conn = nil
	}
	for _, cb := range r.callbacks {
		cb(*s)
	}
}

// Enumerate returns a snapshot of all currently registered sessions.
func (r *Registry) Enumerate() []Session {
	var out []Session
	r.sessions.Range(func(_ hmon.SessionId, s *Session) bool {
		out = append(out, *s)
		return true
	})
	return out
}

// Len returns the number of currently registered sessions.
func (r *Registry) Len() int {
	return r.sessions.Len()
}
