package registry

import (
	"testing"

	"github.com/lstefano71/hmonclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHandle struct{ disposed bool }

func (f *fakeHandle) Dispose(reason string) { f.disposed = true }

func TestRegistry_InsertLookupRemove(t *testing.T) {
	r := New()
	id := hmon.NewSessionId()
	s := &Session{Id: id, Host: "localhost", Port: 4502, Direction: hmon.Outbound}
	r.Insert(s)

	found, ok := r.Lookup(id)
	require.True(t, ok)
	assert.Equal(t, hmon.Ready, found.State)
	assert.True(t, r.Ready(id))

	r.Remove(id)
	_, ok = r.Lookup(id)
	assert.False(t, ok)
	assert.False(t, r.Ready(id))
}

func TestRegistry_AtMostOnceSessionId(t *testing.T) {
	r := New()
	id := hmon.NewSessionId()
	r.Insert(&Session{Id: id, Host: "a"})
	r.Insert(&Session{Id: id, Host: "b"})
	assert.Equal(t, 1, r.Len())
	found, _ := r.Lookup(id)
	assert.Equal(t, "b", found.Host)
}

func TestRegistry_DisconnectCallbacksFireOnRemove(t *testing.T) {
	r := New()
	var seen []hmon.SessionId
	r.OnDisconnect(func(s Session) { seen = append(seen, s.Id) })

	id := hmon.NewSessionId()
	r.Insert(&Session{Id: id})
	r.Remove(id)

	require.Len(t, seen, 1)
	assert.Equal(t, id, seen[0])
}

func TestRegistry_RemoveUnknownIsNoop(t *testing.T) {
	r := New()
	r.Remove(hmon.NewSessionId())
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_Enumerate(t *testing.T) {
	r := New()
	r.Insert(&Session{Id: hmon.NewSessionId(), Host: "a"})
	r.Insert(&Session{Id: hmon.NewSessionId(), Host: "b"})
	assert.Len(t, r.Enumerate(), 2)
}

func TestRegistry_SetConnectionAttachesHandle(t *testing.T) {
	r := New()
	id := hmon.NewSessionId()
	r.Insert(&Session{Id: id})
	h := &fakeHandle{}
	r.SetConnection(id, h)

	s, _ := r.Lookup(id)
	assert.Equal(t, h, s.conn)
}
