package factcache

import (
	"testing"
	"time"

	"github.com/lstefano71/hmonclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_PutGet(t *testing.T) {
	c := New(time.Minute)
	session := hmon.NewSessionId()
	fact := hmon.Fact{Kind: hmon.FactThreadCount, Name: "ThreadCount", Value: []byte("3")}

	c.Put(session, fact)

	got, ok := c.Get(session, hmon.FactThreadCount)
	require.True(t, ok)
	assert.Equal(t, fact, got)
}

func TestCache_MissForUnknownKey(t *testing.T) {
	c := New(time.Minute)
	_, ok := c.Get(hmon.NewSessionId(), hmon.FactHost)
	assert.False(t, ok)
}

func TestCache_ExpiredEntryIsEvictedOnRead(t *testing.T) {
	c := New(10 * time.Millisecond)
	session := hmon.NewSessionId()
	c.Put(session, hmon.Fact{Kind: hmon.FactHost, Name: "Host"})

	time.Sleep(20 * time.Millisecond)

	_, ok := c.Get(session, hmon.FactHost)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len(), "expired entry must be evicted, not merely hidden")

	// subsequent reads stay misses (idempotent), per spec §8.
	_, ok = c.Get(session, hmon.FactHost)
	assert.False(t, ok)
}

func TestCache_PutAll(t *testing.T) {
	c := New(time.Minute)
	session := hmon.NewSessionId()
	c.PutAll(session, []hmon.Fact{
		{Kind: hmon.FactHost, Name: "Host"},
		{Kind: hmon.FactWorkspace, Name: "Workspace"},
	})

	assert.Equal(t, 2, c.Len())
	_, ok := c.Get(session, hmon.FactHost)
	assert.True(t, ok)
	_, ok = c.Get(session, hmon.FactWorkspace)
	assert.True(t, ok)
}

func TestCache_PurgeSessionRemovesOnlyThatSessionsEntries(t *testing.T) {
	c := New(time.Minute)
	s1, s2 := hmon.NewSessionId(), hmon.NewSessionId()
	c.Put(s1, hmon.Fact{Kind: hmon.FactHost})
	c.Put(s2, hmon.Fact{Kind: hmon.FactHost})

	c.PurgeSession(s1)

	_, ok := c.Get(s1, hmon.FactHost)
	assert.False(t, ok)
	_, ok = c.Get(s2, hmon.FactHost)
	assert.True(t, ok)
}

func TestCache_ZeroTTLFallsBackToDefault(t *testing.T) {
	c := New(0)
	assert.Equal(t, hmon.DefaultFactCacheTTL, c.ttl)
}
