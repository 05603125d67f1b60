package syncmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMap_PutGetDelete(t *testing.T) {
	m := New[string, int]()
	_, ok := m.Get("a")
	assert.False(t, ok)

	m.Put("a", 1)
	v, ok := m.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	m.Delete("a")
	_, ok = m.Get("a")
	assert.False(t, ok)
}

func TestMap_Range(t *testing.T) {
	m := New[string, int]()
	m.Put("a", 1)
	m.Put("b", 2)
	m.Put("c", 3)

	seen := map[string]int{}
	m.Range(func(k string, v int) bool {
		seen[k] = v
		return true
	})
	assert.Equal(t, map[string]int{"a": 1, "b": 2, "c": 3}, seen)
	assert.Equal(t, 3, m.Len())
}

func TestMap_RangeEarlyStop(t *testing.T) {
	m := New[string, int]()
	m.Put("a", 1)
	m.Put("b", 2)

	count := 0
	m.Range(func(k string, v int) bool {
		count++
		return false
	})
	assert.Equal(t, 1, count)
}
