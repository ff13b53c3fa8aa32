package concurrentmap

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertFindErase(t *testing.T) {
	m := New[string, int]()
	m.Insert("a", 1)
	v, ok := m.Find("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	assert.True(t, m.Erase("a"))
	_, ok = m.Find("a")
	assert.False(t, ok)
	assert.False(t, m.Erase("a"))
}

func TestInsertIsInsertOrAssign(t *testing.T) {
	m := New[string, int]()
	m.Insert("a", 1)
	m.Insert("a", 2)
	v, ok := m.Find("a")
	require.True(t, ok)
	assert.Equal(t, 2, v)
	assert.Equal(t, 1, m.Size())
}

// A handle returned by Find on a reference type must remain usable even
// after the entry is erased, since Find returns a pointer copy rather
// than a lock-held reference into the map.
func TestLookupHandleSurvivesErase(t *testing.T) {
	type record struct{ n int }
	m := New[string, *record]()
	m.Insert("a", &record{n: 7})

	handle, ok := m.Find("a")
	require.True(t, ok)

	m.Erase("a")

	assert.Equal(t, 7, handle.n)
	_, ok = m.Find("a")
	assert.False(t, ok)
}

func TestEraseIfAndForEach(t *testing.T) {
	m := New[int, int]()
	for i := 0; i < 10; i++ {
		m.Insert(i, i*i)
	}
	removed := m.EraseIf(func(k, v int) bool { return k%2 == 0 })
	assert.Equal(t, 5, removed)
	assert.Equal(t, 5, m.Size())

	m.ForEach(func(k, v int) {
		assert.Equal(t, 1, k%2)
	})
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	m := New[int, int]()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			m.Insert(i, i)
		}(i)
		go func(i int) {
			defer wg.Done()
			m.Find(i)
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, m.Size(), 50)
}
