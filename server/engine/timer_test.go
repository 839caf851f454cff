package engine

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func checkHeap(t *testing.T, h *TimerHeap) {
	t.Helper()
	q := &h.q
	require.Equal(t, len(q.entries), len(q.index))
	for i, e := range q.entries {
		require.Equal(t, i, q.index[e.id], "index out of sync for id %d", e.id)
		if i > 0 {
			parent := (i - 1) / 2
			require.False(t, q.entries[i].expires.Before(q.entries[parent].expires), "heap property broken at %d", i)
		}
	}
}

func TestTimerHeap_popAll(t *testing.T) {
	h := NewTimerHeap()
	const n = 200

	perm := rand.New(rand.NewSource(1)).Perm(n)
	fired := make(map[int]int)
	for _, id := range perm {
		h.Add(id, epoch, time.Duration(id+1)*time.Millisecond, func(id int) { fired[id]++ })
		checkHeap(t, h)
	}

	ids := h.PopExpired(epoch.Add(time.Hour))
	assert.Len(t, ids, n)
	assert.Equal(t, 0, h.Len())

	seen := make(map[int]bool)
	for i, id := range ids {
		assert.False(t, seen[id], "id %d popped twice", id)
		seen[id] = true
		assert.Equal(t, 1, fired[id])
		if i > 0 {
			assert.Less(t, ids[i-1], id, "ids must pop in expiry order")
		}
	}
}

func TestTimerHeap_popOnlyExpired(t *testing.T) {
	h := NewTimerHeap()
	h.Add(1, epoch, time.Second, nil)
	h.Add(2, epoch, 3*time.Second, nil)
	h.Add(3, epoch, 2*time.Second, nil)

	assert.Empty(t, h.PopExpired(epoch.Add(500*time.Millisecond)))
	assert.Equal(t, []int{1, 3}, h.PopExpired(epoch.Add(2*time.Second)))
	assert.Equal(t, 1, h.Len())

	d, ok := h.NextExpiry(epoch.Add(2 * time.Second))
	require.True(t, ok)
	assert.Equal(t, time.Second, d)
}

func TestTimerHeap_refreshDelaysExpiry(t *testing.T) {
	h := NewTimerHeap()
	timeout := 10 * time.Second

	for id := range 5 {
		h.Add(id, epoch, timeout, nil)
	}

	// activity on id 0 after 4s, siblings untouched
	require.NoError(t, h.Refresh(0, epoch.Add(4*time.Second), timeout))
	checkHeap(t, h)

	ids := h.PopExpired(epoch.Add(timeout))
	assert.ElementsMatch(t, []int{1, 2, 3, 4}, ids)

	exp, ok := h.Expires(0)
	require.True(t, ok)
	assert.Equal(t, epoch.Add(14*time.Second), exp)
	assert.Equal(t, []int{0}, h.PopExpired(epoch.Add(14*time.Second)))
}

func TestTimerHeap_refreshMovesUpAndDown(t *testing.T) {
	h := NewTimerHeap()
	for id := range 32 {
		h.Add(id, epoch, time.Duration(id+1)*time.Second, nil)
	}

	require.NoError(t, h.Refresh(0, epoch, time.Hour))
	checkHeap(t, h)
	require.NoError(t, h.Refresh(31, epoch, time.Millisecond))
	checkHeap(t, h)

	ids := h.PopExpired(epoch.Add(time.Millisecond))
	assert.Equal(t, []int{31}, ids)
}

func TestTimerHeap_unknownIds(t *testing.T) {
	h := NewTimerHeap()
	assert.ErrorIs(t, h.Refresh(7, epoch, time.Second), ErrTimerNotFound)
	assert.ErrorIs(t, h.Remove(7), ErrTimerNotFound)

	_, ok := h.NextExpiry(epoch)
	assert.False(t, ok)
}

func TestTimerHeap_remove(t *testing.T) {
	h := NewTimerHeap()
	called := false
	for id := range 10 {
		h.Add(id, epoch, time.Duration(id)*time.Second, func(int) { called = true })
	}

	require.NoError(t, h.Remove(5))
	require.NoError(t, h.Remove(0))
	checkHeap(t, h)
	assert.Equal(t, 8, h.Len())

	ids := h.PopExpired(epoch.Add(time.Hour))
	assert.NotContains(t, ids, 5)
	assert.NotContains(t, ids, 0)
	assert.True(t, called)
}

func TestTimerHeap_callbackRemovesItself(t *testing.T) {
	h := NewTimerHeap()
	h.Add(1, epoch, time.Second, func(id int) {
		// the eviction path cancels the timer of the closed connection
		assert.NoError(t, h.Remove(id))
	})
	h.Add(2, epoch, 2*time.Second, nil)

	assert.Equal(t, []int{1, 2}, h.PopExpired(epoch.Add(5*time.Second)))
	assert.Equal(t, 0, h.Len())
}

func TestTimerHeap_callbackRefreshKeepsTimer(t *testing.T) {
	h := NewTimerHeap()
	h.Add(1, epoch, time.Second, func(id int) {
		assert.NoError(t, h.Refresh(id, epoch.Add(time.Second), time.Minute))
	})

	assert.Empty(t, h.PopExpired(epoch.Add(time.Second)))
	assert.Equal(t, 1, h.Len())
}

func TestTimerHeap_addExistingRefreshes(t *testing.T) {
	h := NewTimerHeap()
	h.Add(1, epoch, time.Second, nil)
	h.Add(1, epoch, time.Minute, nil)
	assert.Equal(t, 1, h.Len())

	exp, _ := h.Expires(1)
	assert.Equal(t, epoch.Add(time.Minute), exp)
}

func BenchmarkTimerHeap_refresh(b *testing.B) {
	h := NewTimerHeap()
	for id := range 10000 {
		h.Add(id, epoch, time.Duration(id)*time.Millisecond, nil)
	}

	now := epoch
	i := 0
	b.ReportAllocs()
	b.ResetTimer()
	for b.Loop() {
		now = now.Add(time.Microsecond)
		h.Refresh(i%10000, now, time.Minute)
		i++
	}
}
