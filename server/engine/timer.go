// idle timers: binary min-heap on expiry plus an id -> slot index,
// so refresh and remove never scan the whole heap
package engine

import (
	"container/heap"
	"time"
)

// ExpireFunc is called for every timer popped by PopExpired.
type ExpireFunc func(id int)

type timerEntry struct {
	id       int
	expires  time.Time
	onExpire ExpireFunc
}

// timerQueue implements heap.Interface and keeps index in sync on every swap
type timerQueue struct {
	entries []timerEntry
	index   map[int]int
}

func (q *timerQueue) Len() int           { return len(q.entries) }
func (q *timerQueue) Less(i, j int) bool { return q.entries[i].expires.Before(q.entries[j].expires) }

func (q *timerQueue) Swap(i, j int) {
	q.entries[i], q.entries[j] = q.entries[j], q.entries[i]
	q.index[q.entries[i].id] = i
	q.index[q.entries[j].id] = j
}

func (q *timerQueue) Push(x any) {
	e := x.(timerEntry)
	q.index[e.id] = len(q.entries)
	q.entries = append(q.entries, e)
}

func (q *timerQueue) Pop() any {
	n := len(q.entries)
	e := q.entries[n-1]
	q.entries[n-1] = timerEntry{}
	q.entries = q.entries[:n-1]
	delete(q.index, e.id)
	return e
}

// TimerHeap holds one timer per connection id.
// It is touched only by the loop goroutine, there is no locking.
type TimerHeap struct {
	q timerQueue
}

// NewTimerHeap returns an empty heap.
func NewTimerHeap() *TimerHeap {
	return &TimerHeap{q: timerQueue{index: make(map[int]int)}}
}

// Len is the number of armed timers.
func (h *TimerHeap) Len() int { return h.q.Len() }

// Add arms a timer for id that fires at now+timeout.
// Adding an id that is already armed refreshes it and replaces the callback.
func (h *TimerHeap) Add(id int, now time.Time, timeout time.Duration, onExpire ExpireFunc) {
	if i, ok := h.q.index[id]; ok {
		h.q.entries[i].onExpire = onExpire
		h.q.entries[i].expires = now.Add(timeout)
		heap.Fix(&h.q, i)
		return
	}
	heap.Push(&h.q, timerEntry{id: id, expires: now.Add(timeout), onExpire: onExpire})
}

// Refresh moves the expiry of id to now+timeout. The entry is sifted
// in one direction only, heap.Fix never moves it both ways.
func (h *TimerHeap) Refresh(id int, now time.Time, timeout time.Duration) error {
	i, ok := h.q.index[id]
	if !ok {
		return ErrTimerNotFound
	}
	h.q.entries[i].expires = now.Add(timeout)
	heap.Fix(&h.q, i)
	return nil
}

// Remove cancels the timer of id without calling its callback.
func (h *TimerHeap) Remove(id int) error {
	i, ok := h.q.index[id]
	if !ok {
		return ErrTimerNotFound
	}
	heap.Remove(&h.q, i)
	return nil
}

// Expires returns when id fires.
func (h *TimerHeap) Expires(id int) (time.Time, bool) {
	i, ok := h.q.index[id]
	if !ok {
		return time.Time{}, false
	}
	return h.q.entries[i].expires, true
}

// PopExpired pops every timer with expiry <= now and returns their ids in pop order.
// The callback runs while the entry is still indexed, so it may call Remove or
// Refresh for the same id; a refreshed timer that is no longer due stays armed.
func (h *TimerHeap) PopExpired(now time.Time) []int {
	var ids []int
	for h.q.Len() > 0 {
		root := h.q.entries[0]
		if root.expires.After(now) {
			break
		}

		if root.onExpire != nil {
			root.onExpire(root.id)
		}

		i, ok := h.q.index[root.id]
		switch {
		case !ok:
			// callback removed it
			ids = append(ids, root.id)
		case !h.q.entries[i].expires.After(now):
			heap.Remove(&h.q, i)
			ids = append(ids, root.id)
		}
	}
	return ids
}

// NextExpiry returns the time left until the earliest timer, false if no timer is armed.
// An overdue timer returns zero.
func (h *TimerHeap) NextExpiry(now time.Time) (time.Duration, bool) {
	if h.q.Len() == 0 {
		return 0, false
	}
	d := h.q.entries[0].expires.Sub(now)
	if d < 0 {
		d = 0
	}
	return d, true
}
