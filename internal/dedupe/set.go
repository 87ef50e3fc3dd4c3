// ABOUTME: Bounded TTL set of event IDs used to skip redelivered events.
// ABOUTME: Expired entries are pruned lazily on insert; no background goroutine.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	key  string
	seen time.Time
}

// Set records event IDs for a fixed window. The zero value is not usable; call New.
type Set struct {
	mu      sync.Mutex
	index   map[string]*list.Element
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

// New creates a Set that forgets IDs after ttl and holds at most maxSize of them.
func New(ttl time.Duration, maxSize int) *Set {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &Set{
		index:   make(map[string]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Seen reports whether key was recorded within the window, and records it if not.
func (s *Set) Seen(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.pruneLocked(now)

	if el, ok := s.index[key]; ok {
		if now.Sub(el.Value.(*entry).seen) < s.ttl {
			return true
		}
		s.order.Remove(el)
		delete(s.index, key)
	}

	for s.order.Len() >= s.maxSize {
		s.removeFrontLocked()
	}
	s.index[key] = s.order.PushBack(&entry{key: key, seen: now})
	return false
}

// Len returns the number of IDs currently remembered.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(s.now())
	return s.order.Len()
}

func (s *Set) pruneLocked(now time.Time) {
	for front := s.order.Front(); front != nil; front = s.order.Front() {
		if now.Sub(front.Value.(*entry).seen) < s.ttl {
			return
		}
		s.removeFrontLocked()
	}
}

func (s *Set) removeFrontLocked() {
	front := s.order.Front()
	if front == nil {
		return
	}
	s.order.Remove(front)
	delete(s.index, front.Value.(*entry).key)
}
