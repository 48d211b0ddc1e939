package cache

import (
	"container/list"
	"net/http"
	"sync"
	"time"
)

// DefaultMaxEntries bounds the response cache. Least-recently-used entries
// are evicted once the cap is exceeded; bounding never changes freshness
// semantics for retained entries.
const DefaultMaxEntries = 4096

// Entry is one stored response. Entries are created on MISS and overwritten
// in place by background refresh; overwriting resets freshness.
type Entry struct {
	Key      string
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}

// Store is a mutex-guarded LRU map of cached responses.
type Store struct {
	mu         sync.Mutex
	maxEntries int
	order      *list.List // front = most recently used
	items      map[string]*list.Element

	onEvict func() // optional eviction hook for metrics
}

// NewStore creates a Store. maxEntries <= 0 means DefaultMaxEntries.
func NewStore(maxEntries int) *Store {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Store{
		maxEntries: maxEntries,
		order:      list.New(),
		items:      make(map[string]*list.Element),
	}
}

// Get returns the entry for key if present. Callers must treat the entry
// as read-only.
func (s *Store) Get(key string) (*Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.items[key]
	if !ok {
		return nil, false
	}
	s.order.MoveToFront(el)
	return el.Value.(*Entry), true
}

// Set inserts or overwrites the entry for e.Key.
func (s *Store) Set(e *Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.items[e.Key]; ok {
		el.Value = e
		s.order.MoveToFront(el)
		return
	}
	s.items[e.Key] = s.order.PushFront(e)

	for s.order.Len() > s.maxEntries {
		back := s.order.Back()
		if back == nil {
			break
		}
		evicted := s.order.Remove(back).(*Entry)
		delete(s.items, evicted.Key)
		if s.onEvict != nil {
			s.onEvict()
		}
	}
}

// Len returns the number of stored entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}
