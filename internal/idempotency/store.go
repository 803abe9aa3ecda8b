package idempotency

import (
	"container/list"
	"context"
	"net/http"
	"sync"
	"time"
)

// Response is a cached response to an idempotent request.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	// Fingerprint identifies the request body that produced the response.
	Fingerprint string
	CachedAt    time.Time
}

// Store caches responses by idempotency key.
type Store interface {
	Get(ctx context.Context, key string) (*Response, bool)
	Set(ctx context.Context, key string, response *Response, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// MemoryStore is an LRU-bounded in-memory Store.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	lru     *list.List
	maxSize int
	now     func() time.Time

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

type entry struct {
	key      string
	response *Response
	expires  time.Time
}

// DefaultMaxEntries bounds a store created with a non-positive size.
const DefaultMaxEntries = 10000

// NewMemoryStore creates a store holding at most maxSize responses and starts its sweeper.
func NewMemoryStore(maxSize int) *MemoryStore {
	if maxSize <= 0 {
		maxSize = DefaultMaxEntries
	}
	s := &MemoryStore{
		entries: make(map[string]*list.Element),
		lru:     list.New(),
		maxSize: maxSize,
		now:     time.Now,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go s.sweep(5 * time.Minute)
	return s
}

// Get returns the live response for key and marks it recently used.
func (s *MemoryStore) Get(ctx context.Context, key string) (*Response, bool) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	e := el.Value.(*entry)
	if now.After(e.expires) {
		s.removeLocked(el)
		return nil, false
	}
	s.lru.MoveToFront(el)
	return e.response, true
}

// Set stores response under key for ttl, evicting the least recently used entry when full.
func (s *MemoryStore) Set(ctx context.Context, key string, response *Response, ttl time.Duration) error {
	expires := s.now().Add(ttl)

	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.entries[key]; ok {
		e := el.Value.(*entry)
		e.response = response
		e.expires = expires
		s.lru.MoveToFront(el)
		return nil
	}

	if len(s.entries) >= s.maxSize {
		if oldest := s.lru.Back(); oldest != nil {
			s.removeLocked(oldest)
		}
	}
	s.entries[key] = s.lru.PushFront(&entry{key: key, response: response, expires: expires})
	return nil
}

// Delete removes key.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.entries[key]; ok {
		s.removeLocked(el)
	}
	return nil
}

// Len returns the number of cached responses, expired ones not yet swept included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) removeLocked(el *list.Element) {
	s.lru.Remove(el)
	delete(s.entries, el.Value.(*entry).key)
}

func (s *MemoryStore) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	defer close(s.done)

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.purgeExpired()
		}
	}
}

func (s *MemoryStore) purgeExpired() {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for el := s.lru.Back(); el != nil; {
		prev := el.Prev()
		if now.After(el.Value.(*entry).expires) {
			s.removeLocked(el)
		}
		el = prev
	}
}

// Close stops the sweeper. Safe to call more than once.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
	return nil
}
