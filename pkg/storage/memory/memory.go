// Package memory provides an in-memory transport.RoundStore. Records are
// lost when the process restarts. An optional size limit evicts the least
// recently used record.
package memory

import (
	"container/list"
	"context"
	"sort"
	"sync"

	"github.com/rhuss/chorus/pkg/api"
	"github.com/rhuss/chorus/pkg/storage"
	"github.com/rhuss/chorus/pkg/transport"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

type entry struct {
	record  *api.RoundRecord
	lruElem *list.Element
}

// Store is an in-memory RoundStore with optional LRU eviction.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	lruList *list.List // front = most recently used
	maxSize int        // 0 = unlimited
}

var _ transport.RoundStore = (*Store)(nil)

// New creates a store. With maxSize > 0 the least recently used record is
// evicted once the limit is reached.
func New(maxSize int) *Store {
	return &Store{
		entries: make(map[string]*entry),
		lruList: list.New(),
		maxSize: maxSize,
	}
}

// SaveRound stores a copy of record.
func (s *Store) SaveRound(_ context.Context, record *api.RoundRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[record.ID]; exists {
		return storage.ErrConflict
	}
	if s.maxSize > 0 && len(s.entries) >= s.maxSize {
		s.evictOldest()
	}

	rec := *record
	s.entries[record.ID] = &entry{
		record:  &rec,
		lruElem: s.lruList.PushFront(record.ID),
	}
	return nil
}

// GetRound returns a stored round and marks it as recently used.
func (s *Store) GetRound(_ context.Context, id string) (*api.RoundRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	s.lruList.MoveToFront(e.lruElem)
	rec := *e.record
	return &rec, nil
}

// DeleteRound removes a stored round.
func (s *Store) DeleteRound(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return storage.ErrNotFound
	}
	s.lruList.Remove(e.lruElem)
	delete(s.entries, id)
	return nil
}

// ListRounds returns a page of rounds ordered by creation time.
func (s *Store) ListRounds(_ context.Context, opts transport.ListOptions) (*transport.RoundList, error) {
	s.mu.Lock()
	matches := make([]*api.RoundRecord, 0, len(s.entries))
	for _, e := range s.entries {
		matches = append(matches, e.record)
	}
	s.mu.Unlock()

	asc := opts.Order == "asc"
	sort.Slice(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if asc {
				return a.CreatedAt.Before(b.CreatedAt)
			}
			return a.CreatedAt.After(b.CreatedAt)
		}
		if asc {
			return a.ID < b.ID
		}
		return a.ID > b.ID
	})

	switch {
	case opts.After != "":
		matches = after(matches, opts.After)
	case opts.Before != "":
		matches = before(matches, opts.Before)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	hasMore := len(matches) > limit
	if hasMore {
		matches = matches[:limit]
	}

	result := &transport.RoundList{
		Object:  "list",
		Data:    make([]*api.RoundRecord, len(matches)),
		HasMore: hasMore,
	}
	for i, m := range matches {
		rec := *m
		result.Data[i] = &rec
	}
	if len(matches) > 0 {
		result.FirstID = matches[0].ID
		result.LastID = matches[len(matches)-1].ID
	}
	return result, nil
}

func after(rounds []*api.RoundRecord, id string) []*api.RoundRecord {
	for i, r := range rounds {
		if r.ID == id {
			return rounds[i+1:]
		}
	}
	return nil
}

func before(rounds []*api.RoundRecord, id string) []*api.RoundRecord {
	for i, r := range rounds {
		if r.ID == id {
			return rounds[:i]
		}
	}
	return nil
}

// HealthCheck always returns nil for the in-memory store.
func (s *Store) HealthCheck(context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}

// Len returns the number of stored rounds.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// evictOldest removes the least recently used entry. s.mu must be held.
func (s *Store) evictOldest() {
	back := s.lruList.Back()
	if back == nil {
		return
	}
	id := back.Value.(string)
	s.lruList.Remove(back)
	delete(s.entries, id)
}
