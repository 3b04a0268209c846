// Package memstore is an in-process Store used for local runs and tests.
package memstore

import (
	"context"
	"sync"

	"github.com/m3rciful/leakbot/app/domain"
	"github.com/m3rciful/leakbot/app/storage"
)

var (
	_ storage.Store       = (*Store)(nil)
	_ storage.CursorStore = (*Store)(nil)
)

// Store keeps subscribers and leaks in memory behind a mutex.
type Store struct {
	mu          sync.RWMutex
	subscribers map[string]int64
	leaks       []domain.Leak
	offset      int
}

// New returns an empty store.
func New() *Store {
	return &Store{subscribers: make(map[string]int64)}
}

// AddLeak appends a leak record, as the ingestion process would.
func (s *Store) AddLeak(l domain.Leak) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leaks = append(s.leaks, l)
}

func (s *Store) ListSubscribers(ctx context.Context) (map[string]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int64, len(s.subscribers))
	for email, chatID := range s.subscribers {
		out[email] = chatID
	}
	return out, nil
}

func (s *Store) SubscriberExists(ctx context.Context, email string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.subscribers[email]
	return ok, nil
}

func (s *Store) CreateSubscriber(ctx context.Context, email string, chatID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subscribers[email]; ok {
		return domain.ErrAlreadyExists
	}
	s.subscribers[email] = chatID
	return nil
}

func (s *Store) DeleteSubscriber(ctx context.Context, email string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subscribers[email]; !ok {
		return domain.ErrNotFound
	}
	delete(s.subscribers, email)
	return nil
}

func (s *Store) ListLeaks(ctx context.Context) ([]domain.Leak, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Leak, len(s.leaks))
	copy(out, s.leaks)
	return out, nil
}

func (s *Store) MarkLeakNotified(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.leaks {
		if s.leaks[i].ID == id {
			s.leaks[i].Notified = true
			return nil
		}
	}
	return domain.ErrNotFound
}

func (s *Store) LoadOffset(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.offset, ctx.Err()
}

func (s *Store) SaveOffset(ctx context.Context, offset int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if offset > s.offset {
		s.offset = offset
	}
	return nil
}

func (s *Store) Close() error { return nil }
