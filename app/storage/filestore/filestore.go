// Package filestore keeps subscribers, leaks and the update offset as JSON
// documents in one directory shared with the leak ingestion process.
package filestore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/m3rciful/leakbot/app/domain"
	"github.com/m3rciful/leakbot/app/storage"
	"github.com/m3rciful/leakbot/core/logger"
)

const (
	usersFile = "users.json"
	leaksFile = "leaks.json"
	stateFile = "state.json"
	lockFile  = ".leakbot.lock"

	lockRetryDelay = 20 * time.Millisecond
)

var (
	_ storage.Store       = (*Store)(nil)
	_ storage.CursorStore = (*Store)(nil)
)

// Store serializes every operation with an in-process mutex and an advisory
// file lock, so the ingestion process can coordinate through the same lock file.
type Store struct {
	dir   string
	mu    sync.Mutex
	lock  *flock.Flock
	newID func() string
}

// Open prepares dir and returns a store over it. Missing documents read as empty.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("filestore: create dir: %w", err)
	}
	return &Store{
		dir:   dir,
		lock:  flock.New(filepath.Join(dir, lockFile)),
		newID: uuid.NewString,
	}, nil
}

func (s *Store) withLock(ctx context.Context, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	locked, err := s.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("filestore: lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("filestore: lock not acquired")
	}
	defer func() { _ = s.lock.Unlock() }()
	return fn()
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name)
}

// readJSON decodes the named document into v; a missing or empty file leaves v untouched.
func (s *Store) readJSON(name string, v any) error {
	data, err := os.ReadFile(s.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("filestore: read %s: %w", name, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("filestore: decode %s: %w", name, err)
	}
	return nil
}

// writeJSON replaces the named document through a temp file and rename.
func (s *Store) writeJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("filestore: encode %s: %w", name, err)
	}
	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("filestore: write %s: %w", name, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("filestore: write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("filestore: sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("filestore: close %s: %w", name, err)
	}
	if err := os.Rename(tmpName, s.path(name)); err != nil {
		cleanup()
		return fmt.Errorf("filestore: replace %s: %w", name, err)
	}
	return nil
}

func (s *Store) readUsers() (map[string]int64, error) {
	users := make(map[string]int64)
	if err := s.readJSON(usersFile, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) ListSubscribers(ctx context.Context) (map[string]int64, error) {
	var users map[string]int64
	err := s.withLock(ctx, func() error {
		var err error
		users, err = s.readUsers()
		return err
	})
	return users, err
}

func (s *Store) SubscriberExists(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := s.withLock(ctx, func() error {
		users, err := s.readUsers()
		if err != nil {
			return err
		}
		_, exists = users[email]
		return nil
	})
	return exists, err
}

func (s *Store) CreateSubscriber(ctx context.Context, email string, chatID int64) error {
	return s.withLock(ctx, func() error {
		users, err := s.readUsers()
		if err != nil {
			return err
		}
		if _, ok := users[email]; ok {
			return domain.ErrAlreadyExists
		}
		users[email] = chatID
		return s.writeJSON(usersFile, users)
	})
}

func (s *Store) DeleteSubscriber(ctx context.Context, email string) error {
	return s.withLock(ctx, func() error {
		users, err := s.readUsers()
		if err != nil {
			return err
		}
		if _, ok := users[email]; !ok {
			return domain.ErrNotFound
		}
		delete(users, email)
		return s.writeJSON(usersFile, users)
	})
}

// leakDocs holds leaks.json both decoded and as raw objects, so fields
// written by the ingestion process survive a rewrite. at[i] is the raw index
// of leaks[i]; records that do not decode have no entry in leaks.
type leakDocs struct {
	leaks []domain.Leak
	at    []int
	raw   []map[string]json.RawMessage
}

func (s *Store) readLeaks() (*leakDocs, error) {
	docs := &leakDocs{}
	if err := s.readJSON(leaksFile, &docs.raw); err != nil {
		return nil, err
	}
	for i, obj := range docs.raw {
		leak, err := decodeLeak(obj)
		if err != nil {
			logger.Store.Warn("leak record skipped",
				slog.String("event", "store.leaks.decode"),
				slog.String("status", "skip"),
				slog.Int("index", i),
				slog.String("err", err.Error()),
			)
			continue
		}
		docs.leaks = append(docs.leaks, leak)
		docs.at = append(docs.at, i)
	}
	return docs, nil
}

// decodeLeak reads one leaks.json record. A numeric id is taken as its
// decimal text; the raw record keeps the number.
func decodeLeak(obj map[string]json.RawMessage) (domain.Leak, error) {
	var leak domain.Leak
	rec := obj
	if id, ok := obj["id"]; ok {
		var n json.Number
		if err := json.Unmarshal(id, &n); err == nil {
			rec = maps.Clone(obj)
			quoted, _ := json.Marshal(n.String())
			rec["id"] = quoted
		}
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return leak, err
	}
	if err := json.Unmarshal(data, &leak); err != nil {
		return domain.Leak{}, err
	}
	return leak, nil
}

// set stores v under key in the raw record behind leaks[i].
func (d *leakDocs) set(i int, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	j := d.at[i]
	if d.raw[j] == nil {
		d.raw[j] = make(map[string]json.RawMessage)
	}
	d.raw[j][key] = data
	return nil
}

// assignIDs gives every leak without an id a UUID and reports how many were assigned.
func (s *Store) assignIDs(docs *leakDocs) (int, error) {
	assigned := 0
	for i := range docs.leaks {
		if docs.leaks[i].ID != "" {
			continue
		}
		docs.leaks[i].ID = s.newID()
		if err := docs.set(i, "id", docs.leaks[i].ID); err != nil {
			return assigned, err
		}
		assigned++
	}
	return assigned, nil
}

func (s *Store) ListLeaks(ctx context.Context) ([]domain.Leak, error) {
	var leaks []domain.Leak
	err := s.withLock(ctx, func() error {
		docs, err := s.readLeaks()
		if err != nil {
			return err
		}
		assigned, err := s.assignIDs(docs)
		if err != nil {
			return err
		}
		if assigned > 0 {
			if err := s.writeJSON(leaksFile, docs.raw); err != nil {
				return err
			}
			logger.Store.Info("leak ids assigned",
				slog.String("event", "store.leaks.ids"),
				slog.String("status", "ok"),
				slog.Int("count", assigned),
			)
		}
		leaks = docs.leaks
		return nil
	})
	return leaks, err
}

func (s *Store) MarkLeakNotified(ctx context.Context, id string) error {
	return s.withLock(ctx, func() error {
		docs, err := s.readLeaks()
		if err != nil {
			return err
		}
		for i := range docs.leaks {
			if docs.leaks[i].ID != id {
				continue
			}
			if docs.leaks[i].Notified {
				return nil
			}
			if err := docs.set(i, "notified", true); err != nil {
				return err
			}
			return s.writeJSON(leaksFile, docs.raw)
		}
		return domain.ErrNotFound
	})
}

type stateDoc struct {
	Offset int `json:"offset"`
}

func (s *Store) LoadOffset(ctx context.Context) (int, error) {
	var st stateDoc
	err := s.withLock(ctx, func() error {
		return s.readJSON(stateFile, &st)
	})
	return st.Offset, err
}

// SaveOffset persists offset unless the stored value is already higher.
func (s *Store) SaveOffset(ctx context.Context, offset int) error {
	return s.withLock(ctx, func() error {
		var st stateDoc
		if err := s.readJSON(stateFile, &st); err != nil {
			return err
		}
		if offset <= st.Offset {
			return nil
		}
		st.Offset = offset
		return s.writeJSON(stateFile, st)
	})
}

// Close releases the lock file handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lock.Close()
}
