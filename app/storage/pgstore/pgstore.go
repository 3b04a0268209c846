// Package pgstore implements the backend store on PostgreSQL through sqlx.
package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/m3rciful/leakbot/app/domain"
	"github.com/m3rciful/leakbot/app/storage"
)

const uniqueViolation = "23505"

var (
	_ storage.Store       = (*Store)(nil)
	_ storage.CursorStore = (*Store)(nil)
)

// Store runs every operation as a single statement, so per-record atomicity
// comes from the database.
type Store struct {
	db *sqlx.DB
}

// New wraps an open connection pool. The schema is created by the migrations.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// mapError translates driver errors into domain errors.
func mapError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return domain.ErrAlreadyExists
	}
	return err
}

func (s *Store) ListSubscribers(ctx context.Context) (map[string]int64, error) {
	var rows []domain.Subscriber
	if err := s.db.SelectContext(ctx, &rows, `SELECT email, chat_id FROM subscribers`); err != nil {
		return nil, fmt.Errorf("pgstore: list subscribers: %w", err)
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Email] = r.ChatID
	}
	return out, nil
}

func (s *Store) SubscriberExists(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM subscribers WHERE email = $1)`, email)
	if err != nil {
		return false, fmt.Errorf("pgstore: subscriber exists: %w", err)
	}
	return exists, nil
}

func (s *Store) CreateSubscriber(ctx context.Context, email string, chatID int64) error {
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO subscribers (email, chat_id) VALUES (:email, :chat_id)`,
		domain.Subscriber{Email: email, ChatID: chatID},
	)
	if err != nil {
		if mapped := mapError(err); errors.Is(mapped, domain.ErrAlreadyExists) {
			return mapped
		}
		return fmt.Errorf("pgstore: create subscriber: %w", err)
	}
	return nil
}

func (s *Store) DeleteSubscriber(ctx context.Context, email string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM subscribers WHERE email = $1`, email)
	if err != nil {
		return fmt.Errorf("pgstore: delete subscriber: %w", err)
	}
	return requireRow(res)
}

func (s *Store) ListLeaks(ctx context.Context) ([]domain.Leak, error) {
	var leaks []domain.Leak
	err := s.db.SelectContext(ctx, &leaks,
		`SELECT id, email, source, leak_info, notified FROM leaks ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("pgstore: list leaks: %w", err)
	}
	return leaks, nil
}

func (s *Store) MarkLeakNotified(ctx context.Context, id string) error {
	var notified bool
	err := s.db.GetContext(ctx, &notified,
		`UPDATE leaks SET notified = TRUE, notified_at = COALESCE(notified_at, now())
		 WHERE id = $1 RETURNING notified`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("pgstore: mark leak notified: %w", err)
	}
	return nil
}

func (s *Store) LoadOffset(ctx context.Context) (int, error) {
	var offset int
	err := s.db.GetContext(ctx, &offset, `SELECT update_offset FROM bot_cursor WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("pgstore: load offset: %w", err)
	}
	return offset, nil
}

// SaveOffset upserts the offset; a lower value never replaces a higher one.
func (s *Store) SaveOffset(ctx context.Context, offset int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bot_cursor (id, update_offset) VALUES (1, $1)
		 ON CONFLICT (id) DO UPDATE SET update_offset = GREATEST(bot_cursor.update_offset, EXCLUDED.update_offset)`,
		offset)
	if err != nil {
		return fmt.Errorf("pgstore: save offset: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("pgstore: rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
