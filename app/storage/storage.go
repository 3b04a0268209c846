// Package storage defines the backend store shared by the dispatcher and the sweeper.
// Implementations live in subpackages; callers never branch on which one is in use.
package storage

import (
	"context"

	"github.com/m3rciful/leakbot/app/domain"
)

// Store is the backend contract. Per-record operations are atomic at the store boundary.
type Store interface {
	// ListSubscribers returns the email -> chat id mapping.
	ListSubscribers(ctx context.Context) (map[string]int64, error)
	SubscriberExists(ctx context.Context, email string) (bool, error)
	// CreateSubscriber returns domain.ErrAlreadyExists when the email is taken.
	CreateSubscriber(ctx context.Context, email string, chatID int64) error
	// DeleteSubscriber returns domain.ErrNotFound when the email is absent.
	DeleteSubscriber(ctx context.Context, email string) error
	// ListLeaks returns leaks in the store's listing order.
	ListLeaks(ctx context.Context) ([]domain.Leak, error)
	// MarkLeakNotified is a no-op for an already notified leak and returns
	// domain.ErrNotFound for an unknown id.
	MarkLeakNotified(ctx context.Context, id string) error
	Close() error
}

// CursorStore is implemented by stores that can persist the update offset.
type CursorStore interface {
	LoadOffset(ctx context.Context) (int, error)
	SaveOffset(ctx context.Context, offset int) error
}
