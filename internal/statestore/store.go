// Package statestore persists the small protocol state that must survive a
// process restart: the room membership record, at most one pending-match
// snapshot, and the offline submission queue. Reads treat missing or corrupt
// state as empty, never as a fatal error.
package statestore

import (
	"context"

	"tournamesh/internal/domain"
)

// Store is the durable state surface consumed by the session and the
// submission cache.
type Store interface {
	SaveSession(ctx context.Context, rec *domain.SessionRecord) error
	LoadSession(ctx context.Context) (*domain.SessionRecord, error)
	ClearSession(ctx context.Context) error

	SavePendingMatch(ctx context.Context, pm *domain.PendingMatch) error
	LoadPendingMatch(ctx context.Context) (*domain.PendingMatch, error)
	ClearPendingMatch(ctx context.Context) error

	SaveQueue(ctx context.Context, subs []*domain.Submission) error
	LoadQueue(ctx context.Context) ([]*domain.Submission, error)
}
