// Package subcache is the durable queue of score submissions recorded while
// the transport is down. Single-threaded; the session actor is its only
// caller. Every mutation persists through the store before it is visible, so
// a crash between mutations never loses an acknowledged queue entry.
package subcache

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tournamesh/internal/domain"
	"tournamesh/internal/statestore"
)

const (
	// DefaultRetryCeiling is how many failed flush attempts a submission
	// survives before it is dropped.
	DefaultRetryCeiling = 3
	// DefaultRetention is how long a queued submission stays sendable.
	// Older entries are purged on load without being sent.
	DefaultRetention = 24 * time.Hour
)

// SendFunc attempts one submission send and reports whether it succeeded.
// Fire-and-forget transports report local send success, not delivery.
type SendFunc func(sub *domain.Submission) bool

// Options carry the cache tunables. Zero values take the defaults.
type Options struct {
	RetryCeiling int
	Retention    time.Duration
}

type Cache struct {
	store     statestore.Store
	ceiling   int
	retention time.Duration
	now       func() time.Time
	log       *zap.Logger

	queue []*domain.Submission
}

func New(store statestore.Store, opts Options, now func() time.Time, logger *zap.Logger) *Cache {
	if opts.RetryCeiling <= 0 {
		opts.RetryCeiling = DefaultRetryCeiling
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		store:     store,
		ceiling:   opts.RetryCeiling,
		retention: opts.Retention,
		now:       now,
		log:       logger,
	}
}

// Load reads the persisted queue and purges entries past the retention
// window before anything else can touch them. Returns the purged entries.
func (c *Cache) Load(ctx context.Context) ([]*domain.Submission, error) {
	queue, err := c.store.LoadQueue(ctx)
	if err != nil {
		return nil, err
	}
	cutoff := c.now().Add(-c.retention)
	var expired []*domain.Submission
	kept := queue[:0]
	for _, sub := range queue {
		if sub.CreatedAt.Before(cutoff) {
			expired = append(expired, sub)
			continue
		}
		kept = append(kept, sub)
	}
	c.queue = kept
	if len(expired) > 0 {
		c.log.Warn("subcache_purged_expired", zap.Int("count", len(expired)))
		if err := c.store.SaveQueue(ctx, c.queue); err != nil {
			return expired, err
		}
	}
	return expired, nil
}

// Queue records a submission for a match. A newer submission for the same
// match replaces the queued one in place, keeping its queue position. The
// entry gets a fresh id and a zero retry count.
func (c *Cache) Queue(ctx context.Context, matchID, winnerID string, homeScore, awayScore int, history []byte) (*domain.Submission, error) {
	sub := &domain.Submission{
		ID:        uuid.NewString(),
		MatchID:   matchID,
		WinnerID:  winnerID,
		HomeScore: homeScore,
		AwayScore: awayScore,
		History:   history,
		CreatedAt: c.now(),
	}
	replaced := false
	for i := range c.queue {
		if c.queue[i].MatchID == matchID {
			c.queue[i] = sub
			replaced = true
			break
		}
	}
	if !replaced {
		c.queue = append(c.queue, sub)
	}
	c.log.Info("subcache_queued",
		zap.String("match_id", matchID),
		zap.Bool("replaced", replaced),
		zap.Int("depth", len(c.queue)))
	return sub, c.store.SaveQueue(ctx, c.queue)
}

// Flush walks the queue strictly in order. A submission at the retry
// ceiling is dropped before any send attempt and returned to the caller; a
// failed send increments the retry count and keeps the entry for the next
// flush, without reordering. Sent and dropped entries leave the queue.
func (c *Cache) Flush(ctx context.Context, send SendFunc) (sent, dropped []*domain.Submission, err error) {
	if len(c.queue) == 0 {
		return nil, nil, nil
	}
	kept := c.queue[:0]
	for _, sub := range c.queue {
		if sub.RetryCount >= c.ceiling {
			dropped = append(dropped, sub)
			c.log.Warn("subcache_dropped",
				zap.String("match_id", sub.MatchID),
				zap.Int("retries", sub.RetryCount))
			continue
		}
		if send(sub) {
			sent = append(sent, sub)
			continue
		}
		sub.RetryCount++
		kept = append(kept, sub)
	}
	c.queue = kept
	c.log.Info("subcache_flushed",
		zap.Int("sent", len(sent)),
		zap.Int("dropped", len(dropped)),
		zap.Int("remaining", len(c.queue)))
	return sent, dropped, c.store.SaveQueue(ctx, c.queue)
}

// Depth reports how many submissions are queued.
func (c *Cache) Depth() int { return len(c.queue) }

// Pending returns copies of the queued submissions in order.
func (c *Cache) Pending() []domain.Submission {
	out := make([]domain.Submission, 0, len(c.queue))
	for _, sub := range c.queue {
		out = append(out, *sub)
	}
	return out
}

// Clear drops every queued submission. Only used when leaving the room.
func (c *Cache) Clear(ctx context.Context) error {
	c.queue = nil
	return c.store.SaveQueue(ctx, nil)
}
