package statestore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"tournamesh/internal/domain"
)

const (
	keySession = "tm:session"
	keyPending = "tm:pending_match"
	keyQueue   = "tm:submission_queue"

	// Protocol state is only useful for the current event; let stale
	// records age out if the device never comes back.
	ttlState = 7 * 24 * time.Hour
)

// RedisStore keeps the persisted protocol state in Redis, for deployments
// where the coordinator host already runs one.
type RedisStore struct {
	rdb *redis.Client
	log *zap.Logger
}

func NewRedisStore(redisURL string, logger *zap.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts, err := parseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStore{rdb: rdb, log: logger}, nil
}

// NewRedisStoreFromClient wires an existing client; used by tests.
func NewRedisStoreFromClient(rdb *redis.Client, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{rdb: rdb, log: logger}
}

func (s *RedisStore) Close() error { return s.rdb.Close() }

func (s *RedisStore) SaveSession(ctx context.Context, rec *domain.SessionRecord) error {
	return s.set(ctx, keySession, rec)
}

func (s *RedisStore) LoadSession(ctx context.Context) (*domain.SessionRecord, error) {
	var rec domain.SessionRecord
	ok, err := s.get(ctx, keySession, &rec)
	if err != nil || !ok || rec.RoomCode == "" {
		return nil, err
	}
	return &rec, nil
}

func (s *RedisStore) ClearSession(ctx context.Context) error {
	return s.rdb.Del(ctx, keySession).Err()
}

func (s *RedisStore) SavePendingMatch(ctx context.Context, pm *domain.PendingMatch) error {
	return s.set(ctx, keyPending, pm)
}

func (s *RedisStore) LoadPendingMatch(ctx context.Context) (*domain.PendingMatch, error) {
	var pm domain.PendingMatch
	ok, err := s.get(ctx, keyPending, &pm)
	if err != nil || !ok || pm.MatchID == "" {
		return nil, err
	}
	return &pm, nil
}

func (s *RedisStore) ClearPendingMatch(ctx context.Context) error {
	return s.rdb.Del(ctx, keyPending).Err()
}

func (s *RedisStore) SaveQueue(ctx context.Context, subs []*domain.Submission) error {
	if subs == nil {
		subs = []*domain.Submission{}
	}
	return s.set(ctx, keyQueue, subs)
}

func (s *RedisStore) LoadQueue(ctx context.Context) ([]*domain.Submission, error) {
	var subs []*domain.Submission
	if _, err := s.get(ctx, keyQueue, &subs); err != nil {
		return nil, err
	}
	return subs, nil
}

func (s *RedisStore) set(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return s.rdb.Set(ctx, key, raw, ttlState).Err()
}

// get reports (found, error). A value that fails to unmarshal counts as not
// found: corrupt state is empty state.
func (s *RedisStore) get(ctx context.Context, key string, v any) (bool, error) {
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		s.log.Warn("statestore_corrupt_key", zap.String("key", key), zap.Error(err))
		return false, nil
	}
	return true, nil
}

func parseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			db = n
		}
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: u.Host, Password: pass, DB: db}, nil
}

var _ Store = (*RedisStore)(nil)
