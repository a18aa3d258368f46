package statestore

import (
	"context"
	"fmt"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"tournamesh/internal/domain"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	s, err := NewRedisStore(fmt.Sprintf("redis://%s/0", mr.Addr()), nil)
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestRedisStoreSessionRoundTrip(t *testing.T) {
	s, _ := newRedisStore(t)
	ctx := context.Background()

	if rec, err := s.LoadSession(ctx); err != nil || rec != nil {
		t.Fatalf("empty store: rec=%v err=%v", rec, err)
	}
	if err := s.SaveSession(ctx, &domain.SessionRecord{RoomCode: "123456", Role: domain.RoleMaster}); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	rec, err := s.LoadSession(ctx)
	if err != nil || rec == nil || rec.RoomCode != "123456" || rec.Role != domain.RoleMaster {
		t.Fatalf("LoadSession: rec=%+v err=%v", rec, err)
	}
	if err := s.ClearSession(ctx); err != nil {
		t.Fatalf("ClearSession: %v", err)
	}
	if rec, _ := s.LoadSession(ctx); rec != nil {
		t.Fatalf("record survived clear: %+v", rec)
	}
}

func TestRedisStoreQueueAndPending(t *testing.T) {
	s, _ := newRedisStore(t)
	ctx := context.Background()

	subs := []*domain.Submission{
		{ID: "s1", MatchID: "m1", CreatedAt: time.Now().UTC()},
		{ID: "s2", MatchID: "m2", CreatedAt: time.Now().UTC()},
	}
	if err := s.SaveQueue(ctx, subs); err != nil {
		t.Fatalf("SaveQueue: %v", err)
	}
	got, err := s.LoadQueue(ctx)
	if err != nil || len(got) != 2 || got[0].MatchID != "m1" {
		t.Fatalf("LoadQueue: got=%+v err=%v", got, err)
	}

	pm := &domain.PendingMatch{MatchID: "m1", GameState: []byte("snap"), SavedAt: time.Now().UTC()}
	if err := s.SavePendingMatch(ctx, pm); err != nil {
		t.Fatalf("SavePendingMatch: %v", err)
	}
	gotPM, err := s.LoadPendingMatch(ctx)
	if err != nil || gotPM == nil || gotPM.MatchID != "m1" {
		t.Fatalf("LoadPendingMatch: got=%+v err=%v", gotPM, err)
	}
	if err := s.ClearPendingMatch(ctx); err != nil {
		t.Fatalf("ClearPendingMatch: %v", err)
	}
	if pm, _ := s.LoadPendingMatch(ctx); pm != nil {
		t.Fatalf("snapshot survived clear")
	}
}

func TestRedisStoreCorruptValueIsEmptyState(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()

	mr.Set(keySession, "{not json")
	mr.Set(keyQueue, "also not json")

	if rec, err := s.LoadSession(ctx); err != nil || rec != nil {
		t.Fatalf("corrupt session: rec=%v err=%v", rec, err)
	}
	if subs, err := s.LoadQueue(ctx); err != nil || subs != nil {
		t.Fatalf("corrupt queue: subs=%v err=%v", subs, err)
	}
}

func TestRedisStoreFromClient(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStoreFromClient(rdb, nil)
	defer s.Close()

	ctx := context.Background()
	if err := s.SaveSession(ctx, &domain.SessionRecord{RoomCode: "222222", Role: domain.RoleScoreboard}); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	rec, err := s.LoadSession(ctx)
	if err != nil || rec == nil || rec.RoomCode != "222222" {
		t.Fatalf("LoadSession: rec=%+v err=%v", rec, err)
	}
}
