package subcache

import (
	"context"
	"testing"
	"time"

	"tournamesh/internal/domain"
	"tournamesh/internal/statestore"
)

func newCache(t *testing.T) (*Cache, statestore.Store, *time.Time) {
	t.Helper()
	store, err := statestore.NewFileStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	c := New(store, Options{RetryCeiling: 3, Retention: 24 * time.Hour},
		func() time.Time { return now }, nil)
	return c, store, &now
}

func TestQueueReplacesSameMatchInPlace(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newCache(t)

	if _, err := c.Queue(ctx, "m1", "Ash", 2, 0, nil); err != nil {
		t.Fatalf("Queue: %v", err)
	}
	if _, err := c.Queue(ctx, "m2", "May", 1, 2, nil); err != nil {
		t.Fatalf("Queue: %v", err)
	}
	// Re-submit m1 with a corrected result.
	if _, err := c.Queue(ctx, "m1", "Gary", 1, 2, nil); err != nil {
		t.Fatalf("Queue: %v", err)
	}

	got := c.Pending()
	if len(got) != 2 {
		t.Fatalf("depth = %d, want 2", len(got))
	}
	// m1 keeps its original queue position and carries the newer result.
	if got[0].MatchID != "m1" || got[0].WinnerID != "Gary" {
		t.Fatalf("head = %+v", got[0])
	}
	if got[1].MatchID != "m2" {
		t.Fatalf("tail = %+v", got[1])
	}
	if got[0].RetryCount != 0 {
		t.Fatalf("replacement inherited retry count %d", got[0].RetryCount)
	}
}

func TestFlushSendsInOrder(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newCache(t)
	for _, id := range []string{"m1", "m2", "m3"} {
		if _, err := c.Queue(ctx, id, "w", 1, 0, nil); err != nil {
			t.Fatalf("Queue: %v", err)
		}
	}

	var order []string
	sent, dropped, err := c.Flush(ctx, func(sub *domain.Submission) bool {
		order = append(order, sub.MatchID)
		return true
	})
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(sent) != 3 || len(dropped) != 0 || c.Depth() != 0 {
		t.Fatalf("sent=%d dropped=%d depth=%d", len(sent), len(dropped), c.Depth())
	}
	if order[0] != "m1" || order[1] != "m2" || order[2] != "m3" {
		t.Fatalf("send order = %v", order)
	}
}

func TestFlushKeepsOrderOnPartialFailure(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newCache(t)
	for _, id := range []string{"m1", "m2", "m3"} {
		if _, err := c.Queue(ctx, id, "w", 1, 0, nil); err != nil {
			t.Fatalf("Queue: %v", err)
		}
	}

	// m2 fails; m1 and m3 go through.
	sent, _, err := c.Flush(ctx, func(sub *domain.Submission) bool { return sub.MatchID != "m2" })
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(sent) != 2 || c.Depth() != 1 {
		t.Fatalf("sent=%d depth=%d", len(sent), c.Depth())
	}
	rest := c.Pending()
	if rest[0].MatchID != "m2" || rest[0].RetryCount != 1 {
		t.Fatalf("kept = %+v", rest[0])
	}
}

func TestRetryCeilingDropsAndReports(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newCache(t)
	if _, err := c.Queue(ctx, "m1", "w", 1, 0, nil); err != nil {
		t.Fatalf("Queue: %v", err)
	}

	fail := func(*domain.Submission) bool { return false }
	for i := 1; i <= 3; i++ {
		if _, dropped, err := c.Flush(ctx, fail); err != nil || len(dropped) != 0 {
			t.Fatalf("flush %d: dropped=%d err=%v", i, len(dropped), err)
		}
	}
	if got := c.Pending()[0].RetryCount; got != 3 {
		t.Fatalf("retry count = %d, want 3", got)
	}

	// Fourth flush drops before attempting, even if the link is healthy now.
	attempts := 0
	sent, dropped, err := c.Flush(ctx, func(*domain.Submission) bool { attempts++; return true })
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if attempts != 0 {
		t.Fatalf("dropped submission was retried")
	}
	if len(sent) != 0 || len(dropped) != 1 || dropped[0].MatchID != "m1" {
		t.Fatalf("sent=%d dropped=%+v", len(sent), dropped)
	}
	if c.Depth() != 0 {
		t.Fatalf("dropped submission still queued")
	}
}

func TestLoadPurgesExpired(t *testing.T) {
	ctx := context.Background()
	c, store, now := newCache(t)

	if _, err := c.Queue(ctx, "old", "w", 1, 0, nil); err != nil {
		t.Fatalf("Queue: %v", err)
	}
	*now = now.Add(time.Hour)
	if _, err := c.Queue(ctx, "fresh", "w", 1, 0, nil); err != nil {
		t.Fatalf("Queue: %v", err)
	}

	// Reload 24h after the first entry was queued.
	*now = now.Add(23*time.Hour + time.Minute)
	c2 := New(store, Options{RetryCeiling: 3, Retention: 24 * time.Hour},
		func() time.Time { return *now }, nil)
	expired, err := c2.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(expired) != 1 || expired[0].MatchID != "old" {
		t.Fatalf("expired = %+v", expired)
	}
	if c2.Depth() != 1 || c2.Pending()[0].MatchID != "fresh" {
		t.Fatalf("pending = %+v", c2.Pending())
	}

	// The purge is persisted too.
	c3 := New(store, Options{}, func() time.Time { return *now }, nil)
	if expired, err := c3.Load(ctx); err != nil || len(expired) != 0 {
		t.Fatalf("second load: expired=%+v err=%v", expired, err)
	}
	if c3.Depth() != 1 {
		t.Fatalf("depth after reload = %d", c3.Depth())
	}
}

func TestSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	c, store, now := newCache(t)
	if _, err := c.Queue(ctx, "m1", "Ash", 2, 1, []byte{0x01, 0x02}); err != nil {
		t.Fatalf("Queue: %v", err)
	}
	if _, _, err := c.Flush(ctx, func(*domain.Submission) bool { return false }); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	c2 := New(store, Options{}, func() time.Time { return *now }, nil)
	if _, err := c2.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	got := c2.Pending()
	if len(got) != 1 || got[0].MatchID != "m1" || got[0].RetryCount != 1 {
		t.Fatalf("pending = %+v", got)
	}
	if string(got[0].History) != "\x01\x02" {
		t.Fatalf("history lost: %v", got[0].History)
	}
}
