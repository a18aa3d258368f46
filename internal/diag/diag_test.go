package diag

import (
	"encoding/json"
	"net"
	"testing"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"tournamesh/internal/domain"
	"tournamesh/internal/session"
)

func startServer(t *testing.T, stats func() session.Snapshot) *fasthttp.Client {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	srv := New("testaddr", stats, nil)
	go srv.Serve(ln)
	t.Cleanup(func() { ln.Close() })
	return &fasthttp.Client{
		Dial: func(addr string) (net.Conn, error) { return ln.Dial() },
	}
}

func TestStatusEndpoint(t *testing.T) {
	c := startServer(t, func() session.Snapshot {
		return session.Snapshot{
			DeviceID:     "master-1",
			Role:         domain.RoleMaster,
			RoomCode:     "123456",
			InRoom:       true,
			QueueDepth:   2,
			AuthFailures: 7,
		}
	})

	code, body, err := c.Get(nil, "http://diag/status")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	if code != fasthttp.StatusOK {
		t.Fatalf("status = %d", code)
	}
	var snap session.Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		t.Fatalf("bad JSON: %v", err)
	}
	if snap.DeviceID != "master-1" || snap.RoomCode != "123456" || snap.AuthFailures != 7 {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestHealthAndUnknownPaths(t *testing.T) {
	c := startServer(t, func() session.Snapshot { return session.Snapshot{} })

	code, body, err := c.Get(nil, "http://diag/healthz")
	if err != nil || code != fasthttp.StatusOK || string(body) != "ok" {
		t.Fatalf("healthz: code=%d body=%q err=%v", code, body, err)
	}
	code, _, err = c.Get(nil, "http://diag/nope")
	if err != nil || code != fasthttp.StatusNotFound {
		t.Fatalf("unknown path: code=%d err=%v", code, err)
	}
}
