// Package diag serves a read-only JSON snapshot of the coordinator for
// operators: role, room, link state, device table, assignments, queue depth
// and drop counters. Bind it to loopback; it has no auth of its own.
package diag

import (
	"context"
	"encoding/json"
	"net"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"tournamesh/internal/session"
)

type Server struct {
	addr  string
	stats func() session.Snapshot
	log   *zap.Logger
	srv   *fasthttp.Server
}

func New(addr string, stats func() session.Snapshot, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{addr: addr, stats: stats, log: logger}
	s.srv = &fasthttp.Server{
		Handler:      s.handle,
		Name:         "coordd-diag",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	return s
}

// Start serves until Shutdown. Blocks; run it on its own goroutine.
func (s *Server) Start() error {
	s.log.Info("diag_listening", zap.String("addr", s.addr))
	return s.srv.ListenAndServe(s.addr)
}

// Serve runs on a caller-supplied listener.
func (s *Server) Serve(ln net.Listener) error {
	return s.srv.Serve(ln)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.ShutdownWithContext(ctx)
}

func (s *Server) handle(ctx *fasthttp.RequestCtx) {
	if !ctx.IsGet() {
		ctx.SetStatusCode(fasthttp.StatusMethodNotAllowed)
		return
	}
	switch string(ctx.Path()) {
	case "/healthz":
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBodyString("ok")
	case "/status":
		body, err := json.Marshal(s.stats())
		if err != nil {
			s.log.Error("diag_marshal_failed", zap.Error(err))
			ctx.SetStatusCode(fasthttp.StatusInternalServerError)
			return
		}
		ctx.SetContentType("application/json")
		ctx.SetBody(body)
	default:
		ctx.SetStatusCode(fasthttp.StatusNotFound)
	}
}
