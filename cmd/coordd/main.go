package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	appcfg "tournamesh/internal/config"
	"tournamesh/internal/diag"
	"tournamesh/internal/obslog"
	"tournamesh/internal/reconnect"
	"tournamesh/internal/sched"
	"tournamesh/internal/session"
	"tournamesh/internal/statestore"
	"tournamesh/internal/subcache"
	"tournamesh/internal/transport"
)

func main() {
	cfgPath := os.Getenv("TM_CONFIG")
	if cfgPath == "" {
		cfgPath = "coordinator.yaml"
	}
	cfg, err := appcfg.Load(cfgPath)
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("log init error: %v", err)
	}
	logger := obslog.L()
	defer func() { _ = logger.Sync() }()

	var store statestore.Store
	if cfg.RedisURL != "" {
		store, err = statestore.NewRedisStore(cfg.RedisURL, logger)
	} else {
		store, err = statestore.NewFileStore(cfg.DataDir, logger)
	}
	if err != nil {
		log.Fatalf("state store init error: %v", err)
	}

	bridge := transport.NewBridge(cfg.BridgeURL, cfg.DeviceID, logger)

	sess := session.New(session.Options{
		DeviceID:          cfg.DeviceID,
		DeviceName:        cfg.DeviceName,
		AcceptTimeout:     cfg.Protocol.AcceptTimeout,
		SweepInterval:     cfg.Protocol.SweepInterval,
		LivenessThreshold: cfg.Protocol.LivenessThreshold,
		DialTimeout:       cfg.Protocol.DialTimeout,
		Reconnect: reconnect.Options{
			BackoffBase:       cfg.Protocol.BackoffBase,
			BackoffMultiplier: cfg.Protocol.BackoffMultiplier,
			MaxAttempts:       cfg.Protocol.MaxAttempts,
			RejoinTimeout:     cfg.Protocol.RejoinTimeout,
		},
		Cache: subcache.Options{
			RetryCeiling: cfg.Protocol.RetryCeiling,
			Retention:    cfg.Protocol.Retention,
		},
	}, bridge, store, sched.NewTimers(), logger)

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err = sess.Start(sctx)
	cancel()
	if err != nil {
		log.Fatalf("session start error: %v", err)
	}

	var diagSrv *diag.Server
	if cfg.DiagAddr != "" {
		diagSrv = diag.New(cfg.DiagAddr, sess.Stats, logger)
		go func() {
			if err := diagSrv.Start(); err != nil {
				logger.Error("diag server stopped", zap.Error(err))
			}
		}()
	}

	// Until a presentation layer attaches, events go to the log.
	go func() {
		for ev := range sess.Events() {
			logger.Info("protocol_event",
				zap.String("kind", string(ev.Kind)),
				zap.String("match_id", ev.MatchID),
				zap.String("device_id", ev.DeviceID),
				zap.String("reason", ev.Reason))
		}
	}()

	logger.Info("coordinator started",
		zap.String("device_id", cfg.DeviceID),
		zap.String("bridge_url", cfg.BridgeURL))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shctx, shcancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shcancel()
	sess.Close()
	if diagSrv != nil {
		_ = diagSrv.Shutdown(shctx)
	}
	_ = bridge.Close(shctx)
}
