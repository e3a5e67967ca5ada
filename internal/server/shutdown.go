package server

import (
	"context"
	"net/http"
	"time"
)

// ShutdownCoordinator owns the base context of every request served by an
// http.Server.
type ShutdownCoordinator struct {
	baseCtx     context.Context
	cancel      context.CancelFunc
	gracePeriod time.Duration
}

func NewShutdownCoordinator(gracePeriod time.Duration) *ShutdownCoordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &ShutdownCoordinator{
		baseCtx:     ctx,
		cancel:      cancel,
		gracePeriod: gracePeriod,
	}
}

// BaseContext returns the base context for all HTTP requests.
func (sc *ShutdownCoordinator) BaseContext() context.Context {
	return sc.baseCtx
}

// Shutdown stops srv from accepting connections and lets in-flight requests
// finish for the grace period. Requests still running after that have their
// context cancelled, so webhook dispatch answers 503 and the provider
// redelivers. Shutdown returns once srv is idle or ctx ends.
func (sc *ShutdownCoordinator) Shutdown(ctx context.Context, srv *http.Server) error {
	done := make(chan error, 1)
	go func() { done <- srv.Shutdown(ctx) }()

	timer := time.NewTimer(sc.gracePeriod)
	defer timer.Stop()

	select {
	case err := <-done:
		sc.cancel()
		return err
	case <-timer.C:
		sc.cancel()
		return <-done
	}
}
