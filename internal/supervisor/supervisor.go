// Package supervisor runs one reconnect loop per provider adapter and keeps
// the health registry in step with each session.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yvrxbt/pricing-publisher/internal/exchange"
	"github.com/yvrxbt/pricing-publisher/internal/health"
	"github.com/yvrxbt/pricing-publisher/internal/schema"
)

const (
	DefaultRetryDelay   = 5 * time.Second
	DefaultSyncInterval = time.Second
)

type Options struct {
	RetryDelay time.Duration
	// MaxRetryDelay caps exponential backoff. Values at or below RetryDelay
	// keep the delay fixed.
	MaxRetryDelay time.Duration
	// SyncInterval is how often a running session's decode error count is
	// copied into the registry when no update is emitted.
	SyncInterval time.Duration
}

type Supervisor struct {
	reg  *health.Registry
	out  chan<- schema.PriceUpdate
	opts Options
	log  *slog.Logger
}

func New(reg *health.Registry, out chan<- schema.PriceUpdate, opts Options, log *slog.Logger) *Supervisor {
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.SyncInterval <= 0 {
		opts.SyncInterval = DefaultSyncInterval
	}
	return &Supervisor{
		reg:  reg,
		out:  out,
		opts: opts,
		log:  log.With("component", "supervisor"),
	}
}

// Run supervises every adapter until ctx is cancelled and returns once all
// of them have stopped. Adapters must already be initialized.
func (s *Supervisor) Run(ctx context.Context, adapters []exchange.Adapter) {
	var wg sync.WaitGroup
	for _, a := range adapters {
		s.reg.Register(a.Name())
		wg.Add(1)
		go func(a exchange.Adapter) {
			defer wg.Done()
			s.supervise(ctx, a)
		}(a)
	}
	wg.Wait()
}

func (s *Supervisor) supervise(ctx context.Context, a exchange.Adapter) {
	name := a.Name()
	log := s.log.With("provider", name)
	failures := 0

	for {
		if ctx.Err() != nil {
			break
		}

		sessionID := uuid.NewString()
		s.reg.SetState(name, schema.StateStarting)
		log.Info("session starting", "session", sessionID)

		connected, err := s.attempt(ctx, a)
		if ctx.Err() != nil {
			break
		}

		s.reg.MarkDisconnected(name, err)
		s.reg.SetDecodeErrors(name, a.DecodeErrors())
		if err != nil {
			log.Error("session failed", "session", sessionID, "error", err)
		} else {
			log.Warn("session ended", "session", sessionID)
		}

		if connected {
			failures = 0
		}
		failures++
		delay := s.backoff(failures)
		log.Info("reconnecting", "in", delay.String())

		select {
		case <-ctx.Done():
		case <-time.After(delay):
		}
	}

	s.reg.SetState(name, schema.StateShuttingDown)
	log.Info("stopped")
}

// attempt runs one session. connected reports whether any update was
// emitted during it.
func (s *Supervisor) attempt(ctx context.Context, a exchange.Adapter) (connected bool, err error) {
	name := a.Name()

	emit := func(u schema.PriceUpdate) {
		if !connected {
			connected = true
			s.reg.MarkConnected(name)
		} else {
			s.reg.Heartbeat(name)
		}
		s.reg.SetDecodeErrors(name, a.DecodeErrors())

		select {
		case s.out <- u:
		case <-ctx.Done():
		}
	}

	stop := make(chan struct{})
	defer close(stop)
	go s.syncDecodeErrors(a, stop)

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("adapter panicked", "provider", name, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("%w: %s: panic: %v", exchange.ErrAdapter, name, r)
		}
	}()

	err = a.Run(ctx, emit)
	return connected, err
}

func (s *Supervisor) syncDecodeErrors(a exchange.Adapter, stop <-chan struct{}) {
	ticker := time.NewTicker(s.opts.SyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.reg.SetDecodeErrors(a.Name(), a.DecodeErrors())
		}
	}
}

func (s *Supervisor) backoff(failures int) time.Duration {
	delay := s.opts.RetryDelay
	if s.opts.MaxRetryDelay <= delay {
		return delay
	}
	for i := 1; i < failures; i++ {
		delay *= 2
		if delay >= s.opts.MaxRetryDelay {
			return s.opts.MaxRetryDelay
		}
	}
	return delay
}
