// Package health keeps one connectivity row per configured provider.
//
// Rows are created by Register and never removed. ErrorCount and
// DecodeErrors only grow.
package health

import (
	"sort"
	"sync"
	"time"

	"github.com/yvrxbt/pricing-publisher/internal/schema"
)

type Registry struct {
	mu   sync.RWMutex
	rows map[string]*schema.ExchangeHealth
	now  func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		rows: make(map[string]*schema.ExchangeHealth),
		now:  time.Now,
	}
}

// WithClock replaces the time source used for heartbeats.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

// Register adds a row in the starting state. Registering twice is a no-op.
func (r *Registry) Register(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[name]; ok {
		return
	}
	r.rows[name] = &schema.ExchangeHealth{
		Provider:      name,
		State:         schema.StateStarting,
		LastHeartbeat: r.now(),
	}
}

func (r *Registry) SetState(name string, state schema.SessionState) {
	r.update(name, func(h *schema.ExchangeHealth) {
		h.State = state
		if state != schema.StateConnected {
			h.IsConnected = false
		}
	})
}

func (r *Registry) MarkConnected(name string) {
	r.update(name, func(h *schema.ExchangeHealth) {
		h.State = schema.StateConnected
		h.IsConnected = true
		h.LastHeartbeat = r.now()
	})
}

func (r *Registry) Heartbeat(name string) {
	r.update(name, func(h *schema.ExchangeHealth) {
		h.LastHeartbeat = r.now()
	})
}

// MarkDisconnected moves the row to backoff. A non-nil err is counted.
func (r *Registry) MarkDisconnected(name string, err error) {
	r.update(name, func(h *schema.ExchangeHealth) {
		h.State = schema.StateBackoff
		h.IsConnected = false
		if err != nil {
			h.ErrorCount++
			h.LastError = err.Error()
		}
	})
}

func (r *Registry) SetDecodeErrors(name string, n uint64) {
	r.update(name, func(h *schema.ExchangeHealth) {
		if n > h.DecodeErrors {
			h.DecodeErrors = n
		}
	})
}

// Disable records a provider that could not be initialized.
func (r *Registry) Disable(name string, err error) {
	r.Register(name)
	r.update(name, func(h *schema.ExchangeHealth) {
		h.State = schema.StateDisabled
		h.IsConnected = false
		if err != nil {
			h.LastError = err.Error()
		}
	})
}

func (r *Registry) Get(name string) (schema.ExchangeHealth, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.rows[name]
	if !ok {
		return schema.ExchangeHealth{}, false
	}
	return *h, true
}

// Snapshot returns a copy of every row sorted by provider.
func (r *Registry) Snapshot() []schema.ExchangeHealth {
	r.mu.RLock()
	out := make([]schema.ExchangeHealth, 0, len(r.rows))
	for _, h := range r.rows {
		out = append(out, *h)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}

func (r *Registry) update(name string, fn func(*schema.ExchangeHealth)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.rows[name]; ok {
		fn(h)
	}
}
