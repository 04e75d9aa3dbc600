package schema

import (
	"fmt"
	"strings"
	"time"
)

// TradingPair is a canonical base/quote pair, e.g. BTC/USDT.
type TradingPair struct {
	Base  string
	Quote string
}

func NewTradingPair(base, quote string) TradingPair {
	return TradingPair{
		Base:  strings.ToUpper(strings.TrimSpace(base)),
		Quote: strings.ToUpper(strings.TrimSpace(quote)),
	}
}

// ParseTradingPair accepts "BTC/USDT", "BTC-USDT" and "BTC_USDT".
func ParseTradingPair(raw string) (TradingPair, error) {
	s := strings.TrimSpace(raw)
	idx := strings.IndexAny(s, "/-_")
	if idx <= 0 || idx == len(s)-1 {
		return TradingPair{}, fmt.Errorf("invalid trading pair %q", raw)
	}
	p := NewTradingPair(s[:idx], s[idx+1:])
	if !p.Valid() {
		return TradingPair{}, fmt.Errorf("invalid trading pair %q", raw)
	}
	return p, nil
}

func (p TradingPair) Valid() bool {
	if p.Base == "" || p.Quote == "" {
		return false
	}
	for _, side := range []string{p.Base, p.Quote} {
		if side != strings.ToUpper(side) || strings.ContainsAny(side, "/-_ ") {
			return false
		}
	}
	return true
}

func (p TradingPair) String() string { return p.Base + "/" + p.Quote }
func (p TradingPair) Concat() string { return p.Base + p.Quote }
func (p TradingPair) Dashed() string { return p.Base + "-" + p.Quote }

// PriceUpdate is one normalized price observation from a provider.
type PriceUpdate struct {
	Provider   string
	Pair       TradingPair
	Price      float64
	ObservedAt time.Time
}

// Quote is the latest accepted price for one (provider, pair) key.
type Quote struct {
	Price      float64   `json:"price"`
	ObservedAt time.Time `json:"observed_at"`
}

type SessionState string

const (
	StateStarting     SessionState = "starting"
	StateConnected    SessionState = "connected"
	StateBackoff      SessionState = "backoff"
	StateShuttingDown SessionState = "shutting_down"
	StateDisabled     SessionState = "disabled"
)

// ExchangeHealth is the per-provider connectivity row kept by the health registry.
type ExchangeHealth struct {
	Provider      string       `json:"provider"`
	State         SessionState `json:"state"`
	IsConnected   bool         `json:"is_connected"`
	ErrorCount    uint64       `json:"error_count"`
	DecodeErrors  uint64       `json:"decode_errors"`
	LastHeartbeat time.Time    `json:"last_heartbeat"`
	LastError     string       `json:"last_error,omitempty"`
}
