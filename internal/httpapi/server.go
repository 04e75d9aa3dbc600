// Package httpapi exposes the health registry and the latest-price table
// over read-only JSON endpoints.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/mux"

	"github.com/yvrxbt/pricing-publisher/internal/aggregator"
	"github.com/yvrxbt/pricing-publisher/internal/exchange"
	"github.com/yvrxbt/pricing-publisher/internal/health"
	"github.com/yvrxbt/pricing-publisher/internal/schema"
)

const shutdownTimeout = 5 * time.Second

type Options struct {
	Addr       string
	StaleAfter time.Duration
	Now        func() time.Time
}

type Server struct {
	table      *aggregator.Table
	reg        *health.Registry
	adapters   map[string]exchange.Adapter
	staleAfter time.Duration
	now        func() time.Time
	router     *mux.Router
	srv        *http.Server
	log        *slog.Logger
}

func New(table *aggregator.Table, reg *health.Registry, adapters []exchange.Adapter, opts Options, log *slog.Logger) *Server {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Server{
		table:      table,
		reg:        reg,
		adapters:   make(map[string]exchange.Adapter, len(adapters)),
		staleAfter: opts.StaleAfter,
		now:        opts.Now,
		router:     mux.NewRouter(),
		log:        log.With("component", "httpapi"),
	}
	for _, a := range adapters {
		s.adapters[a.Name()] = a
	}
	s.setupRoutes()
	s.srv = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.getHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/prices", s.getPrices).Methods(http.MethodGet)
	s.router.HandleFunc("/prices/{provider}", s.getProviderPrices).Methods(http.MethodGet)
	s.router.HandleFunc("/prices/{provider}/{base}/{quote}", s.getPrice).Methods(http.MethodGet)
	s.router.HandleFunc("/consensus/{base}/{quote}", s.getConsensus).Methods(http.MethodGet)
}

func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http listening", "addr", s.srv.Addr)
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type providerHealth struct {
	schema.ExchangeHealth
	Healthy bool `json:"healthy"`
}

type healthResponse struct {
	Status    string           `json:"status"`
	Connected int              `json:"connected"`
	Providers []providerHealth `json:"providers"`
}

func (s *Server) getHealth(w http.ResponseWriter, _ *http.Request) {
	rows := s.reg.Snapshot()
	resp := healthResponse{Status: "ok", Providers: make([]providerHealth, 0, len(rows))}
	active := 0
	for _, row := range rows {
		ph := providerHealth{ExchangeHealth: row}
		if a, ok := s.adapters[row.Provider]; ok && row.State != schema.StateDisabled {
			ph.Healthy = a.IsHealthy()
		}
		if row.State != schema.StateDisabled {
			active++
			if row.IsConnected {
				resp.Connected++
			} else {
				resp.Status = "degraded"
			}
		}
		resp.Providers = append(resp.Providers, ph)
	}

	code := http.StatusOK
	if active > 0 && resp.Connected == 0 {
		resp.Status = "down"
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, resp)
}

type priceView struct {
	Price      float64   `json:"price"`
	ObservedAt time.Time `json:"observed_at"`
	AgeMS      int64     `json:"age_ms"`
	Stale      bool      `json:"stale"`
}

func (s *Server) view(q schema.Quote, now time.Time) priceView {
	age := now.Sub(q.ObservedAt)
	return priceView{
		Price:      q.Price,
		ObservedAt: q.ObservedAt,
		AgeMS:      age.Milliseconds(),
		Stale:      s.staleAfter > 0 && age > s.staleAfter,
	}
}

func (s *Server) views(cells map[schema.TradingPair]schema.Quote, now time.Time) map[string]priceView {
	out := make(map[string]priceView, len(cells))
	for pair, q := range cells {
		out[pair.String()] = s.view(q, now)
	}
	return out
}

func (s *Server) getPrices(w http.ResponseWriter, _ *http.Request) {
	now := s.now()
	snap := s.table.Snapshot()
	out := make(map[string]map[string]priceView, len(snap))
	for provider, cells := range snap {
		out[provider] = s.views(cells, now)
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) getProviderPrices(w http.ResponseWriter, r *http.Request) {
	provider := mux.Vars(r)["provider"]
	cells, ok := s.table.Provider(provider)
	if !ok {
		s.writeError(w, http.StatusNotFound, "provider not found")
		return
	}
	s.writeJSON(w, http.StatusOK, s.views(cells, s.now()))
}

func (s *Server) getPrice(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	pair, ok := pairFromVars(vars)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid trading pair")
		return
	}
	q, ok := s.table.Get(vars["provider"], pair)
	if !ok {
		s.writeError(w, http.StatusNotFound, "price not found")
		return
	}
	s.writeJSON(w, http.StatusOK, s.view(q, s.now()))
}

type consensusResponse struct {
	Pair    string   `json:"pair"`
	Price   float64  `json:"price"`
	Sources int      `json:"sources"`
	Fresh   []string `json:"fresh"`
}

func (s *Server) getConsensus(w http.ResponseWriter, r *http.Request) {
	pair, ok := pairFromVars(mux.Vars(r))
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid trading pair")
		return
	}
	now := s.now()
	median, n, ok := s.table.Median(pair, now, s.staleAfter)
	if !ok {
		s.writeError(w, http.StatusNotFound, "no fresh quotes")
		return
	}
	resp := consensusResponse{Pair: pair.String(), Price: median, Sources: n}
	for provider, q := range s.table.Quotes(pair) {
		if !s.view(q, now).Stale {
			resp.Fresh = append(resp.Fresh, provider)
		}
	}
	sort.Strings(resp.Fresh)
	s.writeJSON(w, http.StatusOK, resp)
}

func pairFromVars(vars map[string]string) (schema.TradingPair, bool) {
	p := schema.NewTradingPair(vars["base"], vars["quote"])
	return p, p.Valid()
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Warn("encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
