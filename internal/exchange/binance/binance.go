package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/yvrxbt/pricing-publisher/internal/exchange"
	"github.com/yvrxbt/pricing-publisher/internal/schema"
)

const (
	Name            = "binance"
	DefaultEndpoint = "wss://stream.binance.com:9443/ws"
)

type Adapter struct {
	*exchange.Base
	symbols exchange.SymbolMap
}

func New(pairs []schema.TradingPair, opts exchange.Options) *Adapter {
	return &Adapter{Base: exchange.NewBase(Name, pairs, opts, DefaultEndpoint)}
}

func (a *Adapter) Init() error {
	if err := a.Base.Init(); err != nil {
		return err
	}
	m, err := exchange.NewSymbolMap(a.Pairs(), schema.TradingPair.Concat)
	if err != nil {
		return fmt.Errorf("%s: %w", Name, err)
	}
	a.symbols = m
	return nil
}

func (a *Adapter) Run(ctx context.Context, emit exchange.EmitFunc) error {
	if a.symbols.Len() == 0 {
		return fmt.Errorf("%w: %s: not initialized", exchange.ErrAdapter, Name)
	}

	sess, err := a.Dial(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := a.Subscribe(sess, subscribeRequest{
		Method: "SUBSCRIBE",
		Params: streamNames(a.symbols.Natives()),
		ID:     1,
	}); err != nil {
		return err
	}
	return a.Stream(ctx, sess, a.decode, emit)
}

type subscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

// bookTicker also covers request responses. The quantity fields are
// declared so that "B" and "A" do not fold onto "b" and "a".
type bookTicker struct {
	UpdateID int64           `json:"u"`
	Symbol   string          `json:"s"`
	Bid      string          `json:"b"`
	BidQty   string          `json:"B"`
	Ask      string          `json:"a"`
	AskQty   string          `json:"A"`
	ID       *int64          `json:"id"`
	Result   json.RawMessage `json:"result"`
	Error    *requestError   `json:"error"`
}

type requestError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (a *Adapter) decode(frame []byte) ([]schema.PriceUpdate, error) {
	var msg bookTicker
	if err := json.Unmarshal(frame, &msg); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", exchange.ErrDecode, Name, err)
	}
	if msg.Error != nil {
		return nil, fmt.Errorf("%w: %s: subscription rejected: %d %s", exchange.ErrAdapter, Name, msg.Error.Code, msg.Error.Msg)
	}
	if msg.Symbol == "" {
		if msg.ID != nil {
			// subscription ack
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %s: unrecognized frame", exchange.ErrDecode, Name)
	}

	pair, ok := a.symbols.Pair(strings.ToUpper(msg.Symbol))
	if !ok {
		return nil, fmt.Errorf("%w: %s: untracked symbol %q", exchange.ErrDecode, Name, msg.Symbol)
	}
	mid, err := exchange.MidPrice(msg.Bid, msg.Ask)
	if err != nil {
		return nil, err
	}
	return []schema.PriceUpdate{{
		Provider:   Name,
		Pair:       pair,
		Price:      mid,
		ObservedAt: a.Now(),
	}}, nil
}

func streamNames(natives []string) []string {
	out := make([]string, 0, len(natives))
	for _, sym := range natives {
		out = append(out, strings.ToLower(sym)+"@bookTicker")
	}
	return out
}
