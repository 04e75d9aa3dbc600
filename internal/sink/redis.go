package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yvrxbt/pricing-publisher/internal/schema"
)

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// TTL applies to every key written. Zero keeps keys forever.
	TTL time.Duration
	// Channel, when set, receives a JSON message per update.
	Channel string
}

// Redis keeps three views per update:
//
//	price:<provider>:<BASE/QUOTE>   latest price from one provider
//	price:<BASE/QUOTE>              latest price from any provider
//	price:<BASE/QUOTE>:sources      hash provider -> "<price>:<unix seconds>"
type Redis struct {
	client  *redis.Client
	ttl     time.Duration
	channel string
	log     *slog.Logger
}

// DialRedis connects and pings.
func DialRedis(ctx context.Context, opts RedisOptions, log *slog.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: redis ping %s: %w", ErrSink, opts.Addr, err)
	}
	return NewRedis(client, opts, log), nil
}

func NewRedis(client *redis.Client, opts RedisOptions, log *slog.Logger) *Redis {
	return &Redis{
		client:  client,
		ttl:     opts.TTL,
		channel: opts.Channel,
		log:     log.With("component", "sink", "sink", "redis"),
	}
}

type redisMessage struct {
	Provider   string    `json:"provider"`
	Pair       string    `json:"pair"`
	Price      float64   `json:"price"`
	ObservedAt time.Time `json:"observed_at"`
}

func (r *Redis) Publish(ctx context.Context, provider string, pair schema.TradingPair, price float64, observedAt time.Time) error {
	value := strconv.FormatFloat(price, 'f', -1, 64)
	sourcesKey := SourcesKey(pair)

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, ProviderKey(provider, pair), value, r.ttl)
	pipe.Set(ctx, PairKey(pair), value, r.ttl)
	pipe.HSet(ctx, sourcesKey, provider, value+":"+strconv.FormatInt(observedAt.Unix(), 10))
	if r.ttl > 0 {
		pipe.Expire(ctx, sourcesKey, r.ttl)
	}
	if r.channel != "" {
		msg, err := json.Marshal(redisMessage{Provider: provider, Pair: pair.String(), Price: price, ObservedAt: observedAt})
		if err != nil {
			return fmt.Errorf("%w: encode: %w", ErrSink, err)
		}
		pipe.Publish(ctx, r.channel, msg)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		r.log.Warn("publish failed", "provider", provider, "pair", pair.String(), "error", err)
		return fmt.Errorf("%w: redis: %w", ErrSink, err)
	}
	return nil
}

// Source is one provider entry of the sources hash.
type Source struct {
	Provider   string
	Price      float64
	ObservedAt time.Time
}

// Sources reads the per-provider hash for pair, sorted by provider.
func (r *Redis) Sources(ctx context.Context, pair schema.TradingPair) ([]Source, error) {
	fields, err := r.client.HGetAll(ctx, SourcesKey(pair)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: redis: %w", ErrSink, err)
	}

	out := make([]Source, 0, len(fields))
	for provider, raw := range fields {
		src, err := parseSource(provider, raw)
		if err != nil {
			r.log.Debug("skip malformed source", "key", SourcesKey(pair), "field", provider, "error", err)
			continue
		}
		out = append(out, src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out, nil
}

// Latest reads the any-provider price for pair. ok is false when absent.
func (r *Redis) Latest(ctx context.Context, pair schema.TradingPair) (float64, bool, error) {
	raw, err := r.client.Get(ctx, PairKey(pair)).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("%w: redis: %w", ErrSink, err)
	}
	price, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false, fmt.Errorf("%w: %s holds %q: %w", ErrSink, PairKey(pair), raw, err)
	}
	return price, true, nil
}

func (r *Redis) Close() error { return r.client.Close() }

func ProviderKey(provider string, pair schema.TradingPair) string {
	return "price:" + provider + ":" + pair.String()
}

func PairKey(pair schema.TradingPair) string { return "price:" + pair.String() }

func SourcesKey(pair schema.TradingPair) string { return "price:" + pair.String() + ":sources" }

func parseSource(provider, raw string) (Source, error) {
	idx := strings.LastIndexByte(raw, ':')
	if idx <= 0 {
		return Source{}, fmt.Errorf("want <price>:<unix>, got %q", raw)
	}
	price, err := strconv.ParseFloat(raw[:idx], 64)
	if err != nil {
		return Source{}, err
	}
	ts, err := strconv.ParseInt(raw[idx+1:], 10, 64)
	if err != nil {
		return Source{}, err
	}
	return Source{Provider: provider, Price: price, ObservedAt: time.Unix(ts, 0)}, nil
}
