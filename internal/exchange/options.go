package exchange

import (
	"fmt"
	"net/url"
	"time"

	"github.com/yvrxbt/pricing-publisher/internal/schema"
	"github.com/yvrxbt/pricing-publisher/internal/transport"
)

type Options struct {
	Endpoint string
	// APIKey and APISecret are optional; public feeds need neither, but a
	// key without its secret is a configuration error.
	APIKey    string
	APISecret string
	Transport transport.Options
	Now       func() time.Time
}

func (o Options) withDefaults(endpoint string) Options {
	if o.Endpoint == "" {
		o.Endpoint = endpoint
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

func ValidateOptions(name string, opts Options) error {
	u, err := url.Parse(opts.Endpoint)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return fmt.Errorf("%w: %s: endpoint %q is not a websocket url", ErrConfig, name, opts.Endpoint)
	}
	if (opts.APIKey == "") != (opts.APISecret == "") {
		return fmt.Errorf("%w: %s: api key and secret must be set together", ErrConfig, name)
	}
	return nil
}

// ValidatePairs rejects an empty, malformed or duplicated pair list.
func ValidatePairs(name string, pairs []schema.TradingPair) error {
	if len(pairs) == 0 {
		return fmt.Errorf("%w: %s: no trading pairs", ErrConfig, name)
	}
	seen := make(map[schema.TradingPair]struct{}, len(pairs))
	for _, p := range pairs {
		if !p.Valid() {
			return fmt.Errorf("%w: %s: invalid pair %q", ErrConfig, name, p.String())
		}
		if _, dup := seen[p]; dup {
			return fmt.Errorf("%w: %s: duplicate pair %s", ErrConfig, name, p)
		}
		seen[p] = struct{}{}
	}
	return nil
}
