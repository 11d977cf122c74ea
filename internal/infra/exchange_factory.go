package infra

import (
	"fmt"
	"strings"
	"sync"

	"market_maker_go/internal/domain"
)

// ExchangeEndpoints holds the connection bases for one venue environment.
type ExchangeEndpoints struct {
	WSURL        string
	RestURL      string
	WSTradingURL string
}

// Known venue endpoints, production and testnet per exchange.
var endpointsDB = map[string]struct{ Prod, Test ExchangeEndpoints }{
	"binance": {
		Prod: ExchangeEndpoints{
			WSURL:        "wss://stream.binance.com:9443/ws",
			RestURL:      "https://api.binance.com",
			WSTradingURL: "wss://ws-api.binance.com:443",
		},
		Test: ExchangeEndpoints{
			WSURL:        "wss://stream.testnet.binance.vision:9443/ws",
			RestURL:      "https://testnet.binance.vision",
			WSTradingURL: "wss://ws-api.testnet.binance.vision",
		},
	},
}

// NormalizeExchangeName canonicalizes a venue name for registry and
// endpoint lookups: lowercase, trimmed, separators stripped.
func NormalizeExchangeName(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.ReplaceAll(n, "-", "")
	n = strings.ReplaceAll(n, "_", "")
	return n
}

// ResolveEndpoints fills empty URL fields from the endpoints database,
// honoring the testnet flag. Explicit URLs in the config always win.
func ResolveEndpoints(cfg *Config) error {
	entry, ok := endpointsDB[NormalizeExchangeName(cfg.Exchange.Name)]
	if !ok {
		if cfg.Exchange.WSURL == "" || cfg.Exchange.RestURL == "" {
			return &domain.ConfigError{
				Field: "exchange.name",
				Err:   fmt.Errorf("no known endpoints for %q, set exchange URLs explicitly", cfg.Exchange.Name),
			}
		}
		return nil
	}

	eps := entry.Prod
	if cfg.Exchange.Testnet {
		eps = entry.Test
	}

	if cfg.Exchange.WSURL == "" {
		cfg.Exchange.WSURL = eps.WSURL
	}
	if cfg.Exchange.RestURL == "" {
		cfg.Exchange.RestURL = eps.RestURL
	}
	if cfg.Exchange.WSTradingURL == "" {
		cfg.Exchange.WSTradingURL = eps.WSTradingURL
	}
	return nil
}

// ExchangeConstructor builds a venue adapter from the loaded configuration.
type ExchangeConstructor func(cfg *Config) (domain.Exchange, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]ExchangeConstructor{}
)

// RegisterExchange makes a venue constructor available under a name.
// Adapters register themselves from init.
func RegisterExchange(name string, ctor ExchangeConstructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[NormalizeExchangeName(name)] = ctor
}

// NewExchange builds the adapter selected by cfg.Exchange.Name.
func NewExchange(cfg *Config) (domain.Exchange, error) {
	registryMu.RLock()
	ctor, ok := registry[NormalizeExchangeName(cfg.Exchange.Name)]
	registryMu.RUnlock()
	if !ok {
		return nil, &domain.ConfigError{
			Field: "exchange.name",
			Err:   fmt.Errorf("unsupported exchange %q", cfg.Exchange.Name),
		}
	}
	return ctor(cfg)
}
