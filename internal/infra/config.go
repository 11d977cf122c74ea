package infra

import (
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"market_maker_go/internal/domain"
)

// Config holds every runtime setting of the maker.
// LoadConfig fills it from YAML, then environment variables override the
// sensitive and deployment-specific values.
type Config struct {
	API struct {
		Key    string `yaml:"key"`
		Secret string `yaml:"secret"`
	} `yaml:"api"`

	Exchange struct {
		Name                string `yaml:"name"`
		Testnet             bool   `yaml:"testnet"`
		UseWebsocketTrading bool   `yaml:"use_websocket_trading"`
		WSURL               string `yaml:"ws_url"`
		RestURL             string `yaml:"rest_url"`
		WSTradingURL        string `yaml:"ws_trading_url"`
	} `yaml:"exchange"`

	Trading TradingConfig `yaml:"trading"`

	Performance struct {
		OrderUpdateCooldownMS int `yaml:"order_update_cooldown_ms"`
		ReconnectDelayMS      int `yaml:"reconnect_delay_ms"`
		MaxReconnectAttempts  int `yaml:"max_reconnect_attempts"`
		MaxOrdersPerSecond    int `yaml:"max_orders_per_second"`
		MaxRequestsPerSecond  int `yaml:"max_requests_per_second"`
	} `yaml:"performance"`

	Logging struct {
		File    string `yaml:"file"`
		Verbose bool   `yaml:"verbose"`
		Level   string `yaml:"level"`
	} `yaml:"logging"`

	Storage struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"storage"`

	Monitor struct {
		PprofAddr   string `yaml:"pprof_addr"`
		MetricsAddr string `yaml:"metrics_addr"`
	} `yaml:"monitor"`
}

// TradingConfig holds the quoting parameters.
type TradingConfig struct {
	Symbol            string
	OrderSize         decimal.Decimal
	SpreadPercentage  decimal.Decimal
	PricePrecision    int
	QuantityPrecision int
	DepthLevels       int
	AdaptiveLimits    bool
	DisplayAssets     []string
	QuoteCurrencies   []string
}

// UnmarshalYAML decodes the trading section. yaml.v3 does not consult
// encoding.TextUnmarshaler, so the decimal fields arrive as plain scalars
// and are parsed here. Fields absent from the document keep their current
// (default) values.
func (t *TradingConfig) UnmarshalYAML(value *yaml.Node) error {
	raw := struct {
		Symbol            string   `yaml:"symbol"`
		OrderSize         string   `yaml:"order_size"`
		SpreadPercentage  string   `yaml:"spread_percentage"`
		PricePrecision    int      `yaml:"price_precision"`
		QuantityPrecision int      `yaml:"quantity_precision"`
		DepthLevels       int      `yaml:"depth_levels"`
		AdaptiveLimits    bool     `yaml:"adaptive_limits"`
		DisplayAssets     []string `yaml:"display_assets"`
		QuoteCurrencies   []string `yaml:"quote_currencies"`
	}{
		Symbol:            t.Symbol,
		OrderSize:         t.OrderSize.String(),
		SpreadPercentage:  t.SpreadPercentage.String(),
		PricePrecision:    t.PricePrecision,
		QuantityPrecision: t.QuantityPrecision,
		DepthLevels:       t.DepthLevels,
		AdaptiveLimits:    t.AdaptiveLimits,
		DisplayAssets:     t.DisplayAssets,
		QuoteCurrencies:   t.QuoteCurrencies,
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	size, err := decimal.NewFromString(raw.OrderSize)
	if err != nil {
		return fmt.Errorf("trading.order_size: %w", err)
	}
	spread, err := decimal.NewFromString(raw.SpreadPercentage)
	if err != nil {
		return fmt.Errorf("trading.spread_percentage: %w", err)
	}

	t.Symbol = raw.Symbol
	t.OrderSize = size
	t.SpreadPercentage = spread
	t.PricePrecision = raw.PricePrecision
	t.QuantityPrecision = raw.QuantityPrecision
	t.DepthLevels = raw.DepthLevels
	t.AdaptiveLimits = raw.AdaptiveLimits
	t.DisplayAssets = raw.DisplayAssets
	t.QuoteCurrencies = raw.QuoteCurrencies
	return nil
}

// DefaultConfig returns a Config pre-filled with working defaults.
// YAML and environment values overwrite these where present.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Exchange.Name = "binance"
	cfg.Exchange.UseWebsocketTrading = true

	cfg.Trading.Symbol = "BTCUSDT"
	cfg.Trading.OrderSize = decimal.RequireFromString("0.001")
	cfg.Trading.SpreadPercentage = decimal.RequireFromString("0.02")
	cfg.Trading.PricePrecision = 2
	cfg.Trading.QuantityPrecision = 5
	cfg.Trading.DepthLevels = 20
	cfg.Trading.DisplayAssets = []string{"USDT", "BTC"}
	cfg.Trading.QuoteCurrencies = []string{"USDT", "BUSD", "ETH", "BNB"}

	cfg.Performance.OrderUpdateCooldownMS = 100
	cfg.Performance.ReconnectDelayMS = 5000
	cfg.Performance.MaxReconnectAttempts = 10
	cfg.Performance.MaxOrdersPerSecond = 10
	cfg.Performance.MaxRequestsPerSecond = 20

	cfg.Logging.File = "logs/market_maker.log"
	cfg.Logging.Verbose = true
	cfg.Logging.Level = "info"

	cfg.Storage.Path = "data/market_maker.db"

	cfg.Monitor.PprofAddr = "localhost:6060"
	cfg.Monitor.MetricsAddr = "localhost:9100"

	return cfg
}

// LoadConfig reads and parses the configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", domain.ErrConfigNotFound, path)
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	overrideWithEnv(cfg)

	if err := ResolveEndpoints(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if c.API.Key == "" || c.API.Secret == "" {
		return &domain.ConfigError{Field: "api", Err: fmt.Errorf("key and secret are required (set API_KEY / API_SECRET)")}
	}
	if c.Trading.Symbol == "" {
		return &domain.ConfigError{Field: "trading.symbol", Err: fmt.Errorf("symbol is required")}
	}
	if !c.Trading.OrderSize.IsPositive() {
		return &domain.ConfigError{Field: "trading.order_size", Err: fmt.Errorf("order size must be positive, got %s", c.Trading.OrderSize)}
	}
	spread := c.Trading.SpreadPercentage
	if !spread.IsPositive() || spread.GreaterThan(decimal.RequireFromString("0.1")) {
		return &domain.ConfigError{Field: "trading.spread_percentage", Err: fmt.Errorf("spread must be in (0, 0.1], got %s", spread)}
	}
	if c.Trading.DepthLevels <= 0 {
		return &domain.ConfigError{Field: "trading.depth_levels", Err: fmt.Errorf("depth levels must be positive")}
	}

	if !hasPrefix(c.Exchange.WSURL, "ws://") && !hasPrefix(c.Exchange.WSURL, "wss://") {
		return &domain.ConfigError{Field: "exchange.ws_url", Err: fmt.Errorf("invalid websocket URL: %q", c.Exchange.WSURL)}
	}
	if !hasPrefix(c.Exchange.RestURL, "http://") && !hasPrefix(c.Exchange.RestURL, "https://") {
		return &domain.ConfigError{Field: "exchange.rest_url", Err: fmt.Errorf("invalid REST URL: %q", c.Exchange.RestURL)}
	}
	if c.Exchange.UseWebsocketTrading &&
		!hasPrefix(c.Exchange.WSTradingURL, "ws://") && !hasPrefix(c.Exchange.WSTradingURL, "wss://") {
		return &domain.ConfigError{Field: "exchange.ws_trading_url", Err: fmt.Errorf("invalid trading websocket URL: %q", c.Exchange.WSTradingURL)}
	}

	if c.Performance.OrderUpdateCooldownMS < 0 {
		return &domain.ConfigError{Field: "performance.order_update_cooldown_ms", Err: fmt.Errorf("cooldown cannot be negative")}
	}
	if c.Performance.MaxOrdersPerSecond <= 0 || c.Performance.MaxRequestsPerSecond <= 0 {
		return &domain.ConfigError{Field: "performance", Err: fmt.Errorf("rate limits must be positive")}
	}
	if c.Performance.MaxReconnectAttempts <= 0 {
		return &domain.ConfigError{Field: "performance.max_reconnect_attempts", Err: fmt.Errorf("max reconnect attempts must be positive")}
	}

	return nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[0:len(prefix)] == prefix
}

// overrideWithEnv applies environment variables on top of file values.
func overrideWithEnv(cfg *Config) {
	if key := os.Getenv("API_KEY"); key != "" {
		cfg.API.Key = key
	}
	if secret := os.Getenv("API_SECRET"); secret != "" {
		cfg.API.Secret = secret
	}
	if symbol := os.Getenv("SYMBOL"); symbol != "" {
		cfg.Trading.Symbol = symbol
	}
	if size := os.Getenv("ORDER_SIZE"); size != "" {
		if d, err := decimal.NewFromString(size); err == nil {
			cfg.Trading.OrderSize = d
		}
	}
	if spread := os.Getenv("SPREAD_PERCENTAGE"); spread != "" {
		if d, err := decimal.NewFromString(spread); err == nil {
			cfg.Trading.SpreadPercentage = d
		}
	}
	if file := os.Getenv("LOG_FILE"); file != "" {
		cfg.Logging.File = file
	}
	if verbose := os.Getenv("VERBOSE"); verbose != "" {
		cfg.Logging.Verbose = verbose == "true" || verbose == "1"
	}
}

// MaskSecret hides the middle of a credential for logging.
// Short values are fully masked.
func MaskSecret(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}

// WriteTemplate writes a commented starter configuration to path.
func WriteTemplate(path string) error {
	return os.WriteFile(path, []byte(configTemplate), 0644)
}

const configTemplate = `# Market maker configuration
api:
  key: ""        # or set API_KEY
  secret: ""     # or set API_SECRET

exchange:
  name: binance
  testnet: true
  use_websocket_trading: true
  # ws_url / rest_url / ws_trading_url default to the endpoints of the
  # selected exchange and environment; set them only to override.

trading:
  symbol: BTCUSDT
  order_size: "0.001"
  spread_percentage: "0.02"   # 2% each side of mid
  depth_levels: 20
  display_assets: [USDT, BTC]

performance:
  order_update_cooldown_ms: 100
  reconnect_delay_ms: 5000
  max_reconnect_attempts: 10
  max_orders_per_second: 10
  max_requests_per_second: 20

logging:
  file: logs/market_maker.log
  verbose: true
  level: info

storage:
  enabled: false
  path: data/market_maker.db

monitor:
  pprof_addr: "localhost:6060"
  metrics_addr: "localhost:9100"
`
