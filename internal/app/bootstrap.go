package app

import (
	"fmt"
	"log/slog"
	"time"

	"market_maker_go/internal/event"
	"market_maker_go/internal/infra"
	"market_maker_go/internal/infra/storage"
)

// journalRetention bounds how far back the optional trade journal keeps
// records; older rows are pruned at startup.
const journalRetention = 7 * 24 * time.Hour

// Bootstrap loads configuration and brings up the process-wide services
// the supervisor builds on: logging, metrics and the optional journal.
type Bootstrap struct {
	Config  *infra.Config
	Journal *storage.Storage
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize performs core system initialization.
func (b *Bootstrap) Initialize(configPath string) error {
	// 1. Load Config
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)

	slog.Info("🚀 Bootstrapping market maker",
		slog.String("exchange", cfg.Exchange.Name),
		slog.String("symbol", cfg.Trading.Symbol),
		slog.Bool("testnet", cfg.Exchange.Testnet),
		slog.String("api_key", infra.MaskSecret(cfg.API.Key)),
	)

	// 3. Optional trade journal
	if cfg.Storage.Enabled {
		journal, err := storage.Open(cfg.Storage.Path)
		if err != nil {
			return fmt.Errorf("failed to open journal: %w", err)
		}
		if err := journal.Prune(journalRetention); err != nil {
			slog.Warn("Journal prune failed", slog.Any("error", err))
		}
		b.Journal = journal
		slog.Info("✅ Journal opened", slog.String("path", cfg.Storage.Path))
	}

	// 4. Pre-allocate pooled book events before the stream opens
	event.Warmup()

	// 5. Uptime accounting starts here, not at first connect
	infra.GlobalMetrics.Start()

	return nil
}

// Close releases bootstrap-owned resources.
func (b *Bootstrap) Close() {
	if b.Journal != nil {
		if err := b.Journal.Close(); err != nil {
			slog.Warn("Journal close failed", slog.Any("error", err))
		}
	}
}
