package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"market_maker_go/internal/app"
	"market_maker_go/internal/domain"
	"market_maker_go/internal/infra"

	_ "net/http/pprof" // For pprof profiling
)

const defaultConfigPath = "config.yaml"

func usage() {
	fmt.Printf(`Automated market maker for centralized spot exchanges.

Usage:
  %s [config-path]

The config path defaults to %s; a commented template is written there
on first run. API_KEY and API_SECRET environment variables override
the file values.
`, os.Args[0], defaultConfigPath)
}

func main() {
	configPath := defaultConfigPath
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "-h", "--help", "help":
			usage()
			return
		default:
			configPath = os.Args[1]
		}
	}

	// 1. System Bootstrapping (config, logger, journal, metrics)
	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(configPath); err != nil {
		if errors.Is(err, domain.ErrConfigNotFound) && configPath == defaultConfigPath {
			if werr := infra.WriteTemplate(configPath); werr != nil {
				fmt.Printf("No configuration found and writing a template failed: %v\n", werr)
			} else {
				fmt.Printf("No configuration found. A template was written to %s; fill in your API credentials and run again.\n", configPath)
			}
			os.Exit(1)
		}
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}
	cfg := bootstrap.Config

	// 2. Pprof Server (localhost only for security)
	if addr := cfg.Monitor.PprofAddr; addr != "" {
		go func() {
			slog.Info("🕵️ Pprof server started", slog.String("addr", addr))
			if err := http.ListenAndServe(addr, nil); err != nil {
				slog.Error("Pprof server failed", slog.Any("error", err))
			}
		}()
	}

	// 3. Prometheus Endpoint
	if addr := cfg.Monitor.MetricsAddr; addr != "" {
		go infra.ServeMetrics(addr, infra.GlobalMetrics)
	}

	// 4. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 5. Supervisor: connect the venue, start quoting
	supervisor := app.NewSupervisor(cfg, bootstrap.Journal)
	if err := supervisor.Initialize(ctx); err != nil {
		slog.Error("❌ Initialization failed", slog.Any("error", err))
		bootstrap.Close()
		os.Exit(1)
	}
	supervisor.Run(ctx)

	slog.InfoContext(ctx, "✨ Market maker operational. Press Ctrl+C to exit.")

	exitCode := 0
	select {
	case <-ctx.Done():
		slog.InfoContext(ctx, "👋 Shutting down gracefully...")
	case err := <-supervisor.Fatal():
		slog.Error("💥 Market stream lost", slog.Any("error", err))
		exitCode = 1
	}

	supervisor.Stop()
	bootstrap.Close()
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}
