// LearnPulse Daemon - adaptive learning analytics service
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/learnpulse/learnpulse/internal/api"
	"github.com/learnpulse/learnpulse/internal/config"
	"github.com/learnpulse/learnpulse/internal/core"
	"github.com/learnpulse/learnpulse/internal/engine"
	"github.com/learnpulse/learnpulse/internal/focus"
	"github.com/learnpulse/learnpulse/internal/insight"
	"github.com/learnpulse/learnpulse/internal/logging"
	"github.com/learnpulse/learnpulse/internal/metrics"
	"github.com/learnpulse/learnpulse/internal/scheduler"
	"github.com/learnpulse/learnpulse/internal/storage"
)

var (
	configPath string
	dataDir    string
	port       int
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "learnpulse",
		Short: "LearnPulse Daemon - adaptive learning analytics and recommendations",
		RunE:  runDaemon,
	}

	home, _ := os.UserHomeDir()
	defaultDataDir := filepath.Join(home, ".learnpulse")

	rootCmd.Flags().StringVar(&configPath, "config", "", "Config file path")
	rootCmd.Flags().StringVar(&dataDir, "data-dir", defaultDataDir, "Data directory")
	rootCmd.Flags().IntVar(&port, "port", 0, "HTTP server port (overrides config)")
	rootCmd.Flags().BoolVar(&verbose, "verbose", false, "Debug logging")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	fmt.Println("🚀 Starting LearnPulse Daemon...")

	if verbose {
		logging.SetLevel(logging.DEBUG)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cmd.Flags().Changed("data-dir") {
		cfg.DataDir = dataDir
	}
	if port != 0 {
		cfg.Server.Port = port
	}
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	// Open the backing store
	kv, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer kv.Close()
	fmt.Printf("💾 Storage: %s\n", cfg.Storage.Backend)

	m := metrics.New()
	stores := engine.NewStores(kv)

	// Narrative-insight collaborator (advisory, never required)
	var analyzer focus.Analyzer
	if cfg.Insight.Enabled {
		client := insight.NewClient(insight.Config{
			APIKey:  cfg.Insight.APIKey,
			BaseURL: cfg.Insight.URL,
			Timeout: cfg.Insight.Timeout,
			Metrics: m,
		})
		if client.IsConfigured() {
			fmt.Println("✅ Insight collaborator configured")
		} else {
			fmt.Println("⚠️  LEARNPULSE_INSIGHT_KEY not set - narrative insights disabled")
		}
		analyzer = client
	}

	// Work queue drives the derivation pipeline; wiring is circular
	// (engine schedules jobs, jobs run the engine) so the runner
	// resolves the engine at call time.
	var eng *engine.Engine
	sched := scheduler.New(kv, func(ctx context.Context, user core.UserID) error {
		return eng.Derive(ctx, user)
	}, cfg.Scheduler, m)
	eng = engine.New(stores, analyzer, sched, cfg, m)

	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	fmt.Printf("⏱  Scheduler started (%d workers)\n", cfg.Scheduler.Workers)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Periodic full-population synthesis and retention cleanup
	go runPeriodic(ctx, eng, sched, cfg)

	server := api.New(api.Config{
		Host:    cfg.Server.Host,
		Port:    cfg.Server.Port,
		Engine:  eng,
		Queue:   sched,
		Metrics: m,
	})
	eng.SetNotifier(server)

	// Handle shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		fmt.Println("\n🛑 Shutting down...")
		cancel()
		sched.Stop()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		server.Stop(shutdownCtx)
	}()

	fmt.Printf("🌐 API listening on http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	return server.Start()
}

func openStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Backend {
	case "redis":
		return storage.OpenRedis(context.Background(), storage.RedisConfig{
			Addr:     cfg.Storage.RedisAddr,
			Password: cfg.Storage.RedisPassword,
			DB:       cfg.Storage.RedisDB,
		})
	case "sqlite", "":
		path := cfg.Storage.Path
		if path == "" {
			path = filepath.Join(cfg.DataDir, "learnpulse.db")
		}
		return storage.OpenSQLite(storage.SQLiteConfig{Path: path})
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// runPeriodic sweeps every known user through derivation on the
// synthesis interval and enforces retention on the cleanup interval.
func runPeriodic(ctx context.Context, eng *engine.Engine, sched *scheduler.Scheduler, cfg *config.Config) {
	log := logging.WithField("component", "periodic")

	synthesis := time.NewTicker(cfg.Scheduler.SynthesisEvery)
	cleanup := time.NewTicker(cfg.Scheduler.CleanupEvery)
	defer synthesis.Stop()
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-synthesis.C:
			users, err := eng.Users(ctx)
			if err != nil {
				log.Error("user listing failed: %v", err)
				continue
			}
			sched.Sweep(users)
			log.Info("queued synthesis sweep for %d users", len(users))
		case <-cleanup.C:
			if err := eng.Cleanup(ctx); err != nil {
				log.Error("retention cleanup failed: %v", err)
			}
		}
	}
}
