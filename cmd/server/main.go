package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/gamedesk/internal/config"
	"github.com/Tyrowin/gamedesk/internal/content"
	"github.com/Tyrowin/gamedesk/internal/document"
	"github.com/Tyrowin/gamedesk/internal/logging"
	"github.com/Tyrowin/gamedesk/internal/metrics"
	"github.com/Tyrowin/gamedesk/internal/render"
	"github.com/Tyrowin/gamedesk/internal/server"
	"github.com/Tyrowin/gamedesk/internal/watcher"
)

var flags config.Config

func init() {
	defaults := config.Default()
	f := rootCmd.Flags()
	f.StringVarP(&flags.Root, "root", "r", defaults.Root, "Web root (static files, templates, error.html)")
	f.StringVarP(&flags.DataDir, "data", "d", "", "Directory holding the XML sources (default <root>/data)")
	f.StringVar(&flags.GMPort, "gm", defaults.GMPort, "GM listener address")
	f.StringVar(&flags.PlayerPort, "player", defaults.PlayerPort, "Player listener address")
	f.IntVarP(&flags.Workers, "workers", "w", defaults.Workers, "Workers per listener")
	f.DurationVar(&flags.Debounce, "debounce", defaults.Debounce, "Delay before reloading a changed source")
	f.StringVar(&flags.MetricsAddr, "metrics", "", "Metrics listener address (disabled when empty)")
	f.StringVar(&flags.LogLevel, "log-level", defaults.LogLevel, "Log level: debug, info, warn, error")
	f.StringVar(&flags.LogFormat, "log-format", defaults.LogFormat, "Log format: text or json")
}

var rootCmd = &cobra.Command{
	Use:           "gamedesk",
	Short:         "Live game-session console: GM and player listeners over a shared XML document",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(flagOverrides(cmd))
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return run(ctx, *cfg)
	},
}

// flagOverrides copies every flag the user set over the environment value.
func flagOverrides(cmd *cobra.Command) func(*config.Config) {
	f := cmd.Flags()
	return func(cfg *config.Config) {
		if f.Changed("root") {
			cfg.Root = flags.Root
		}
		if f.Changed("data") {
			cfg.DataDir = flags.DataDir
		}
		if f.Changed("gm") {
			cfg.GMPort = flags.GMPort
		}
		if f.Changed("player") {
			cfg.PlayerPort = flags.PlayerPort
		}
		if f.Changed("workers") {
			cfg.Workers = flags.Workers
		}
		if f.Changed("debounce") {
			cfg.Debounce = flags.Debounce
		}
		if f.Changed("metrics") {
			cfg.MetricsAddr = flags.MetricsAddr
		}
		if f.Changed("log-level") {
			cfg.LogLevel = flags.LogLevel
		}
		if f.Changed("log-format") {
			cfg.LogFormat = flags.LogFormat
		}
	}
}

func run(ctx context.Context, cfg config.Config) error {
	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	logger := logging.Logger
	logger.Info("gamedesk starting",
		"root", cfg.Root, "data", cfg.DataDir, "gm", cfg.GMPort, "player", cfg.PlayerPort, "workers", cfg.Workers)

	m := metrics.New()

	store := document.NewStore(cfg.DataDir, document.WithLogger(logger), document.WithObserver(m))
	if err := store.LoadDir(); err != nil {
		return fmt.Errorf("initial load: %w", err)
	}
	logger.Info("document loaded", "nodes", store.Len())

	renderer := render.New(cfg.Root)
	hub := server.NewHub(logger, m)

	registry := content.NewRegistry(content.Deps{
		Store:     store,
		Publisher: hub,
		Renderer:  renderer,
		Logger:    logger,
	})
	registry.Register(content.DataKey, content.NewData)
	logger.Info("dynamic handlers registered", "keys", registry.Keys())

	w, err := watcher.New(cfg.DataDir, store, watcher.WithDebounce(cfg.Debounce), watcher.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("watch %s: %w", cfg.DataDir, err)
	}
	defer func() { _ = w.Close() }()

	router := server.NewRouter(server.RouterConfig{
		Root:        cfg.Root,
		Registry:    registry,
		Hub:         hub,
		Renderer:    renderer,
		Logger:      logger,
		Metrics:     m,
		ReadTimeout: cfg.ReadTimeout,
	})
	srv := server.New(server.Options{
		GMAddr:      cfg.GMPort,
		PlayerAddr:  cfg.PlayerPort,
		Workers:     cfg.Workers,
		MetricsAddr: cfg.MetricsAddr,
	}, router, hub, logger, m)
	if err := srv.Start(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.Run(gctx) })
	g.Go(func() error { return srv.Run(gctx) })

	err = g.Wait()
	slog.Info("gamedesk stopped")
	return err
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		slog.Error("gamedesk failed", "error", err)
		os.Exit(1)
	}
}
