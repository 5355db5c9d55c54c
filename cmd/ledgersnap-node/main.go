package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/yndnr/ledgersnap/internal/infra/buildinfo"
	"github.com/yndnr/ledgersnap/internal/infra/confloader"
	"github.com/yndnr/ledgersnap/internal/infra/shutdown"
	"github.com/yndnr/ledgersnap/internal/node"
	"github.com/yndnr/ledgersnap/internal/server/config"
	"github.com/yndnr/ledgersnap/internal/telemetry/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configFile  = flag.String("config", "", "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
		watchConfig = flag.Bool("watch-config", true, "Apply log level changes when the configuration file changes")
		dataDir     = flag.String("data-dir", "", "Override node.data_dir")
		logLevel    = flag.String("log-level", "", "Override log.level")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("ledgersnap-node %s\n", buildinfo.String())
		return nil
	}

	loader := newLoader(*configFile, map[string]any{
		"node.data_dir": *dataDir,
		"log.level":     *logLevel,
	})
	cfg := config.Default()
	if err := loader.Load(cfg); err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, logCloser, err := logger.New(config.LoggerConfig(cfg))
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logCloser.Close()
	slog.SetDefault(log)

	info := buildinfo.Get()
	log.Info("starting ledgersnap-node",
		"version", info.Version,
		"commit", info.Commit,
		"snapshot_version", info.SnapshotVersion,
		"config", *configFile)

	shutdownHandler := shutdown.NewHandler(30 * time.Second)

	n, err := node.New(cfg, node.Options{
		Logger: log,
		OnFatal: func(err error) {
			shutdownHandler.Trigger(fmt.Errorf("snapshot pipeline: %w", err))
		},
	})
	if err != nil {
		return err
	}
	log.Info("configuration loaded", "config", config.Sanitize(cfg))

	ctx := shutdownHandler.Context()
	if err := n.Recover(ctx); err != nil {
		n.Close(context.Background())
		return fmt.Errorf("recover: %w", err)
	}
	if err := n.Start(ctx); err != nil {
		n.Close(context.Background())
		return fmt.Errorf("start: %w", err)
	}
	shutdownHandler.OnShutdown(func(ctx context.Context) error {
		log.Info("stopping node")
		return n.Close(ctx)
	})

	if *watchConfig && *configFile != "" {
		w, err := startWatcher(ctx, *configFile, loader, log)
		if err != nil {
			log.Warn("configuration watch disabled", "error", err)
		} else {
			shutdownHandler.OnShutdown(func(context.Context) error {
				return w.Close()
			})
		}
	}

	log.Info("node started, press Ctrl+C to stop", "http", n.HTTPAddr())
	if err := shutdownHandler.Wait(); err != nil {
		log.Error("shutdown error", "error", err)
		return err
	}

	log.Info("node stopped gracefully")
	return nil
}

// newLoader layers flag overrides over the file and the environment.
func newLoader(configFile string, overrides map[string]any) *confloader.Loader {
	return confloader.NewLoader(
		confloader.WithConfigFile(configFile),
		confloader.WithOverrides(overrides),
	)
}

// startWatcher applies the reloadable subset of the configuration, which is
// the log level. Everything else needs a restart.
func startWatcher(ctx context.Context, path string, loader *confloader.Loader, log *slog.Logger) (*confloader.Watcher, error) {
	w, err := confloader.NewWatcher(path, confloader.WithWatcherLogger(log))
	if err != nil {
		return nil, err
	}
	confloader.OnReload(w, loader, config.Default, func(cfg *config.NodeConfig) {
		if cfg.Log.Level == logger.GetLevel() {
			return
		}
		if _, err := logger.ParseLevel(cfg.Log.Level); err != nil {
			log.Warn("ignoring invalid log level", "level", cfg.Log.Level)
			return
		}
		log.Info("log level changed", "from", logger.GetLevel(), "to", cfg.Log.Level)
		logger.SetLevel(cfg.Log.Level)
	})
	go w.Run(ctx)
	return w, nil
}
