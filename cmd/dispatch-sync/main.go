package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/a3tai/dispatch-sync/internal/blob"
	"github.com/a3tai/dispatch-sync/internal/config"
	"github.com/a3tai/dispatch-sync/internal/daemon"
	"github.com/a3tai/dispatch-sync/internal/extract"
	"github.com/a3tai/dispatch-sync/internal/intake"
	"github.com/a3tai/dispatch-sync/internal/ledger"
	"github.com/a3tai/dispatch-sync/internal/logging"
	"github.com/a3tai/dispatch-sync/internal/notify"
	"github.com/a3tai/dispatch-sync/internal/orchestrator"
	"github.com/a3tai/dispatch-sync/internal/pdf"
	"github.com/a3tai/dispatch-sync/internal/registry"
	"github.com/m-mizutani/goerr/v2"
)

var (
	version   = "dev"     // This will be set by build flags
	buildTime = "unknown" // This will be set by build flags
	gitCommit = "unknown" // This will be set by build flags
)

func main() {
	cfg, err := config.LoadFromFlags()
	if errors.Is(err, config.ErrVersionRequested) {
		printVersion()
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.ValidateRegistry(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	cfg.Version = version

	logger, err := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)
	logger.Info("starting dispatch-sync", "version", version)
	logger.Debug("configuration", slog.Any("config", cfg))

	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	d, err := setup(ctx, cfg, logger)
	if err != nil {
		logFatal(logger, "failed to start", err)
	}

	if err := d.Run(ctx); err != nil {
		logFatal(logger, "poll loop failed", err)
	}
	logger.Info("dispatch-sync stopped")
}

// setup wires all components. Any error here is fatal: the store must be
// reachable and the registry login must succeed before the first cycle.
func setup(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*daemon.Daemon, error) {
	store, err := blob.New(ctx, storeConfig(cfg), logger)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create ledger store", goerr.V("store", cfg.Store))
	}
	if _, err := store.Exists(ctx, cfg.StoreBaseDir); err != nil {
		return nil, goerr.Wrap(err, "ledger store unreachable", goerr.V("store", cfg.Store))
	}

	led, err := ledger.New(store, filepath.Join(cfg.CacheDir, "ledger"), cfg.StoreBaseDir, logger)
	if err != nil {
		return nil, err
	}

	session, err := registry.New(ctx, registry.Config{
		BaseURL:  cfg.RegistryURL,
		Username: cfg.RegistryUser,
		Password: cfg.RegistryPassword,
		Timeout:  cfg.RegistryTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}

	var layouts extract.Layouts
	if cfg.LayoutFile != "" {
		if layouts, err = extract.LoadLayouts(cfg.LayoutFile); err != nil {
			return nil, err
		}
		logger.Info("loaded field layouts", "file", cfg.LayoutFile)
	}
	extractor := extract.New(pdf.NewLayoutReader(pdf.NewValidator(cfg.MaxFileSize)), layouts, logger)

	var notifier notify.Notifier = notify.NewLog(logger)
	if cfg.SlackWebhookURL != "" {
		notifier = notify.NewSlack(cfg.SlackWebhookURL, logger)
	}

	spool, err := intake.NewSpool(cfg.SpoolDir, logger)
	if err != nil {
		return nil, err
	}

	workDir := filepath.Join(cfg.CacheDir, "inbox")
	if err := os.MkdirAll(workDir, config.DefaultDirPerm); err != nil {
		return nil, goerr.Wrap(err, "failed to create work directory", goerr.V("dir", workDir))
	}

	orch := orchestrator.New(extractor, session, led, notifier, workDir, logger)

	return daemon.New(spool, orch, daemon.Config{
		Interval:        cfg.PollInterval,
		DocumentTimeout: cfg.DocumentTimeout,
		HeartbeatURL:    cfg.HeartbeatURL,
	}, logger), nil
}

func storeConfig(cfg *config.Config) blob.Config {
	return blob.Config{
		Kind:                  cfg.Store,
		WebDAVURL:             cfg.WebDAVURL,
		WebDAVUser:            cfg.WebDAVUser,
		WebDAVPassword:        cfg.WebDAVPassword,
		S3Bucket:              cfg.S3Bucket,
		S3Region:              cfg.S3Region,
		AzureConnectionString: cfg.AzblobConnectionString,
		AzureContainer:        cfg.AzblobContainer,
		GCSBucket:             cfg.GCSBucket,
	}
}

func logFatal(logger *slog.Logger, msg string, err error) {
	var ge *goerr.Error
	if errors.As(err, &ge) {
		logger.Error(msg, "error", err.Error(), "values", ge.Values())
	} else {
		logger.Error(msg, "error", err.Error())
	}
	os.Exit(1)
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("Dispatch Sync\n")
	fmt.Printf("Version: %s\n", version)
	fmt.Printf("Build Time: %s\n", buildTime)
	fmt.Printf("Git Commit: %s\n", gitCommit)
	fmt.Printf("Built with: %s\n", runtime.Version())
}
