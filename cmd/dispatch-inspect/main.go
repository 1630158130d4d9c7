package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/a3tai/dispatch-sync/internal/blob"
	"github.com/a3tai/dispatch-sync/internal/config"
	"github.com/a3tai/dispatch-sync/internal/extract"
	"github.com/a3tai/dispatch-sync/internal/ledger"
	"github.com/a3tai/dispatch-sync/internal/logging"
	"github.com/a3tai/dispatch-sync/internal/mcp"
	"github.com/a3tai/dispatch-sync/internal/pdf"
)

var (
	version   = "dev"     // This will be set by build flags
	buildTime = "unknown" // This will be set by build flags
	gitCommit = "unknown" // This will be set by build flags
)

// setupLogging keeps stdout free for the MCP protocol. In stdio mode only
// debug runs log at all.
func setupLogging(cfg *config.Config) (*slog.Logger, error) {
	var w io.Writer = os.Stderr
	if cfg.IsStdioMode() && !cfg.IsDebug() {
		w = io.Discard
	}
	return logging.New(w, cfg.LogLevel, cfg.LogFormat, false)
}

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
	cfg.Version = version

	logger, err := setupLogging(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	logger.Debug("starting with configuration", slog.Any("config", cfg))

	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	server, err := newServer(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to create MCP server", "error", err)
		fmt.Fprintf(os.Stderr, "Failed to create MCP server: %v\n", err)
		os.Exit(1)
	}

	if err := server.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	logger.Debug("server stopped")
}

func newServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*mcp.Server, error) {
	store, err := blob.New(ctx, blob.Config{
		Kind:                  cfg.Store,
		WebDAVURL:             cfg.WebDAVURL,
		WebDAVUser:            cfg.WebDAVUser,
		WebDAVPassword:        cfg.WebDAVPassword,
		S3Bucket:              cfg.S3Bucket,
		S3Region:              cfg.S3Region,
		AzureConnectionString: cfg.AzblobConnectionString,
		AzureContainer:        cfg.AzblobContainer,
		GCSBucket:             cfg.GCSBucket,
	}, logger)
	if err != nil {
		return nil, err
	}

	// a separate cache keeps inspection from racing the daemon's cache files
	led, err := ledger.New(store, filepath.Join(cfg.CacheDir, "inspect"), cfg.StoreBaseDir, logger)
	if err != nil {
		return nil, err
	}

	var layouts extract.Layouts
	if cfg.LayoutFile != "" {
		if layouts, err = extract.LoadLayouts(cfg.LayoutFile); err != nil {
			return nil, err
		}
	}

	validator := pdf.NewValidator(cfg.MaxFileSize)
	extractor := extract.New(pdf.NewLayoutReader(validator), layouts, logger)

	return mcp.NewServer(cfg, validator, extractor, led, logger)
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("Dispatch Inspect\n")
	fmt.Printf("Version: %s\n", version)
	fmt.Printf("Build Time: %s\n", buildTime)
	fmt.Printf("Git Commit: %s\n", gitCommit)
	fmt.Printf("Built with: %s\n", runtime.Version())
}
