package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/mediafire/mfsfs/internal/catalog"
	"github.com/mediafire/mfsfs/internal/circuit"
	"github.com/mediafire/mfsfs/internal/config"
	"github.com/mediafire/mfsfs/internal/fuse"
	"github.com/mediafire/mfsfs/internal/handle"
	"github.com/mediafire/mfsfs/internal/health"
	"github.com/mediafire/mfsfs/internal/metrics"
	"github.com/mediafire/mfsfs/internal/remote"
	"github.com/mediafire/mfsfs/internal/vfs"
	fserrors "github.com/mediafire/mfsfs/pkg/errors"
	"github.com/mediafire/mfsfs/pkg/retry"
	"github.com/mediafire/mfsfs/pkg/utils"
)

func mountMain(_ *cobra.Command, _ []string) error {
	cfg := config.NewDefault()
	if mountConfiguration.configPath != "" {
		if err := cfg.LoadFromFile(mountConfiguration.configPath); err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return fmt.Errorf("apply environment overrides: %w", err)
	}
	if mountConfiguration.mountPoint != "" {
		cfg.Mount.MountPoint = mountConfiguration.mountPoint
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, closeLog, err := setupLogger(cfg.Global)
	if err != nil {
		return fmt.Errorf("set up logging: %w", err)
	}
	defer closeLog()
	slog.SetDefault(logger)

	if err := os.MkdirAll(cfg.Staging.Directory, 0700); err != nil {
		return fmt.Errorf("create staging directory: %w", err)
	}
	if err := os.MkdirAll(cfg.Cache.Directory, 0700); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}
	// cfg.Cache.FileName comes from a YAML file an operator controls, but it
	// still flows through SecureJoin rather than a bare filepath.Join since a
	// stray "../" in that field would otherwise write the persisted catalog
	// outside the configured cache directory.
	cachePath, err := utils.SecureJoin(cfg.Cache.Directory, cfg.Cache.FileName)
	if err != nil {
		return fmt.Errorf("compute cache file path: %w", err)
	}

	// Top-level recover: a handle-census invariant violation panics rather
	// than returning an error (internal/handle.fatalInvariant), since it
	// indicates a logic bug rather than a user-facing condition. Catch it
	// here so the process exits cleanly instead of dumping a bare stack. This
	// only sees panics raised on this goroutine; a panic inside a FUSE
	// callback runs on the server's own goroutines and is not caught here.
	defer func() {
		if r := recover(); r != nil {
			logger.Error("fatal invariant violation, terminating", "panic", r)
			os.Exit(2)
		}
	}()

	breakerCfg := circuit.Config{
		MaxRequests: cfg.Remote.CircuitBreaker.HalfOpenMaxRequests,
		Interval:    time.Minute,
		Timeout:     cfg.Remote.CircuitBreaker.OpenTimeout,
		ReadyToTrip: func(counts circuit.Counts) bool {
			if !cfg.Remote.CircuitBreaker.Enabled {
				return false
			}
			return counts.ConsecutiveFailures >= cfg.Remote.CircuitBreaker.FailureThreshold
		},
	}

	client, err := remote.NewHTTPClient(remote.HTTPClientConfig{
		BaseURL:        cfg.Remote.BaseURL,
		SessionToken:   cfg.Remote.SessionToken,
		RequestTimeout: cfg.Remote.RequestTimeout,
		BreakerConfig:  breakerCfg,
		CacheEnabled:   cfg.Remote.ResponseCache.Enabled,
		CacheSize:      cfg.Remote.ResponseCache.Size,
		CacheTTL:       cfg.Remote.ResponseCache.TTL,
		Logger:         logger.With("component", "remote"),
	})
	if err != nil {
		return fmt.Errorf("create remote client: %w", err)
	}

	if cfg.Remote.SessionToken == "" {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Remote.RequestTimeout)
		err := client.Login(ctx, cfg.Remote.Email, cfg.Remote.Password)
		cancel()
		if err != nil {
			return fmt.Errorf("log in to remote account: %w", err)
		}
	}

	staging, err := handle.NewStagingStore(cfg.Staging.Directory)
	if err != nil {
		return fmt.Errorf("initialize staging store: %w", err)
	}
	census := handle.NewOpenCensus()

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   cfg.Global.MetricsPort != 0,
		Port:      cfg.Global.MetricsPort,
		Path:      "/metrics",
		Namespace: "mfsfs",
	})
	if err != nil {
		return fmt.Errorf("create metrics collector: %w", err)
	}

	retryer := retry.New(retry.Config{
		MaxAttempts:  cfg.Remote.Retry.MaxAttempts,
		InitialDelay: cfg.Remote.Retry.BaseDelay,
		MaxDelay:     cfg.Remote.Retry.MaxDelay,
		Multiplier:   2.0,
		Jitter:       true,
		RetryableCodes: []fserrors.Code{
			fserrors.Transient,
		},
	})

	tree := catalog.NewFolderTree(client, catalog.TreeConfig{
		Staging:          staging,
		Retryer:          retryer,
		DebounceInterval: 5 * time.Second,
		Uid:              cfg.Mount.Permissions.UID,
		Gid:              cfg.Mount.Permissions.GID,
		HeldOpen:         census.IsHeldOpen,
		WritableOpen:     census.WritableSet.Contains,
		Logger:           logger.With("component", "catalog"),
		LockObserver:     collector.ObserveLockHeld,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	accountID, err := client.AccountID(ctx)
	if err != nil {
		return fmt.Errorf("fetch account id: %w", err)
	}

	if err := tree.LoadFromFile(cachePath, accountID); err != nil {
		if !fserrorsIsNotFound(err) {
			logger.Warn("failed to load persisted catalog, bootstrapping fresh", "error", err)
		}
		if err := tree.Bootstrap(ctx); err != nil {
			return fmt.Errorf("bootstrap catalog: %w", err)
		}
	}

	adapter := vfs.New(tree, census, cfg.Mount.Permissions.UID, cfg.Mount.Permissions.GID, logger.With("component", "vfs"))

	if cfg.Features.MountPreflight {
		if err := os.MkdirAll(cfg.Mount.MountPoint, 0755); err != nil && !os.IsExist(err) {
			return fmt.Errorf("create mount point: %w", err)
		}
	}

	manager := fuse.CreatePlatformMountManager(adapter, &fuse.MountConfig{
		MountPoint: cfg.Mount.MountPoint,
		Options: &fuse.MountOptions{
			ReadOnly:     cfg.Mount.Options.ReadOnly,
			AllowOther:   cfg.Mount.Options.AllowOther,
			AllowRoot:    cfg.Mount.Options.AllowRoot,
			DefaultPerms: cfg.Mount.Options.DefaultPerms,
			Debug:        cfg.Mount.Options.Debug,
			FSName:       cfg.Mount.Options.FSName,
			Subtype:      cfg.Mount.Options.Subtype,
			MaxRead:      cfg.Mount.Options.MaxRead,
			MaxWrite:     cfg.Mount.Options.MaxWrite,
			AttrTimeout:  cfg.Mount.Options.AttrTimeout,
			EntryTimeout: cfg.Mount.Options.EntryTimeout,
		},
		Permissions: &fuse.Permissions{
			UID:      cfg.Mount.Permissions.UID,
			GID:      cfg.Mount.Permissions.GID,
			FileMode: cfg.Mount.Permissions.FileMode,
			DirMode:  cfg.Mount.Permissions.DirMode,
		},
	})

	if err := manager.Mount(ctx); err != nil {
		return fmt.Errorf("mount %s: %w", cfg.Mount.MountPoint, err)
	}
	logger.Info("mounted", "path", cfg.Mount.MountPoint)

	if cfg.Update.Enabled {
		updateJob := cron.New(cron.WithSeconds())
		_, err := updateJob.AddFunc(cfg.Update.Schedule, func() {
			updateCtx, updateCancel := context.WithTimeout(ctx, cfg.Remote.RequestTimeout)
			defer updateCancel()
			if err := tree.Update(updateCtx, false); err != nil {
				logger.Warn("periodic catalog update failed", "error", err)
			}
		})
		if err != nil {
			return fmt.Errorf("schedule catalog update: %w", err)
		}
		updateJob.Start()
		defer updateJob.Stop()
	}

	if cfg.Global.MetricsPort != 0 {
		if err := collector.Start(ctx); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		defer collector.Stop(context.Background())
		go reportHandleCount(ctx, collector, adapter)
	}

	checker, err := health.NewChecker(&health.Config{
		Enabled:       true,
		CheckInterval: 30 * time.Second,
		Timeout:       5 * time.Second,
		HTTPEnabled:   cfg.Global.HealthPort != 0,
		HTTPPort:      cfg.Global.HealthPort,
		HTTPPath:      "/health",
	})
	if err != nil {
		return fmt.Errorf("create health checker: %w", err)
	}
	if err := registerHealthChecks(checker, client, cfg.Staging.Directory, tree); err != nil {
		return fmt.Errorf("register health checks: %w", err)
	}
	if err := checker.Start(ctx); err != nil {
		return fmt.Errorf("start health checker: %w", err)
	}
	defer checker.Stop()

	terminationSignals := make(chan os.Signal, 1)
	signal.Notify(terminationSignals, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-terminationSignals:
		logger.Info("received termination signal", "signal", s)
	case <-ctx.Done():
	}

	cancel()
	if err := manager.Unmount(); err != nil {
		logger.Warn("unmount on shutdown failed", "error", err)
	}
	adapter.Destroy(cachePath)
	return nil
}

// fserrorsIsNotFound reports whether err is the structured NotFound code,
// distinguishing "no cache file yet" from a real I/O failure worth logging.
func fserrorsIsNotFound(err error) bool {
	var fsErr *fserrors.FSError
	return errors.As(err, &fsErr) && fsErr.Code == fserrors.NotFound
}

func reportHandleCount(ctx context.Context, collector *metrics.Collector, adapter *vfs.Adapter) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			collector.UpdateOpenHandles(adapter.HandleCount())
		}
	}
}

func registerHealthChecks(checker *health.Checker, client remote.Client, stagingDir string, tree *catalog.FolderTree) error {
	if err := checker.RegisterCheck("remote_reachability", "remote account is reachable",
		health.CategoryNetwork, health.PriorityCritical, health.RemoteReachabilityCheck(client)); err != nil {
		return err
	}
	if err := checker.RegisterCheck("staging_dir_writable", "staging directory accepts writes",
		health.CategoryStorage, health.PriorityCritical, health.StagingDirWritableCheck(stagingDir)); err != nil {
		return err
	}
	if err := checker.RegisterCheck("catalog_staleness", "catalog journal poll is keeping up",
		health.CategoryCore, health.PriorityHigh, health.CatalogStalenessCheck(tree, 10*time.Minute)); err != nil {
		return err
	}
	return nil
}

// setupLogger builds the process-wide structured logger from configuration,
// returning a closer for the underlying log file (a no-op when logging to
// stderr).
func setupLogger(cfg config.GlobalConfig) (*slog.Logger, func(), error) {
	var out io.Writer = os.Stderr
	closeFn := func() {}
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file %s: %w", cfg.LogFile, err)
		}
		out = io.MultiWriter(f, os.Stderr)
		closeFn = func() { f.Close() }
	}

	var level slog.Level
	switch strings.ToUpper(cfg.LogLevel) {
	case "DEBUG":
		level = slog.LevelDebug
	case "WARN":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	return slog.New(handler), closeFn, nil
}

var mountCommand = &cobra.Command{
	Use:          "mount",
	Short:        "Mount the configured remote drive account and run until terminated",
	Args:         disallowArguments,
	RunE:         mountMain,
	SilenceUsage: true,
}

var mountConfiguration struct {
	help       bool
	configPath string
	mountPoint string
}

func init() {
	flags := mountCommand.Flags()
	flags.SortFlags = false
	flags.BoolVarP(&mountConfiguration.help, "help", "h", false, "Show help information")
	flags.StringVarP(&mountConfiguration.configPath, "config", "c", "", "Path to configuration file")
	flags.StringVarP(&mountConfiguration.mountPoint, "mount-point", "m", "", "Override the configured mount point")
}
