// ABOUTME: Wires the warren core together and runs its periodic background work
// ABOUTME: Pending-assignment retry and the archival sweep run on tickers until shutdown

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/2389/warren/internal/archive"
	"github.com/2389/warren/internal/audit"
	"github.com/2389/warren/internal/config"
	"github.com/2389/warren/internal/dedupe"
	"github.com/2389/warren/internal/notify"
	"github.com/2389/warren/internal/routing"
	"github.com/2389/warren/internal/session"
	"github.com/2389/warren/internal/sla"
	"github.com/2389/warren/internal/store"
)

const (
	dedupeTTL     = 10 * time.Minute
	dedupeMaxSize = 10000
)

// core bundles everything runServe wires up.
type core struct {
	store      *store.SQLiteStore
	controller *session.Controller
	tracker    *sla.Tracker
	sweeper    *archive.Sweeper
	auditor    *audit.Dispatcher
	notifier   notify.Notifier
	dedupe     *dedupe.Cache
	cfg        *config.Config
}

// buildCore loads config and assembles the routing core.
func buildCore(cfg *config.Config, logger *slog.Logger) (*core, error) {
	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}

	auditor := audit.NewDispatcher(st, logger)

	var notifier notify.Notifier = notify.Noop{}
	if cfg.Notify.Enabled {
		n, err := notify.NewAMQPNotifier(cfg.Notify.URL, cfg.Notify.Exchange, logger)
		if err != nil {
			// Notifications are best-effort; the core runs without them
			logger.Warn("notification broker unavailable, continuing without", "error", err)
		} else {
			notifier = n
		}
	}

	availability := routing.NewAvailabilityRouter(st, cfg.Routing.LivenessWindow, nil, logger)
	skill := routing.NewSkillRouter(st, cfg.Routing.LivenessWindow, nil, logger)

	tracker := sla.New(st, sla.Thresholds{
		FirstResponse: cfg.SLA.FirstResponse,
		Resolution:    cfg.SLA.Resolution,
	}, auditor, logger)

	cache := dedupe.New(dedupeTTL, dedupeMaxSize)

	controller := session.New(st, availability, skill, tracker, auditor, notifier, cache,
		session.Options{
			ResetKeyword:     cfg.Routing.ResetKeyword,
			HandoverKeywords: cfg.Routing.HandoverKeywords,
			RouteTimeout:     cfg.Routing.RouteTimeout,
		}, logger)

	sweeper := archive.NewSweeper(st, auditor, nil, logger)

	return &core{
		store:      st,
		controller: controller,
		tracker:    tracker,
		sweeper:    sweeper,
		auditor:    auditor,
		notifier:   notifier,
		dedupe:     cache,
		cfg:        cfg,
	}, nil
}

// close releases the core's resources in dependency order.
func (c *core) close() {
	c.dedupe.Close()
	c.auditor.Close()
	if err := c.notifier.Close(); err != nil {
		slog.Warn("closing notifier", "error", err)
	}
	if err := c.store.Close(); err != nil {
		slog.Warn("closing store", "error", err)
	}
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	c, err := buildCore(cfg, logger)
	if err != nil {
		return err
	}
	defer c.close()

	logger.Info("warren serving",
		"db", cfg.Database.Path,
		"retry_interval", cfg.Routing.RetryInterval,
		"sweep_interval", cfg.Retention.SweepInterval,
		"recheck_interval", cfg.SLA.RecheckInterval,
		"retention_days", cfg.Retention.Days,
	)

	retryTicker := time.NewTicker(cfg.Routing.RetryInterval)
	defer retryTicker.Stop()
	sweepTicker := time.NewTicker(cfg.Retention.SweepInterval)
	defer sweepTicker.Stop()
	recheckTicker := time.NewTicker(cfg.SLA.RecheckInterval)
	defer recheckTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return nil

		case <-retryTicker.C:
			if _, err := c.controller.RetryPending(ctx); err != nil && ctx.Err() == nil {
				logger.Error("pending retry failed", "error", err)
			}

		case <-sweepTicker.C:
			if _, err := c.sweeper.Run(ctx, cfg.Retention.Days); err != nil && ctx.Err() == nil {
				logger.Error("archival sweep failed", "error", err)
			}

		case <-recheckTicker.C:
			if err := c.tracker.Recheck(ctx); err != nil && ctx.Err() == nil {
				logger.Error("sla recheck failed", "error", err)
			}
		}
	}
}

func runSweep(ctx context.Context, configPath string, days int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("initializing store: %w", err)
	}
	defer st.Close()

	if days <= 0 {
		days = cfg.Retention.Days
	}

	auditor := audit.NewDispatcher(st, logger)
	defer auditor.Close()

	count, err := archive.NewSweeper(st, auditor, nil, logger).Run(ctx, days)
	if err != nil {
		return err
	}

	fmt.Printf("archived %d conversations (retention %dd)\n", count, days)
	return nil
}

// setupLogger builds the slog handler the config asks for.
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}
