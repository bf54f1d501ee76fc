// Package app assembles parley's collaborators from configuration. Both
// binaries share it.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nidhogg/parley/internal/config"
	"github.com/nidhogg/parley/internal/metrics"
	"github.com/nidhogg/parley/internal/notify"
	"github.com/nidhogg/parley/internal/provider"
	"github.com/nidhogg/parley/internal/results"
	"github.com/nidhogg/parley/internal/session"
	pgstore "github.com/nidhogg/parley/internal/store"
)

// NewLogger builds a development logger, or a production logger at level
// when one is given.
func NewLogger(level string) (*zap.Logger, error) {
	if level == "" {
		return zap.NewDevelopment()
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

// NewRouter registers the configured providers. Unknown provider types are
// skipped with a warning.
func NewRouter(cfg *config.Config, collector *metrics.Collector, logger *zap.Logger) *provider.Router {
	router := provider.NewRouter(logger)
	for _, pc := range cfg.Providers {
		switch pc.Type {
		case "openai":
			router.Register(provider.NewOpenAIProvider(pc.Provider(), logger))
		case "anthropic":
			router.Register(provider.NewAnthropicProvider(pc.Provider(), logger))
		default:
			logger.Warn("unknown provider type", zap.String("id", pc.ID), zap.String("type", pc.Type))
		}
	}
	if cfg.Routing.Default != "" {
		router.SetDefault(cfg.Routing.Default)
	}
	if len(cfg.Routing.Fallbacks) > 0 {
		router.SetFallbacks(cfg.Routing.Fallbacks)
	}
	if collector != nil {
		router.Observe(collector.ObserveLLM)
	}
	return router
}

// Temperatures converts the configured temperatures.
func Temperatures(cfg *config.Config) session.Temperatures {
	t := session.DefaultTemperatures
	if v := cfg.Temperatures.Agents; v != nil {
		t.Agents = *v
	}
	if v := cfg.Temperatures.RoundJudge; v != nil {
		t.RoundJudge = *v
	}
	if v := cfg.Temperatures.FinalJudge; v != nil {
		t.FinalJudge = *v
	}
	return t
}

// NewResults returns the CSV results store, teed with PostgreSQL when a DSN
// is configured and reachable. The returned close func releases the pool.
func NewResults(ctx context.Context, cfg *config.Config, logger *zap.Logger) (results.Store, func()) {
	csv := results.NewCSVStore(cfg.Negotiation.ResultsCSV)
	if cfg.Database.Postgres.DSN == "" {
		return csv, func() {}
	}

	pg, err := pgstore.New(ctx, cfg.Database.Postgres.DSN, logger)
	if err != nil {
		logger.Warn("PostgreSQL unavailable, results kept in CSV only", zap.Error(err))
		return csv, func() {}
	}
	if err := pg.Migrate(ctx, cfg.Negotiation.MigrationsDir); err != nil {
		logger.Warn("migration failed, results kept in CSV only", zap.Error(err))
		pg.Close()
		return csv, func() {}
	}
	logger.Info("results mirrored to PostgreSQL")
	return results.Tee{csv, pg}, pg.Close
}

// NewNotifier returns the enabled verdict notifiers, or nil when none is.
func NewNotifier(cfg *config.Config, logger *zap.Logger) notify.Notifier {
	var out notify.Multi
	if s := cfg.Notify.Slack; s.Enabled && s.BotToken != "" && s.Channel != "" {
		out = append(out, notify.NewSlack(s.BotToken, s.Channel, "", logger))
	}
	if d := cfg.Notify.Discord; d.Enabled && d.BotToken != "" && d.ChannelID != "" {
		dn, err := notify.NewDiscord(d.BotToken, d.ChannelID, logger)
		if err != nil {
			logger.Warn("discord notifier unavailable", zap.Error(err))
		} else {
			out = append(out, dn)
		}
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	}
	return out
}
