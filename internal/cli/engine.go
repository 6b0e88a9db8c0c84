package cli

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/lens/internal/cache"
	"github.com/dshills/lens/internal/config"
	"github.com/dshills/lens/internal/logging"
	"github.com/dshills/lens/internal/oracle"
	"github.com/dshills/lens/internal/providers"
	"github.com/dshills/lens/internal/redact"
	"github.com/dshills/lens/internal/review"
	"github.com/dshills/lens/internal/source"
	"github.com/dshills/lens/internal/validators"
)

// newCompleter builds the model transport. Tests replace it.
var newCompleter = providers.New

func newLogger(cfg config.Config) (*zap.Logger, error) {
	level := cfg.Log.Level
	if flagLogLevel != "" {
		level = flagLogLevel
	}
	return logging.New(level, cfg.Log.JSON || flagLogJSON)
}

func loadValidators(cfg config.Config) ([]validators.Definition, error) {
	defs, err := validators.LoadBuiltin()
	if err != nil {
		return nil, err
	}
	if cfg.ValidatorsFile == "" {
		return defs, nil
	}
	extra, err := validators.LoadFile(cfg.ValidatorsFile)
	if err != nil {
		return nil, err
	}
	return validators.Merge(defs, extra), nil
}

func model(cfg config.Config) string {
	if cfg.Model != "" {
		return cfg.Model
	}
	return providers.DefaultModel(cfg.Provider)
}

// buildEngine assembles the review engine from cfg. The returned cleanup
// closes the engine and the cache store.
func buildEngine(cfg config.Config, log *zap.Logger) (*review.Engine, func(), error) {
	defs, err := loadValidators(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("loading validators: %w", err)
	}
	parser, err := source.New(cfg.Parser)
	if err != nil {
		return nil, nil, err
	}
	m := model(cfg)
	completer, err := newCompleter(cfg.Provider, m)
	if err != nil {
		return nil, nil, err
	}
	completer = providers.Limit(completer, cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)

	o := oracle.NewLLM(completer, oracle.Options{
		Redactor:         redact.New(cfg.Privacy.RedactSecrets, cfg.Privacy.RedactPaths...),
		DraftTemperature: cfg.DraftTemperature,
		Log:              log.Named("oracle"),
	})

	store, err := cache.Open(cache.Options{
		Enabled:    cfg.Cache.Enabled,
		Backend:    cfg.Cache.Backend,
		Dir:        cfg.Cache.Dir,
		TTLSeconds: cfg.Cache.TTLSeconds,
	})
	if err != nil {
		log.Warn("cache store unavailable, using memory only", zap.Error(err))
		store = nil
	}
	c := cache.New(store, log)

	eng := review.NewEngine(review.Deps{
		Oracle:     o,
		Parser:     parser,
		Validators: defs,
		Cache:      c,
		CacheScope: cfg.Provider + "/" + m,
		Log:        log,
	}, engineOptions(cfg))

	cleanup := func() {
		eng.Close()
		if err := c.Close(); err != nil {
			log.Warn("closing cache", zap.Error(err))
		}
	}
	return eng, cleanup, nil
}

func engineOptions(cfg config.Config) review.Options {
	return review.Options{
		Workers:              cfg.Workers,
		ValidatorTimeout:     time.Duration(cfg.ValidatorTimeoutSeconds) * time.Second,
		ValidatorConcurrency: cfg.ValidatorConcurrency,
		SelectionFallback:    cfg.SelectionFallback,
		MaxClarifications:    cfg.MaxClarifications,
		Glob:                 cfg.FileGlob,
		MergeBase:            cfg.MergeBase,
		Exclude:              cfg.Exclude,
		WellKnownMethods:     cfg.WellKnownMethods,
		SummarizeThreshold:   cfg.SummarizeThreshold,
		EventBuffer:          cfg.Events.SubscriberBuffer,
		EventHistory:         cfg.Events.History,
	}
}

func splitComma(s string) []string {
	parts := strings.Split(s, ",")
	var result []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
