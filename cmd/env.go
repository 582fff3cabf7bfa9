package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/leasedata/goldenrec/internal/addressref"
	"github.com/leasedata/goldenrec/internal/assist"
	"github.com/leasedata/goldenrec/internal/cache"
	"github.com/leasedata/goldenrec/internal/pipeline"
	"github.com/leasedata/goldenrec/internal/rules"
	"github.com/leasedata/goldenrec/internal/store"
	anthropicpkg "github.com/leasedata/goldenrec/pkg/anthropic"
)

// initStore opens the configured golden record store.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	case "sqlite":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// initCache opens the fingerprint cache. Redis failures degrade to the
// in-process cache so a batch never blocks on the cache tier.
func initCache(ctx context.Context) cache.Cache {
	if cfg.Cache.Driver != "redis" {
		return cache.NewMemory()
	}
	ttl := time.Duration(cfg.Cache.TTLHours) * time.Hour
	c, err := cache.NewRedis(ctx, cfg.Cache.RedisURL, ttl)
	if err != nil {
		zap.L().Warn("redis cache unavailable, using in-process cache", zap.Error(err))
		return cache.NewMemory()
	}
	return c
}

// initPipeline assembles the full batch pipeline from config.
func initPipeline(ctx context.Context, st store.Store) (*pipeline.Pipeline, error) {
	ruleCfg := rules.DefaultConfig()
	if cfg.Rules.Path != "" {
		rc, err := rules.LoadConfig(cfg.Rules.Path)
		if err != nil {
			return nil, eris.Wrap(err, "load rule config")
		}
		ruleCfg = rc
	}

	var provider assist.Provider
	if cfg.Assistant.Key != "" {
		client := anthropicpkg.NewClient(cfg.Assistant.Key)
		provider = assist.NewAnthropic(client, cfg.Assistant.Model)
	} else {
		zap.L().Warn("assistant key not set, unresolved fields will stay unresolved")
	}

	var address addressref.Client
	if cfg.AddressRef.Enabled && cfg.AddressRef.BaseURL != "" {
		address = addressref.NewHTTP(cfg.AddressRef.BaseURL, addressref.Options{
			Timeout:    time.Duration(cfg.AddressRef.TimeoutSecs) * time.Second,
			RatePerSec: cfg.AddressRef.RatePerSec,
		})
	}

	return pipeline.New(st, provider, initCache(ctx), address, ruleCfg, pipeline.Options{
		Workers:      cfg.Pipeline.Workers,
		MergeRetries: cfg.Pipeline.MergeRetries,
		ScoreCeiling: cfg.Assistant.ConfidenceCeiling,
		Assist: assist.Options{
			MaxInvocations:  cfg.Assistant.MaxInvocationsPerBatch,
			AcceptThreshold: cfg.Assistant.AcceptThreshold,
			Timeout:         time.Duration(cfg.Assistant.TimeoutSecs) * time.Second,
			RatePerSec:      cfg.Assistant.RatePerSec,
		},
	}), nil
}
