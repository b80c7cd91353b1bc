package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/oceanviz/tilecache/internal/cache"
	"github.com/oceanviz/tilecache/internal/cache/memstore"
	"github.com/oceanviz/tilecache/internal/cache/redisstore"
	"github.com/oceanviz/tilecache/internal/colormap"
	"github.com/oceanviz/tilecache/internal/core/config"
	"github.com/oceanviz/tilecache/internal/core/health"
	"github.com/oceanviz/tilecache/internal/core/httpclient"
	"github.com/oceanviz/tilecache/internal/core/observability"
	"github.com/oceanviz/tilecache/internal/core/server"
	"github.com/oceanviz/tilecache/internal/invalidation/kafkaconsumer"
	"github.com/oceanviz/tilecache/internal/logger"
	"github.com/oceanviz/tilecache/internal/render"
	"github.com/oceanviz/tilecache/internal/source"
	"github.com/oceanviz/tilecache/internal/tilecache"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func run() int {
	cfg := config.FromEnv()

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   strings.ToLower(os.Getenv("LOG_CONSOLE")) == "true",
		SampleN:   envInt("LOG_SAMPLE_N", 0),
		Component: "tileserver",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	observability.ExposeBuildInfo(Version)
	appLog.Info("starting tileserver",
		"addr", cfg.Addr,
		"version", Version,
		"renderer", cfg.RendererURL,
		"cache_backend", cfg.CacheBackend)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpClient := httpclient.NewOutbound()

	var store cache.Store
	var pinger health.Pinger
	switch cfg.CacheBackend {
	case "redis":
		rs, err := redisstore.New(ctx, cfg.RedisAddr, cfg.CacheNamespace, cfg.CacheTTL,
			redisstore.WithOpTimeout(cfg.CacheOpTimeout))
		if err != nil {
			appLog.Error("redis store init failed", "addr", cfg.RedisAddr, "err", err)
			return 1
		}
		defer func() { _ = rs.Close() }()
		store, pinger = rs, rs
	case "memory":
		ms := memstore.New(cfg.CacheTTL, memstore.WithSweepInterval(cfg.MemSweepEvery))
		defer ms.Close()
		store, pinger = ms, ms
	default:
		appLog.Error("unknown cache backend", "backend", cfg.CacheBackend)
		return 1
	}

	palettes, err := colormap.BuiltinRegistry()
	if err != nil {
		appLog.Error("palette registry init failed", "err", err)
		return 1
	}
	synth := colormap.NewSynthesizer()

	resolver, err := source.NewResolver(cfg.SourceBaseURL, httpClient, cfg.ProbeTimeout, appLog)
	if err != nil {
		appLog.Error("source resolver init failed", "err", err)
		return 1
	}

	renderer, err := render.NewHTTPRenderer(cfg.RendererURL, httpClient, cfg.RenderTimeout, appLog)
	if err != nil {
		appLog.Error("renderer client init failed", "err", err)
		return 1
	}

	orch := tilecache.New(appLog, store, resolver, renderer, palettes, synth, cfg.CacheTTL)

	if cfg.Invalidation.Enabled {
		consumer := kafkaconsumer.New(
			kafkaconsumer.FromApp(cfg.Invalidation), appLog, store, resolver)
		go func() {
			if err := consumer.Start(ctx); err != nil {
				appLog.Error("invalidation consumer stopped", "err", err)
			}
		}()
	}

	if err := server.Run(ctx, cfg, appLog, orch, resolver, pinger); err != nil {
		appLog.Error("server error", "err", err)
		return 1
	}
	return 0
}
