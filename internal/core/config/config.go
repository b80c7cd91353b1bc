package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type InvalidationCfg struct {
	Enabled bool
	Topic   string
	Brokers string
	GroupID string
}

type Range struct {
	Min float64
	Max float64
}

type Config struct {
	Addr          string
	LogLevel      string
	RendererURL   string
	SourceBaseURL string

	CacheBackend   string
	RedisAddr      string
	CacheNamespace string
	CacheTTL       time.Duration
	CacheOpTimeout time.Duration
	MemSweepEvery  time.Duration

	ProbeTimeout  time.Duration
	RenderTimeout time.Duration

	ColormapResolution int
	DefaultResampling  string
	DatasetRanges      map[string]Range

	Invalidation InvalidationCfg
}

func FromEnv() Config {
	res := getint("COLORMAP_RESOLUTION", 1024)
	if res < 2 {
		res = 2
	}

	return Config{
		Addr:          getenv("ADDR", ":8090"),
		LogLevel:      getenv("LOG_LEVEL", "info"),
		RendererURL:   getenv("RENDERER_URL", "http://localhost:8001"),
		SourceBaseURL: getenv("SOURCE_BASE_URL", "https://localhost:8000/cogs"),

		CacheBackend:   strings.ToLower(getenv("CACHE_BACKEND", "memory")),
		RedisAddr:      getenv("REDIS_ADDR", "localhost:6379"),
		CacheNamespace: getenv("CACHE_NAMESPACE", "tiles"),
		CacheTTL:       getduration("CACHE_TTL", 24*time.Hour),
		CacheOpTimeout: getduration("CACHE_OP_TIMEOUT", 250*time.Millisecond),
		MemSweepEvery:  getduration("CACHE_SWEEP_INTERVAL", time.Minute),

		ProbeTimeout:  getduration("PROBE_TIMEOUT", 5*time.Second),
		RenderTimeout: getduration("RENDER_TIMEOUT", 30*time.Second),

		ColormapResolution: res,
		DefaultResampling:  getenv("DEFAULT_RESAMPLING", "bilinear"),
		DatasetRanges: parseRangeMap(getenv("DATASET_RANGES",
			"sst=32:95,chlorophyll=0.01:20,salinity=28:37.5,bathymetry=-5000:0")),

		Invalidation: InvalidationCfg{
			Enabled: getbool("INVALIDATION_ENABLED", false),
			Topic:   getenv("KAFKA_TOPIC", "dataset-republish"),
			Brokers: getenv("KAFKA_BROKERS", "localhost:9092"),
			GroupID: getenv("KAFKA_GROUP_ID", "tile-invalidator"),
		},
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// parse "sst=32:95,chlorophyll=0.01:20" into map
func parseRangeMap(s string) map[string]Range {
	out := map[string]Range{}
	s = strings.TrimSpace(s)
	if s == "" {
		return out
	}
	for p := range strings.SplitSeq(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		k := strings.TrimSpace(kv[0])
		mm := strings.SplitN(kv[1], ":", 2)
		if k == "" || len(mm) != 2 {
			continue
		}
		lo, err1 := strconv.ParseFloat(strings.TrimSpace(mm[0]), 64)
		hi, err2 := strconv.ParseFloat(strings.TrimSpace(mm[1]), 64)
		if err1 != nil || err2 != nil || lo >= hi {
			continue
		}
		out[k] = Range{Min: lo, Max: hi}
	}
	return out
}
