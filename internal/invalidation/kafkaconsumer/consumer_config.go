package kafkaconsumer

import (
	"strings"
	"time"

	"github.com/oceanviz/tilecache/internal/core/config"
)

type Config struct {
	Brokers             []string
	Topic               string
	GroupID             string
	SessionTimeout      time.Duration
	Heartbeat           time.Duration
	RebalanceTimeout    time.Duration
	InitialOffsetOldest bool
	DedupeSize          int
}

// FromApp builds the consumer config from the service configuration.
func FromApp(cfg config.InvalidationCfg) Config {
	return Config{
		Brokers:             splitCSV(cfg.Brokers),
		Topic:               cfg.Topic,
		GroupID:             cfg.GroupID,
		SessionTimeout:      30 * time.Second,
		Heartbeat:           3 * time.Second,
		RebalanceTimeout:    30 * time.Second,
		InitialOffsetOldest: true,
		DedupeSize:          4096,
	}
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
