// Package kafkaconsumer runs the consumer group that turns dataset-republish
// events into cache evictions. It never sits on the tile request path.
package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/oceanviz/tilecache/internal/cache"
	"github.com/oceanviz/tilecache/internal/cache/keys"
	"github.com/oceanviz/tilecache/internal/core/observability"
	"github.com/oceanviz/tilecache/internal/invalidation"
)

// CollectionResolver maps (dataset, region) to the upstream collection
// locator the cached keys were derived from.
type CollectionResolver interface {
	Collection(dataset, region string) (string, error)
}

type Consumer struct {
	cfg      Config
	logger   *slog.Logger
	store    cache.Store
	resolver CollectionResolver
	dedupe   *invalidation.Dedupe
}

func New(cfg Config, logger *slog.Logger, store cache.Store, resolver CollectionResolver) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		resolver: resolver,
		dedupe:   invalidation.NewDedupe(cfg.DedupeSize),
	}
}

// consumes republish events from kafka and evicts affected tiles
func (c *Consumer) Start(ctx context.Context) error {
	if c.store == nil || c.resolver == nil {
		return errors.New("kafkaconsumer: missing dependencies (store/resolver)")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	handler := &groupHandler{process: c.ProcessOne}

	c.logger.Info("kafka invalidation consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("kafka invalidation consumer shutting down")
			return nil
		default:
			if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil {
				c.logger.Error("consumer error", "err", err)
				time.Sleep(2 * time.Second)
			}
		}
	}
}

// process a single republish event message
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var ev invalidation.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		observability.IncInvalidation("unknown", "decode_error")
		c.logger.Error("event decode failed",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
		// poison message, ack and move on
		return nil
	}
	if err := ev.Validate(); err != nil {
		observability.IncInvalidation(ev.Op, "invalid")
		c.logger.Error("event rejected", "dataset", ev.Dataset, "region", ev.Region, "err", err)
		return nil
	}

	if c.dedupe.IsStale(ev.Scope(), ev.TS) {
		observability.IncInvalidation(ev.Op, "duplicate")
		c.logger.Debug("stale or duplicate event skipped",
			"dataset", ev.Dataset, "region", ev.Region, "ts", ev.TS)
		return nil
	}

	col, err := c.resolver.Collection(ev.Dataset, ev.Region)
	if err != nil {
		observability.IncInvalidation(ev.Op, "invalid")
		c.logger.Error("collection resolve failed",
			"dataset", ev.Dataset, "region", ev.Region, "err", err)
		return nil
	}

	prefix := keys.CollectionPrefix(col)
	if err := c.store.DeleteByPrefix(ctx, prefix); err != nil {
		observability.IncInvalidation(ev.Op, "store_error")
		// returning the error leaves the offset unmarked for redelivery
		return fmt.Errorf("delete prefix %q: %w", prefix, err)
	}

	c.dedupe.Record(ev.Scope(), ev.TS)
	observability.IncInvalidation(ev.Op, "ok")
	c.logger.Info("collection invalidated",
		"op", ev.Op, "dataset", ev.Dataset, "region", ev.Region, "prefix", prefix)
	return nil
}
