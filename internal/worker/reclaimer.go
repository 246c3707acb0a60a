package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"cyodesign.app/atelier/common/logger"
	"cyodesign.app/atelier/internal/queue"
)

type RedisReclaimerConfig struct {
	Stream   string
	Group    string
	Consumer string

	// MinIdle is how long a lead message must sit unacknowledged before it
	// is considered abandoned.
	MinIdle  time.Duration
	Interval time.Duration

	// BatchSize bounds the messages claimed per XAUTOCLAIM call.
	BatchSize int64
}

// ReclaimStats summarizes one sweep over the pending list.
type ReclaimStats struct {
	Claimed   int
	Processed int
	Failed    int
	Dropped   int
}

// RedisReclaimer hands lead notifications abandoned by a dead worker to the
// live processor, so every stored lead still produces one studio email.
type RedisReclaimer struct {
	client    *redis.Client
	cfg       RedisReclaimerConfig
	consumer  Consumer
	processor queue.MessageProcessor

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func NewRedisReclaimer(client *redis.Client, cfg RedisReclaimerConfig, consumer Consumer, processor queue.MessageProcessor) *RedisReclaimer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	return &RedisReclaimer{
		client:    client,
		cfg:       cfg,
		consumer:  consumer,
		processor: processor,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Run sweeps every Interval until Stop is called or ctx ends.
func (r *RedisReclaimer) Run(ctx context.Context) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "atelier.worker.reclaimer"})
	defer close(r.stoppedCh)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "lead reclaimer started",
		"interval", r.cfg.Interval,
		"min_idle", r.cfg.MinIdle,
		"stream", r.cfg.Stream)

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			stats, err := r.Sweep(ctx)
			if err != nil {
				slog.ErrorContext(ctx, "lead reclaim sweep failed", "error", err)
			}
			if stats.Claimed > 0 {
				slog.InfoContext(ctx, "reclaimed abandoned lead notifications",
					"claimed", stats.Claimed,
					"processed", stats.Processed,
					"failed", stats.Failed,
					"dropped", stats.Dropped)
			}
		}
	}
}

func (r *RedisReclaimer) Stop() {
	close(r.stopCh)
	<-r.stoppedCh
}

// Sweep claims every message idle for at least MinIdle, walking the pending
// list with the XAUTOCLAIM cursor, and runs each through the processor.
func (r *RedisReclaimer) Sweep(ctx context.Context) (ReclaimStats, error) {
	var stats ReclaimStats

	cursor := "0-0"
	for {
		messages, next, err := r.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   r.cfg.Stream,
			Group:    r.cfg.Group,
			Consumer: r.cfg.Consumer,
			MinIdle:  r.cfg.MinIdle,
			Start:    cursor,
			Count:    r.cfg.BatchSize,
		}).Result()
		if err != nil {
			return stats, fmt.Errorf("xautoclaim (stream=%s): %w", r.cfg.Stream, err)
		}

		for _, raw := range messages {
			stats.Claimed++
			r.reclaim(ctx, raw, &stats)
		}

		if next == "0-0" || next == "" || len(messages) == 0 {
			return stats, nil
		}
		cursor = next
	}
}

func (r *RedisReclaimer) reclaim(ctx context.Context, raw redis.XMessage, stats *ReclaimStats) {
	msg, err := queue.ParseMessage(raw)
	if err != nil {
		ctx = logger.WithLogFields(ctx, logger.LogFields{MessageID: logger.Ptr(raw.ID)})
		slog.ErrorContext(ctx, "abandoned message is not a lead notification, acknowledging",
			"error", err,
			"values", raw.Values)
		_ = r.consumer.Ack(ctx, queue.Message{ID: raw.ID, Raw: raw})
		stats.Dropped++
		return
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		LeadID:         &msg.LeadID,
		ConversationID: &msg.ConversationID,
		MessageID:      &msg.ID,
	})
	slog.InfoContext(ctx, "resuming lead notification",
		"attempt", msg.Attempt,
		"trace_id", msg.TraceID)

	if err := r.processor(ctx, msg); err != nil {
		// The processor owns retry and DLQ routing.
		slog.WarnContext(ctx, "reclaimed lead notification failed", "error", err)
		stats.Failed++
		return
	}
	stats.Processed++
}
