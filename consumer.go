package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type TextDetector interface {
	DetectText(ctx context.Context, ref ObjectRef) ([]Detection, error)
}

type MessageQueue interface {
	DequeueBatch(ctx context.Context, maxCount, waitSeconds int32) ([]ReceivedMessage, error)
	Acknowledge(ctx context.Context, msg ReceivedMessage) error
}

type ConsumerConfig struct {
	MaxMessages    int32
	WaitSeconds    int32
	TextConfidence float64

	// number of batch cycles per Run, 0 means no limit
	Batches int
	// end Run after the batch that carried the sentinel
	UntilSentinel bool

	DedupRetention time.Duration
}

func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		MaxMessages:    10,
		WaitSeconds:    5,
		TextConfidence: 90,
		Batches:        1,
		DedupRetention: 7 * 24 * time.Hour,
	}
}

func (c ConsumerConfig) validate() error {
	switch {
	case c.MaxMessages < 1 || c.MaxMessages > maxReceiveBatch:
		return fmt.Errorf("max messages must be between 1 and %d, got %d", maxReceiveBatch, c.MaxMessages)
	case c.WaitSeconds < 0 || c.WaitSeconds > maxWaitSeconds:
		return fmt.Errorf("wait seconds must be between 0 and %d, got %d", maxWaitSeconds, c.WaitSeconds)
	case c.Batches < 0:
		return fmt.Errorf("batches must not be negative, got %d", c.Batches)
	case c.Batches == 0 && !c.UntilSentinel:
		return errors.New("unbounded batches require until-sentinel")
	}
	return nil
}

type BatchResult struct {
	Received     int
	Processed    int
	Duplicates   int
	Malformed    int
	Failed       int
	Appended     int
	Acknowledged int
	AckFailures  int
	SentinelSeen bool
}

func (r *BatchResult) add(o BatchResult) {
	r.Received += o.Received
	r.Processed += o.Processed
	r.Duplicates += o.Duplicates
	r.Malformed += o.Malformed
	r.Failed += o.Failed
	r.Appended += o.Appended
	r.Acknowledged += o.Acknowledged
	r.AckFailures += o.AckFailures
	r.SentinelSeen = r.SentinelSeen || o.SentinelSeen
}

type RunResult struct {
	BatchResult
	Batches int
}

type outcome int

const (
	outcomeProcessed outcome = iota
	outcomeSentinel
	outcomeDuplicate
	outcomeMalformed
	outcomeFailed
)

// Consumer drains the queue, reads text off each queued image and reports
// the confident lines. Every received message is deleted, whatever happened
// to it, so a poison message can't stall the queue.
type Consumer struct {
	config     ConsumerConfig
	queue      MessageQueue
	classifier TextDetector
	report     ReportSink
	dedupStore DeduplicationStore
	now        func() time.Time
}

// dedupStore may be nil.
func NewConsumer(config ConsumerConfig, queue MessageQueue, classifier TextDetector, report ReportSink, dedupStore DeduplicationStore) (*Consumer, error) {
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid consumer config: %w", err)
	}
	return &Consumer{
		config:     config,
		queue:      queue,
		classifier: classifier,
		report:     report,
		dedupStore: dedupStore,
		now:        time.Now,
	}, nil
}

func (c *Consumer) Run(ctx context.Context) (RunResult, error) {
	var total RunResult

	if err := c.report.BeginRun(ctx, c.now()); err != nil {
		return total, fmt.Errorf("begin report run: %w", err)
	}
	defer func() {
		// the footer is written even when the run is cancelled
		if err := c.report.EndRun(context.WithoutCancel(ctx)); err != nil {
			log.Error().Err(err).Msg("Failed to finish report run")
		}
	}()

	if c.dedupStore != nil && c.config.DedupRetention > 0 {
		if err := c.dedupStore.Cleanup(ctx, c.config.DedupRetention); err != nil {
			log.Error().Err(err).Msg("Failed to cleanup deduplication store")
		} else {
			log.Debug().Msg("Cleaned up old deduplication entries")
		}
	}

	for c.config.Batches == 0 || total.Batches < c.config.Batches {
		if ctx.Err() != nil {
			break
		}

		res, err := c.RunBatch(ctx)
		total.add(res)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				break
			}
			return total, err
		}
		total.Batches++

		if res.SentinelSeen && c.config.UntilSentinel {
			log.Info().Int("batches", total.Batches).Msg("Sentinel observed, stopping")
			break
		}
	}

	log.Info().
		Int("batches", total.Batches).
		Int("received", total.Received).
		Int("appended", total.Appended).
		Int("failed", total.Failed+total.Malformed).
		Msg("Consumer run complete")
	return total, nil
}

// RunBatch performs one receive cycle. Only a receive fault is returned;
// everything that goes wrong with a single message is logged and counted.
func (c *Consumer) RunBatch(ctx context.Context) (BatchResult, error) {
	var result BatchResult

	messages, err := c.queue.DequeueBatch(ctx, c.config.MaxMessages, c.config.WaitSeconds)
	if err != nil {
		return result, err
	}
	result.Received = len(messages)
	log.Debug().Int("count", len(messages)).Msg("Received messages from queue")

	for _, msg := range messages {
		appended, out := c.handleMessage(ctx, msg)
		result.Appended += appended

		switch out {
		case outcomeProcessed:
			result.Processed++
		case outcomeSentinel:
			result.SentinelSeen = true
		case outcomeDuplicate:
			result.Duplicates++
		case outcomeMalformed:
			result.Malformed++
		case outcomeFailed:
			result.Failed++
		}

		if err := c.queue.Acknowledge(ctx, msg); err != nil {
			result.AckFailures++
			continue
		}
		result.Acknowledged++
	}

	return result, nil
}

func (c *Consumer) handleMessage(ctx context.Context, msg ReceivedMessage) (appended int, out outcome) {
	ml := log.With().Str("message_id", msg.MessageID).Logger()

	// a panic fails this message only
	defer func() {
		if r := recover(); r != nil {
			ml.Error().Interface("panic", r).Msg("Recovered from panic while handling message")
			out = outcomeFailed
		}
	}()

	item, err := DecodeWorkItem(msg.Message)
	if err != nil {
		ml.Warn().Err(err).Str("body", msg.Body).Msg("Skipping malformed message")
		return 0, outcomeMalformed
	}

	payload, ok := item.(Payload)
	if !ok {
		ml.Info().Msg("Sentinel received, nothing to classify")
		return 0, outcomeSentinel
	}

	if c.dedupStore != nil {
		processed, err := c.dedupStore.IsProcessed(ctx, msg.MessageID)
		if err != nil {
			ml.Error().Err(err).Msg("Failed to check if message was processed")
		} else if processed {
			ml.Info().Msg("Duplicate message detected, skipping")
			return 0, outcomeDuplicate
		}
	}

	return c.processPayload(ctx, ml, msg.MessageID, payload)
}

func (c *Consumer) processPayload(ctx context.Context, ml zerolog.Logger, messageID string, payload Payload) (int, outcome) {
	ref := ObjectRef{Bucket: payload.Bucket, Key: payload.Key}
	ml = ml.With().Str("image", ref.String()).Logger()

	startTime := time.Now()
	defer func() {
		ml.Debug().Dur("duration", time.Since(startTime)).Msg("Image processing complete")
	}()

	detections, err := c.classifier.DetectText(ctx, ref)
	if err != nil {
		ml.Error().Err(err).Msg("Text detection failed")
		return 0, outcomeFailed
	}

	appended := 0
	for _, d := range detections {
		if d.Kind != KindLine || d.Confidence <= c.config.TextConfidence {
			continue
		}
		err := c.report.Append(ctx, ReportEntry{
			MessageID:  messageID,
			SourceKey:  payload.Key,
			Bucket:     payload.Bucket,
			Text:       d.Label,
			Confidence: d.Confidence,
		})
		if err != nil {
			ml.Error().Err(err).Msg("Failed to append to report")
			return appended, outcomeFailed
		}
		appended++
	}

	if c.dedupStore != nil {
		if err := c.dedupStore.MarkProcessed(ctx, messageID, payload.Key); err != nil {
			ml.Error().Err(err).Msg("Failed to mark message as processed")
		}
	}

	ml.Info().Int("lines", appended).Msg("Image processed")
	return appended, outcomeProcessed
}
