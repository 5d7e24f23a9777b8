// Package pipeline drives the consume, transform, batch, load and
// acknowledge cycle for one invocation.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/illmade-knight/go-bqbridge/pkg/buffer"
	"github.com/illmade-knight/go-bqbridge/pkg/router"
	"github.com/illmade-knight/go-bqbridge/pkg/transform"
	"github.com/illmade-knight/go-bqbridge/pkg/types"
	"github.com/rs/zerolog"
)

// DefaultMaxMessages bounds one invocation when the trigger supplies no
// explicit message count.
const DefaultMaxMessages = 10000

// QueueConsumer is the queue collaborator: a pull-mode fetch where a nil
// message signals an empty queue, with ack/nack handled through the
// closures on each returned message.
type QueueConsumer interface {
	FetchOne(ctx context.Context) (*types.ConsumedMessage, error)
}

// BatchLoader writes one table's batch, returning accumulated error
// descriptions instead of an error so a bad batch never aborts the loop.
type BatchLoader interface {
	EnsureAndWrite(ctx context.Context, tableID string, rows []types.TableRow) []string
}

// Config holds the pipeline's tuning knobs.
type Config struct {
	// BatchSize is the per-table flush threshold.
	BatchSize int
	// MaxMessages caps one invocation when the caller passes no limit.
	MaxMessages int
}

// ProcessingResult summarizes one invocation. It is always produced, even
// when the invocation aborted early on a transport failure.
type ProcessingResult struct {
	MessagesProcessed int      `json:"messages_processed"`
	TablesUpdated     []string `json:"tables_updated"`
	Errors            []string `json:"errors"`
	DurationSeconds   float64  `json:"duration_seconds"`
	MessagesPerSecond float64  `json:"messages_per_second"`
}

// Pipeline owns one drive loop over injected collaborators. It has no
// internal concurrency: messages are fetched and processed strictly one at
// a time, with at most one loader write in flight.
type Pipeline struct {
	consumer QueueConsumer
	loader   BatchLoader
	config   Config
	logger   zerolog.Logger
	now      func() time.Time
}

// NewPipeline creates a pipeline over the given collaborators.
func NewPipeline(consumer QueueConsumer, loader BatchLoader, config Config, logger zerolog.Logger) (*Pipeline, error) {
	if consumer == nil {
		return nil, fmt.Errorf("queue consumer cannot be nil")
	}
	if loader == nil {
		return nil, fmt.Errorf("batch loader cannot be nil")
	}
	if config.BatchSize <= 0 {
		config.BatchSize = buffer.DefaultBatchSize
	}
	if config.MaxMessages <= 0 {
		config.MaxMessages = DefaultMaxMessages
	}
	return &Pipeline{
		consumer: consumer,
		loader:   loader,
		config:   config,
		logger:   logger.With().Str("component", "Pipeline").Logger(),
		now:      time.Now,
	}, nil
}

// WithClock replaces the wall clock used for processing timestamps.
// Intended for tests.
func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	p.now = now
	return p
}

// Run drains up to maxMessages messages (the configured cap when
// maxMessages <= 0) and returns the invocation summary. A message is
// acknowledged only after the batch holding its row has been written;
// batches that fail to load are nacked back to the queue with requeue.
func (p *Pipeline) Run(ctx context.Context, maxMessages int) *ProcessingResult {
	if maxMessages <= 0 {
		maxMessages = p.config.MaxMessages
	}
	start := p.now()
	result := &ProcessingResult{
		TablesUpdated: []string{},
		Errors:        []string{},
	}
	touched := make(map[string]struct{})
	buf := buffer.NewTableBuffer(p.config.BatchSize, p.logger)

	p.logger.Info().Int("max_messages", maxMessages).Msg("Starting to process messages.")

	for fetched := 0; fetched < maxMessages; fetched++ {
		if ctx.Err() != nil {
			p.logger.Warn().Msg("Invocation cancelled, stopping fetch loop.")
			break
		}

		msg, err := p.consumer.FetchOne(ctx)
		if err != nil {
			// Transport failure: abort the remainder of this invocation but
			// still flush and report what was gathered.
			p.logger.Error().Err(err).Msg("Queue fetch failed, aborting fetch loop.")
			result.Errors = append(result.Errors, fmt.Sprintf("Error fetching from queue: %v", err))
			break
		}
		if msg == nil {
			p.logger.Info().Msg("No more messages in queue.")
			break
		}

		raw, err := types.DecodeRawMessage(msg.Payload)
		if err != nil {
			// A single malformed message is isolated: record, requeue, move on.
			p.logger.Error().Err(err).Str("msg_id", msg.ID).Msg("Failed to decode message, Nacking.")
			result.Errors = append(result.Errors, fmt.Sprintf("Error processing message: %v", err))
			if msg.Nack != nil {
				msg.Nack()
			}
			continue
		}

		tableID := router.Route(raw)
		row := transform.Transform(raw, router.RoutingFields, p.now)
		buf.Append(tableID, row, *msg)

		if buf.ShouldFlush(tableID) {
			p.flush(ctx, tableID, buf.Drain(tableID), result, touched)
		}
	}

	// Flush every non-empty remaining buffer.
	for _, tableID := range buf.Tables() {
		p.flush(ctx, tableID, buf.Drain(tableID), result, touched)
	}

	result.TablesUpdated = sortedKeys(touched)
	result.DurationSeconds = p.now().Sub(start).Seconds()
	if result.DurationSeconds > 0 && result.MessagesProcessed > 0 {
		result.MessagesPerSecond = float64(result.MessagesProcessed) / result.DurationSeconds
	}

	p.logger.Info().
		Int("messages_processed", result.MessagesProcessed).
		Int("table_count", len(result.TablesUpdated)).
		Int("error_count", len(result.Errors)).
		Float64("duration_seconds", result.DurationSeconds).
		Msg("Invocation complete.")
	return result
}

// flush writes one table's batch and settles its source messages: ack all
// on success, nack all with requeue on failure.
func (p *Pipeline) flush(ctx context.Context, tableID string, batch buffer.Batch, result *ProcessingResult, touched map[string]struct{}) {
	if len(batch.Rows) == 0 {
		return
	}

	errs := p.loader.EnsureAndWrite(ctx, tableID, batch.Rows)
	if len(errs) > 0 {
		p.logger.Error().Str("table_id", tableID).Int("batch_size", len(batch.Rows)).Msg("Failed to load batch, Nacking messages.")
		result.Errors = append(result.Errors, errs...)
		for _, msg := range batch.Messages {
			if msg.Nack != nil {
				msg.Nack()
			}
		}
		return
	}

	p.logger.Info().Str("table_id", tableID).Int("batch_size", len(batch.Rows)).Msg("Loaded batch, Acking messages.")
	result.MessagesProcessed += len(batch.Messages)
	touched[tableID] = struct{}{}
	for _, msg := range batch.Messages {
		if msg.Ack != nil {
			msg.Ack()
		}
	}
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
