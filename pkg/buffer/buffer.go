// Package buffer accumulates transformed rows per destination table until
// a flush threshold is reached.
package buffer

import (
	"sort"

	"github.com/illmade-knight/go-bqbridge/pkg/types"
	"github.com/rs/zerolog"
)

// DefaultBatchSize is the flush threshold used when none is configured.
const DefaultBatchSize = 100

// Batch is the drained contents for one table: the rows in arrival order
// and the source messages that contributed them. The messages stay
// unacknowledged until the batch is written.
type Batch struct {
	Rows     []types.TableRow
	Messages []types.ConsumedMessage
}

type entry struct {
	rows     []types.TableRow
	messages []types.ConsumedMessage
}

// TableBuffer is an in-memory per-table row buffer. It is owned by the
// single drive loop and is not safe for concurrent use.
type TableBuffer struct {
	threshold int
	tables    map[string]*entry
	logger    zerolog.Logger
}

// NewTableBuffer creates a buffer flushing each table at threshold rows.
func NewTableBuffer(threshold int, logger zerolog.Logger) *TableBuffer {
	if threshold <= 0 {
		logger.Warn().Int("provided_threshold", threshold).Msgf("Batch threshold must be positive, defaulting to %d.", DefaultBatchSize)
		threshold = DefaultBatchSize
	}
	return &TableBuffer{
		threshold: threshold,
		tables:    make(map[string]*entry),
		logger:    logger.With().Str("component", "TableBuffer").Logger(),
	}
}

// Append adds one row, and the message it came from, to a table's batch.
func (b *TableBuffer) Append(tableID string, row types.TableRow, msg types.ConsumedMessage) {
	e, ok := b.tables[tableID]
	if !ok {
		e = &entry{}
		b.tables[tableID] = e
	}
	e.rows = append(e.rows, row)
	e.messages = append(e.messages, msg)
	b.logger.Debug().Str("table_id", tableID).Int("current_size", len(e.rows)).Msg("Appended row to batch.")
}

// ShouldFlush reports whether a table's batch has reached the threshold.
func (b *TableBuffer) ShouldFlush(tableID string) bool {
	return b.Len(tableID) >= b.threshold
}

// Len returns the number of rows currently buffered for a table.
func (b *TableBuffer) Len(tableID string) int {
	if e, ok := b.tables[tableID]; ok {
		return len(e.rows)
	}
	return 0
}

// Drain clears and returns the batch for one table.
func (b *TableBuffer) Drain(tableID string) Batch {
	e, ok := b.tables[tableID]
	if !ok {
		return Batch{}
	}
	delete(b.tables, tableID)
	return Batch{Rows: e.rows, Messages: e.messages}
}

// Tables returns the ids of all tables with buffered rows, sorted so
// drain order is deterministic.
func (b *TableBuffer) Tables() []string {
	ids := make([]string, 0, len(b.tables))
	for id := range b.tables {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
