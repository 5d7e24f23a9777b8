// Package bqstore writes batches of flat rows into BigQuery tables,
// provisioning missing tables on first write.
package bqstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/illmade-knight/go-bqbridge/pkg/types"
	"github.com/rs/zerolog"
)

// ErrNoWriter is the fixed error description returned per write when the
// warehouse client was never initialized.
const ErrNoWriter = "BigQuery client not initialized"

// Loader decides, per batch, between table auto-provisioning and a
// streaming insert. Failures never propagate as errors: each write returns
// human-readable error descriptions for the caller to accumulate, so a bad
// batch cannot abort the surrounding drive loop.
type Loader struct {
	writer TableWriter
	logger zerolog.Logger

	// known caches tables whose existence has been confirmed, so one
	// process never re-checks. The first-writer race across separate
	// processes creating the same table concurrently is accepted.
	mu    sync.Mutex
	known map[string]struct{}
}

// NewLoader creates a Loader over the given writer. A nil writer is
// tolerated: every write then reports a configuration error instead of
// panicking, mirroring a process that started without warehouse access.
func NewLoader(writer TableWriter, logger zerolog.Logger) *Loader {
	return &Loader{
		writer: writer,
		logger: logger.With().Str("component", "Loader").Logger(),
		known:  make(map[string]struct{}),
	}
}

// EnsureAndWrite writes rows to tableID, creating the table with an
// inferred schema when absent. The returned slice is empty on success;
// otherwise it holds one description per row-level failure, or a single
// description for a transport or configuration failure.
func (l *Loader) EnsureAndWrite(ctx context.Context, tableID string, rows []types.TableRow) []string {
	if len(rows) == 0 {
		l.logger.Debug().Str("table_id", tableID).Msg("No rows to write.")
		return nil
	}
	if l.writer == nil {
		return []string{ErrNoWriter}
	}

	exists, err := l.tableKnown(ctx, tableID)
	if err != nil {
		l.logger.Error().Err(err).Str("table_id", tableID).Msg("Failed to check table existence.")
		return []string{fmt.Sprintf("Error writing to BigQuery: %v", err)}
	}

	if !exists {
		l.logger.Warn().Str("table_id", tableID).Msg("Table not found. Creating it via autodetect load.")
		if err := l.writer.LoadAutoSchema(ctx, tableID, rows); err != nil {
			l.logger.Error().Err(err).Str("table_id", tableID).Msg("Autodetect load failed.")
			return []string{fmt.Sprintf("Error writing to BigQuery: %v", err)}
		}
		// The load both created the table and wrote the batch; the same
		// rows are not additionally stream-inserted.
		l.markKnown(tableID)
		return nil
	}

	rowErrs, err := l.writer.StreamInsert(ctx, tableID, rows)
	if err != nil {
		l.logger.Error().Err(err).Str("table_id", tableID).Int("batch_size", len(rows)).Msg("Stream insert failed.")
		return []string{fmt.Sprintf("Error writing to BigQuery: %v", err)}
	}
	if len(rowErrs) > 0 {
		descriptions := make([]string, len(rowErrs))
		for i, rowErr := range rowErrs {
			descriptions[i] = fmt.Sprintf("Error: row %d: %s", rowErr.RowIndex, rowErr.Detail)
		}
		l.logger.Error().Str("table_id", tableID).Int("error_count", len(rowErrs)).Msg("Stream insert reported row-level errors.")
		return descriptions
	}

	l.logger.Info().Str("table_id", tableID).Int("batch_size", len(rows)).Msg("Batch written.")
	return nil
}

// tableKnown consults the cache before asking the warehouse.
func (l *Loader) tableKnown(ctx context.Context, tableID string) (bool, error) {
	l.mu.Lock()
	_, cached := l.known[tableID]
	l.mu.Unlock()
	if cached {
		return true, nil
	}

	exists, err := l.writer.TableExists(ctx, tableID)
	if err != nil {
		return false, err
	}
	if exists {
		l.markKnown(tableID)
	}
	return exists, nil
}

func (l *Loader) markKnown(tableID string) {
	l.mu.Lock()
	l.known[tableID] = struct{}{}
	l.mu.Unlock()
}
