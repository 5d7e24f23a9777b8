package bqstore_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/illmade-knight/go-bqbridge/pkg/bqstore"
	"github.com/illmade-knight/go-bqbridge/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockTableWriter is a configurable TableWriter for unit tests. The *Fn
// fields override the default succeed-with-existing-table behavior.
type MockTableWriter struct {
	mu sync.Mutex

	existsCalls int
	loadCalls   int
	insertCalls int

	loadedRows   [][]types.TableRow
	insertedRows [][]types.TableRow

	TableExistsFn  func(ctx context.Context, tableID string) (bool, error)
	LoadFn         func(ctx context.Context, tableID string, rows []types.TableRow) error
	StreamInsertFn func(ctx context.Context, tableID string, rows []types.TableRow) ([]bqstore.RowError, error)
}

func (m *MockTableWriter) TableExists(ctx context.Context, tableID string) (bool, error) {
	m.mu.Lock()
	m.existsCalls++
	m.mu.Unlock()
	if m.TableExistsFn != nil {
		return m.TableExistsFn(ctx, tableID)
	}
	return true, nil
}

func (m *MockTableWriter) LoadAutoSchema(ctx context.Context, tableID string, rows []types.TableRow) error {
	m.mu.Lock()
	m.loadCalls++
	m.loadedRows = append(m.loadedRows, rows)
	m.mu.Unlock()
	if m.LoadFn != nil {
		return m.LoadFn(ctx, tableID, rows)
	}
	return nil
}

func (m *MockTableWriter) StreamInsert(ctx context.Context, tableID string, rows []types.TableRow) ([]bqstore.RowError, error) {
	m.mu.Lock()
	m.insertCalls++
	m.insertedRows = append(m.insertedRows, rows)
	m.mu.Unlock()
	if m.StreamInsertFn != nil {
		return m.StreamInsertFn(ctx, tableID, rows)
	}
	return nil, nil
}

func (m *MockTableWriter) Counts() (exists, load, insert int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.existsCalls, m.loadCalls, m.insertCalls
}

func rows(n int) []types.TableRow {
	out := make([]types.TableRow, n)
	for i := range out {
		out[i] = types.TableRow{"id": float64(i)}
	}
	return out
}

func TestLoader_EmptyBatchIsNoOp(t *testing.T) {
	writer := &MockTableWriter{}
	loader := bqstore.NewLoader(writer, zerolog.Nop())

	errs := loader.EnsureAndWrite(context.Background(), "orders", nil)

	assert.Empty(t, errs)
	exists, load, insert := writer.Counts()
	assert.Zero(t, exists+load+insert, "no warehouse call for an empty batch")
}

func TestLoader_NilWriterReportsConfigurationError(t *testing.T) {
	loader := bqstore.NewLoader(nil, zerolog.Nop())

	errs := loader.EnsureAndWrite(context.Background(), "orders", rows(1))

	require.Len(t, errs, 1)
	assert.Equal(t, bqstore.ErrNoWriter, errs[0])
}

func TestLoader_MissingTableUsesAutodetectLoadOnly(t *testing.T) {
	writer := &MockTableWriter{
		TableExistsFn: func(ctx context.Context, tableID string) (bool, error) { return false, nil },
	}
	loader := bqstore.NewLoader(writer, zerolog.Nop())

	errs := loader.EnsureAndWrite(context.Background(), "fresh", rows(3))

	assert.Empty(t, errs)
	_, load, insert := writer.Counts()
	assert.Equal(t, 1, load, "autodetect load path invoked exactly once")
	assert.Zero(t, insert, "the same rows must not also be stream-inserted")
	require.Len(t, writer.loadedRows, 1)
	assert.Len(t, writer.loadedRows[0], 3)
}

func TestLoader_ExistingTableStreamInserts(t *testing.T) {
	writer := &MockTableWriter{}
	loader := bqstore.NewLoader(writer, zerolog.Nop())

	errs := loader.EnsureAndWrite(context.Background(), "orders", rows(2))

	assert.Empty(t, errs)
	_, load, insert := writer.Counts()
	assert.Zero(t, load)
	assert.Equal(t, 1, insert)
}

func TestLoader_ExistenceCachedAfterFirstWrite(t *testing.T) {
	writer := &MockTableWriter{
		TableExistsFn: func(ctx context.Context, tableID string) (bool, error) { return false, nil },
	}
	loader := bqstore.NewLoader(writer, zerolog.Nop())

	require.Empty(t, loader.EnsureAndWrite(context.Background(), "t", rows(1)))
	require.Empty(t, loader.EnsureAndWrite(context.Background(), "t", rows(1)))

	exists, load, insert := writer.Counts()
	assert.Equal(t, 1, exists, "existence checked once per process")
	assert.Equal(t, 1, load, "creation happens on the first write only")
	assert.Equal(t, 1, insert, "later batches stream into the now-known table")
}

func TestLoader_RowErrorsWrappedPerRow(t *testing.T) {
	writer := &MockTableWriter{
		StreamInsertFn: func(ctx context.Context, tableID string, rows []types.TableRow) ([]bqstore.RowError, error) {
			return []bqstore.RowError{
				{RowIndex: 0, Detail: "no such field: bogus"},
				{RowIndex: 2, Detail: "invalid value"},
			}, nil
		},
	}
	loader := bqstore.NewLoader(writer, zerolog.Nop())

	errs := loader.EnsureAndWrite(context.Background(), "orders", rows(3))

	require.Len(t, errs, 2)
	assert.Contains(t, errs[0], "row 0")
	assert.Contains(t, errs[0], "no such field: bogus")
	assert.Contains(t, errs[1], "row 2")
}

func TestLoader_TransportFailuresBecomeSingleDescription(t *testing.T) {
	t.Run("existence check", func(t *testing.T) {
		writer := &MockTableWriter{
			TableExistsFn: func(ctx context.Context, tableID string) (bool, error) {
				return false, errors.New("connection refused")
			},
		}
		loader := bqstore.NewLoader(writer, zerolog.Nop())
		errs := loader.EnsureAndWrite(context.Background(), "t", rows(1))
		require.Len(t, errs, 1)
		assert.Contains(t, errs[0], "connection refused")
	})

	t.Run("load job", func(t *testing.T) {
		writer := &MockTableWriter{
			TableExistsFn: func(ctx context.Context, tableID string) (bool, error) { return false, nil },
			LoadFn: func(ctx context.Context, tableID string, rows []types.TableRow) error {
				return errors.New("quota exceeded")
			},
		}
		loader := bqstore.NewLoader(writer, zerolog.Nop())
		errs := loader.EnsureAndWrite(context.Background(), "t", rows(1))
		require.Len(t, errs, 1)
		assert.Contains(t, errs[0], "quota exceeded")
	})

	t.Run("stream insert", func(t *testing.T) {
		writer := &MockTableWriter{
			StreamInsertFn: func(ctx context.Context, tableID string, rows []types.TableRow) ([]bqstore.RowError, error) {
				return nil, errors.New("deadline exceeded")
			},
		}
		loader := bqstore.NewLoader(writer, zerolog.Nop())
		errs := loader.EnsureAndWrite(context.Background(), "t", rows(1))
		require.Len(t, errs, 1)
		assert.Contains(t, errs[0], "deadline exceeded")
	})
}

func TestLoader_FailedLoadDoesNotPoisonCache(t *testing.T) {
	attempts := 0
	writer := &MockTableWriter{
		TableExistsFn: func(ctx context.Context, tableID string) (bool, error) { return false, nil },
		LoadFn: func(ctx context.Context, tableID string, rows []types.TableRow) error {
			attempts++
			if attempts == 1 {
				return errors.New("transient")
			}
			return nil
		},
	}
	loader := bqstore.NewLoader(writer, zerolog.Nop())

	require.NotEmpty(t, loader.EnsureAndWrite(context.Background(), "t", rows(1)))
	require.Empty(t, loader.EnsureAndWrite(context.Background(), "t", rows(1)))

	_, load, _ := writer.Counts()
	assert.Equal(t, 2, load, "a failed creation is retried on the next batch")
}
