package buffer_test

import (
	"strconv"
	"testing"

	"github.com/illmade-knight/go-bqbridge/pkg/buffer"
	"github.com/illmade-knight/go-bqbridge/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRow(i int) types.TableRow {
	return types.TableRow{"id": float64(i)}
}

func testMsg(i int) types.ConsumedMessage {
	return types.ConsumedMessage{ID: strconv.Itoa(i)}
}

func TestTableBuffer_ThresholdTriggersExactlyAtSize(t *testing.T) {
	b := buffer.NewTableBuffer(3, zerolog.Nop())

	for i := 0; i < 2; i++ {
		b.Append("orders", testRow(i), testMsg(i))
		assert.False(t, b.ShouldFlush("orders"))
	}
	b.Append("orders", testRow(2), testMsg(2))
	assert.True(t, b.ShouldFlush("orders"))

	batch := b.Drain("orders")
	require.Len(t, batch.Rows, 3)
	require.Len(t, batch.Messages, 3)

	// Buffer for the table is empty immediately after the drain.
	assert.Equal(t, 0, b.Len("orders"))
	assert.False(t, b.ShouldFlush("orders"))
}

func TestTableBuffer_PreservesArrivalOrder(t *testing.T) {
	b := buffer.NewTableBuffer(10, zerolog.Nop())
	for i := 0; i < 5; i++ {
		b.Append("t", testRow(i), testMsg(i))
	}

	batch := b.Drain("t")
	for i, row := range batch.Rows {
		assert.Equal(t, float64(i), row["id"])
		assert.Equal(t, strconv.Itoa(i), batch.Messages[i].ID)
	}
}

func TestTableBuffer_TablesAreIndependent(t *testing.T) {
	b := buffer.NewTableBuffer(2, zerolog.Nop())
	b.Append("a", testRow(0), testMsg(0))
	b.Append("b", testRow(1), testMsg(1))
	b.Append("a", testRow(2), testMsg(2))

	assert.True(t, b.ShouldFlush("a"))
	assert.False(t, b.ShouldFlush("b"))
	assert.Equal(t, []string{"a", "b"}, b.Tables())

	batch := b.Drain("a")
	assert.Len(t, batch.Rows, 2)
	assert.Equal(t, []string{"b"}, b.Tables())
}

func TestTableBuffer_DrainUnknownTable(t *testing.T) {
	b := buffer.NewTableBuffer(2, zerolog.Nop())
	batch := b.Drain("missing")
	assert.Empty(t, batch.Rows)
	assert.Empty(t, batch.Messages)
}

func TestTableBuffer_InvalidThresholdDefaults(t *testing.T) {
	b := buffer.NewTableBuffer(0, zerolog.Nop())
	for i := 0; i < buffer.DefaultBatchSize-1; i++ {
		b.Append("t", testRow(i), testMsg(i))
	}
	assert.False(t, b.ShouldFlush("t"))
	b.Append("t", testRow(99), testMsg(99))
	assert.True(t, b.ShouldFlush("t"))
}
