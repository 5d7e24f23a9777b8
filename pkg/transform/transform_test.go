package transform_test

import (
	"testing"
	"time"

	"github.com/illmade-knight/go-bqbridge/pkg/router"
	"github.com/illmade-knight/go-bqbridge/pkg/transform"
	"github.com/illmade-knight/go-bqbridge/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedTime = time.Date(2024, 6, 1, 12, 0, 0, 500_000_000, time.UTC)

func fixedNow() time.Time { return fixedTime }

func TestTransform_ScalarsCopied(t *testing.T) {
	msg := types.RawMessage{
		"id":     types.NumberValue(7),
		"name":   types.StringValue("widget"),
		"active": types.BoolValue(true),
		"note":   types.Null(),
	}

	row := transform.Transform(msg, nil, fixedNow)

	assert.Equal(t, 7.0, row["id"])
	assert.Equal(t, "widget", row["name"])
	assert.Equal(t, true, row["active"])
	assert.Nil(t, row["note"])
	assert.Contains(t, row, "note")
}

func TestTransform_FlattensOneLevel(t *testing.T) {
	msg := types.RawMessage{
		"Data": types.ObjectValue(map[string]types.Value{
			"x": types.NumberValue(1),
			"y": types.StringValue("a"),
		}),
	}

	row := transform.Transform(msg, nil, fixedNow)

	assert.Equal(t, 1.0, row["Data_x"])
	assert.Equal(t, "a", row["Data_y"])
	assert.NotContains(t, row, "Data")

	ts, ok := row[transform.TimestampColumn].(float64)
	require.True(t, ok, "timestamp column must be a float")
	assert.InDelta(t, float64(fixedTime.Unix())+0.5, ts, 0.001)
}

func TestTransform_DeepStructuresSerialized(t *testing.T) {
	msg := types.RawMessage{
		"Items": types.ArrayValue(types.NumberValue(1), types.NumberValue(2)),
		"Meta": types.ObjectValue(map[string]types.Value{
			"tags": types.ArrayValue(types.StringValue("a")),
			"deep": types.ObjectValue(map[string]types.Value{"k": types.Null()}),
		}),
	}

	row := transform.Transform(msg, nil, fixedNow)

	assert.JSONEq(t, `[1,2]`, row["Items"].(string))
	assert.JSONEq(t, `["a"]`, row["Meta_tags"].(string))
	assert.JSONEq(t, `{"k":null}`, row["Meta_deep"].(string))
}

func TestTransform_ExcludesRoutingFields(t *testing.T) {
	msg := types.RawMessage{
		"EntityType": types.StringValue("Order"),
		"TableName":  types.StringValue("orders"),
		"id":         types.NumberValue(1),
	}

	row := transform.Transform(msg, router.RoutingFields, fixedNow)

	assert.NotContains(t, row, "EntityType")
	assert.NotContains(t, row, "TableName")
	assert.Equal(t, 1.0, row["id"])
}

// Every emitted value must be a flat scalar: string, float64, bool or nil.
func TestTransform_NoNestedContainersSurvive(t *testing.T) {
	payload := []byte(`{
		"a": {"b": {"c": [1,2]}, "d": 5},
		"e": [[true], null],
		"f": "plain",
		"g": {"h": null}
	}`)
	msg, err := types.DecodeRawMessage(payload)
	require.NoError(t, err)

	row := transform.Transform(msg, nil, fixedNow)
	require.NotEmpty(t, row)

	for column, value := range row {
		switch value.(type) {
		case nil, string, float64, bool:
		default:
			t.Fatalf("column %s holds non-scalar value %T", column, value)
		}
	}
}

func TestTransform_EmptyMessageStillStamped(t *testing.T) {
	row := transform.Transform(types.RawMessage{}, router.RoutingFields, fixedNow)
	assert.Len(t, row, 1)
	assert.Contains(t, row, transform.TimestampColumn)
}
