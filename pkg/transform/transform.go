// Package transform flattens decoded messages into warehouse rows.
package transform

import (
	"encoding/json"
	"time"

	"github.com/illmade-knight/go-bqbridge/pkg/types"
)

// TimestampColumn is injected into every row with the wall-clock time of
// the transformation, as float seconds since the epoch.
const TimestampColumn = "processing_timestamp"

// Transform reshapes a decoded message into a flat row. Fields named in
// exclude (the routing fields) are dropped. Scalars are copied; objects
// are flattened one level with outer_inner column names; anything deeper,
// and every array, is stored as its JSON text. The operation is total.
func Transform(msg types.RawMessage, exclude []string, now func() time.Time) types.TableRow {
	skip := make(map[string]struct{}, len(exclude))
	for _, f := range exclude {
		skip[f] = struct{}{}
	}

	row := make(types.TableRow, len(msg)+1)
	for key, value := range msg {
		if _, excluded := skip[key]; excluded {
			continue
		}
		switch value.Kind {
		case types.KindNull, types.KindBool, types.KindNumber, types.KindString:
			row[key] = value.Scalar()
		case types.KindObject:
			for nestedKey, nested := range value.Obj {
				column := key + "_" + nestedKey
				if nested.IsScalar() {
					row[column] = nested.Scalar()
				} else {
					row[column] = serialize(nested)
				}
			}
		case types.KindArray:
			row[key] = serialize(value)
		}
	}

	ts := now()
	row[TimestampColumn] = float64(ts.UnixNano()) / float64(time.Second)
	return row
}

// serialize renders a composite value as canonical JSON text.
func serialize(v types.Value) string {
	b, err := json.Marshal(v)
	if err != nil {
		// Unreachable for values produced by DecodeRawMessage.
		return ""
	}
	return string(b)
}
