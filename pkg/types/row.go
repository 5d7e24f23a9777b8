package types

import (
	"cloud.google.com/go/bigquery"

	"github.com/google/uuid"
)

// TableRow is one flat row bound for a warehouse table. Every value is a
// scalar (string, float64, bool) or nil; nested containers never survive
// transformation.
type TableRow map[string]bigquery.Value

// Save implements bigquery.ValueSaver so rows can be streamed directly.
// The insert ID is random: redelivered messages produce duplicate rows
// rather than being deduplicated, per the at-least-once contract.
func (r TableRow) Save() (map[string]bigquery.Value, string, error) {
	return r, uuid.NewString(), nil
}
