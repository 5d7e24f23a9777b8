// Package router derives the destination table for a decoded message.
package router

import (
	"strconv"
	"strings"

	"github.com/illmade-knight/go-bqbridge/pkg/types"
)

// DefaultTable receives every message that carries no routing field.
const DefaultTable = "default_table"

// RoutingFields are inspected in priority order; the first field holding a
// non-empty scalar wins. The transformer excludes these fields from the
// produced row.
var RoutingFields = []string{"EntityType", "Table", "TableName"}

// Route returns the normalized destination table for msg. Routing is total
// and deterministic: any mapping input yields a valid table identifier.
func Route(msg types.RawMessage) string {
	for _, field := range RoutingFields {
		v, ok := msg[field]
		if !ok {
			continue
		}
		if s := candidateString(v); s != "" {
			return NormalizeTableID(s)
		}
	}
	return DefaultTable
}

// candidateString renders a routing field value, or "" when the field
// should be treated as absent. Zero numbers, false, null, empty strings
// and non-scalar values all fall through to the next candidate.
func candidateString(v types.Value) string {
	switch v.Kind {
	case types.KindString:
		return v.Str
	case types.KindNumber:
		if v.Num == 0 {
			return ""
		}
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case types.KindBool:
		if !v.Bool {
			return ""
		}
		return "true"
	default:
		return ""
	}
}

// NormalizeTableID maps an arbitrary name onto the warehouse's naming
// rules: every character outside [a-zA-Z0-9] becomes an underscore, and
// the result is lowercased.
func NormalizeTableID(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
