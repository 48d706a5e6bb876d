// Package schema declares the trip table layout the pipeline reads and
// resolves it against the header of a concrete input file.
//
// Column types are never guessed from content: every required column has a
// declared type, and values that do not parse as that type are reported as
// row-level errors by the reader.
package schema

import (
	"fmt"
	"sort"
	"strings"

	tferrors "github.com/taxiflow/taxiflow/pkg/errors"
)

// Type is the declared type of a column.
type Type string

const (
	TypeTimestamp Type = "timestamp"
	TypeFloat     Type = "float"
)

// DuckDBType returns the SQL type DuckDB uses for t.
func (t Type) DuckDBType() string {
	switch t {
	case TypeTimestamp:
		return "TIMESTAMP"
	case TypeFloat:
		return "DOUBLE"
	default:
		return "VARCHAR"
	}
}

// Canonical column names of the yellow taxi dataset.
const (
	PickupColumn   = "tpep_pickup_datetime"
	DropoffColumn  = "tpep_dropoff_datetime"
	DistanceColumn = "trip_distance"
	AmountColumn   = "total_amount"
)

// Column represents a column's schema.
type Column struct {
	Name     string `json:"name"`
	Type     Type   `json:"type"`
	Nullable bool   `json:"nullable"`
	Position int    `json:"position"`
}

// Schema is an ordered set of declared columns.
type Schema struct {
	Columns []Column `json:"columns"`
}

// Trips returns the declared schema of the four required trip columns.
// Column order is the key order of the sample artifact.
func Trips() *Schema {
	return &Schema{Columns: []Column{
		{Name: PickupColumn, Type: TypeTimestamp, Nullable: true, Position: 0},
		{Name: DropoffColumn, Type: TypeTimestamp, Nullable: true, Position: 1},
		{Name: DistanceColumn, Type: TypeFloat, Nullable: true, Position: 2},
		{Name: AmountColumn, Type: TypeFloat, Nullable: true, Position: 3},
	}}
}

// Names returns the column names in schema order.
func (s *Schema) Names() []string {
	names := make([]string, len(s.Columns))
	for i, col := range s.Columns {
		names[i] = col.Name
	}
	return names
}

// Lookup returns the column with the given name.
func (s *Schema) Lookup(name string) (Column, bool) {
	for _, col := range s.Columns {
		if col.Name == name {
			return col, true
		}
	}
	return Column{}, false
}

// Binding maps each declared column to its position in an input header.
type Binding struct {
	Schema *Schema
	// Index[i] is the header position of Schema.Columns[i].
	Index []int
	// Source[i] is the header name that was matched for Schema.Columns[i].
	Source []string
	Header []string
}

// Resolve binds the declared columns to header. A header name matches a
// column when it equals the column name exactly, or when aliases maps it to
// the column name. Surrounding whitespace and a UTF-8 byte order mark are
// ignored. Any unmatched column yields a SCHEMA error listing every missing
// column.
func (s *Schema) Resolve(header []string, aliases map[string]string) (*Binding, error) {
	clean := make([]string, len(header))
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		clean[i] = strings.TrimSpace(h)
	}

	b := &Binding{
		Schema: s,
		Index:  make([]int, len(s.Columns)),
		Source: make([]string, len(s.Columns)),
		Header: clean,
	}
	for i := range b.Index {
		b.Index[i] = -1
	}

	for pos, name := range clean {
		canonical := name
		if _, ok := s.Lookup(canonical); !ok {
			alias, ok := aliases[name]
			if !ok {
				continue
			}
			canonical = alias
		}
		for i, col := range s.Columns {
			if col.Name == canonical && b.Index[i] < 0 {
				b.Index[i] = pos
				b.Source[i] = name
			}
		}
	}

	var missing []string
	for i, col := range s.Columns {
		if b.Index[i] < 0 {
			missing = append(missing, col.Name)
		}
	}
	if len(missing) > 0 {
		return nil, tferrors.MissingColumns(missing, clean)
	}
	return b, nil
}

// MaxIndex returns the largest bound header position.
func (b *Binding) MaxIndex() int {
	max := -1
	for _, idx := range b.Index {
		if idx > max {
			max = idx
		}
	}
	return max
}

// ValidateAliases checks that every alias targets a declared column.
func (s *Schema) ValidateAliases(aliases map[string]string) error {
	var bad []string
	for from, to := range aliases {
		if _, ok := s.Lookup(to); !ok {
			bad = append(bad, fmt.Sprintf("%s->%s", from, to))
		}
	}
	if len(bad) > 0 {
		sort.Strings(bad)
		return tferrors.New(tferrors.CodeConfig, "aliases target unknown columns").
			WithContext("aliases", bad)
	}
	return nil
}
