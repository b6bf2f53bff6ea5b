package dsl

import (
	"bytes"
	"encoding/json"
	"sort"

	"concierge/internal/model"
)

// Request is a structured query against one document table.
type Request struct {
	From    string    `json:"from"`
	Filters []Filter  `json:"filters"`
	Explode *Explode  `json:"explode,omitempty"`
	Sort    []SortKey `json:"sort,omitempty"`
	Limit   int       `json:"limit"`
	Offset  int       `json:"offset"`
}

// Filter compares the value at Path with Value. Path is a document path
// ("$.name", "$.metadata[0].type"), the explode alias (optionally followed by
// a sub-path, "item.type") or a column name.
type Filter struct {
	Path     string `json:"path"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
}

// UnmarshalJSON keeps numeric values as json.Number so integers beyond
// 2^53 compare exactly.
func (f *Filter) UnmarshalJSON(b []byte) error {
	type plain Filter
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	return dec.Decode((*plain)(f))
}

// Explode turns the array at Path into one row per element, exposed as As.
type Explode struct {
	Path string `json:"path"`
	As   string `json:"as"`
}

type SortKey struct {
	Path string `json:"path"`
	Desc bool   `json:"desc,omitempty"`
}

// Operators
const (
	OpEq       = "="
	OpNe       = "!="
	OpGt       = ">"
	OpGe       = ">="
	OpLt       = "<"
	OpLe       = "<="
	OpLike     = "like"
	OpContains = "contains"
	OpIn       = "in"
)

var comparison = map[string]string{
	OpEq: "=",
	OpNe: "<>",
	OpGt: ">",
	OpGe: ">=",
	OpLt: "<",
	OpLe: "<=",
}

// Operators lists the supported operators in documentation order.
func Operators() []string {
	return []string{OpEq, OpNe, OpGt, OpGe, OpLt, OpLe, OpLike, OpContains, OpIn}
}

const defaultAlias = "exploded_value"

// columns that may be referenced by name, per table
var columns = map[string]map[string]bool{
	model.TableEntities: {
		"id": true, "type": true, "version": true, "created_at": true, "updated_at": true,
	},
	model.TableCurations: {
		"id": true, "entity_id": true, "version": true, "created_at": true, "updated_at": true,
	},
}

// Tables lists the tables a query may read.
func Tables() []string { return []string{model.TableEntities, model.TableCurations} }

// Columns lists the columns of table that filters and sorts may name.
func Columns(table string) []string {
	cols := make([]string, 0, len(columns[table]))
	for c := range columns[table] {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}
