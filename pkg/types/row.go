package types

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// DataType is the semantic type tag of an attribute.
type DataType int

// Attribute data types. Each has one canonical Go representation:
// string, uint8, uint16, uint32, uint64, int64 and []byte.
const (
	TypeUnknown DataType = iota
	TypeString
	TypeUint8
	TypeUint16
	TypeUint32
	TypeUint64
	TypeInt64
	TypeBytes
)

func (t DataType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeUint8:
		return "uint8"
	case TypeUint16:
		return "uint16"
	case TypeUint32:
		return "uint32"
	case TypeUint64:
		return "uint64"
	case TypeInt64:
		return "int64"
	case TypeBytes:
		return "bytes"
	}
	return "unknown"
}

// RowStatus is the lifecycle tag of a Candidate row. Rows of every other
// datastore report StatusNone.
type RowStatus int

// Row statuses.
const (
	StatusNone RowStatus = iota
	StatusCreated
	StatusUpdated
	StatusDeleted
	StatusApplied
	StatusNotApplied
	StatusPartiallyApplied
	StatusRowValid
	StatusRowInvalid
)

var rowStatusNames = map[RowStatus]string{
	StatusNone:             "none",
	StatusCreated:          "created",
	StatusUpdated:          "updated",
	StatusDeleted:          "deleted",
	StatusApplied:          "applied",
	StatusNotApplied:       "not_applied",
	StatusPartiallyApplied: "partially_applied",
	StatusRowValid:         "row_valid",
	StatusRowInvalid:       "row_invalid",
}

func (s RowStatus) String() string {
	if n, ok := rowStatusNames[s]; ok {
		return n
	}
	return "status(" + strconv.Itoa(int(s)) + ")"
}

// ParseRowStatus converts a status name to its value.
func ParseRowStatus(name string) (RowStatus, error) {
	for s, n := range rowStatusNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown row status %q", ErrParameterBind, name)
}

// Live reports whether a row in status s is visible configuration that a
// create must not overwrite.
func (s RowStatus) Live() bool {
	switch s {
	case StatusCreated, StatusUpdated, StatusApplied, StatusNotApplied,
		StatusPartiallyApplied, StatusRowValid:
		return true
	}
	return false
}

// Purgeable reports whether a row in status s is removed, not promoted, at
// commit and is treated as absent by create and update.
func (s RowStatus) Purgeable() bool {
	return s == StatusDeleted || s == StatusRowInvalid
}

// Promotable lists the statuses promoted to StatusApplied on commit.
var Promotable = []RowStatus{StatusCreated, StatusUpdated, StatusRowValid, StatusNotApplied, StatusPartiallyApplied}

// Purged lists the statuses physically removed on commit.
var Purged = []RowStatus{StatusDeleted, StatusRowInvalid}

// Attribute is one column of a row with its bound value.
type Attribute struct {
	Column Column
	Type   DataType
	Length int
	Value  any
}

// RowSchema describes exactly one row.
type RowSchema struct {
	Attributes []Attribute
	Status     RowStatus
}

// RowSet is an ordered sequence of rows.
type RowSet []RowSchema

// TableSchema is one logical table instance and the row(s) to operate on.
type TableSchema struct {
	Table       TableID
	PrimaryKeys []Column
	Rows        RowSet
}

// NewTableSchema returns a schema for t using the catalog primary key and
// the given rows.
func NewTableSchema(t TableID, rows ...RowSchema) *TableSchema {
	ts := &TableSchema{Table: t, Rows: rows}
	if def := t.Def(); def != nil {
		ts.PrimaryKeys = append([]Column(nil), def.PrimaryKey...)
	}
	return ts
}

// Row returns the first row, or an empty row when there is none.
func (ts *TableSchema) Row() RowSchema {
	if ts == nil || len(ts.Rows) == 0 {
		return RowSchema{}
	}
	return ts.Rows[0]
}

// Get returns the attribute for column c.
func (r RowSchema) Get(c Column) (Attribute, bool) {
	for _, a := range r.Attributes {
		if a.Column == c {
			return a, true
		}
	}
	return Attribute{}, false
}

// Value returns the bound value of column c, or nil.
func (r RowSchema) Value(c Column) any {
	a, ok := r.Get(c)
	if !ok {
		return nil
	}
	return a.Value
}

// String returns the value of column c as a string when it holds one.
func (r RowSchema) String(c Column) string {
	s, _ := r.Value(c).(string)
	return s
}

// Set replaces or appends the value of column c.
func (r *RowSchema) Set(c Column, t DataType, v any) {
	for i := range r.Attributes {
		if r.Attributes[i].Column == c {
			r.Attributes[i].Type = t
			r.Attributes[i].Value = v
			return
		}
	}
	r.Attributes = append(r.Attributes, Attribute{Column: c, Type: t, Value: v})
}

// Map returns the row as a column-name keyed map; []byte values are
// base64 encoded so the map marshals cleanly to JSON.
func (r RowSchema) Map() map[string]any {
	m := make(map[string]any, len(r.Attributes)+1)
	for _, a := range r.Attributes {
		if b, ok := a.Value.([]byte); ok {
			m[string(a.Column)] = base64.StdEncoding.EncodeToString(b)
			continue
		}
		m[string(a.Column)] = a.Value
	}
	if r.Status != StatusNone {
		m[string(ColRowStatus)] = r.Status.String()
	}
	return m
}

// RowFromMap builds a RowSchema for table t from a column-name keyed map,
// converting each value to the column's canonical type. Unknown columns
// are rejected; cs_row_status is ignored.
func RowFromMap(t TableID, m map[string]any) (RowSchema, error) {
	def := t.Def()
	if def == nil {
		return RowSchema{}, fmt.Errorf("%w: %v", ErrUnknownTable, t)
	}
	var row RowSchema
	// Catalog order keeps generated statements deterministic.
	for _, cd := range def.Columns {
		raw, ok := m[string(cd.Name)]
		if !ok {
			continue
		}
		v, err := Normalize(cd, raw)
		if err != nil {
			return RowSchema{}, err
		}
		row.Attributes = append(row.Attributes, Attribute{Column: cd.Name, Type: cd.Type, Length: cd.Length, Value: v})
	}
	for k := range m {
		if Column(k) == ColRowStatus {
			continue
		}
		if _, ok := def.Column(Column(k)); !ok {
			return RowSchema{}, fmt.Errorf("%w: column %q not in %s", ErrParameterBind, k, def.Name)
		}
	}
	return row, nil
}

// Normalize converts v to the canonical Go type for column cd and enforces
// its length and range.
func Normalize(cd ColumnDef, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch cd.Type {
	case TypeString:
		s, ok := v.(string)
		if !ok {
			return nil, bindErr(cd, v)
		}
		if cd.Length > 0 && len(s) > cd.Length {
			return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrParameterBind, cd.Name, cd.Length)
		}
		return s, nil
	case TypeBytes:
		var b []byte
		switch x := v.(type) {
		case []byte:
			b = x
		case string:
			dec, err := base64.StdEncoding.DecodeString(x)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrParameterBind, cd.Name, err)
			}
			b = dec
		default:
			return nil, bindErr(cd, v)
		}
		if cd.Length > 0 && len(b) > cd.Length {
			return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrParameterBind, cd.Name, cd.Length)
		}
		return b, nil
	case TypeInt64:
		n, ok := toInt64(v)
		if !ok {
			return nil, bindErr(cd, v)
		}
		return n, nil
	case TypeUint8, TypeUint16, TypeUint32, TypeUint64:
		n, ok := toUint64(v)
		if !ok {
			return nil, bindErr(cd, v)
		}
		switch cd.Type {
		case TypeUint8:
			if n > math.MaxUint8 {
				return nil, rangeErr(cd, n)
			}
			return uint8(n), nil
		case TypeUint16:
			if n > math.MaxUint16 {
				return nil, rangeErr(cd, n)
			}
			return uint16(n), nil
		case TypeUint32:
			if n > math.MaxUint32 {
				return nil, rangeErr(cd, n)
			}
			return uint32(n), nil
		}
		return n, nil
	}
	return nil, bindErr(cd, v)
}

func bindErr(cd ColumnDef, v any) error {
	return fmt.Errorf("%w: %s expects %s, got %T", ErrParameterBind, cd.Name, cd.Type, v)
}

func rangeErr(cd ColumnDef, n uint64) error {
	return fmt.Errorf("%w: %s value %d out of range for %s", ErrParameterBind, cd.Name, n, cd.Type)
}

func toInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint64:
		if x > math.MaxInt64 {
			return 0, false
		}
		return int64(x), true
	case float64:
		if x < -1<<63 || x >= 1<<63 || x != math.Trunc(x) {
			return 0, false
		}
		return int64(x), true
	case json.Number:
		n, err := x.Int64()
		return n, err == nil
	}
	return 0, false
}

func toUint64(v any) (uint64, bool) {
	switch x := v.(type) {
	case uint:
		return uint64(x), true
	case uint8:
		return uint64(x), true
	case uint16:
		return uint64(x), true
	case uint32:
		return uint64(x), true
	case uint64:
		return x, true
	case json.Number:
		n, err := strconv.ParseUint(string(x), 10, 64)
		return n, err == nil
	case float64:
		if x < 0 || x >= 1<<64 || x != math.Trunc(x) {
			return 0, false
		}
		return uint64(x), true
	}
	n, ok := toInt64(v)
	if !ok || n < 0 {
		return 0, false
	}
	return uint64(n), true
}

// Operator is a comparison applied to one primary-key column in sibling
// and bulk reads.
type Operator int

// Comparison operators. OpInvalid and any value outside this list are
// rejected during query synthesis.
const (
	OpInvalid Operator = iota
	OpEqual
	OpNotEqual
	OpGreater
	OpGreaterEqual
	OpLess
	OpLessEqual
)

// SQL returns the operator's SQL text and false for an unknown operator.
func (o Operator) SQL() (string, bool) {
	switch o {
	case OpEqual:
		return "=", true
	case OpNotEqual:
		return "!=", true
	case OpGreater:
		return ">", true
	case OpGreaterEqual:
		return ">=", true
	case OpLess:
		return "<", true
	case OpLessEqual:
		return "<=", true
	}
	return "", false
}

// ParseOperator converts "=", "!=", ">", ">=", "<" or "<=".
func ParseOperator(s string) (Operator, error) {
	for _, o := range []Operator{OpEqual, OpNotEqual, OpGreater, OpGreaterEqual, OpLess, OpLessEqual} {
		if sql, _ := o.SQL(); sql == s {
			return o, nil
		}
	}
	return OpInvalid, fmt.Errorf("%w: unknown operator %q", ErrQuerySynthesis, s)
}

// InternalSessionID is the engine's own config-session identity. Requests
// carrying it never receive the dedicated config connection.
const InternalSessionID uint32 = 1

// Session identifies the caller of an engine operation.
type Session struct {
	ID       uint32
	ConfigID uint32
}

// ConfigMode reports whether s is an external config-mode session.
func (s Session) ConfigMode() bool {
	return s.ConfigID > 0 && s.ID != InternalSessionID
}

// InternalSession is the session the engine and CLI use for their own work.
var InternalSession = Session{ID: InternalSessionID}
