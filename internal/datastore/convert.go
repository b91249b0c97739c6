package datastore

import (
	"fmt"
	"strconv"

	"github.com/mesh-intelligence/ctrdb/internal/query"
	"github.com/mesh-intelligence/ctrdb/pkg/types"
)

// decodeRow converts one scanned result row into a RowSchema. NULL columns
// are left out; a trailing cs_row_status becomes the row's Status.
func decodeRow(st query.Statement, vals []any) (types.RowSchema, error) {
	want := len(st.Columns)
	if st.Status {
		want++
	}
	if len(vals) != want {
		return types.RowSchema{}, fmt.Errorf("%w: got %d columns, want %d", types.ErrFetch, len(vals), want)
	}
	row := types.RowSchema{Attributes: make([]types.Attribute, 0, len(st.Columns))}
	for i, cd := range st.Columns {
		if vals[i] == nil {
			continue
		}
		v, err := fromDB(cd, vals[i])
		if err != nil {
			return types.RowSchema{}, err
		}
		row.Attributes = append(row.Attributes, types.Attribute{Column: cd.Name, Type: cd.Type, Length: cd.Length, Value: v})
	}
	if st.Status {
		n, err := toCount(vals[len(vals)-1])
		if err != nil {
			return types.RowSchema{}, err
		}
		row.Status = types.RowStatus(n)
	}
	return row, nil
}

// fromDB converts a driver value to the canonical type of cd.
func fromDB(cd types.ColumnDef, v any) (any, error) {
	switch cd.Type {
	case types.TypeString:
		if b, ok := v.([]byte); ok {
			return string(b), nil
		}
	case types.TypeBytes:
		switch x := v.(type) {
		case []byte:
			return append([]byte(nil), x...), nil
		case string:
			return []byte(x), nil
		}
	default:
		if b, ok := v.([]byte); ok {
			n, err := strconv.ParseInt(string(b), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", types.ErrFetch, cd.Name, err)
			}
			v = n
		}
		// uint64 columns hold the signed integer with the same bits.
		if n, ok := v.(int64); ok && cd.Type == types.TypeUint64 {
			v = uint64(n)
		}
	}
	nv, err := types.Normalize(cd, v)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", types.ErrFetch, cd.Name, err)
	}
	return nv, nil
}

// toCount reads an integer or boolean scalar such as COUNT(*) or EXISTS.
func toCount(v any) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int32:
		return int64(x), nil
	case int:
		return int64(x), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case []byte:
		return parseScalar(string(x))
	case string:
		return parseScalar(x)
	}
	return 0, fmt.Errorf("%w: unexpected scalar %T", types.ErrFetch, v)
}

func parseScalar(s string) (int64, error) {
	switch s {
	case "t", "true":
		return 1, nil
	case "f", "false":
		return 0, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", types.ErrFetch, err)
	}
	return n, nil
}
