package query

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mesh-intelligence/ctrdb/pkg/types"
)

// literal renders a key value as an SQL literal. Strings are single-quoted
// with embedded quotes doubled.
func literal(cd types.ColumnDef, v any) (string, error) {
	nv, err := types.Normalize(cd, v)
	if err != nil {
		return "", err
	}
	switch x := nv.(type) {
	case string:
		return "'" + strings.ReplaceAll(x, "'", "''") + "'", nil
	case uint8:
		return strconv.FormatUint(uint64(x), 10), nil
	case uint16:
		return strconv.FormatUint(uint64(x), 10), nil
	case uint32:
		return strconv.FormatUint(uint64(x), 10), nil
	case uint64:
		return strconv.FormatInt(int64(x), 10), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	}
	return "", fmt.Errorf("%w: %s cannot be a key literal (%T)", types.ErrQuerySynthesis, cd.Name, nv)
}

// bindValue normalises v for column cd and converts it to a value the
// database/sql default converter accepts.
func bindValue(cd types.ColumnDef, a types.Attribute) (any, error) {
	if a.Type != types.TypeUnknown && a.Type != cd.Type {
		return nil, fmt.Errorf("%w: %s bound as %s, column is %s", types.ErrParameterBind, cd.Name, a.Type, cd.Type)
	}
	if a.Length > 0 && cd.Length > 0 && a.Length > cd.Length {
		return nil, fmt.Errorf("%w: %s length %d exceeds %d", types.ErrParameterBind, cd.Name, a.Length, cd.Length)
	}
	nv, err := types.Normalize(cd, a.Value)
	if err != nil {
		return nil, err
	}
	switch x := nv.(type) {
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint64:
		// Stored as the signed integer with the same bits.
		return int64(x), nil
	}
	return nv, nil
}

func statusLiteral(s types.RowStatus) string {
	return strconv.Itoa(int(s))
}

func statusList(ss []types.RowStatus) string {
	parts := make([]string, len(ss))
	for i, s := range ss {
		parts[i] = statusLiteral(s)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func joinColumns(cols []types.Column) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = string(c)
	}
	return strings.Join(parts, ", ")
}

func placeholders(n int) string {
	if n == 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

// Rebind rewrites "?" placeholders to "$1", "$2", ... for drivers that use
// numbered parameters. Question marks inside quoted literals are kept.
func Rebind(sql string) string {
	if !strings.Contains(sql, "?") {
		return sql
	}
	var b strings.Builder
	b.Grow(len(sql) + 8)
	n := 0
	inQuote := false
	for i := 0; i < len(sql); i++ {
		c := sql[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
