package query

import (
	"math"
	"testing"

	"github.com/mesh-intelligence/ctrdb/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRebind(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"SELECT 1", "SELECT 1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"UPDATE t SET a = ? WHERE k = 'why?'", "UPDATE t SET a = $1 WHERE k = 'why?'"},
		{"UPDATE t SET a = ? WHERE k = 'it''s?' AND b = ?", "UPDATE t SET a = $1 WHERE k = 'it''s?' AND b = $2"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Rebind(tt.in))
	}
}

func TestLiteral(t *testing.T) {
	s, err := literal(types.ColumnDef{Name: "k", Type: types.TypeString, Length: 10}, "a'b")
	require.NoError(t, err)
	assert.Equal(t, "'a''b'", s)

	s, err = literal(types.ColumnDef{Name: "k", Type: types.TypeUint32}, 42)
	require.NoError(t, err)
	assert.Equal(t, "42", s)

	_, err = literal(types.ColumnDef{Name: "k", Type: types.TypeBytes}, []byte{1})
	assert.ErrorIs(t, err, types.ErrQuerySynthesis)

	_, err = literal(types.ColumnDef{Name: "k", Type: types.TypeString, Length: 2}, "abc")
	assert.ErrorIs(t, err, types.ErrParameterBind)
}

func TestBindValue(t *testing.T) {
	cd := types.ColumnDef{Name: "speed", Type: types.TypeUint64}

	v, err := bindValue(cd, types.Attribute{Column: "speed", Value: uint64(1000)})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), v)

	v, err = bindValue(cd, types.Attribute{Column: "speed", Value: uint64(math.MaxUint64)})
	require.NoError(t, err)
	assert.Equal(t, int64(-1), v)

	lit, err := literal(cd, uint64(1<<63))
	require.NoError(t, err)
	assert.Equal(t, "-9223372036854775808", lit)

	_, err = bindValue(cd, types.Attribute{Column: "speed", Type: types.TypeString, Value: "fast"})
	assert.ErrorIs(t, err, types.ErrParameterBind)
}
