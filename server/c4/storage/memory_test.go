package storage_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bloom-lang/c4/server/c4/datum"
	"github.com/bloom-lang/c4/server/c4/schema"
	"github.com/bloom-lang/c4/server/c4/storage"
	"github.com/bloom-lang/c4/server/c4/tuple"
)

func testSchema() *schema.Schema {
	return schema.New([]datum.Type{datum.Int8, datum.String}, -1)
}

func TestMemoryInsertReportsNewVsDuplicate(t *testing.T) {
	m := storage.NewMemory()
	defer m.Close()
	sch := testSchema()

	t1 := tuple.MakeDefault(sch, []datum.Datum{datum.FromInt8(1), datum.FromString("a")})
	defer t1.Unpin()
	added, err := m.Insert(t1)
	require.NoError(t, err)
	assert.True(t, added)

	t2 := tuple.MakeDefault(sch, []datum.Datum{datum.FromInt8(1), datum.FromString("a")})
	defer t2.Unpin()
	added, err = m.Insert(t2)
	require.NoError(t, err)
	assert.False(t, added)

	assert.Equal(t, 1, m.Count())
}

func TestMemoryDeleteRemovesMatchingRow(t *testing.T) {
	m := storage.NewMemory()
	defer m.Close()
	sch := testSchema()

	t1 := tuple.MakeDefault(sch, []datum.Datum{datum.FromInt8(1), datum.FromString("a")})
	defer t1.Unpin()
	_, err := m.Insert(t1)
	require.NoError(t, err)

	t2 := tuple.MakeDefault(sch, []datum.Datum{datum.FromInt8(1), datum.FromString("a")})
	defer t2.Unpin()
	removed, err := m.Delete(t2)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Equal(t, 0, m.Count())
}

func TestMemoryDeleteMissingReturnsFalse(t *testing.T) {
	m := storage.NewMemory()
	defer m.Close()
	sch := testSchema()

	t1 := tuple.MakeDefault(sch, []datum.Datum{datum.FromInt8(9), datum.FromString("z")})
	defer t1.Unpin()
	removed, err := m.Delete(t1)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestMemoryScanReturnsAllRows(t *testing.T) {
	m := storage.NewMemory()
	defer m.Close()
	sch := testSchema()

	for i := int64(0); i < 5; i++ {
		tup := tuple.MakeDefault(sch, []datum.Datum{datum.FromInt8(i), datum.FromString("x")})
		_, err := m.Insert(tup)
		require.NoError(t, err)
		tup.Unpin()
	}

	cur, err := m.Scan()
	require.NoError(t, err)
	defer cur.Close()

	count := 0
	for {
		_, ok := cur.Next()
		if !ok {
			break
		}
		count++
	}
	assert.Equal(t, 5, count)
}

func TestMemoryCloseUnpinsEveryRow(t *testing.T) {
	m := storage.NewMemory()
	sch := testSchema()
	tup := tuple.MakeDefault(sch, []datum.Datum{datum.FromInt8(1), datum.FromString("a")})
	_, err := m.Insert(tup)
	require.NoError(t, err)

	require.NoError(t, m.Close())
	assert.Equal(t, 0, m.Count())
	assert.Equal(t, int32(1), tup.RefCount())
	tup.Unpin()
}
