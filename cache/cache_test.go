package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridgecache/ridge/encoding"
	"github.com/ridgecache/ridge/indexer"
	"github.com/ridgecache/ridge/query"
	"github.com/ridgecache/ridge/ridgeconfig"
	"github.com/ridgecache/ridge/ridgetype"
)

func testSchema() ridgetype.Schema {
	return ridgetype.Schema{
		ID: 1,
		Fields: []ridgetype.FieldDefinition{
			{Name: "id", Type: ridgetype.UInt},
			{Name: "city", Type: ridgetype.String},
			{Name: "bio", Type: ridgetype.Text},
		},
		PrimaryIndex: []int{0},
	}
}

// pk builds the primary-key bytes for schemas in this file, all of which
// declare PrimaryIndex: []int{0} over a single UInt field.
func pk(t *testing.T, id uint64) []byte {
	t.Helper()
	b, err := encoding.EncodeFields([]ridgetype.Field{ridgetype.NewUint(id)})
	require.NoError(t, err)
	return b
}

func newManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(t.TempDir())
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func waitCatchup(t *testing.T, m *Manager) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.WaitUntilCatchup(ctx))
}

func TestOpenRwCreatesThenOpenRoReadsItBack(t *testing.T) {
	m := newManager(t)

	rw, err := m.OpenRw("people", testSchema(), []ridgetype.IndexDefinition{
		ridgetype.SortedInvertedIndex{Fields: []int{1}},
	}, ridgeconfig.DefaultCacheConfig())
	require.NoError(t, err)

	id, err := rw.Insert(ridgetype.Record{Values: []ridgetype.Field{
		ridgetype.NewUint(1), ridgetype.NewString("NY"), ridgetype.NewText("hello world"),
	}})
	require.NoError(t, err)
	require.NoError(t, rw.Commit(""))
	waitCatchup(t, m)

	got, err := rw.Get(pk(t, 1))
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	city, _ := got.Record.Values[1].Str()
	assert.Equal(t, "NY", city)
}

func TestQueryByEqualityUsesSecondaryIndex(t *testing.T) {
	m := newManager(t)

	rw, err := m.OpenRw("people", testSchema(), []ridgetype.IndexDefinition{
		ridgetype.SortedInvertedIndex{Fields: []int{1}},
	}, ridgeconfig.DefaultCacheConfig())
	require.NoError(t, err)

	_, err = rw.Insert(ridgetype.Record{Values: []ridgetype.Field{
		ridgetype.NewUint(1), ridgetype.NewString("NY"), ridgetype.NewText("a"),
	}})
	require.NoError(t, err)
	_, err = rw.Insert(ridgetype.Record{Values: []ridgetype.Field{
		ridgetype.NewUint(2), ridgetype.NewString("SF"), ridgetype.NewText("b"),
	}})
	require.NoError(t, err)
	require.NoError(t, rw.Commit(""))
	waitCatchup(t, m)

	rows, err := rw.Query(context.Background(), query.Expression{
		Filter: query.Simple{Field: "city", Op: query.Eq, Value: "NY"},
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	city, _ := rows[0].Record.Values[1].Str()
	assert.Equal(t, "NY", city)
}

func TestRangeQueryWithOrderBy(t *testing.T) {
	m := newManager(t)

	schema := ridgetype.Schema{
		ID: 2,
		Fields: []ridgetype.FieldDefinition{
			{Name: "id", Type: ridgetype.UInt},
			{Name: "age", Type: ridgetype.UInt},
		},
		PrimaryIndex: []int{0},
	}

	rw, err := m.OpenRw("ages", schema, []ridgetype.IndexDefinition{
		ridgetype.SortedInvertedIndex{Fields: []int{1}},
	}, ridgeconfig.DefaultCacheConfig())
	require.NoError(t, err)

	for i, age := range []uint64{30, 10, 20, 40} {
		_, err := rw.Insert(ridgetype.Record{Values: []ridgetype.Field{
			ridgetype.NewUint(uint64(i + 1)), ridgetype.NewUint(age),
		}})
		require.NoError(t, err)
	}
	require.NoError(t, rw.Commit(""))
	waitCatchup(t, m)

	rows, err := rw.Query(context.Background(), query.Expression{
		Filter:  query.Simple{Field: "age", Op: query.Gte, Value: float64(15)},
		OrderBy: []query.OrderTerm{{Field: "age", Direction: query.Ascending}},
	})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	var ages []uint64
	for _, r := range rows {
		a, _ := r.Record.Values[1].Uint()
		ages = append(ages, a)
	}
	assert.Equal(t, []uint64{20, 30, 40}, ages)
}

func TestUpdateKeepsSecondaryConsistent(t *testing.T) {
	m := newManager(t)

	rw, err := m.OpenRw("people", testSchema(), []ridgetype.IndexDefinition{
		ridgetype.SortedInvertedIndex{Fields: []int{1}},
	}, ridgeconfig.DefaultCacheConfig())
	require.NoError(t, err)

	_, err = rw.Insert(ridgetype.Record{Values: []ridgetype.Field{
		ridgetype.NewUint(1), ridgetype.NewString("NY"), ridgetype.NewText("a"),
	}})
	require.NoError(t, err)
	require.NoError(t, rw.Commit(""))
	waitCatchup(t, m)

	_, err = rw.Update(pk(t, 1), ridgetype.Record{Values: []ridgetype.Field{
		ridgetype.NewUint(1), ridgetype.NewString("SF"), ridgetype.NewText("a"),
	}})
	require.NoError(t, err)
	require.NoError(t, rw.Commit(""))
	waitCatchup(t, m)

	rowsNY, err := rw.Query(context.Background(), query.Expression{Filter: query.Simple{Field: "city", Op: query.Eq, Value: "NY"}})
	require.NoError(t, err)
	assert.Empty(t, rowsNY)

	rowsSF, err := rw.Query(context.Background(), query.Expression{Filter: query.Simple{Field: "city", Op: query.Eq, Value: "SF"}})
	require.NoError(t, err)
	require.Len(t, rowsSF, 1)
}

func TestFullTextQuery(t *testing.T) {
	m := newManager(t)

	rw, err := m.OpenRw("people", testSchema(), []ridgetype.IndexDefinition{
		ridgetype.FullTextIndex{Field: 2},
	}, ridgeconfig.DefaultCacheConfig())
	require.NoError(t, err)

	_, err = rw.Insert(ridgetype.Record{Values: []ridgetype.Field{
		ridgetype.NewUint(1), ridgetype.NewString("NY"), ridgetype.NewText("New York is a great city"),
	}})
	require.NoError(t, err)
	_, err = rw.Insert(ridgetype.Record{Values: []ridgetype.Field{
		ridgetype.NewUint(2), ridgetype.NewString("SF"), ridgetype.NewText("San Francisco by the bay"),
	}})
	require.NoError(t, err)
	require.NoError(t, rw.Commit(""))
	waitCatchup(t, m)

	rows, err := rw.Query(context.Background(), query.Expression{Filter: query.Simple{Field: "bio", Op: query.Contains, Value: "York"}})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	city, _ := rows[0].Record.Values[1].Str()
	assert.Equal(t, "NY", city)
}

func TestMapFullLeavesPriorCommitReadable(t *testing.T) {
	m := newManager(t)
	cfg := ridgeconfig.DefaultCacheConfig()
	cfg.MaxMapSize = 1 // force the very next commit over this ceiling to fail

	rw, err := m.OpenRw("tiny", testSchema(), []ridgetype.IndexDefinition{
		ridgetype.SortedInvertedIndex{Fields: []int{1}},
	}, cfg)
	require.NoError(t, err)

	_, err = rw.Insert(ridgetype.Record{Values: []ridgetype.Field{
		ridgetype.NewUint(1), ridgetype.NewString("NY"), ridgetype.NewText("a long enough value to blow a 1 byte map ceiling"),
	}})
	require.NoError(t, err)
	err = rw.Commit("")
	assert.ErrorIs(t, err, ridgetype.ErrMapFull)

	_, err = rw.Get(pk(t, 1))
	assert.ErrorIs(t, err, ridgetype.ErrNotFound, "the rolled-back insert must not be visible")
}

func TestRangeWithDescendingOrder(t *testing.T) {
	m := newManager(t)

	schema := ridgetype.Schema{
		ID: 3,
		Fields: []ridgetype.FieldDefinition{
			{Name: "id", Type: ridgetype.UInt},
		},
		PrimaryIndex: []int{0},
	}

	rw, err := m.OpenRw("seq", schema, []ridgetype.IndexDefinition{
		ridgetype.SortedInvertedIndex{Fields: []int{0}},
	}, ridgeconfig.DefaultCacheConfig())
	require.NoError(t, err)

	for i := uint64(1); i <= 10; i++ {
		_, err := rw.Insert(ridgetype.Record{Values: []ridgetype.Field{ridgetype.NewUint(i)}})
		require.NoError(t, err)
	}
	require.NoError(t, rw.Commit(""))
	waitCatchup(t, m)

	rows, err := rw.Query(context.Background(), query.Expression{
		Filter: query.And{Exprs: []query.FilterExpression{
			query.Simple{Field: "id", Op: query.Gte, Value: float64(3)},
			query.Simple{Field: "id", Op: query.Lte, Value: float64(7)},
		}},
		OrderBy: []query.OrderTerm{{Field: "id", Direction: query.Descending}},
	})
	require.NoError(t, err)
	var got []uint64
	for _, r := range rows {
		v, _ := r.Record.Values[0].Uint()
		got = append(got, v)
	}
	assert.Equal(t, []uint64{7, 6, 5, 4, 3}, got)
}

func TestCountEqualsQueryLength(t *testing.T) {
	m := newManager(t)

	rw, err := m.OpenRw("people", testSchema(), []ridgetype.IndexDefinition{
		ridgetype.SortedInvertedIndex{Fields: []int{1}},
	}, ridgeconfig.DefaultCacheConfig())
	require.NoError(t, err)

	cities := []string{"NY", "SF", "NY", "LA", "NY"}
	for i, city := range cities {
		_, err := rw.Insert(ridgetype.Record{Values: []ridgetype.Field{
			ridgetype.NewUint(uint64(i + 1)), ridgetype.NewString(city), ridgetype.NewText("x"),
		}})
		require.NoError(t, err)
	}
	require.NoError(t, rw.Commit(""))
	waitCatchup(t, m)

	q := query.Expression{Filter: query.Simple{Field: "city", Op: query.Eq, Value: "NY"}}
	rows, err := rw.Query(context.Background(), q)
	require.NoError(t, err)
	n, err := rw.Count(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, len(rows), n)
	assert.Equal(t, 3, n)
}

func TestAfterPaginationSkipsUpToRecordID(t *testing.T) {
	m := newManager(t)

	rw, err := m.OpenRw("people", testSchema(), []ridgetype.IndexDefinition{
		ridgetype.SortedInvertedIndex{Fields: []int{1}},
	}, ridgeconfig.DefaultCacheConfig())
	require.NoError(t, err)

	for i := uint64(1); i <= 4; i++ {
		_, err := rw.Insert(ridgetype.Record{Values: []ridgetype.Field{
			ridgetype.NewUint(i), ridgetype.NewString("NY"), ridgetype.NewText("x"),
		}})
		require.NoError(t, err)
	}
	require.NoError(t, rw.Commit(""))
	waitCatchup(t, m)

	rows, err := rw.Query(context.Background(), query.Expression{
		Filter: query.Simple{Field: "city", Op: query.Eq, Value: "NY"},
		Skip:   query.After(2),
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Greater(t, uint64(rows[0].ID), uint64(2))
}

func TestAccessFilterNarrowsUserFilter(t *testing.T) {
	m := newManager(t)

	schema := ridgetype.Schema{
		ID: 4,
		Fields: []ridgetype.FieldDefinition{
			{Name: "id", Type: ridgetype.UInt},
			{Name: "city", Type: ridgetype.String},
			{Name: "age", Type: ridgetype.UInt},
		},
		PrimaryIndex: []int{0},
	}

	rw, err := m.OpenRw("adults", schema, []ridgetype.IndexDefinition{
		ridgetype.SortedInvertedIndex{Fields: []int{1, 2}},
	}, ridgeconfig.DefaultCacheConfig())
	require.NoError(t, err)

	type row struct {
		id   uint64
		city string
		age  uint64
	}
	for _, r := range []row{{1, "NY", 17}, {2, "NY", 30}, {3, "SF", 30}} {
		_, err := rw.Insert(ridgetype.Record{Values: []ridgetype.Field{
			ridgetype.NewUint(r.id), ridgetype.NewString(r.city), ridgetype.NewUint(r.age),
		}})
		require.NoError(t, err)
	}
	require.NoError(t, rw.Commit(""))
	waitCatchup(t, m)

	rows, err := rw.Query(context.Background(), query.Expression{
		Filter: query.Simple{Field: "city", Op: query.Eq, Value: "NY"},
		Access: query.Simple{Field: "age", Op: query.Gte, Value: float64(21)},
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, ridgetype.RecordID(2), rows[0].ID)
}

func TestNullEqualityFilterMatchesNullFields(t *testing.T) {
	m := newManager(t)

	schema := ridgetype.Schema{
		ID: 5,
		Fields: []ridgetype.FieldDefinition{
			{Name: "id", Type: ridgetype.UInt},
			{Name: "city", Type: ridgetype.String, Nullable: true},
		},
		PrimaryIndex: []int{0},
	}

	rw, err := m.OpenRw("maybecity", schema, []ridgetype.IndexDefinition{
		ridgetype.SortedInvertedIndex{Fields: []int{1}},
	}, ridgeconfig.DefaultCacheConfig())
	require.NoError(t, err)

	_, err = rw.Insert(ridgetype.Record{Values: []ridgetype.Field{
		ridgetype.NewUint(1), ridgetype.NullField(ridgetype.String),
	}})
	require.NoError(t, err)
	_, err = rw.Insert(ridgetype.Record{Values: []ridgetype.Field{
		ridgetype.NewUint(2), ridgetype.NewString("NY"),
	}})
	require.NoError(t, err)
	require.NoError(t, rw.Commit(""))
	waitCatchup(t, m)

	rows, err := rw.Query(context.Background(), query.Expression{
		Filter: query.Simple{Field: "city", Op: query.Eq, Value: nil},
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, ridgetype.RecordID(1), rows[0].ID)

	_, err = rw.Query(context.Background(), query.Expression{
		Filter: query.Simple{Field: "city", Op: query.Lt, Value: nil},
	})
	assert.ErrorIs(t, err, ridgetype.ErrInvalidQuery, "a null literal only pairs with Eq")
}

func TestIndexLagVisibleUntilCatchup(t *testing.T) {
	dir := t.TempDir()

	// A pre-stopped pool never drains its queue, so commits land in the
	// main environment while every secondary stays at its old cursor:
	// the lag window a reader can observe.
	stopped := indexer.NewPool(1)
	stopped.Stop()

	m := NewManager(dir, WithPool(stopped))
	rw, err := m.OpenRw("laggy", testSchema(), []ridgetype.IndexDefinition{
		ridgetype.SortedInvertedIndex{Fields: []int{1}},
	}, ridgeconfig.DefaultCacheConfig())
	require.NoError(t, err)

	const n = 25
	for i := uint64(1); i <= n; i++ {
		_, err := rw.Insert(ridgetype.Record{Values: []ridgetype.Field{
			ridgetype.NewUint(i), ridgetype.NewString("NY"), ridgetype.NewText("x"),
		}})
		require.NoError(t, err)
	}
	require.NoError(t, rw.Commit(""))

	// Point lookups see every record immediately.
	for i := uint64(1); i <= n; i++ {
		_, err := rw.Get(pk(t, i))
		require.NoError(t, err)
	}

	// The index-driven query sees none of them yet.
	rows, err := rw.Query(context.Background(), query.Expression{
		Filter: query.Simple{Field: "city", Op: query.Eq, Value: "NY"},
	})
	require.NoError(t, err)
	assert.Empty(t, rows, "secondary must lag while the pool is stopped")
	require.NoError(t, m.Close())

	// Reattach with a live pool: an explicit Wake plus the catch-up
	// barrier makes the query complete.
	m2 := NewManager(dir)
	defer m2.Close()
	c, err := m2.OpenRo("laggy")
	require.NoError(t, err)
	m2.Wake("laggy")
	waitCatchup(t, m2)

	rows, err = c.Query(context.Background(), query.Expression{
		Filter: query.Simple{Field: "city", Op: query.Eq, Value: "NY"},
	})
	require.NoError(t, err)
	assert.Len(t, rows, n)
}

func TestReopenRwAfterClose(t *testing.T) {
	dir := t.TempDir()

	func() {
		m := NewManager(dir)
		defer m.Close()
		rw, err := m.OpenRw("people", testSchema(), nil, ridgeconfig.DefaultCacheConfig())
		require.NoError(t, err)
		_, err = rw.Insert(ridgetype.Record{Values: []ridgetype.Field{
			ridgetype.NewUint(1), ridgetype.NewString("NY"), ridgetype.NewText("a"),
		}})
		require.NoError(t, err)
		require.NoError(t, rw.Commit(""))
	}()

	m2 := NewManager(dir)
	defer m2.Close()
	rw2, err := m2.OpenRw("people", ridgetype.Schema{}, nil, ridgeconfig.DefaultCacheConfig())
	require.NoError(t, err)
	got, err := rw2.Get(pk(t, 1))
	require.NoError(t, err)
	city, _ := got.Record.Values[1].Str()
	assert.Equal(t, "NY", city)
}

func TestReopenRwWithMismatchedSchemaFails(t *testing.T) {
	dir := t.TempDir()

	func() {
		m := NewManager(dir)
		defer m.Close()
		_, err := m.OpenRw("people", testSchema(), nil, ridgeconfig.DefaultCacheConfig())
		require.NoError(t, err)
	}()

	different := testSchema()
	different.Fields = append(different.Fields, ridgetype.FieldDefinition{Name: "extra", Type: ridgetype.Boolean})

	m2 := NewManager(dir)
	defer m2.Close()
	_, err := m2.OpenRw("people", different, nil, ridgeconfig.DefaultCacheConfig())
	assert.ErrorIs(t, err, ridgetype.ErrSchemaMismatch)
}
