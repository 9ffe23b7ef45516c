package secondary

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridgecache/ridge/encoding"
	"github.com/ridgecache/ridge/mainenv"
	"github.com/ridgecache/ridge/ridgetype"
	"github.com/ridgecache/ridge/store"
)

func testSchema() ridgetype.Schema {
	return ridgetype.Schema{
		ID: 1,
		Fields: []ridgetype.FieldDefinition{
			{Name: "id", Type: ridgetype.UInt},
			{Name: "city", Type: ridgetype.String},
		},
		PrimaryIndex: []int{0},
	}
}

func openTestMain(t *testing.T) *mainenv.Environment {
	t.Helper()
	env, err := mainenv.Open(filepath.Join(t.TempDir(), "main.db"), store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = env.Close() })
	return env
}

func openTestSecondary(t *testing.T, def ridgetype.IndexDefinition) *Environment {
	t.Helper()
	env, err := Open(filepath.Join(t.TempDir(), "secondary.db"), store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = env.Close() })
	_, err = env.EnsureDefinition(def)
	require.NoError(t, err)
	return env
}

func TestExtractKeys_SortedInverted(t *testing.T) {
	def := ridgetype.SortedInvertedIndex{Fields: []int{1}}
	rec := ridgetype.Record{Values: []ridgetype.Field{ridgetype.NewUint(1), ridgetype.NewString("NY")}}
	keys, err := ExtractKeys(def, rec)
	require.NoError(t, err)
	require.Len(t, keys, 1)
}

func TestExtractKeys_FullText(t *testing.T) {
	def := ridgetype.FullTextIndex{Field: 1}
	rec := ridgetype.Record{Values: []ridgetype.Field{ridgetype.NewUint(1), ridgetype.NewString("New York, New York")}}
	keys, err := ExtractKeys(def, rec)
	require.NoError(t, err)
	// "New", "York," -> tokenized "New" and "York" unique, "," stripped.
	assert.Len(t, keys, 2)
}

func TestApplyAndScanEq(t *testing.T) {
	main := openTestMain(t)
	schema, indexes, err := main.EnsureSchema(testSchema(), nil)
	require.NoError(t, err)

	sec := openTestSecondary(t, ridgetype.SortedInvertedIndex{Fields: []int{1}})

	rw, err := main.BeginRw(schema, indexes)
	require.NoError(t, err)
	id1, err := rw.Insert(ridgetype.Record{Values: []ridgetype.Field{ridgetype.NewUint(1), ridgetype.NewString("NY")}})
	require.NoError(t, err)
	_, err = rw.Insert(ridgetype.Record{Values: []ridgetype.Field{ridgetype.NewUint(2), ridgetype.NewString("SF")}})
	require.NoError(t, err)
	require.NoError(t, rw.Commit("epoch-1"))

	ro, err := main.BeginRo()
	require.NoError(t, err)
	defer ro.Close()

	require.NoError(t, sec.Apply(context.Background(), ro, ridgetype.OperationID(main.CommitHead())))

	key, err := encodeString(t, "NY")
	require.NoError(t, err)
	ids, err := sec.ScanEq(key)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Equal(t, id1.AsOperationID(), ids[0])

	next, err := sec.NextOperationID()
	require.NoError(t, err)
	assert.Equal(t, ridgetype.OperationID(main.CommitHead()+1), next)
}

func TestApplyThenDeleteRemovesKey(t *testing.T) {
	main := openTestMain(t)
	schema, indexes, err := main.EnsureSchema(testSchema(), nil)
	require.NoError(t, err)

	sec := openTestSecondary(t, ridgetype.SortedInvertedIndex{Fields: []int{1}})

	rw, err := main.BeginRw(schema, indexes)
	require.NoError(t, err)
	_, err = rw.Insert(ridgetype.Record{Values: []ridgetype.Field{ridgetype.NewUint(1), ridgetype.NewString("NY")}})
	require.NoError(t, err)
	require.NoError(t, rw.Commit("epoch-1"))

	ro, err := main.BeginRo()
	require.NoError(t, err)
	require.NoError(t, sec.Apply(context.Background(), ro, ridgetype.OperationID(main.CommitHead())))
	require.NoError(t, ro.Close())

	rw2, err := main.BeginRw(schema, indexes)
	require.NoError(t, err)
	pk, err := mainenv.EncodePrimaryKey(schema, []ridgetype.Field{ridgetype.NewUint(1), ridgetype.NewString("")})
	require.NoError(t, err)
	_, err = rw2.Delete(pk)
	require.NoError(t, err)
	require.NoError(t, rw2.Commit("epoch-2"))

	ro2, err := main.BeginRo()
	require.NoError(t, err)
	defer ro2.Close()
	require.NoError(t, sec.Apply(context.Background(), ro2, ridgetype.OperationID(main.CommitHead())))

	key, err := encodeString(t, "NY")
	require.NoError(t, err)
	ids, err := sec.ScanEq(key)
	require.NoError(t, err)
	assert.Empty(t, ids, "deleted record's key must be removed from the index")
}

func TestApplyHonorsCancellation(t *testing.T) {
	main := openTestMain(t)
	schema, indexes, err := main.EnsureSchema(testSchema(), nil)
	require.NoError(t, err)

	sec := openTestSecondary(t, ridgetype.SortedInvertedIndex{Fields: []int{1}})

	rw, err := main.BeginRw(schema, indexes)
	require.NoError(t, err)
	_, err = rw.Insert(ridgetype.Record{Values: []ridgetype.Field{ridgetype.NewUint(1), ridgetype.NewString("NY")}})
	require.NoError(t, err)
	require.NoError(t, rw.Commit("epoch-1"))

	ro, err := main.BeginRo()
	require.NoError(t, err)
	defer ro.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = sec.Apply(ctx, ro, ridgetype.OperationID(main.CommitHead()))
	require.ErrorIs(t, err, ridgetype.ErrCancelled)

	next, err := sec.NextOperationID()
	require.NoError(t, err)
	assert.Equal(t, ridgetype.OperationID(0), next, "a cancelled batch must not advance next_operation_id")
}

// TestReplayMatchesIncrementalApply drives one secondary incrementally,
// commit by commit, and a second one by a single replay of the whole
// operation log, and requires both multimaps to agree key for key.
func TestReplayMatchesIncrementalApply(t *testing.T) {
	main := openTestMain(t)
	schema, indexes, err := main.EnsureSchema(testSchema(), nil)
	require.NoError(t, err)

	def := ridgetype.SortedInvertedIndex{Fields: []int{1}}
	incremental := openTestSecondary(t, def)
	replayed := openTestSecondary(t, def)

	// Commit 1: three inserts.
	rw, err := main.BeginRw(schema, indexes)
	require.NoError(t, err)
	for i, city := range []string{"NY", "SF", "NY"} {
		_, err := rw.Insert(ridgetype.Record{Values: []ridgetype.Field{
			ridgetype.NewUint(uint64(i + 1)), ridgetype.NewString(city),
		}})
		require.NoError(t, err)
	}
	require.NoError(t, rw.Commit("epoch-1"))

	ro1, err := main.BeginRo()
	require.NoError(t, err)
	require.NoError(t, incremental.Apply(context.Background(), ro1, ridgetype.OperationID(main.CommitHead())))
	require.NoError(t, ro1.Close())

	// Commit 2: an update (delete+insert) and a delete.
	rw2, err := main.BeginRw(schema, indexes)
	require.NoError(t, err)
	pk1, err := mainenv.EncodePrimaryKey(schema, []ridgetype.Field{ridgetype.NewUint(1), ridgetype.NewString("")})
	require.NoError(t, err)
	_, _, err = rw2.Update(pk1, ridgetype.Record{Values: []ridgetype.Field{
		ridgetype.NewUint(1), ridgetype.NewString("LA"),
	}})
	require.NoError(t, err)
	pk2, err := mainenv.EncodePrimaryKey(schema, []ridgetype.Field{ridgetype.NewUint(2), ridgetype.NewString("")})
	require.NoError(t, err)
	_, err = rw2.Delete(pk2)
	require.NoError(t, err)
	require.NoError(t, rw2.Commit("epoch-2"))

	ro2, err := main.BeginRo()
	require.NoError(t, err)
	defer ro2.Close()
	head := ridgetype.OperationID(main.CommitHead())
	require.NoError(t, incremental.Apply(context.Background(), ro2, head))
	require.NoError(t, replayed.Apply(context.Background(), ro2, head))

	for _, city := range []string{"NY", "SF", "LA"} {
		key, err := encodeString(t, city)
		require.NoError(t, err)
		a, err := incremental.ScanEq(key)
		require.NoError(t, err)
		b, err := replayed.ScanEq(key)
		require.NoError(t, err)
		assert.Equal(t, a, b, "city %q", city)
	}

	// And both agree with the present state: only "NY" (id 3) and "LA"
	// (the re-inserted id) remain.
	nyKey, err := encodeString(t, "NY")
	require.NoError(t, err)
	nyIDs, err := incremental.ScanEq(nyKey)
	require.NoError(t, err)
	require.Len(t, nyIDs, 1)
	assert.Equal(t, ridgetype.OperationID(3), nyIDs[0])
}

func encodeString(t *testing.T, s string) ([]byte, error) {
	t.Helper()
	return encoding.EncodeFields([]ridgetype.Field{ridgetype.NewString(s)})
}
