package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"stacktrends/pkg/types"
)

func int64p(v int64) *int64 { return &v }

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testTable(name string, rows ...types.Row) types.Table {
	return types.Table{
		Name: name,
		Columns: []types.Column{
			{Name: "tag", Kind: types.Text},
			{Name: "count", Kind: types.Integer},
			{Name: "frequency", Kind: types.Real},
		},
		Rows: rows,
	}
}

func TestImportAndRead(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	created := time.Date(2011, 4, 5, 6, 7, 8, 9e6, time.UTC)

	err := s.Import(ctx,
		[]types.User{{ID: 1, Location: "Berlin"}, {ID: 2}},
		[]types.Post{
			{ID: 10, Type: types.Question, CreatedAt: created, OwnerUserID: int64p(1), PackedTags: "<go><sql>"},
			{ID: 11, Type: types.Answer, ParentID: int64p(10), CreatedAt: created.Add(time.Hour)},
		},
	)
	require.NoError(t, err)

	users, err := s.Users(ctx)
	require.NoError(t, err)
	assert.Equal(t, []types.User{{ID: 1, Location: "Berlin"}, {ID: 2}}, users)

	posts, err := s.Posts(ctx)
	require.NoError(t, err)
	require.Len(t, posts, 2)
	assert.Equal(t, types.Post{ID: 10, Type: types.Question, CreatedAt: created, OwnerUserID: int64p(1), PackedTags: "<go><sql>"}, posts[0])
	assert.Equal(t, types.Answer, posts[1].Type)
	assert.Equal(t, int64(10), *posts[1].ParentID)
	assert.Nil(t, posts[1].OwnerUserID)
	assert.Empty(t, posts[1].PackedTags)
}

func TestWrite_ReplacesTable(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, testTable("tag", types.Row{"go", 3, 0.75}, types.Row{"sql", 1, 0.25})))
	require.NoError(t, s.Write(ctx, testTable("tag", types.Row{"rust", 2, nil})))

	table, err := s.ReadTable(ctx, "tag")
	require.NoError(t, err)
	assert.Equal(t, []string{"tag", "count", "frequency"}, table.ColumnNames())
	require.Len(t, table.Rows, 1)
	assert.Equal(t, "rust", table.Rows[0][0])
	assert.EqualValues(t, 2, table.Rows[0][1])
	assert.Nil(t, table.Rows[0][2])
	assert.False(t, s.HasTable("tag"+newTableSuffix))
}

func TestWrite_ManyRowsAreBatched(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	table := testTable("tag")
	for i := 0; i < 1000; i++ {
		table.Rows = append(table.Rows, types.Row{"tag", i, 0.001})
	}
	require.NoError(t, s.Write(ctx, table))

	read, err := s.ReadTable(ctx, "tag")
	require.NoError(t, err)
	assert.Len(t, read.Rows, 1000)
}

func TestWrite_FailureKeepsOldTable(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Write(ctx, testTable("tag", types.Row{"go", 3, 1.0})))

	broken := testTable("tag", types.Row{"rust", 1, 1.0}, types.Row{"sql"})
	assert.Error(t, s.Write(ctx, broken))

	duplicate := testTable("tag")
	duplicate.Columns = append(duplicate.Columns, types.Column{Name: "tag", Kind: types.Text})
	assert.Error(t, s.Write(ctx, duplicate))

	table, err := s.ReadTable(ctx, "tag")
	require.NoError(t, err)
	require.Len(t, table.Rows, 1)
	assert.Equal(t, "go", table.Rows[0][0])
	assert.False(t, s.HasTable("tag"+newTableSuffix))
}

func TestWrite_CancelledContext(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Write(context.Background(), testTable("tag", types.Row{"go", 3, 1.0})))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, s.Write(ctx, testTable("tag")))

	table, err := s.ReadTable(context.Background(), "tag")
	require.NoError(t, err)
	assert.Len(t, table.Rows, 1)
}

func TestParseCreationDate(t *testing.T) {
	want := time.Date(2008, 7, 31, 21, 42, 52, 667e6, time.UTC)
	for _, s := range []string{"2008-07-31T21:42:52.667", "2008-07-31 21:42:52.667", "2008-07-31T21:42:52.667Z"} {
		got, err := parseCreationDate(s)
		require.NoError(t, err, s)
		assert.Equal(t, want, got, s)
	}

	_, err := parseCreationDate("yesterday")
	assert.Error(t, err)
}
