package db

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outcomeops/outcomeops-analytics/internal/keys"
)

func item(pk, sk string) Item {
	return Item{PK: pk, SK: sk, Data: []byte(`{"v":1}`)}
}

func TestMemoryStore_PutIsUpsert(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.PutItems(ctx, TableEvents, []Item{item("a", "1")})
	require.NoError(t, err)
	replay := item("a", "1")
	replay.Data = []byte(`{"v":2}`)
	_, err = s.PutItems(ctx, TableEvents, []Item{replay})
	require.NoError(t, err)

	assert.Equal(t, 1, s.Len(TableEvents))
	got, err := s.GetItem(ctx, TableEvents, "a", "1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":2}`, string(got.Data))
}

func TestMemoryStore_BatchLimit(t *testing.T) {
	s := NewMemoryStore()
	items := make([]Item, MaxBatchSize+1)
	for i := range items {
		items[i] = item("p", fmt.Sprint(i))
	}
	_, err := s.PutItems(context.Background(), TableEvents, items)
	assert.True(t, errors.Is(err, ErrBatchTooLarge))
}

func TestMemoryStore_UnknownTable(t *testing.T) {
	_, err := NewMemoryStore().PutItems(context.Background(), Table("nope"), []Item{item("a", "b")})
	assert.ErrorIs(t, err, ErrUnknownTable)
}

func TestMemoryStore_QueryOrderAndFilters(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, err := s.PutItems(ctx, TableEvents, []Item{
		item("d#2025-01-02", "t3"),
		item("d#2025-01-01", "t2"),
		item("d#2025-01-01", "t1"),
		item("other", "t0"),
	})
	require.NoError(t, err)

	got, err := s.Query(ctx, Query{Table: TableEvents, Partitions: []string{"d#2025-01-01", "d#2025-01-02"}})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"t1", "t2", "t3"}, []string{got[0].SK, got[1].SK, got[2].SK})

	got, err = s.Query(ctx, Query{Table: TableEvents, Partitions: []string{"d#2025-01-01"}, SortFrom: "t2"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "t2", got[0].SK)

	got, err = s.Query(ctx, Query{Table: TableEvents, Partitions: []string{"d#2025-01-01", "d#2025-01-02"}, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestMemoryStore_SecondaryIndex(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	a := item("p1", "s1")
	a.GSI1PK, a.GSI1SK = "d#/x", "2025-01-01T00:00:00Z"
	b := item("p2", "s2")
	b.GSI1PK, b.GSI1SK = "d#/x", "2025-01-02T00:00:00Z"
	c := item("p3", "s3")
	_, err := s.PutItems(ctx, TableEvents, []Item{b, a, c})
	require.NoError(t, err)

	got, err := s.Query(ctx, Query{Table: TableEvents, Index: keys.GSI1, Partitions: []string{"d#/x"}})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "p1", got[0].PK)
	assert.Equal(t, "p2", got[1].PK)

	got, err = s.Query(ctx, Query{Table: TableEvents, Index: keys.GSI1, Partitions: []string{"d#/x"}, SortPrefix: "2025-01-02"})
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestMemoryStore_TTL(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	s := NewMemoryStore()
	s.SetClock(func() time.Time { return now })

	old := item("p", "old")
	old.ExpiresAt = now.Add(-time.Hour)
	live := item("p", "live")
	live.ExpiresAt = now.Add(time.Hour)
	_, err := s.PutItems(ctx, TableSessions, []Item{old, live})
	require.NoError(t, err)

	got, err := s.Query(ctx, Query{Table: TableSessions, Partitions: []string{"p"}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "live", got[0].SK)

	_, err = s.GetItem(ctx, TableSessions, "p", "old")
	assert.ErrorIs(t, err, ErrItemNotFound)

	n, err := s.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Equal(t, 1, s.Len(TableSessions))
}

func TestMemoryStore_MagicTokenSingleUse(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	s := NewMemoryStore()
	require.NoError(t, s.UpsertAdminUser(ctx, "a@example.com", "Alice", true))
	require.NoError(t, s.SetMagicToken(ctx, "a@example.com", "h1", now.Add(15*time.Minute)))

	u, err := s.ConsumeMagicToken(ctx, "h1", now)
	require.NoError(t, err)
	assert.Equal(t, "Alice", u.Name)

	_, err = s.ConsumeMagicToken(ctx, "h1", now)
	assert.ErrorIs(t, err, ErrMagicTokenInvalid)
}

func TestMemoryStore_MagicTokenExpired(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	s := NewMemoryStore()
	require.NoError(t, s.UpsertAdminUser(ctx, "a@example.com", "Alice", true))
	require.NoError(t, s.SetMagicToken(ctx, "a@example.com", "h1", now))

	_, err := s.ConsumeMagicToken(ctx, "h1", now)
	assert.ErrorIs(t, err, ErrMagicTokenInvalid)
}

func TestMemoryStore_SetMagicTokenUnknownUser(t *testing.T) {
	err := NewMemoryStore().SetMagicToken(context.Background(), "x@example.com", "h", time.Now())
	assert.ErrorIs(t, err, ErrAdminUserNotFound)
}

func TestDedupeKeepsLast(t *testing.T) {
	a1 := item("a", "1")
	a2 := item("a", "1")
	a2.Data = []byte(`{"v":2}`)
	out := dedupe([]Item{a1, item("b", "1"), a2})
	require.Len(t, out, 2)
	assert.JSONEq(t, `{"v":2}`, string(out[0].Data))
}
