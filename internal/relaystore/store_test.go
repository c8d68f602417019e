package relaystore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/better-analytics/internal/sqliteutil"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sqliteutil.Open(filepath.Join(t.TempDir(), "relay.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := NewStore(db)
	require.NoError(t, store.Init(context.Background()))
	return store
}

func TestInsertMessageKeepsRepeatsWithoutKey(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	msg := Message{
		Tenant:        "demo.myshopify.com",
		Type:          "BETTER_ANALYTICS_PAGE_VIEWED",
		URL:           "https://demo.example/",
		MeasurementID: "G-ABC123",
		Source:        SourceFrame,
		OccurredAt:    at,
	}
	first, inserted, err := store.InsertMessage(ctx, msg)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.NotZero(t, first.ID)

	second, inserted, err := store.InsertMessage(ctx, msg)
	require.NoError(t, err)
	assert.True(t, inserted, "identical page views are separate records")
	assert.NotEqual(t, first.DedupeKey, second.DedupeKey)

	all, err := store.ListMessages(ctx, "demo.myshopify.com", 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestInsertMessageExplicitKeyIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	msg := Message{Tenant: "demo", Type: "BETTER_ANALYTICS_PAGE_VIEW", Source: SourcePublish, DedupeKey: "publish:s1:1"}

	_, inserted, err := store.InsertMessage(ctx, msg)
	require.NoError(t, err)
	assert.True(t, inserted)
	_, inserted, err = store.InsertMessage(ctx, msg)
	require.NoError(t, err)
	assert.False(t, inserted)
}

func TestInsertMessageRequiresType(t *testing.T) {
	store := newTestStore(t)
	_, _, err := store.InsertMessage(context.Background(), Message{Tenant: "demo"})
	require.Error(t, err)
}

func TestListMessagesNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, tenant := range []string{"a.myshopify.com", "b.myshopify.com", "a.myshopify.com"} {
		_, _, err := store.InsertMessage(ctx, Message{
			Tenant:     tenant,
			Type:       "BETTER_ANALYTICS_PAGE_VIEW",
			Source:     SourcePublish,
			OccurredAt: base.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}

	all, err := store.ListMessages(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.True(t, all[0].OccurredAt.After(all[1].OccurredAt))

	onlyA, err := store.ListMessages(ctx, "a.myshopify.com", 1)
	require.NoError(t, err)
	require.Len(t, onlyA, 1)
	assert.Equal(t, base.Add(2*time.Second), onlyA[0].OccurredAt.UTC())
	assert.Equal(t, SourcePublish, onlyA[0].Source)
	assert.Empty(t, onlyA[0].URL)
}
