package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pestroute/layoutsync/internal/model"
)

func sampleOps() []*model.QueuedOperation {
	enqueued := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	return []*model.QueuedOperation{
		{
			ID:       "op-1",
			Type:     model.OpCreate,
			Resource: model.ResourceRegion,
			Payload: &model.RegionCreatePayload{
				TenantID: "t1",
				LayoutID: "l1",
				Region:   &model.Region{GridRow: 1, ColSpan: 2, RowSpan: 1, WidgetType: model.WidgetKPI},
			},
			EnqueuedAt: enqueued,
			Status:     model.StatusPending,
		},
		{
			ID:         "op-2",
			Type:       model.OpReorder,
			Resource:   model.ResourceRegion,
			ResourceID: "l1",
			Payload: &model.RegionReorderPayload{
				TenantID:  "t1",
				LayoutID:  "l1",
				Positions: []model.RegionPosition{{RegionID: "r1", Position: 2}},
			},
			EnqueuedAt: enqueued.Add(time.Second),
			Retries:    1,
			Status:     model.StatusFailed,
			LastError:  "status 503: unavailable",
		},
		{
			ID:         "op-3",
			Type:       model.OpDelete,
			Resource:   model.ResourceLayout,
			ResourceID: "l2",
			Payload:    &model.LayoutDeletePayload{TenantID: "t1", ExpectedVersion: 4},
			EnqueuedAt: enqueued.Add(2 * time.Second),
			Status:     model.StatusPending,
		},
	}
}

func assertRoundTrip(t *testing.T, want, got []*model.QueuedOperation) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].ID, got[i].ID)
		assert.Equal(t, want[i].Type, got[i].Type)
		assert.Equal(t, want[i].Resource, got[i].Resource)
		assert.Equal(t, want[i].ResourceID, got[i].ResourceID)
		assert.Equal(t, want[i].Status, got[i].Status)
		assert.Equal(t, want[i].Retries, got[i].Retries)
		assert.Equal(t, want[i].Payload, got[i].Payload)
		assert.True(t, want[i].EnqueuedAt.Equal(got[i].EnqueuedAt))
	}
}

func TestFileQueueStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "agent", "queue.json")

	s, err := NewFileQueueStore(path, zap.NewNop())
	require.NoError(t, err)

	empty, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	ops := sampleOps()
	require.NoError(t, s.Save(ctx, ops))

	// a fresh store over the same file sees the same queue
	reloaded, err := NewFileQueueStore(path, zap.NewNop())
	require.NoError(t, err)
	got, err := reloaded.Load(ctx)
	require.NoError(t, err)
	assertRoundTrip(t, ops, got)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestFileQueueStore_SaveEmptyClears(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileQueueStore(filepath.Join(t.TempDir(), "queue.json"), zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, s.Save(ctx, sampleOps()))
	require.NoError(t, s.Save(ctx, nil))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRedisQueueStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	s := NewRedisQueueStore(client, "layoutsync:queue:agent-1", zap.NewNop())

	empty, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	ops := sampleOps()
	require.NoError(t, s.Save(ctx, ops))

	got, err := NewRedisQueueStore(client, "layoutsync:queue:agent-1", zap.NewNop()).Load(ctx)
	require.NoError(t, err)
	assertRoundTrip(t, ops, got)

	// shrinking the queue replaces the list
	require.NoError(t, s.Save(ctx, ops[1:2]))
	got, err = s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "op-2", got[0].ID)

	require.NoError(t, s.Save(ctx, nil))
	assert.False(t, mr.Exists("layoutsync:queue:agent-1"))
}

func TestRedisQueueStore_CorruptEntry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	_, err := mr.Push("queue", "{not json")
	require.NoError(t, err)

	_, err = NewRedisQueueStore(client, "queue", zap.NewNop()).Load(context.Background())
	assert.Error(t, err)
}
