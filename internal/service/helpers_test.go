package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pestroute/layoutsync/internal/errors"
	"github.com/pestroute/layoutsync/internal/model"
	"github.com/pestroute/layoutsync/internal/store"
	"github.com/pestroute/layoutsync/internal/validation"
)

const (
	testTenant = "t1"
	testLayout = "l1"
)

// faultyStore is a MemoryStore whose region calls can be made to fail
type faultyStore struct {
	*store.MemoryStore

	mu       sync.Mutex
	failures map[string][]error
	calls    map[string]int
}

func newFaultyStore(clock clockwork.Clock) *faultyStore {
	return &faultyStore{
		MemoryStore: store.NewMemoryStore(clock, zap.NewNop()),
		failures:    make(map[string][]error),
		calls:       make(map[string]int),
	}
}

// failNext makes the next len(errs) calls of method fail in order
func (s *faultyStore) failNext(method string, errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method] = append(s.failures[method], errs...)
}

func (s *faultyStore) callCount(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

func (s *faultyStore) take(method string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[method]++
	if len(s.failures[method]) == 0 {
		return nil
	}
	err := s.failures[method][0]
	s.failures[method] = s.failures[method][1:]
	return err
}

func (s *faultyStore) GetRegion(ctx context.Context, tenantID, layoutID, regionID string) (*model.Region, error) {
	if err := s.take("GetRegion"); err != nil {
		return nil, err
	}
	return s.MemoryStore.GetRegion(ctx, tenantID, layoutID, regionID)
}

func (s *faultyStore) ListRegions(ctx context.Context, tenantID, layoutID string) ([]*model.Region, error) {
	if err := s.take("ListRegions"); err != nil {
		return nil, err
	}
	return s.MemoryStore.ListRegions(ctx, tenantID, layoutID)
}

func (s *faultyStore) CreateRegion(ctx context.Context, region *model.Region) (*model.Region, error) {
	if err := s.take("CreateRegion"); err != nil {
		return nil, err
	}
	return s.MemoryStore.CreateRegion(ctx, region)
}

func (s *faultyStore) UpdateRegion(ctx context.Context, tenantID, layoutID, regionID string, patch *model.RegionPatch, expectedVersion int64) (*model.Region, error) {
	if err := s.take("UpdateRegion"); err != nil {
		return nil, err
	}
	return s.MemoryStore.UpdateRegion(ctx, tenantID, layoutID, regionID, patch, expectedVersion)
}

func (s *faultyStore) DeleteRegion(ctx context.Context, tenantID, layoutID, regionID string, expectedVersion int64) error {
	if err := s.take("DeleteRegion"); err != nil {
		return err
	}
	return s.MemoryStore.DeleteRegion(ctx, tenantID, layoutID, regionID, expectedVersion)
}

func (s *faultyStore) ReorderRegions(ctx context.Context, tenantID, layoutID string, positions []model.RegionPosition) ([]*model.Region, error) {
	if err := s.take("ReorderRegions"); err != nil {
		return nil, err
	}
	return s.MemoryStore.ReorderRegions(ctx, tenantID, layoutID, positions)
}

type fixture struct {
	ctx        context.Context
	clock      clockwork.FakeClock
	store      *faultyStore
	cache      *RegionCache
	controller *ConcurrencyController
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
	s := newFaultyStore(clock)
	_, err := s.CreateLayout(context.Background(), &model.Layout{ID: testLayout, TenantID: testTenant, Name: "Operations"})
	require.NoError(t, err)

	return &fixture{
		ctx:        context.Background(),
		clock:      clock,
		store:      s,
		cache:      NewRegionCache(),
		controller: NewConcurrencyController(s, validation.NewValidator(), clock, nil, zap.NewNop()),
	}
}

// seed stores a region directly, bypassing fault injection, and caches it
func (f *fixture) seed(t *testing.T, id string, row, col, rowSpan, colSpan int) *model.Region {
	t.Helper()
	r, err := f.store.MemoryStore.CreateRegion(f.ctx, kpiRegion(id, row, col, rowSpan, colSpan))
	require.NoError(t, err)
	f.cache.Put(r)
	return r
}

// bump changes a region behind the cache's back
func (f *fixture) bump(t *testing.T, id string, patch *model.RegionPatch) *model.Region {
	t.Helper()
	current, err := f.store.MemoryStore.GetRegion(f.ctx, testTenant, testLayout, id)
	require.NoError(t, err)
	r, err := f.store.MemoryStore.UpdateRegion(f.ctx, testTenant, testLayout, id, patch, current.Version)
	require.NoError(t, err)
	return r
}

func (f *fixture) stored(t *testing.T, id string) *model.Region {
	t.Helper()
	r, err := f.store.MemoryStore.GetRegion(f.ctx, testTenant, testLayout, id)
	require.NoError(t, err)
	return r
}

func kpiRegion(id string, row, col, rowSpan, colSpan int) *model.Region {
	return &model.Region{
		ID:         id,
		TenantID:   testTenant,
		LayoutID:   testLayout,
		GridRow:    row,
		GridCol:    col,
		RowSpan:    rowSpan,
		ColSpan:    colSpan,
		WidgetType: model.WidgetKPI,
		WidgetConfig: &model.WidgetConfig{
			KPI: &model.KPIConfig{Metric: "jobs_completed", Label: "Jobs completed"},
		},
	}
}

func unavailable() error {
	return errors.StatusError(503, errors.ErrorCodeServiceDown, "storage unavailable")
}

func forbidden() error {
	return errors.StatusError(403, errors.ErrorCodeForbidden, "permission denied")
}

// MockDispatcher is a mock implementation of Dispatcher
type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) Dispatch(ctx context.Context, op *model.QueuedOperation) error {
	args := m.Called(ctx, op)
	return args.Error(0)
}

// memoryQueueStore is a QueueStore that round-trips through the JSON codec
// like the durable stores do
type memoryQueueStore struct {
	mu   sync.Mutex
	data []byte
	fail error
}

func (s *memoryQueueStore) Load(ctx context.Context) ([]*model.QueuedOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.data) == 0 {
		return nil, nil
	}
	var ops []*model.QueuedOperation
	if err := json.Unmarshal(s.data, &ops); err != nil {
		return nil, err
	}
	return ops, nil
}

func (s *memoryQueueStore) Save(ctx context.Context, ops []*model.QueuedOperation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	data, err := json.Marshal(ops)
	if err != nil {
		return err
	}
	s.data = data
	return nil
}
