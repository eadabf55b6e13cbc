package analytics_test

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenpress/courier/internal/domain"
	"github.com/lumenpress/courier/internal/service/analytics"
)

type memStore struct {
	mu        sync.Mutex
	counts    map[string]analytics.Counts
	snapshots []domain.Snapshot
	down      bool
}

func newMemStore() *memStore {
	return &memStore{counts: make(map[string]analytics.Counts)}
}

func (m *memStore) DeliveryCounts(_ context.Context, campaignID string) (analytics.Counts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return analytics.Counts{}, analytics.ErrStoreUnavailable
	}
	return m.counts[campaignID], nil
}

func (m *memStore) InsertSnapshot(_ context.Context, s *domain.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return analytics.ErrStoreUnavailable
	}
	m.snapshots = append(m.snapshots, *s)
	return nil
}

func (m *memStore) LatestSnapshot(_ context.Context, campaignID string) (*domain.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return nil, analytics.ErrStoreUnavailable
	}
	var latest *domain.Snapshot
	for i := range m.snapshots {
		s := m.snapshots[i]
		if s.CampaignID != campaignID {
			continue
		}
		if latest == nil || s.CapturedAt.After(latest.CapturedAt) {
			cp := s
			latest = &cp
		}
	}
	if latest == nil {
		return nil, analytics.ErrNotFound
	}
	return latest, nil
}

func (m *memStore) SnapshotSeries(_ context.Context, campaignID string, since time.Time) ([]domain.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return nil, analytics.ErrStoreUnavailable
	}
	var out []domain.Snapshot
	for _, s := range m.snapshots {
		if s.CampaignID == campaignID && !s.CapturedAt.Before(since) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memStore) LatestPerCampaign(_ context.Context, since time.Time) ([]domain.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return nil, analytics.ErrStoreUnavailable
	}
	latest := make(map[string]domain.Snapshot)
	for _, s := range m.snapshots {
		cur, ok := latest[s.CampaignID]
		if !ok || s.CapturedAt.After(cur.CapturedAt) {
			latest[s.CampaignID] = s
		}
	}
	var out []domain.Snapshot
	for _, s := range latest {
		if !s.CapturedAt.Before(since) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memStore) SentCampaignIDs(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return nil, analytics.ErrStoreUnavailable
	}
	ids := make([]string, 0, len(m.counts))
	for id := range m.counts {
		ids = append(ids, id)
	}
	return ids, nil
}

func TestCaptureComputesRates(t *testing.T) {
	store := newMemStore()
	store.counts["c1"] = analytics.Counts{
		Sent:      1250,
		Delivered: 1198,
		Opened:    456,
		Clicked:   97,
		Bounced:   52,
	}
	svc := analytics.NewService(store, false)

	snap, err := svc.Capture(context.Background(), "c1")
	require.NoError(t, err)

	assert.InDelta(t, 1198.0/1250.0, snap.DeliveryRate, 1e-9) // ~95.84%
	assert.InDelta(t, 456.0/1198.0, snap.OpenRate, 1e-9)      // ~38.06%
	assert.InDelta(t, 97.0/456.0, snap.ClickRate, 1e-9)
	assert.InDelta(t, 52.0/1250.0, snap.BounceRate, 1e-9)
	assert.False(t, snap.Synthetic)
	assert.Len(t, store.snapshots, 1)
}

func TestCaptureZeroSentYieldsZeroRates(t *testing.T) {
	store := newMemStore()
	store.counts["empty"] = analytics.Counts{}
	svc := analytics.NewService(store, false)

	snap, err := svc.Capture(context.Background(), "empty")
	require.NoError(t, err)
	assert.Zero(t, snap.DeliveryRate)
	assert.Zero(t, snap.OpenRate)
	assert.Zero(t, snap.ClickRate)
	assert.Zero(t, snap.BounceRate)
	assert.Zero(t, snap.UnsubscribeRate)
	assert.False(t, math.IsNaN(snap.OpenRate))
}

func TestSnapshotsAreImmutable(t *testing.T) {
	store := newMemStore()
	store.counts["c1"] = analytics.Counts{Sent: 10, Delivered: 10}
	svc := analytics.NewService(store, false)

	first, err := svc.Capture(context.Background(), "c1")
	require.NoError(t, err)

	store.mu.Lock()
	store.counts["c1"] = analytics.Counts{Sent: 10, Delivered: 10, Opened: 7}
	store.mu.Unlock()

	second, err := svc.Capture(context.Background(), "c1")
	require.NoError(t, err)

	// Both rows survive; the earlier one keeps its original counts.
	assert.Len(t, store.snapshots, 2)
	assert.Equal(t, 0, store.snapshots[0].OpenCount)
	assert.Equal(t, 7, second.OpenCount)
	assert.Equal(t, 0, first.OpenCount)
}

func TestLatestDegradedFallback(t *testing.T) {
	store := newMemStore()
	store.down = true

	strict := analytics.NewService(store, false)
	_, err := strict.Latest(context.Background(), "c1")
	assert.ErrorIs(t, err, analytics.ErrStoreUnavailable)

	degraded := analytics.NewService(store, true)
	snap, err := degraded.Latest(context.Background(), "c1")
	require.NoError(t, err)
	assert.True(t, snap.Synthetic)
	assert.Equal(t, "c1", snap.CampaignID)
	assert.Greater(t, snap.DeliveryRate, 0.0)
}

func TestTopPerformersRankedByOpenRate(t *testing.T) {
	store := newMemStore()
	now := time.Now().UTC()
	mk := func(id string, delivered, opened int) domain.Snapshot {
		s := domain.Snapshot{CampaignID: id, CapturedAt: now, SentCount: delivered, DeliveredCount: delivered, OpenCount: opened}
		s.ComputeRates()
		return s
	}
	store.snapshots = []domain.Snapshot{
		mk("low", 100, 10),
		mk("high", 100, 60),
		mk("mid", 100, 30),
	}
	svc := analytics.NewService(store, false)

	top, err := svc.TopPerformers(context.Background(), 7*24*time.Hour, 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "high", top[0].CampaignID)
	assert.Equal(t, "mid", top[1].CampaignID)
}

func TestTopPerformersWindowExcludesStale(t *testing.T) {
	store := newMemStore()
	now := time.Now().UTC()
	fresh := domain.Snapshot{CampaignID: "fresh", CapturedAt: now, SentCount: 10, DeliveredCount: 10, OpenCount: 1}
	stale := domain.Snapshot{CampaignID: "stale", CapturedAt: now.Add(-30 * 24 * time.Hour), SentCount: 10, DeliveredCount: 10, OpenCount: 9}
	fresh.ComputeRates()
	stale.ComputeRates()
	store.snapshots = []domain.Snapshot{fresh, stale}
	svc := analytics.NewService(store, false)

	top, err := svc.TopPerformers(context.Background(), 7*24*time.Hour, 5)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "fresh", top[0].CampaignID)
}

func TestCaptureAllSkipsFailures(t *testing.T) {
	store := newMemStore()
	store.counts["a"] = analytics.Counts{Sent: 5, Delivered: 5}
	store.counts["b"] = analytics.Counts{Sent: 3, Delivered: 2}
	svc := analytics.NewService(store, false)

	n, err := svc.CaptureAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, store.snapshots, 2)
}
