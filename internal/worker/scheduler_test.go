package worker_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenpress/courier/internal/domain"
	"github.com/lumenpress/courier/internal/repository/memory"
	"github.com/lumenpress/courier/internal/worker"
)

func seedScheduled(t *testing.T, store *memory.Store, id string, at time.Time) *domain.Campaign {
	t.Helper()
	c := &domain.Campaign{
		ID:          id,
		Name:        "Weekly",
		Subject:     "News",
		Status:      domain.CampaignScheduled,
		ScheduledAt: &at,
	}
	require.NoError(t, store.Create(context.Background(), c))
	return c
}

func TestSchedulerClaimsDueCampaigns(t *testing.T) {
	store := memory.NewStore()
	due := seedScheduled(t, store, "due", time.Now().UTC().Add(-time.Minute))
	future := seedScheduled(t, store, "future", time.Now().UTC().Add(time.Hour))

	s := worker.NewScheduler(store, nil, nil, time.Minute, 10)
	claimed := s.ClaimDueOnce(context.Background())
	assert.Equal(t, 1, claimed)

	got, err := store.Get(context.Background(), due.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignSending, got.Status)
	assert.Nil(t, got.ScheduledAt)

	got, err = store.Get(context.Background(), future.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignScheduled, got.Status)
}

func TestSchedulerClaimIsIdempotent(t *testing.T) {
	store := memory.NewStore()
	seedScheduled(t, store, "due", time.Now().UTC().Add(-time.Minute))

	a := worker.NewScheduler(store, nil, nil, time.Minute, 10)
	b := worker.NewScheduler(store, nil, nil, time.Minute, 10)

	assert.Equal(t, 1, a.ClaimDueOnce(context.Background()))
	assert.Equal(t, 0, b.ClaimDueOnce(context.Background()), "second instance must lose the claim race")
}

func TestSchedulerSkipsCancelledCampaigns(t *testing.T) {
	store := memory.NewStore()
	c := seedScheduled(t, store, "due", time.Now().UTC().Add(-time.Minute))

	ok, err := store.Cancel(context.Background(), c.ID, "changed our minds", time.Now().UTC())
	require.NoError(t, err)
	require.True(t, ok)

	s := worker.NewScheduler(store, nil, nil, time.Minute, 10)
	assert.Zero(t, s.ClaimDueOnce(context.Background()))

	got, err := store.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignCancelled, got.Status)
}

func TestSchedulerStartStop(t *testing.T) {
	store := memory.NewStore()
	s := worker.NewScheduler(store, nil, nil, 10*time.Millisecond, 10)

	require.NoError(t, s.Start())
	assert.Error(t, s.Start(), "double start must be rejected")
	time.Sleep(30 * time.Millisecond)
	s.Stop()
	s.Stop() // second stop is a no-op
}
