package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenpress/courier/internal/domain"
	"github.com/lumenpress/courier/internal/service/campaign"
)

func setupMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db), mock
}

func TestClaimForSendingWinsAndLoses(t *testing.T) {
	store, mock := setupMock(t)
	ctx := context.Background()

	mock.ExpectExec(`UPDATE campaigns`).
		WithArgs("c1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	ok, err := store.ClaimForSending(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, ok)

	// Second claim matches no row in draft/scheduled.
	mock.ExpectExec(`UPDATE campaigns`).
		WithArgs("c1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	ok, err = store.ClaimForSending(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelClearsScheduleTime(t *testing.T) {
	store, mock := setupMock(t)
	at := time.Now().UTC()

	mock.ExpectExec(`UPDATE campaigns\s+SET status = 'cancelled', scheduled_at = NULL`).
		WithArgs("c1", at, "changed plans").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := store.Cancel(context.Background(), "c1", "changed plans", at)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelOnlyFromCancellableStates(t *testing.T) {
	store, mock := setupMock(t)
	at := time.Now().UTC()

	mock.ExpectExec(`UPDATE campaigns`).
		WithArgs("c1", at, "bad copy").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := store.Cancel(context.Background(), "c1", "bad copy", at)
	require.NoError(t, err)
	assert.False(t, ok, "a sent campaign must not be cancellable")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateDuplicatePeriodKey(t *testing.T) {
	store, mock := setupMock(t)

	mock.ExpectExec(`INSERT INTO campaigns`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "campaigns_period_key"})

	err := store.CampaignRepo.Create(context.Background(), &domain.Campaign{
		ID:        "c2",
		Name:      "Weekly Digest",
		Subject:   "s",
		Status:    domain.CampaignDraft,
		PeriodKey: "digest:2026-W36",
	})
	assert.ErrorIs(t, err, campaign.ErrDuplicatePeriod)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetNotFound(t *testing.T) {
	store, mock := setupMock(t)

	mock.ExpectQuery(`SELECT .+ FROM campaigns WHERE id`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.CampaignRepo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, campaign.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSuppressRecipientIsOneWay(t *testing.T) {
	store, mock := setupMock(t)
	at := time.Now().UTC()

	mock.ExpectExec(`UPDATE recipients`).
		WithArgs("gone@example.com", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	newly, err := store.SuppressRecipient(context.Background(), "Gone@Example.com", at)
	require.NoError(t, err)
	assert.True(t, newly)

	mock.ExpectExec(`UPDATE recipients`).
		WithArgs("gone@example.com", at).
		WillReturnResult(sqlmock.NewResult(0, 0))
	newly, err = store.SuppressRecipient(context.Background(), "gone@example.com", at)
	require.NoError(t, err)
	assert.False(t, newly, "second suppression touches no row")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelQueuedReturnsCount(t *testing.T) {
	store, mock := setupMock(t)

	mock.ExpectExec(`UPDATE deliveries`).
		WithArgs("c1").
		WillReturnResult(sqlmock.NewResult(0, 90))

	n, err := store.CancelQueued(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, 90, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryCountsScan(t *testing.T) {
	store, mock := setupMock(t)

	mock.ExpectQuery(`SELECT\s+COUNT`).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows(
			[]string{"sent", "delivered", "opened", "clicked", "bounced", "complained", "unsubscribed"}).
			AddRow(1250, 1198, 456, 97, 52, 3, 12))

	c, err := store.DeliveryCounts(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, 1250, c.Sent)
	assert.Equal(t, 1198, c.Delivered)
	assert.Equal(t, 456, c.Opened)
	assert.Equal(t, 12, c.Unsubscribed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkOpenedKeepsFirstTimestamp(t *testing.T) {
	store, mock := setupMock(t)
	at := time.Now().UTC()

	mock.ExpectExec(`UPDATE deliveries SET opened_at`).
		WithArgs("c1", "r1", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	changed, err := store.MarkOpened(context.Background(), "c1", "r1", at)
	require.NoError(t, err)
	assert.True(t, changed)

	mock.ExpectExec(`UPDATE deliveries SET opened_at`).
		WithArgs("c1", "r1", at).
		WillReturnResult(sqlmock.NewResult(0, 0))
	changed, err = store.MarkOpened(context.Background(), "c1", "r1", at)
	require.NoError(t, err)
	assert.False(t, changed)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateDeliveriesChunksInsideTx(t *testing.T) {
	store, mock := setupMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO deliveries`).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	now := time.Now().UTC()
	ds := []domain.Delivery{
		{CampaignID: "c1", RecipientID: "r1", Email: "a@example.com", Status: domain.DeliveryQueued, CreatedAt: now, UpdatedAt: now},
		{CampaignID: "c1", RecipientID: "r2", Email: "b@example.com", Status: domain.DeliveryQueued, CreatedAt: now, UpdatedAt: now},
		{CampaignID: "c1", RecipientID: "r3", Email: "c@example.com", Status: domain.DeliveryQueued, CreatedAt: now, UpdatedAt: now},
	}
	n, err := store.CreateDeliveries(context.Background(), ds)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
