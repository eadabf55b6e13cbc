package analytics

import (
	"context"
	"time"

	"github.com/lumenpress/courier/internal/domain"
)

// Counts is the raw per-campaign tally read from the delivery table.
type Counts struct {
	Sent         int
	Delivered    int
	Opened       int
	Clicked      int
	Bounced      int
	Complained   int
	Unsubscribed int
}

// Repository is the persistence contract for snapshots. Implementations
// return ErrStoreUnavailable on connectivity failures so the service can
// decide whether to degrade.
type Repository interface {
	// DeliveryCounts tallies the campaign's deliveries by outcome.
	DeliveryCounts(ctx context.Context, campaignID string) (Counts, error)

	// InsertSnapshot appends a snapshot row. Rows are never updated.
	InsertSnapshot(ctx context.Context, s *domain.Snapshot) error

	// LatestSnapshot returns the most recent snapshot for a campaign, or
	// ErrNotFound.
	LatestSnapshot(ctx context.Context, campaignID string) (*domain.Snapshot, error)

	// SnapshotSeries returns a campaign's snapshots captured at or after
	// since, oldest first.
	SnapshotSeries(ctx context.Context, campaignID string, since time.Time) ([]domain.Snapshot, error)

	// LatestPerCampaign returns the newest snapshot of every campaign whose
	// latest capture is at or after since.
	LatestPerCampaign(ctx context.Context, since time.Time) ([]domain.Snapshot, error)

	// SentCampaignIDs lists campaigns that have begun or finished sending,
	// i.e. the ones worth capturing.
	SentCampaignIDs(ctx context.Context) ([]string, error)
}
