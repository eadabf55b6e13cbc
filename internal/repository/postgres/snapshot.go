package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lumenpress/courier/internal/domain"
	"github.com/lumenpress/courier/internal/service/analytics"
)

// SnapshotRepo persists analytics snapshots. Query failures wrap
// analytics.ErrStoreUnavailable so the service can engage degraded mode.
type SnapshotRepo struct{ db *sql.DB }

func NewSnapshotRepo(db *sql.DB) *SnapshotRepo { return &SnapshotRepo{db: db} }

func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, analytics.ErrStoreUnavailable, err)
}

// DeliveryCounts tallies a campaign's deliveries by outcome. "Sent" counts
// every row the provider accepted, including ones that later bounced or
// complained.
func (r *SnapshotRepo) DeliveryCounts(ctx context.Context, campaignID string) (analytics.Counts, error) {
	var c analytics.Counts
	err := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status IN ('sent', 'delivered', 'bounced_soft', 'bounced_hard', 'complained')),
			COUNT(*) FILTER (WHERE status = 'delivered'),
			COUNT(*) FILTER (WHERE opened_at IS NOT NULL),
			COUNT(*) FILTER (WHERE clicked_at IS NOT NULL),
			COUNT(*) FILTER (WHERE status IN ('bounced_soft', 'bounced_hard')),
			COUNT(*) FILTER (WHERE status = 'complained'),
			COUNT(*) FILTER (WHERE unsubscribed_at IS NOT NULL)
		FROM deliveries
		WHERE campaign_id = $1`,
		campaignID).Scan(&c.Sent, &c.Delivered, &c.Opened, &c.Clicked, &c.Bounced, &c.Complained, &c.Unsubscribed)
	if err != nil {
		return analytics.Counts{}, storeErr("delivery counts", err)
	}
	return c, nil
}

func (r *SnapshotRepo) InsertSnapshot(ctx context.Context, s *domain.Snapshot) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO snapshots (campaign_id, captured_at, sent_count, delivered_count,
			open_count, click_count, bounce_count, complaint_count, unsubscribe_count,
			delivery_rate, open_rate, click_rate, bounce_rate, unsubscribe_rate)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		s.CampaignID, s.CapturedAt, s.SentCount, s.DeliveredCount,
		s.OpenCount, s.ClickCount, s.BounceCount, s.ComplaintCount, s.UnsubscribeCount,
		s.DeliveryRate, s.OpenRate, s.ClickRate, s.BounceRate, s.UnsubscribeRate)
	if err != nil {
		return storeErr("insert snapshot", err)
	}
	return nil
}

const snapshotColumns = `campaign_id, captured_at, sent_count, delivered_count,
	open_count, click_count, bounce_count, complaint_count, unsubscribe_count,
	delivery_rate, open_rate, click_rate, bounce_rate, unsubscribe_rate`

func scanSnapshot(row interface{ Scan(...interface{}) error }) (*domain.Snapshot, error) {
	s := &domain.Snapshot{}
	err := row.Scan(&s.CampaignID, &s.CapturedAt, &s.SentCount, &s.DeliveredCount,
		&s.OpenCount, &s.ClickCount, &s.BounceCount, &s.ComplaintCount, &s.UnsubscribeCount,
		&s.DeliveryRate, &s.OpenRate, &s.ClickRate, &s.BounceRate, &s.UnsubscribeRate)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *SnapshotRepo) LatestSnapshot(ctx context.Context, campaignID string) (*domain.Snapshot, error) {
	s, err := scanSnapshot(r.db.QueryRowContext(ctx, `
		SELECT `+snapshotColumns+` FROM snapshots
		WHERE campaign_id = $1
		ORDER BY captured_at DESC
		LIMIT 1`, campaignID))
	if err == sql.ErrNoRows {
		return nil, analytics.ErrNotFound
	}
	if err != nil {
		return nil, storeErr("latest snapshot", err)
	}
	return s, nil
}

func (r *SnapshotRepo) SnapshotSeries(ctx context.Context, campaignID string, since time.Time) ([]domain.Snapshot, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+snapshotColumns+` FROM snapshots
		WHERE campaign_id = $1 AND captured_at >= $2
		ORDER BY captured_at`,
		campaignID, since)
	if err != nil {
		return nil, storeErr("snapshot series", err)
	}
	defer rows.Close()

	var out []domain.Snapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, storeErr("scan snapshot", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// LatestPerCampaign returns the newest snapshot of each campaign captured at
// or after since.
func (r *SnapshotRepo) LatestPerCampaign(ctx context.Context, since time.Time) ([]domain.Snapshot, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT ON (campaign_id) `+snapshotColumns+`
		FROM snapshots
		ORDER BY campaign_id, captured_at DESC`)
	if err != nil {
		return nil, storeErr("latest per campaign", err)
	}
	defer rows.Close()

	var out []domain.Snapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, storeErr("scan snapshot", err)
		}
		if s.CapturedAt.Before(since) {
			continue
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (r *SnapshotRepo) SentCampaignIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM campaigns WHERE status IN ('sending', 'sent')`)
	if err != nil {
		return nil, storeErr("sent campaigns", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storeErr("scan campaign id", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
