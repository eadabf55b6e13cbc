// Package postgres implements the persistence contracts against PostgreSQL.
// Writes that race (claims, cancels, completion marks) are conditional
// UPDATEs; RowsAffected tells the caller whether it won.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lumenpress/courier/internal/domain"
	"github.com/lumenpress/courier/internal/service/campaign"
)

// CampaignRepo implements campaign.Repository against PostgreSQL.
type CampaignRepo struct{ db *sql.DB }

// NewCampaignRepo creates a Postgres-backed campaign repository.
func NewCampaignRepo(db *sql.DB) *CampaignRepo { return &CampaignRepo{db: db} }

const campaignColumns = `id, name, template_ref, subject, from_name, from_email,
	html_content, topic, status, COALESCE(period_key, ''),
	scheduled_at, sent_at, cancelled_at, cancel_reason, created_at, updated_at`

func scanCampaign(row interface{ Scan(...interface{}) error }) (*domain.Campaign, error) {
	c := &domain.Campaign{}
	err := row.Scan(
		&c.ID, &c.Name, &c.TemplateRef, &c.Subject, &c.FromName, &c.FromEmail,
		&c.HTMLContent, &c.Topic, &c.Status, &c.PeriodKey,
		&c.ScheduledAt, &c.SentAt, &c.CancelledAt, &c.CancelReason, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (r *CampaignRepo) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	c, err := scanCampaign(r.db.QueryRowContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, campaign.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

func (r *CampaignRepo) List(ctx context.Context, f campaign.ListFilter) ([]domain.Campaign, int, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	where := " WHERE 1=1"
	args := []interface{}{}
	idx := 1
	if f.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, f.Status)
		idx++
	}
	if f.Topic != "" {
		where += fmt.Sprintf(" AND topic = $%d", idx)
		args = append(args, f.Topic)
		idx++
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaigns`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count campaigns: %w", err)
	}

	q := `SELECT ` + campaignColumns + ` FROM campaigns` + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, *c)
	}
	return out, total, rows.Err()
}

func (r *CampaignRepo) Create(ctx context.Context, c *domain.Campaign) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO campaigns (id, name, template_ref, subject, from_name, from_email,
			html_content, topic, status, period_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''), $11, $12)`,
		c.ID, c.Name, c.TemplateRef, c.Subject, c.FromName, c.FromEmail,
		c.HTMLContent, c.Topic, c.Status, c.PeriodKey, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return campaign.ErrDuplicatePeriod
		}
		return fmt.Errorf("insert campaign: %w", err)
	}
	return nil
}

func (r *CampaignRepo) Update(ctx context.Context, id string, u campaign.UpdateFields) error {
	set := "updated_at = NOW()"
	args := []interface{}{}
	idx := 1
	add := func(col string, v *string) {
		if v != nil {
			set += fmt.Sprintf(", %s = $%d", col, idx)
			args = append(args, *v)
			idx++
		}
	}
	add("name", u.Name)
	add("subject", u.Subject)
	add("from_name", u.FromName)
	add("from_email", u.FromEmail)
	add("html_content", u.HTMLContent)
	add("template_ref", u.TemplateRef)
	add("topic", u.Topic)

	q := fmt.Sprintf("UPDATE campaigns SET %s WHERE id = $%d", set, idx)
	args = append(args, id)

	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update campaign: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return campaign.ErrNotFound
	}
	return nil
}

func (r *CampaignRepo) Schedule(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns
		SET status = 'scheduled', scheduled_at = $2, updated_at = NOW()
		WHERE id = $1 AND status IN ('draft', 'scheduled')`,
		id, at)
	if err != nil {
		return false, fmt.Errorf("schedule campaign: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (r *CampaignRepo) ClaimForSending(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns
		SET status = 'sending', scheduled_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status IN ('draft', 'scheduled')`,
		id)
	if err != nil {
		return false, fmt.Errorf("claim campaign: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (r *CampaignRepo) MarkSent(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns
		SET status = 'sent', sent_at = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'sending'`,
		id, at)
	if err != nil {
		return false, fmt.Errorf("mark campaign sent: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// MarkCampaignSent is the dispatcher-facing alias for MarkSent.
func (r *CampaignRepo) MarkCampaignSent(ctx context.Context, id string, at time.Time) (bool, error) {
	return r.MarkSent(ctx, id, at)
}

func (r *CampaignRepo) MarkFailed(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns SET status = 'failed', updated_at = NOW()
		WHERE id = $1 AND status = 'sending'`, id)
	if err != nil {
		return false, fmt.Errorf("mark campaign failed: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (r *CampaignRepo) Cancel(ctx context.Context, id string, reason string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns
		SET status = 'cancelled', scheduled_at = NULL, cancelled_at = $2, cancel_reason = $3, updated_at = NOW()
		WHERE id = $1 AND status IN ('scheduled', 'sending')`,
		id, at, reason)
	if err != nil {
		return false, fmt.Errorf("cancel campaign: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (r *CampaignRepo) DueScheduled(ctx context.Context, now time.Time, limit int) ([]domain.Campaign, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+campaignColumns+`
		FROM campaigns
		WHERE status = 'scheduled' AND scheduled_at <= $1
		ORDER BY scheduled_at
		LIMIT $2`,
		now, limit)
	if err != nil {
		return nil, fmt.Errorf("due campaigns: %w", err)
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scan due campaign: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (r *CampaignRepo) ListSending(ctx context.Context) ([]domain.Campaign, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE status = 'sending' ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("sending campaigns: %w", err)
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sending campaign: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (r *CampaignRepo) CampaignStatus(ctx context.Context, id string) (domain.CampaignStatus, error) {
	var status domain.CampaignStatus
	err := r.db.QueryRowContext(ctx, `SELECT status FROM campaigns WHERE id = $1`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return "", campaign.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("campaign status: %w", err)
	}
	return status, nil
}

func (r *CampaignRepo) ExistsForPeriod(ctx context.Context, periodKey string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM campaigns WHERE period_key = $1)`, periodKey).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("period exists: %w", err)
	}
	return exists, nil
}
