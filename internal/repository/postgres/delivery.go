package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/lumenpress/courier/internal/domain"
	"github.com/lumenpress/courier/internal/worker"
)

// claimLease is how long a claimed batch stays invisible to other
// dispatcher instances. A crashed dispatcher's rows resurface after this.
const claimLease = 5 * time.Minute

// DeliveryRepo persists per-recipient delivery rows.
type DeliveryRepo struct{ db *sql.DB }

func NewDeliveryRepo(db *sql.DB) *DeliveryRepo { return &DeliveryRepo{db: db} }

// CreateDeliveries inserts the fan-out in one statement inside a
// transaction. ON CONFLICT DO NOTHING keeps re-runs idempotent; the
// transaction keeps a partial fan-out from ever being visible.
func (r *DeliveryRepo) CreateDeliveries(ctx context.Context, ds []domain.Delivery) (int, error) {
	if len(ds) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin fan-out: %w", err)
	}
	defer tx.Rollback()

	inserted := 0
	// Multi-row VALUES in chunks to stay under the parameter limit.
	const chunk = 1000
	for start := 0; start < len(ds); start += chunk {
		end := start + chunk
		if end > len(ds) {
			end = len(ds)
		}
		batch := ds[start:end]

		var sb strings.Builder
		sb.WriteString(`INSERT INTO deliveries
			(campaign_id, recipient_id, email, status, created_at, updated_at) VALUES `)
		args := make([]interface{}, 0, len(batch)*6)
		for i, d := range batch {
			if i > 0 {
				sb.WriteString(", ")
			}
			base := i * 6
			fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d)",
				base+1, base+2, base+3, base+4, base+5, base+6)
			args = append(args, d.CampaignID, d.RecipientID, d.Email, d.Status, d.CreatedAt, d.UpdatedAt)
		}
		sb.WriteString(` ON CONFLICT (campaign_id, recipient_id) DO NOTHING`)

		res, err := tx.ExecContext(ctx, sb.String(), args...)
		if err != nil {
			return 0, fmt.Errorf("insert deliveries: %w", err)
		}
		n, _ := res.RowsAffected()
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit fan-out: %w", err)
	}
	return inserted, nil
}

func (r *DeliveryRepo) CountDeliveries(ctx context.Context, campaignID string) (int, int, error) {
	var total, queued int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE status = 'queued')
		FROM deliveries WHERE campaign_id = $1`,
		campaignID).Scan(&total, &queued)
	if err != nil {
		return 0, 0, fmt.Errorf("count deliveries: %w", err)
	}
	return total, queued, nil
}

// ClaimDueDeliveries picks due queued rows and leases them: inside one
// transaction the rows are locked with SKIP LOCKED, then their
// next_eligible_at is pushed out so concurrent dispatchers cannot claim the
// same batch. Rows stay queued; a crash simply lets the lease lapse.
func (r *DeliveryRepo) ClaimDueDeliveries(ctx context.Context, campaignID string, now time.Time, limit int) ([]worker.DispatchItem, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT d.campaign_id, d.recipient_id, d.email, d.status, d.attempts,
		       d.last_attempt_at, d.next_eligible_at, d.message_id, d.last_error,
		       COALESCE(r.timezone, '')
		FROM deliveries d
		JOIN recipients r ON r.id = d.recipient_id
		WHERE d.campaign_id = $1
		  AND d.status = 'queued'
		  AND (d.next_eligible_at IS NULL OR d.next_eligible_at <= $2)
		ORDER BY d.created_at
		LIMIT $3
		FOR UPDATE OF d SKIP LOCKED`,
		campaignID, now, limit)
	if err != nil {
		return nil, fmt.Errorf("claim deliveries: %w", err)
	}

	var items []worker.DispatchItem
	ids := []string{}
	for rows.Next() {
		var item worker.DispatchItem
		d := &item.Delivery
		if err := rows.Scan(&d.CampaignID, &d.RecipientID, &d.Email, &d.Status, &d.Attempts,
			&d.LastAttemptAt, &d.NextEligibleAt, &d.MessageID, &d.LastError,
			&item.Timezone); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan claimed delivery: %w", err)
		}
		items = append(items, item)
		ids = append(ids, d.RecipientID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim deliveries: %w", err)
	}

	if len(ids) > 0 {
		lease := now.Add(claimLease)
		if _, err := tx.ExecContext(ctx, `
			UPDATE deliveries SET next_eligible_at = $3, updated_at = NOW()
			WHERE campaign_id = $1 AND recipient_id = ANY($2)`,
			campaignID, pq.Array(ids), lease); err != nil {
			return nil, fmt.Errorf("lease claimed deliveries: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return items, nil
}

func (r *DeliveryRepo) MarkDeliverySent(ctx context.Context, campaignID, recipientID, messageID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE deliveries
		SET status = 'sent', message_id = $3,
		    last_attempt_at = $4, next_eligible_at = NULL, updated_at = NOW()
		WHERE campaign_id = $1 AND recipient_id = $2`,
		campaignID, recipientID, messageID, at)
	if err != nil {
		return fmt.Errorf("mark delivery sent: %w", err)
	}
	return nil
}

func (r *DeliveryRepo) MarkDeliveryFailed(ctx context.Context, campaignID, recipientID, reason string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE deliveries
		SET status = 'failed', attempts = attempts + 1, last_attempt_at = NOW(),
		    last_error = $3, next_eligible_at = NULL, updated_at = NOW()
		WHERE campaign_id = $1 AND recipient_id = $2`,
		campaignID, recipientID, reason)
	if err != nil {
		return fmt.Errorf("mark delivery failed: %w", err)
	}
	return nil
}

func (r *DeliveryRepo) RequeueDelivery(ctx context.Context, campaignID, recipientID string, nextAt time.Time, reason string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE deliveries
		SET attempts = attempts + 1, last_attempt_at = NOW(), last_error = $3,
		    next_eligible_at = $4, updated_at = NOW()
		WHERE campaign_id = $1 AND recipient_id = $2 AND status = 'queued'`,
		campaignID, recipientID, reason, nextAt)
	if err != nil {
		return fmt.Errorf("requeue delivery: %w", err)
	}
	return nil
}

func (r *DeliveryRepo) DeferDelivery(ctx context.Context, campaignID, recipientID string, nextAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE deliveries SET next_eligible_at = $3, updated_at = NOW()
		WHERE campaign_id = $1 AND recipient_id = $2 AND status = 'queued'`,
		campaignID, recipientID, nextAt)
	if err != nil {
		return fmt.Errorf("defer delivery: %w", err)
	}
	return nil
}

// CancelQueued flips every queued delivery of a campaign to cancelled and
// reports how many were dropped.
func (r *DeliveryRepo) CancelQueued(ctx context.Context, campaignID string) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE deliveries
		SET status = 'cancelled', next_eligible_at = NULL, updated_at = NOW()
		WHERE campaign_id = $1 AND status = 'queued'`,
		campaignID)
	if err != nil {
		return 0, fmt.Errorf("cancel queued deliveries: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

const deliveryColumns = `campaign_id, recipient_id, email, status, attempts,
	last_attempt_at, next_eligible_at, message_id, last_error,
	opened_at, clicked_at, unsubscribed_at, created_at, updated_at`

func scanDelivery(row interface{ Scan(...interface{}) error }) (*domain.Delivery, error) {
	d := &domain.Delivery{}
	err := row.Scan(&d.CampaignID, &d.RecipientID, &d.Email, &d.Status, &d.Attempts,
		&d.LastAttemptAt, &d.NextEligibleAt, &d.MessageID, &d.LastError,
		&d.OpenedAt, &d.ClickedAt, &d.UnsubscribedAt, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (r *DeliveryRepo) DeliveryByMessageID(ctx context.Context, messageID string) (*domain.Delivery, error) {
	if messageID == "" {
		return nil, nil
	}
	d, err := scanDelivery(r.db.QueryRowContext(ctx,
		`SELECT `+deliveryColumns+` FROM deliveries WHERE message_id = $1`, messageID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("delivery by message id: %w", err)
	}
	return d, nil
}

func (r *DeliveryRepo) DeliveryByCampaignEmail(ctx context.Context, campaignID, email string) (*domain.Delivery, error) {
	d, err := scanDelivery(r.db.QueryRowContext(ctx,
		`SELECT `+deliveryColumns+` FROM deliveries WHERE campaign_id = $1 AND email = $2`,
		campaignID, domain.NormalizeEmail(email)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("delivery by campaign/email: %w", err)
	}
	return d, nil
}

func (r *DeliveryRepo) SetDeliveryStatus(ctx context.Context, campaignID, recipientID string, from []domain.DeliveryStatus, to domain.DeliveryStatus, at time.Time) (bool, error) {
	fromStrs := make([]string, len(from))
	for i, f := range from {
		fromStrs[i] = string(f)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE deliveries SET status = $4, updated_at = $5
		WHERE campaign_id = $1 AND recipient_id = $2 AND status = ANY($3)`,
		campaignID, recipientID, pq.Array(fromStrs), to, at)
	if err != nil {
		return false, fmt.Errorf("set delivery status: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (r *DeliveryRepo) MarkOpened(ctx context.Context, campaignID, recipientID string, at time.Time) (bool, error) {
	return r.markEngagement(ctx, "opened_at", campaignID, recipientID, at)
}

func (r *DeliveryRepo) MarkClicked(ctx context.Context, campaignID, recipientID string, at time.Time) (bool, error) {
	return r.markEngagement(ctx, "clicked_at", campaignID, recipientID, at)
}

func (r *DeliveryRepo) MarkUnsubscribed(ctx context.Context, campaignID, recipientID string, at time.Time) (bool, error) {
	return r.markEngagement(ctx, "unsubscribed_at", campaignID, recipientID, at)
}

// markEngagement stamps a timestamp column only when it is still NULL, so
// replayed events keep the first observation.
func (r *DeliveryRepo) markEngagement(ctx context.Context, column, campaignID, recipientID string, at time.Time) (bool, error) {
	q := fmt.Sprintf(`
		UPDATE deliveries SET %s = $3, updated_at = NOW()
		WHERE campaign_id = $1 AND recipient_id = $2 AND %s IS NULL`, column, column)
	res, err := r.db.ExecContext(ctx, q, campaignID, recipientID, at)
	if err != nil {
		return false, fmt.Errorf("mark %s: %w", column, err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}
