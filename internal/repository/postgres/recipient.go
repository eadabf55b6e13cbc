package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/lumenpress/courier/internal/domain"
)

// RecipientRepo persists recipients and their subscription state.
type RecipientRepo struct{ db *sql.DB }

func NewRecipientRepo(db *sql.DB) *RecipientRepo { return &RecipientRepo{db: db} }

const recipientColumns = `id, email, status, frequency, topics, timezone,
	suppressed_at, created_at, updated_at`

func scanRecipient(row interface{ Scan(...interface{}) error }) (*domain.Recipient, error) {
	r := &domain.Recipient{}
	var topics pq.StringArray
	err := row.Scan(&r.ID, &r.Email, &r.Status, &r.Frequency, &topics, &r.Timezone,
		&r.SuppressedAt, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.Topics = topics
	return r, nil
}

// UpsertRecipient inserts a recipient or updates preferences on email
// conflict. Status is only written on insert, so an upsert never resurrects
// a suppressed or unsubscribed recipient.
func (r *RecipientRepo) UpsertRecipient(ctx context.Context, rec *domain.Recipient) error {
	rec.Email = domain.NormalizeEmail(rec.Email)
	if rec.Email == "" {
		return fmt.Errorf("recipient email is required")
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Status == "" {
		rec.Status = domain.RecipientActive
	}
	if rec.Frequency == "" {
		rec.Frequency = domain.FrequencyEvery
	}

	err := r.db.QueryRowContext(ctx, `
		INSERT INTO recipients (id, email, status, frequency, topics, timezone, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		ON CONFLICT (email) DO UPDATE
		SET frequency = EXCLUDED.frequency,
		    topics = EXCLUDED.topics,
		    timezone = EXCLUDED.timezone,
		    updated_at = NOW()
		RETURNING id`,
		rec.ID, rec.Email, rec.Status, rec.Frequency, pq.Array(rec.Topics), rec.Timezone,
	).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("upsert recipient: %w", err)
	}
	return nil
}

// RecipientByEmail returns nil when the email is unknown.
func (r *RecipientRepo) RecipientByEmail(ctx context.Context, email string) (*domain.Recipient, error) {
	rec, err := scanRecipient(r.db.QueryRowContext(ctx,
		`SELECT `+recipientColumns+` FROM recipients WHERE email = $1`,
		domain.NormalizeEmail(email)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("recipient by email: %w", err)
	}
	return rec, nil
}

// ListRecipients returns all recipients, newest first.
func (r *RecipientRepo) ListRecipients(ctx context.Context) ([]domain.Recipient, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+recipientColumns+` FROM recipients ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	defer rows.Close()

	var out []domain.Recipient
	for rows.Next() {
		rec, err := scanRecipient(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// SendableRecipients returns active recipients whose topic filters admit the
// campaign topic. An empty topic array on the recipient means all topics.
func (r *RecipientRepo) SendableRecipients(ctx context.Context, topic string) ([]domain.Recipient, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recipientColumns+`
		FROM recipients
		WHERE status = 'active'
		  AND ($1 = '' OR topics = '{}' OR $1 = ANY(topics))`,
		topic)
	if err != nil {
		return nil, fmt.Errorf("sendable recipients: %w", err)
	}
	defer rows.Close()

	var out []domain.Recipient
	for rows.Next() {
		rec, err := scanRecipient(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// SuppressRecipient marks the recipient suppressed. The WHERE clause makes
// it one-way and idempotent: an already-suppressed row is untouched.
func (r *RecipientRepo) SuppressRecipient(ctx context.Context, email string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE recipients
		SET status = 'suppressed', suppressed_at = $2, updated_at = NOW()
		WHERE email = $1 AND status <> 'suppressed'`,
		domain.NormalizeEmail(email), at)
	if err != nil {
		return false, fmt.Errorf("suppress recipient: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// UnsubscribeRecipient moves an active or pending recipient to unsubscribed.
// Suppression outranks unsubscription.
func (r *RecipientRepo) UnsubscribeRecipient(ctx context.Context, email string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE recipients
		SET status = 'unsubscribed', updated_at = NOW()
		WHERE email = $1 AND status IN ('active', 'pending')`,
		domain.NormalizeEmail(email))
	if err != nil {
		return false, fmt.Errorf("unsubscribe recipient: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}
