package domain

import "time"

// DeliveryStatus enumerates the lifecycle of a single per-recipient send.
type DeliveryStatus string

const (
	DeliveryQueued      DeliveryStatus = "queued"
	DeliverySent        DeliveryStatus = "sent"
	DeliveryDelivered   DeliveryStatus = "delivered"
	DeliveryBouncedSoft DeliveryStatus = "bounced_soft"
	DeliveryBouncedHard DeliveryStatus = "bounced_hard"
	DeliveryComplained  DeliveryStatus = "complained"
	DeliveryFailed      DeliveryStatus = "failed"
	DeliveryCancelled   DeliveryStatus = "cancelled"
)

// Delivery is the per-recipient record of one campaign's send attempt and
// outcome. The (CampaignID, RecipientID) pair is unique — at most one
// Delivery exists per pair, which is what makes dispatcher re-runs after a
// crash idempotent.
type Delivery struct {
	CampaignID  string         `json:"campaign_id" db:"campaign_id"`
	RecipientID string         `json:"recipient_id" db:"recipient_id"`
	Email       string         `json:"email" db:"email"`
	Status      DeliveryStatus `json:"status" db:"status"`

	// Attempts counts failed transport calls. A first-try success leaves it
	// at zero; only failures and retries increment it.
	Attempts      int        `json:"attempts" db:"attempts"`
	LastAttemptAt *time.Time `json:"last_attempt_at" db:"last_attempt_at"`
	// NextEligibleAt defers the delivery: set by the quiet-hours evaluator
	// when the recipient is inside their do-not-disturb window, or by the
	// retry backoff after a transient failure.
	NextEligibleAt *time.Time `json:"next_eligible_at" db:"next_eligible_at"`

	// MessageID correlates provider webhook events back to this delivery.
	MessageID string `json:"message_id" db:"message_id"`
	LastError string `json:"last_error,omitempty" db:"last_error"`

	// Engagement marks, populated by the webhook ingestor.
	OpenedAt       *time.Time `json:"opened_at" db:"opened_at"`
	ClickedAt      *time.Time `json:"clicked_at" db:"clicked_at"`
	UnsubscribedAt *time.Time `json:"unsubscribed_at" db:"unsubscribed_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// IsTerminal returns true once the delivery can no longer change state.
// bounced_soft is not terminal for the recipient, but the delivery record
// itself stops being retried.
func (d *Delivery) IsTerminal() bool {
	switch d.Status {
	case DeliverySent, DeliveryDelivered, DeliveryBouncedSoft, DeliveryBouncedHard,
		DeliveryComplained, DeliveryFailed, DeliveryCancelled:
		return true
	}
	return false
}

// Retryable reports whether the dispatcher may attempt this delivery again.
func (d *Delivery) Retryable() bool {
	return d.Status == DeliveryQueued
}
