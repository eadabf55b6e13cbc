package worker

import (
	"context"
	"time"

	"github.com/lumenpress/courier/internal/domain"
)

// SchedulerStore is what the scheduler needs from persistence: find due
// campaigns and claim them. ClaimForSending is conditional; (false, nil)
// means another scheduler instance won.
type SchedulerStore interface {
	DueScheduled(ctx context.Context, now time.Time, limit int) ([]domain.Campaign, error)
	ClaimForSending(ctx context.Context, id string) (bool, error)
}

// DispatchItem is a claimed delivery joined with the recipient fields the
// dispatcher needs at send time.
type DispatchItem struct {
	Delivery domain.Delivery
	// Timezone is the recipient's IANA zone for quiet-hours evaluation.
	Timezone string
}

// DispatchStore is the dispatcher's persistence contract.
type DispatchStore interface {
	// ListSending returns campaigns currently in the sending state.
	ListSending(ctx context.Context) ([]domain.Campaign, error)
	CampaignStatus(ctx context.Context, id string) (domain.CampaignStatus, error)

	// SendableRecipients returns active recipients whose topic filters admit
	// the campaign topic. Suppressed and unsubscribed recipients are excluded
	// here, before any delivery row exists.
	SendableRecipients(ctx context.Context, topic string) ([]domain.Recipient, error)

	// CreateDeliveries inserts delivery rows, skipping (campaign, recipient)
	// pairs that already exist. Returns the number actually inserted. The
	// insert is all-or-nothing so a re-run after a crash sees either zero or
	// the full audience.
	CreateDeliveries(ctx context.Context, ds []domain.Delivery) (int, error)

	// CountDeliveries returns (total, queued) for a campaign.
	CountDeliveries(ctx context.Context, campaignID string) (total int, queued int, err error)

	// ClaimDueDeliveries returns up to limit queued deliveries whose
	// next_eligible_at is unset or has passed, joined with recipient data.
	ClaimDueDeliveries(ctx context.Context, campaignID string, now time.Time, limit int) ([]DispatchItem, error)

	MarkDeliverySent(ctx context.Context, campaignID, recipientID, messageID string, at time.Time) error
	MarkDeliveryFailed(ctx context.Context, campaignID, recipientID, reason string) error

	// RequeueDelivery records a failed attempt and defers the delivery until
	// nextAt. Attempts is incremented.
	RequeueDelivery(ctx context.Context, campaignID, recipientID string, nextAt time.Time, reason string) error

	// DeferDelivery pushes next_eligible_at without recording an attempt.
	// Used for quiet-hours holds.
	DeferDelivery(ctx context.Context, campaignID, recipientID string, nextAt time.Time) error

	// MarkCampaignSent moves sending -> sent. (false, nil) means the campaign
	// left the sending state first, e.g. a cancel won.
	MarkCampaignSent(ctx context.Context, id string, at time.Time) (bool, error)
}

// IngestStore is the webhook ingestor's persistence contract. The
// conditional and set-if-unset semantics are what make duplicate provider
// events no-ops.
type IngestStore interface {
	DeliveryByMessageID(ctx context.Context, messageID string) (*domain.Delivery, error)
	DeliveryByCampaignEmail(ctx context.Context, campaignID, email string) (*domain.Delivery, error)

	// SetDeliveryStatus transitions the delivery to the target status only if
	// its current status is in from. Returns whether the row changed.
	SetDeliveryStatus(ctx context.Context, campaignID, recipientID string, from []domain.DeliveryStatus, to domain.DeliveryStatus, at time.Time) (bool, error)

	// MarkOpened / MarkClicked / MarkUnsubscribed stamp the timestamp only if
	// it is not already set.
	MarkOpened(ctx context.Context, campaignID, recipientID string, at time.Time) (bool, error)
	MarkClicked(ctx context.Context, campaignID, recipientID string, at time.Time) (bool, error)
	MarkUnsubscribed(ctx context.Context, campaignID, recipientID string, at time.Time) (bool, error)

	// SuppressRecipient marks the recipient suppressed. Returns true only on
	// the first call; already-suppressed recipients stay suppressed.
	SuppressRecipient(ctx context.Context, email string, at time.Time) (bool, error)

	// UnsubscribeRecipient moves an active recipient to unsubscribed.
	// Suppressed recipients are left alone.
	UnsubscribeRecipient(ctx context.Context, email string) (bool, error)
}
