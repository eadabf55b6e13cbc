package domain

import (
	"time"
)

// CampaignStatus enumerates the lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignSending   CampaignStatus = "sending"
	CampaignSent      CampaignStatus = "sent"
	CampaignCancelled CampaignStatus = "cancelled"
	CampaignFailed    CampaignStatus = "failed"
)

// Campaign represents a single newsletter broadcast with its own lifecycle.
//
// Lifecycle invariants:
//   - SentAt is set if and only if Status is sent
//   - ScheduledAt is set only while Status is scheduled
//   - sent and cancelled are terminal; no transition leaves them
type Campaign struct {
	ID          string         `json:"id" db:"id"`
	Name        string         `json:"name" db:"name"`
	TemplateRef string         `json:"template_ref" db:"template_ref"`
	Subject     string         `json:"subject" db:"subject"`
	FromName    string         `json:"from_name" db:"from_name"`
	FromEmail   string         `json:"from_email" db:"from_email"`
	HTMLContent string         `json:"html_content" db:"html_content"`
	Topic       string         `json:"topic" db:"topic"`
	Status      CampaignStatus `json:"status" db:"status"`

	// PeriodKey identifies the recurrence period for derived campaigns
	// (e.g. "digest:2026-W35"). Empty for one-off campaigns. Unique when set,
	// which is what makes recurring creation idempotent.
	PeriodKey string `json:"period_key,omitempty" db:"period_key"`

	ScheduledAt  *time.Time `json:"scheduled_at" db:"scheduled_at"`
	SentAt       *time.Time `json:"sent_at" db:"sent_at"`
	CancelledAt  *time.Time `json:"cancelled_at" db:"cancelled_at"`
	CancelReason string     `json:"cancel_reason,omitempty" db:"cancel_reason"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

// IsTerminal returns true if the campaign is in a final state.
func (c *Campaign) IsTerminal() bool {
	return c.Status == CampaignSent || c.Status == CampaignCancelled || c.Status == CampaignFailed
}

// Editable reports whether title/content changes are still allowed.
// Once a campaign has been sent (or is in flight) its content is frozen.
func (c *Campaign) Editable() bool {
	if c.SentAt != nil {
		return false
	}
	return c.Status == CampaignDraft || c.Status == CampaignScheduled
}

// Cancellable reports whether a cancel request is valid in the current state.
func (c *Campaign) Cancellable() bool {
	return c.Status == CampaignScheduled || c.Status == CampaignSending
}
