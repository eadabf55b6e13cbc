package domain

import "time"

// ProviderEventType enumerates inbound delivery-provider webhook event kinds.
type ProviderEventType string

const (
	EventBounce    ProviderEventType = "bounce"
	EventComplaint ProviderEventType = "complaint"
	EventDelivery  ProviderEventType = "delivery"
	EventOpen      ProviderEventType = "open"
	EventClick     ProviderEventType = "click"
	EventUnsub     ProviderEventType = "list_unsubscribe"
)

// BounceType distinguishes permanent (hard) from transient (soft) bounces.
type BounceType string

const (
	BouncePermanent BounceType = "permanent"
	BounceTransient BounceType = "transient"
)

// ProviderEvent is a delivery-provider webhook event. Signature verification
// is an upstream concern; events reaching the ingestor are assumed authentic.
// Providers deliver at-least-once, so processing must tolerate duplicates.
type ProviderEvent struct {
	Type       ProviderEventType `json:"eventType"`
	BounceType BounceType        `json:"bounceType,omitempty"`
	Email      string            `json:"recipient"`
	CampaignID string            `json:"campaignId,omitempty"`
	MessageID  string            `json:"messageId,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}
