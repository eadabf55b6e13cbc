package domain

import (
	"strings"
	"time"
)

// RecipientStatus enumerates the states a recipient can be in.
type RecipientStatus string

const (
	// RecipientPending is a subscriber who has not yet confirmed opt-in.
	RecipientPending RecipientStatus = "pending"
	// RecipientActive receives campaign mail.
	RecipientActive RecipientStatus = "active"
	// RecipientUnsubscribed opted out; may re-confirm later.
	RecipientUnsubscribed RecipientStatus = "unsubscribed"
	// RecipientSuppressed hard-bounced or complained. Permanently excluded:
	// nothing in this system transitions a suppressed recipient back to
	// active, only a full re-opt-in flow (external collaborator) may.
	RecipientSuppressed RecipientStatus = "suppressed"
)

// Frequency is a recipient's preferred delivery cadence.
type Frequency string

const (
	FrequencyEvery  Frequency = "every"
	FrequencyDaily  Frequency = "daily"
	FrequencyWeekly Frequency = "weekly"
)

// Recipient represents a newsletter subscriber.
type Recipient struct {
	ID     string          `json:"id" db:"id"`
	Email  string          `json:"email" db:"email"`
	Status RecipientStatus `json:"status" db:"status"`

	Frequency Frequency `json:"frequency" db:"frequency"`
	Topics    []string  `json:"topics" db:"topics"`
	// Timezone is an IANA zone name ("America/Chicago"). Empty or invalid
	// values fall back to the configured system default at evaluation time.
	Timezone string `json:"timezone" db:"timezone"`

	SuppressedAt *time.Time `json:"suppressed_at" db:"suppressed_at"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

// Sendable reports whether the recipient is eligible for campaign delivery.
func (r *Recipient) Sendable() bool {
	return r.Status == RecipientActive
}

// WantsTopic reports whether the recipient's topic filters admit the given
// campaign topic. An empty filter list means "all topics"; an empty campaign
// topic targets everyone.
func (r *Recipient) WantsTopic(topic string) bool {
	if topic == "" || len(r.Topics) == 0 {
		return true
	}
	for _, t := range r.Topics {
		if strings.EqualFold(t, topic) {
			return true
		}
	}
	return false
}

// NormalizeEmail lower-cases and trims an email address. All store lookups
// and uniqueness checks operate on the normalized form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
