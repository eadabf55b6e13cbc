package domain

import "time"

// Snapshot is an immutable, timestamped rollup of delivery metrics for a
// campaign. A new Snapshot supersedes the previous one for "latest" queries;
// existing rows are never mutated.
type Snapshot struct {
	CampaignID string    `json:"campaign_id" db:"campaign_id"`
	CapturedAt time.Time `json:"captured_at" db:"captured_at"`

	SentCount        int `json:"sent_count" db:"sent_count"`
	DeliveredCount   int `json:"delivered_count" db:"delivered_count"`
	OpenCount        int `json:"open_count" db:"open_count"`
	ClickCount       int `json:"click_count" db:"click_count"`
	BounceCount      int `json:"bounce_count" db:"bounce_count"`
	ComplaintCount   int `json:"complaint_count" db:"complaint_count"`
	UnsubscribeCount int `json:"unsubscribe_count" db:"unsubscribe_count"`

	DeliveryRate    float64 `json:"delivery_rate" db:"delivery_rate"`
	OpenRate        float64 `json:"open_rate" db:"open_rate"`
	ClickRate       float64 `json:"click_rate" db:"click_rate"`
	BounceRate      float64 `json:"bounce_rate" db:"bounce_rate"`
	UnsubscribeRate float64 `json:"unsubscribe_rate" db:"unsubscribe_rate"`

	// Synthetic marks degraded-mode placeholder data returned when the
	// underlying store is unavailable. Synthetic snapshots are never persisted.
	Synthetic bool `json:"synthetic,omitempty" db:"-"`
}

// Ratio returns num/den as a fraction, or 0 when the denominator is 0.
// All snapshot rates are ratios of two counts and must never divide by zero.
func Ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

// ComputeRates fills in the derived rate fields from the raw counts.
// Delivery, bounce, and unsubscribe rates are over sent; open rate is over
// delivered; click rate is over opens.
func (s *Snapshot) ComputeRates() {
	s.DeliveryRate = Ratio(s.DeliveredCount, s.SentCount)
	s.OpenRate = Ratio(s.OpenCount, s.DeliveredCount)
	s.ClickRate = Ratio(s.ClickCount, s.OpenCount)
	s.BounceRate = Ratio(s.BounceCount, s.SentCount)
	s.UnsubscribeRate = Ratio(s.UnsubscribeCount, s.SentCount)
}
