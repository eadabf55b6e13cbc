package campaign

import (
	"context"
	"time"

	"github.com/lumenpress/courier/internal/domain"
)

// ListFilter narrows List results. Zero values mean "no filter".
type ListFilter struct {
	Status domain.CampaignStatus
	Topic  string
	Limit  int
	Offset int
}

// UpdateFields carries the mutable campaign attributes. Nil pointers are
// left untouched.
type UpdateFields struct {
	Name        *string
	Subject     *string
	FromName    *string
	FromEmail   *string
	HTMLContent *string
	TemplateRef *string
	Topic       *string
}

// Repository is the persistence contract for campaigns. Conditional methods
// return (false, nil) when the row was not in an eligible state, which is how
// concurrent claims lose races without errors.
type Repository interface {
	Get(ctx context.Context, id string) (*domain.Campaign, error)
	List(ctx context.Context, f ListFilter) ([]domain.Campaign, int, error)
	Create(ctx context.Context, c *domain.Campaign) error
	Update(ctx context.Context, id string, u UpdateFields) error

	// Schedule sets scheduled_at and moves draft|scheduled -> scheduled.
	Schedule(ctx context.Context, id string, at time.Time) (bool, error)

	// ClaimForSending moves draft|scheduled -> sending and clears
	// scheduled_at. At most one concurrent caller wins.
	ClaimForSending(ctx context.Context, id string) (bool, error)

	// MarkSent moves sending -> sent and stamps sent_at.
	MarkSent(ctx context.Context, id string, at time.Time) (bool, error)

	// MarkFailed moves sending -> failed.
	MarkFailed(ctx context.Context, id string) (bool, error)

	// Cancel moves scheduled|sending -> cancelled with a reason.
	Cancel(ctx context.Context, id string, reason string, at time.Time) (bool, error)

	// DueScheduled returns scheduled campaigns whose scheduled_at <= now.
	DueScheduled(ctx context.Context, now time.Time, limit int) ([]domain.Campaign, error)

	// ExistsForPeriod reports whether a campaign with the given period key
	// already exists. Used to make recurring creation idempotent.
	ExistsForPeriod(ctx context.Context, periodKey string) (bool, error)
}

// DeliveryCanceller removes pending work when a campaign is cancelled
// mid-flight. Implemented by the delivery repository.
type DeliveryCanceller interface {
	// CancelQueued marks all queued deliveries for the campaign cancelled and
	// returns how many were affected.
	CancelQueued(ctx context.Context, campaignID string) (int, error)
}
