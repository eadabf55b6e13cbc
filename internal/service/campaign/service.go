package campaign

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lumenpress/courier/internal/domain"
)

// Service coordinates campaign lifecycle operations on top of Repository.
type Service struct {
	repo       Repository
	deliveries DeliveryCanceller
	now        func() time.Time
}

// NewService wires a campaign service. deliveries may be nil in contexts that
// never cancel in-flight campaigns (e.g. the digest builder).
func NewService(repo Repository, deliveries DeliveryCanceller) *Service {
	return &Service{
		repo:       repo,
		deliveries: deliveries,
		now:        time.Now,
	}
}

// Create validates and persists a new draft campaign.
func (s *Service) Create(ctx context.Context, c *domain.Campaign) (*domain.Campaign, error) {
	if strings.TrimSpace(c.Name) == "" {
		return nil, fmt.Errorf("campaign name is required")
	}
	if strings.TrimSpace(c.Subject) == "" {
		return nil, fmt.Errorf("campaign subject is required")
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	c.Status = domain.CampaignDraft
	now := s.now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("create campaign: %w", err)
	}
	log.Printf("[Campaign] created %s (%s)", c.ID, c.Name)
	return c, nil
}

// Get returns a campaign by ID.
func (s *Service) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	return s.repo.Get(ctx, id)
}

// List returns campaigns matching the filter plus the unfiltered total.
func (s *Service) List(ctx context.Context, f ListFilter) ([]domain.Campaign, int, error) {
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	return s.repo.List(ctx, f)
}

// Update applies content changes. Campaigns that have been sent, or are in
// flight, reject edits with ErrImmutableCampaign.
func (s *Service) Update(ctx context.Context, id string, u UpdateFields) (*domain.Campaign, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.Editable() {
		return nil, ErrImmutableCampaign
	}
	if err := s.repo.Update(ctx, id, u); err != nil {
		return nil, fmt.Errorf("update campaign %s: %w", id, err)
	}
	return s.repo.Get(ctx, id)
}

// Schedule arms a campaign for future delivery. The time must be strictly in
// the future; scheduling an already-sent campaign fails with ErrAlreadySent.
// Re-scheduling a campaign that is still scheduled just moves the time.
func (s *Service) Schedule(ctx context.Context, id string, at time.Time) (*domain.Campaign, error) {
	if !at.After(s.now()) {
		return nil, ErrInvalidSchedule
	}
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != domain.CampaignDraft && c.Status != domain.CampaignScheduled {
		return nil, ErrAlreadySent
	}
	ok, err := s.repo.Schedule(ctx, id, at.UTC())
	if err != nil {
		return nil, fmt.Errorf("schedule campaign %s: %w", id, err)
	}
	if !ok {
		// Lost a race with send-now or cancel between the read and the
		// conditional update.
		return nil, ErrAlreadySent
	}
	log.Printf("[Campaign] scheduled %s for %s", id, at.UTC().Format(time.RFC3339))
	return s.repo.Get(ctx, id)
}

// SendNow claims the campaign for immediate dispatch. The conditional
// transition makes concurrent send-now calls settle on exactly one winner;
// losers get ErrAlreadySent.
func (s *Service) SendNow(ctx context.Context, id string) (*domain.Campaign, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	ok, err := s.repo.ClaimForSending(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("claim campaign %s: %w", id, err)
	}
	if !ok {
		return nil, ErrAlreadySent
	}
	log.Printf("[Campaign] claimed %s for immediate send", id)
	return s.repo.Get(ctx, id)
}

// Cancel stops a scheduled or in-flight campaign. For in-flight campaigns it
// also cancels every delivery still queued and returns that count; deliveries
// already handed to the provider are left alone.
func (s *Service) Cancel(ctx context.Context, id string, reason string) (*domain.Campaign, int, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, 0, err
	}
	if !c.Cancellable() {
		return nil, 0, ErrNotCancellable
	}
	ok, err := s.repo.Cancel(ctx, id, reason, s.now().UTC())
	if err != nil {
		return nil, 0, fmt.Errorf("cancel campaign %s: %w", id, err)
	}
	if !ok {
		return nil, 0, ErrNotCancellable
	}
	cancelled := 0
	if s.deliveries != nil {
		cancelled, err = s.deliveries.CancelQueued(ctx, id)
		if err != nil {
			return nil, 0, fmt.Errorf("cancel queued deliveries for %s: %w", id, err)
		}
	}
	log.Printf("[Campaign] cancelled %s (%d queued deliveries dropped): %s", id, cancelled, reason)
	out, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, 0, err
	}
	return out, cancelled, nil
}

// MarkSent records dispatch completion. Called by the dispatcher once every
// delivery has reached a terminal state.
func (s *Service) MarkSent(ctx context.Context, id string) error {
	ok, err := s.repo.MarkSent(ctx, id, s.now().UTC())
	if err != nil {
		return fmt.Errorf("mark campaign %s sent: %w", id, err)
	}
	if !ok {
		// Cancelled out from under the dispatcher; nothing to do.
		log.Printf("[Campaign] %s no longer sending, skipping sent mark", id)
	}
	return nil
}

// MarkFailed records an unrecoverable dispatch error.
func (s *Service) MarkFailed(ctx context.Context, id string) error {
	if _, err := s.repo.MarkFailed(ctx, id); err != nil {
		return fmt.Errorf("mark campaign %s failed: %w", id, err)
	}
	return nil
}
