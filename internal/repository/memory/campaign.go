package memory

import (
	"context"
	"sort"
	"time"

	"github.com/lumenpress/courier/internal/domain"
	"github.com/lumenpress/courier/internal/service/campaign"
)

func (s *Store) Get(_ context.Context, id string) (*domain.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.campaigns[id]
	if !ok {
		return nil, campaign.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *Store) List(_ context.Context, f campaign.ListFilter) ([]domain.Campaign, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []domain.Campaign
	for _, c := range s.campaigns {
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		if f.Topic != "" && c.Topic != f.Topic {
			continue
		}
		all = append(all, *c)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	total := len(all)
	if f.Offset > 0 {
		if f.Offset >= len(all) {
			all = nil
		} else {
			all = all[f.Offset:]
		}
	}
	if f.Limit > 0 && len(all) > f.Limit {
		all = all[:f.Limit]
	}
	return all, total, nil
}

func (s *Store) Create(_ context.Context, c *domain.Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.PeriodKey != "" {
		for _, existing := range s.campaigns {
			if existing.PeriodKey == c.PeriodKey {
				return campaign.ErrDuplicatePeriod
			}
		}
	}
	cp := *c
	s.campaigns[c.ID] = &cp
	return nil
}

func (s *Store) Update(_ context.Context, id string, u campaign.UpdateFields) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return campaign.ErrNotFound
	}
	if u.Name != nil {
		c.Name = *u.Name
	}
	if u.Subject != nil {
		c.Subject = *u.Subject
	}
	if u.FromName != nil {
		c.FromName = *u.FromName
	}
	if u.FromEmail != nil {
		c.FromEmail = *u.FromEmail
	}
	if u.HTMLContent != nil {
		c.HTMLContent = *u.HTMLContent
	}
	if u.TemplateRef != nil {
		c.TemplateRef = *u.TemplateRef
	}
	if u.Topic != nil {
		c.Topic = *u.Topic
	}
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) Schedule(_ context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return false, campaign.ErrNotFound
	}
	if c.Status != domain.CampaignDraft && c.Status != domain.CampaignScheduled {
		return false, nil
	}
	c.Status = domain.CampaignScheduled
	c.ScheduledAt = &at
	c.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *Store) ClaimForSending(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return false, campaign.ErrNotFound
	}
	if c.Status != domain.CampaignDraft && c.Status != domain.CampaignScheduled {
		return false, nil
	}
	c.Status = domain.CampaignSending
	c.ScheduledAt = nil
	c.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *Store) MarkSent(_ context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok || c.Status != domain.CampaignSending {
		return false, nil
	}
	c.Status = domain.CampaignSent
	c.SentAt = &at
	c.UpdatedAt = time.Now().UTC()
	return true, nil
}

// MarkCampaignSent is the dispatcher-facing alias for MarkSent.
func (s *Store) MarkCampaignSent(ctx context.Context, id string, at time.Time) (bool, error) {
	return s.MarkSent(ctx, id, at)
}

func (s *Store) MarkFailed(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok || c.Status != domain.CampaignSending {
		return false, nil
	}
	c.Status = domain.CampaignFailed
	c.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *Store) Cancel(_ context.Context, id string, reason string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return false, campaign.ErrNotFound
	}
	if c.Status != domain.CampaignScheduled && c.Status != domain.CampaignSending {
		return false, nil
	}
	c.Status = domain.CampaignCancelled
	c.ScheduledAt = nil
	c.CancelledAt = &at
	c.CancelReason = reason
	c.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *Store) DueScheduled(_ context.Context, now time.Time, limit int) ([]domain.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Campaign
	for _, c := range s.campaigns {
		if c.Status != domain.CampaignScheduled || c.ScheduledAt == nil || c.ScheduledAt.After(now) {
			continue
		}
		out = append(out, *c)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) ListSending(_ context.Context) ([]domain.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Campaign
	for _, c := range s.campaigns {
		if c.Status == domain.CampaignSending {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (s *Store) CampaignStatus(_ context.Context, id string) (domain.CampaignStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.campaigns[id]
	if !ok {
		return "", campaign.ErrNotFound
	}
	return c.Status, nil
}

func (s *Store) ExistsForPeriod(_ context.Context, periodKey string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.campaigns {
		if c.PeriodKey != "" && c.PeriodKey == periodKey {
			return true, nil
		}
	}
	return false, nil
}
