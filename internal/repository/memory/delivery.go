package memory

import (
	"context"
	"sort"
	"time"

	"github.com/lumenpress/courier/internal/domain"
	"github.com/lumenpress/courier/internal/worker"
)

func (s *Store) CreateDeliveries(_ context.Context, ds []domain.Delivery) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inserted := 0
	for _, d := range ds {
		key := deliveryKey(d.CampaignID, d.RecipientID)
		if _, exists := s.deliveries[key]; exists {
			continue
		}
		cp := d
		s.deliveries[key] = &cp
		inserted++
	}
	return inserted, nil
}

func (s *Store) CountDeliveries(_ context.Context, campaignID string) (int, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total, queued := 0, 0
	for _, d := range s.deliveries {
		if d.CampaignID != campaignID {
			continue
		}
		total++
		if d.Status == domain.DeliveryQueued {
			queued++
		}
	}
	return total, queued, nil
}

func (s *Store) ClaimDueDeliveries(_ context.Context, campaignID string, now time.Time, limit int) ([]worker.DispatchItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []worker.DispatchItem
	for _, d := range s.deliveries {
		if d.CampaignID != campaignID || d.Status != domain.DeliveryQueued {
			continue
		}
		if d.NextEligibleAt != nil && d.NextEligibleAt.After(now) {
			continue
		}
		tz := ""
		if r, ok := s.recipients[d.RecipientID]; ok {
			tz = r.Timezone
		}
		out = append(out, worker.DispatchItem{Delivery: *d, Timezone: tz})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Delivery.RecipientID < out[j].Delivery.RecipientID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) MarkDeliverySent(_ context.Context, campaignID, recipientID, messageID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deliveries[deliveryKey(campaignID, recipientID)]
	if !ok {
		return nil
	}
	d.Status = domain.DeliverySent
	d.MessageID = messageID
	d.LastAttemptAt = &at
	d.NextEligibleAt = nil
	d.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) MarkDeliveryFailed(_ context.Context, campaignID, recipientID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deliveries[deliveryKey(campaignID, recipientID)]
	if !ok {
		return nil
	}
	now := time.Now().UTC()
	d.Status = domain.DeliveryFailed
	d.Attempts++
	d.LastAttemptAt = &now
	d.LastError = reason
	d.NextEligibleAt = nil
	d.UpdatedAt = now
	return nil
}

func (s *Store) RequeueDelivery(_ context.Context, campaignID, recipientID string, nextAt time.Time, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deliveries[deliveryKey(campaignID, recipientID)]
	if !ok {
		return nil
	}
	now := time.Now().UTC()
	d.Attempts++
	d.LastAttemptAt = &now
	d.LastError = reason
	d.NextEligibleAt = &nextAt
	d.UpdatedAt = now
	return nil
}

func (s *Store) DeferDelivery(_ context.Context, campaignID, recipientID string, nextAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deliveries[deliveryKey(campaignID, recipientID)]
	if !ok {
		return nil
	}
	d.NextEligibleAt = &nextAt
	d.UpdatedAt = time.Now().UTC()
	return nil
}

// CancelQueued flips every queued delivery for the campaign to cancelled.
func (s *Store) CancelQueued(_ context.Context, campaignID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, d := range s.deliveries {
		if d.CampaignID != campaignID || d.Status != domain.DeliveryQueued {
			continue
		}
		d.Status = domain.DeliveryCancelled
		d.NextEligibleAt = nil
		d.UpdatedAt = time.Now().UTC()
		n++
	}
	return n, nil
}

func (s *Store) DeliveryByMessageID(_ context.Context, messageID string) (*domain.Delivery, error) {
	if messageID == "" {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.deliveries {
		if d.MessageID == messageID {
			cp := *d
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *Store) DeliveryByCampaignEmail(_ context.Context, campaignID, email string) (*domain.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	email = domain.NormalizeEmail(email)
	for _, d := range s.deliveries {
		if d.CampaignID == campaignID && domain.NormalizeEmail(d.Email) == email {
			cp := *d
			return &cp, nil
		}
	}
	return nil, nil
}

// GetDelivery returns one delivery row, or nil. Test helper.
func (s *Store) GetDelivery(campaignID, recipientID string) *domain.Delivery {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.deliveries[deliveryKey(campaignID, recipientID)]
	if !ok {
		return nil
	}
	cp := *d
	return &cp
}

func (s *Store) SetDeliveryStatus(_ context.Context, campaignID, recipientID string, from []domain.DeliveryStatus, to domain.DeliveryStatus, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deliveries[deliveryKey(campaignID, recipientID)]
	if !ok {
		return false, nil
	}
	eligible := false
	for _, f := range from {
		if d.Status == f {
			eligible = true
			break
		}
	}
	if !eligible {
		return false, nil
	}
	d.Status = to
	d.UpdatedAt = at
	return true, nil
}

func (s *Store) MarkOpened(_ context.Context, campaignID, recipientID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deliveries[deliveryKey(campaignID, recipientID)]
	if !ok || d.OpenedAt != nil {
		return false, nil
	}
	d.OpenedAt = &at
	d.UpdatedAt = at
	return true, nil
}

func (s *Store) MarkClicked(_ context.Context, campaignID, recipientID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deliveries[deliveryKey(campaignID, recipientID)]
	if !ok || d.ClickedAt != nil {
		return false, nil
	}
	d.ClickedAt = &at
	d.UpdatedAt = at
	return true, nil
}

func (s *Store) MarkUnsubscribed(_ context.Context, campaignID, recipientID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deliveries[deliveryKey(campaignID, recipientID)]
	if !ok || d.UnsubscribedAt != nil {
		return false, nil
	}
	d.UnsubscribedAt = &at
	d.UpdatedAt = at
	return true, nil
}
