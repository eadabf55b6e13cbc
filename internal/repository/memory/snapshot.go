package memory

import (
	"context"
	"sort"
	"time"

	"github.com/lumenpress/courier/internal/domain"
	"github.com/lumenpress/courier/internal/service/analytics"
)

func (s *Store) DeliveryCounts(_ context.Context, campaignID string) (analytics.Counts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var c analytics.Counts
	for _, d := range s.deliveries {
		if d.CampaignID != campaignID {
			continue
		}
		switch d.Status {
		case domain.DeliverySent:
			c.Sent++
		case domain.DeliveryDelivered:
			c.Sent++
			c.Delivered++
		case domain.DeliveryBouncedSoft, domain.DeliveryBouncedHard:
			c.Sent++
			c.Bounced++
		case domain.DeliveryComplained:
			c.Sent++
			c.Complained++
		}
		if d.OpenedAt != nil {
			c.Opened++
		}
		if d.ClickedAt != nil {
			c.Clicked++
		}
		if d.UnsubscribedAt != nil {
			c.Unsubscribed++
		}
	}
	return c, nil
}

func (s *Store) InsertSnapshot(_ context.Context, snap *domain.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, *snap)
	return nil
}

func (s *Store) LatestSnapshot(_ context.Context, campaignID string) (*domain.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *domain.Snapshot
	for i := range s.snapshots {
		snap := s.snapshots[i]
		if snap.CampaignID != campaignID {
			continue
		}
		if latest == nil || snap.CapturedAt.After(latest.CapturedAt) {
			cp := snap
			latest = &cp
		}
	}
	if latest == nil {
		return nil, analytics.ErrNotFound
	}
	return latest, nil
}

func (s *Store) SnapshotSeries(_ context.Context, campaignID string, since time.Time) ([]domain.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Snapshot
	for _, snap := range s.snapshots {
		if snap.CampaignID == campaignID && !snap.CapturedAt.Before(since) {
			out = append(out, snap)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CapturedAt.Before(out[j].CapturedAt) })
	return out, nil
}

func (s *Store) LatestPerCampaign(_ context.Context, since time.Time) ([]domain.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	latest := make(map[string]domain.Snapshot)
	for _, snap := range s.snapshots {
		cur, ok := latest[snap.CampaignID]
		if !ok || snap.CapturedAt.After(cur.CapturedAt) {
			latest[snap.CampaignID] = snap
		}
	}
	var out []domain.Snapshot
	for _, snap := range latest {
		if !snap.CapturedAt.Before(since) {
			out = append(out, snap)
		}
	}
	return out, nil
}

func (s *Store) SentCampaignIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for _, c := range s.campaigns {
		switch c.Status {
		case domain.CampaignSending, domain.CampaignSent:
			out = append(out, c.ID)
		}
	}
	return out, nil
}
