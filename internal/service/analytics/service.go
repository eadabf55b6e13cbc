package analytics

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/lumenpress/courier/internal/domain"
)

// Service computes and serves campaign snapshots.
type Service struct {
	repo     Repository
	degraded bool
	now      func() time.Time
}

// NewService wires an analytics service. When degraded is true, read paths
// respond to ErrStoreUnavailable with synthetic placeholder data instead of
// surfacing the error.
func NewService(repo Repository, degraded bool) *Service {
	return &Service{repo: repo, degraded: degraded, now: time.Now}
}

// Capture tallies a campaign's deliveries and appends an immutable snapshot.
func (s *Service) Capture(ctx context.Context, campaignID string) (*domain.Snapshot, error) {
	counts, err := s.repo.DeliveryCounts(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("delivery counts for %s: %w", campaignID, err)
	}
	snap := &domain.Snapshot{
		CampaignID:       campaignID,
		CapturedAt:       s.now().UTC(),
		SentCount:        counts.Sent,
		DeliveredCount:   counts.Delivered,
		OpenCount:        counts.Opened,
		ClickCount:       counts.Clicked,
		BounceCount:      counts.Bounced,
		ComplaintCount:   counts.Complained,
		UnsubscribeCount: counts.Unsubscribed,
	}
	snap.ComputeRates()
	if err := s.repo.InsertSnapshot(ctx, snap); err != nil {
		return nil, fmt.Errorf("insert snapshot for %s: %w", campaignID, err)
	}
	return snap, nil
}

// CaptureAll snapshots every campaign that has started sending. Failures on
// individual campaigns are logged and skipped so one bad row cannot stall the
// whole capture cycle.
func (s *Service) CaptureAll(ctx context.Context) (int, error) {
	ids, err := s.repo.SentCampaignIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list sent campaigns: %w", err)
	}
	captured := 0
	for _, id := range ids {
		if _, err := s.Capture(ctx, id); err != nil {
			log.Printf("[Analytics] capture failed for %s: %v", id, err)
			continue
		}
		captured++
	}
	return captured, nil
}

// Latest returns the freshest snapshot for a campaign. In degraded mode a
// store outage yields a synthetic placeholder instead of an error.
func (s *Service) Latest(ctx context.Context, campaignID string) (*domain.Snapshot, error) {
	snap, err := s.repo.LatestSnapshot(ctx, campaignID)
	if err != nil {
		if s.degraded && errors.Is(err, ErrStoreUnavailable) {
			log.Printf("[Analytics] store unavailable, serving synthetic snapshot for %s", campaignID)
			return s.synthetic(campaignID), nil
		}
		return nil, err
	}
	return snap, nil
}

// TopPerformers ranks campaigns active within the trailing window by open
// rate, best first, and returns at most n.
func (s *Service) TopPerformers(ctx context.Context, window time.Duration, n int) ([]domain.Snapshot, error) {
	if n <= 0 {
		n = 5
	}
	since := s.now().Add(-window)
	snaps, err := s.repo.LatestPerCampaign(ctx, since)
	if err != nil {
		if s.degraded && errors.Is(err, ErrStoreUnavailable) {
			log.Printf("[Analytics] store unavailable, serving synthetic leaderboard")
			return s.syntheticSet(n), nil
		}
		return nil, err
	}
	sort.Slice(snaps, func(i, j int) bool {
		if snaps[i].OpenRate != snaps[j].OpenRate {
			return snaps[i].OpenRate > snaps[j].OpenRate
		}
		return snaps[i].CampaignID < snaps[j].CampaignID
	})
	if len(snaps) > n {
		snaps = snaps[:n]
	}
	return snaps, nil
}

// Trend returns a campaign's snapshot series over the trailing number of
// days, oldest first.
func (s *Service) Trend(ctx context.Context, campaignID string, days int) ([]domain.Snapshot, error) {
	if days <= 0 {
		days = 30
	}
	since := s.now().AddDate(0, 0, -days)
	series, err := s.repo.SnapshotSeries(ctx, campaignID, since)
	if err != nil {
		if s.degraded && errors.Is(err, ErrStoreUnavailable) {
			return []domain.Snapshot{*s.synthetic(campaignID)}, nil
		}
		return nil, err
	}
	return series, nil
}

// synthetic builds a plausible placeholder snapshot, clearly flagged so no
// consumer mistakes it for real data.
func (s *Service) synthetic(campaignID string) *domain.Snapshot {
	snap := &domain.Snapshot{
		CampaignID:     campaignID,
		CapturedAt:     s.now().UTC(),
		SentCount:      1000,
		DeliveredCount: 958,
		OpenCount:      392,
		ClickCount:     87,
		BounceCount:    42,
		Synthetic:      true,
	}
	snap.ComputeRates()
	return snap
}

func (s *Service) syntheticSet(n int) []domain.Snapshot {
	out := make([]domain.Snapshot, 0, n)
	for i := 0; i < n; i++ {
		snap := s.synthetic(fmt.Sprintf("sample-%d", i+1))
		// Vary the engagement so the leaderboard does not render flat.
		snap.OpenCount -= i * 40
		if snap.OpenCount < 0 {
			snap.OpenCount = 0
		}
		snap.ComputeRates()
		out = append(out, *snap)
	}
	return out
}
