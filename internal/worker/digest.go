package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/osteele/liquid"

	"github.com/lumenpress/courier/internal/config"
	"github.com/lumenpress/courier/internal/domain"
	"github.com/lumenpress/courier/internal/pkg/httpretry"
	"github.com/lumenpress/courier/internal/service/campaign"
)

// DigestCampaigns is the slice of the campaign service the digest builder
// uses.
type DigestCampaigns interface {
	Create(ctx context.Context, c *domain.Campaign) (*domain.Campaign, error)
	SendNow(ctx context.Context, id string) (*domain.Campaign, error)
}

// PeriodChecker answers whether a period's campaign already exists.
type PeriodChecker interface {
	ExistsForPeriod(ctx context.Context, periodKey string) (bool, error)
}

// FeedItem is one article pulled from the content feed.
type FeedItem struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Link        string    `json:"link"`
	Author      string    `json:"author,omitempty"`
	PubDate     time.Time `json:"pub_date"`
}

// defaultDigestBody is the Liquid body used when no template override is
// configured.
const defaultDigestBody = `<h1>{{ digest_title }}</h1>
<p>The {{ count }} most recent stories from this week.</p>
{% for item in items %}
<div class="digest-item">
  <h2><a href="{{ item.link }}">{{ item.title }}</a></h2>
  <p>{{ item.description }}</p>
  {% if item.author != "" %}<p class="byline">by {{ item.author }}</p>{% endif %}
</div>
{% endfor %}
<p class="footer"><a href="{{ unsubscribe_url }}">Unsubscribe</a></p>`

// DigestBuilder creates the recurring weekly digest campaign from the
// content feed. Creation is idempotent per ISO week: the period key is
// unique, so no matter how many scheduler ticks or instances fire inside the
// send window, exactly one digest campaign exists per period.
type DigestBuilder struct {
	campaigns DigestCampaigns
	periods   PeriodChecker
	cfg       config.DigestConfig
	tz        *time.Location

	parser *gofeed.Parser
	client *httpretry.RetryClient
	engine *liquid.Engine
}

// NewDigestBuilder wires a digest builder. tz is the zone the weekday/hour
// rule is evaluated in.
func NewDigestBuilder(campaigns DigestCampaigns, periods PeriodChecker, cfg config.DigestConfig, tz *time.Location) *DigestBuilder {
	if tz == nil {
		tz = time.UTC
	}
	return &DigestBuilder{
		campaigns: campaigns,
		periods:   periods,
		cfg:       cfg,
		tz:        tz,
		parser:    gofeed.NewParser(),
		client:    httpretry.NewRetryClient(&http.Client{Timeout: 30 * time.Second}, 3),
		engine:    liquid.NewEngine(),
	}
}

// RunOnce evaluates the digest rule for the given instant. Outside the send
// window, or when the period's campaign already exists, it does nothing.
func (b *DigestBuilder) RunOnce(ctx context.Context, now time.Time) error {
	if !b.cfg.Enabled {
		return nil
	}

	local := now.In(b.tz)
	if int(local.Weekday()) != b.cfg.Weekday || local.Hour() != b.cfg.SendHour() {
		return nil
	}

	periodKey := PeriodKey(local)
	exists, err := b.periods.ExistsForPeriod(ctx, periodKey)
	if err != nil {
		return fmt.Errorf("check period %s: %w", periodKey, err)
	}
	if exists {
		return nil
	}

	items, err := b.fetchItems(ctx, now)
	if err != nil {
		return fmt.Errorf("fetch feed: %w", err)
	}
	if len(items) == 0 {
		log.Printf("[Digest] no feed items in window, skipping %s", periodKey)
		return nil
	}

	c, err := b.buildCampaign(periodKey, items)
	if err != nil {
		return err
	}

	created, err := b.campaigns.Create(ctx, c)
	if err != nil {
		if errors.Is(err, campaign.ErrDuplicatePeriod) {
			// Another instance created it between the check and the insert.
			return nil
		}
		return fmt.Errorf("create digest campaign: %w", err)
	}

	if _, err := b.campaigns.SendNow(ctx, created.ID); err != nil {
		if errors.Is(err, campaign.ErrAlreadySent) {
			return nil
		}
		return fmt.Errorf("send digest campaign %s: %w", created.ID, err)
	}

	log.Printf("[Digest] created and claimed %s campaign %s with %d items", periodKey, created.ID, len(items))
	return nil
}

// fetchItems pulls the feed and returns the newest items inside the trailing
// window, most recent first, capped at TopN.
func (b *DigestBuilder) fetchItems(ctx context.Context, now time.Time) ([]FeedItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.cfg.FeedURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "courier-digest/1.0")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, err
	}

	feed, err := b.parser.ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	cutoff := now.AddDate(0, 0, -b.cfg.WindowDays)
	var items []FeedItem
	for _, it := range feed.Items {
		published := time.Time{}
		if it.PublishedParsed != nil {
			published = *it.PublishedParsed
		} else if it.UpdatedParsed != nil {
			published = *it.UpdatedParsed
		}
		if published.Before(cutoff) {
			continue
		}
		author := ""
		if len(it.Authors) > 0 && it.Authors[0] != nil {
			author = it.Authors[0].Name
		}
		items = append(items, FeedItem{
			Title:       it.Title,
			Description: it.Description,
			Link:        it.Link,
			Author:      author,
			PubDate:     published,
		})
	}

	sort.Slice(items, func(i, j int) bool { return items[i].PubDate.After(items[j].PubDate) })
	if len(items) > b.cfg.TopN {
		items = items[:b.cfg.TopN]
	}
	return items, nil
}

func (b *DigestBuilder) buildCampaign(periodKey string, items []FeedItem) (*domain.Campaign, error) {
	bindings := liquid.Bindings{
		"digest_title":    "This Week's Top Stories",
		"top_title":       items[0].Title,
		"count":           len(items),
		"items":           feedBindings(items),
		"unsubscribe_url": "{{ unsubscribe_url }}", // resolved per recipient at send time
	}

	subject, err := b.engine.ParseAndRenderString(b.cfg.SubjectTemplate, bindings)
	if err != nil {
		return nil, fmt.Errorf("render subject: %w", err)
	}
	body, err := b.engine.ParseAndRenderString(defaultDigestBody, bindings)
	if err != nil {
		return nil, fmt.Errorf("render body: %w", err)
	}

	return &domain.Campaign{
		Name:        "Weekly Digest " + periodKey,
		Subject:     subject,
		FromName:    b.cfg.FromName,
		FromEmail:   b.cfg.FromEmail,
		HTMLContent: body,
		Topic:       b.cfg.Topic,
		PeriodKey:   periodKey,
	}, nil
}

func feedBindings(items []FeedItem) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(items))
	for _, it := range items {
		out = append(out, map[string]interface{}{
			"title":       it.Title,
			"description": it.Description,
			"link":        it.Link,
			"author":      it.Author,
			"pub_date":    it.PubDate,
		})
	}
	return out
}

// PeriodKey returns the digest idempotency key for the ISO week containing t.
func PeriodKey(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("digest:%04d-W%02d", year, week)
}
