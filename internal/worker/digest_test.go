package worker_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenpress/courier/internal/config"
	"github.com/lumenpress/courier/internal/domain"
	"github.com/lumenpress/courier/internal/repository/memory"
	"github.com/lumenpress/courier/internal/service/campaign"
	"github.com/lumenpress/courier/internal/worker"
)

// rssFeed builds an RSS document with one item per (title, age) pair.
func rssFeed(now time.Time, items ...struct {
	Title string
	Age   time.Duration
}) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><rss version="2.0"><channel><title>Acme News</title>`)
	for i, it := range items {
		fmt.Fprintf(&b, `<item><title>%s</title><link>https://acme.test/p/%d</link><description>story %d</description><pubDate>%s</pubDate></item>`,
			it.Title, i, i, now.Add(-it.Age).Format(time.RFC1123Z))
	}
	b.WriteString(`</channel></rss>`)
	return b.String()
}

type feedEntry = struct {
	Title string
	Age   time.Duration
}

func digestFixture(t *testing.T, feedBody string, now time.Time) (*worker.DigestBuilder, *memory.Store) {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(feedBody))
	}))
	t.Cleanup(srv.Close)

	store := memory.NewStore()
	svc := campaign.NewService(store, store)

	hour := now.UTC().Hour()
	cfg := config.DigestConfig{
		Enabled:         true,
		FeedURL:         srv.URL,
		Weekday:         int(now.UTC().Weekday()),
		Hour:            &hour,
		TopN:            3,
		WindowDays:      7,
		Topic:           "digest",
		SubjectTemplate: "Weekly digest: {{ top_title }}",
		FromName:        "Acme News",
		FromEmail:       "digest@acme.test",
	}
	return worker.NewDigestBuilder(svc, store, cfg, time.UTC), store
}

func TestDigestCreatesOncePerPeriod(t *testing.T) {
	now := time.Now()
	feed := rssFeed(now,
		feedEntry{Title: "Fresh story", Age: time.Hour},
		feedEntry{Title: "Yesterday", Age: 24 * time.Hour},
	)
	b, store := digestFixture(t, feed, now)
	ctx := context.Background()

	require.NoError(t, b.RunOnce(ctx, now))

	all, _, err := store.List(ctx, campaign.ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 1)

	c := all[0]
	assert.Equal(t, domain.CampaignSending, c.Status, "digest goes straight into dispatch")
	assert.Equal(t, worker.PeriodKey(now.UTC()), c.PeriodKey)
	assert.Equal(t, "Weekly digest: Fresh story", c.Subject)
	assert.Contains(t, c.HTMLContent, "Fresh story")
	assert.Contains(t, c.HTMLContent, "Yesterday")

	// Every later tick inside the window is a no-op.
	require.NoError(t, b.RunOnce(ctx, now.Add(time.Minute)))
	require.NoError(t, b.RunOnce(ctx, now.Add(2*time.Minute)))

	all, _, err = store.List(ctx, campaign.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1, "exactly one digest campaign per period")
}

func TestDigestTopNAndWindow(t *testing.T) {
	now := time.Now()
	feed := rssFeed(now,
		feedEntry{Title: "first", Age: 1 * time.Hour},
		feedEntry{Title: "second", Age: 2 * time.Hour},
		feedEntry{Title: "third", Age: 3 * time.Hour},
		feedEntry{Title: "fourth", Age: 4 * time.Hour},
		feedEntry{Title: "ancient", Age: 30 * 24 * time.Hour},
	)
	b, store := digestFixture(t, feed, now)
	ctx := context.Background()

	require.NoError(t, b.RunOnce(ctx, now))

	all, _, err := store.List(ctx, campaign.ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 1)

	body := all[0].HTMLContent
	assert.Contains(t, body, "first")
	assert.Contains(t, body, "second")
	assert.Contains(t, body, "third")
	assert.NotContains(t, body, "fourth", "only the top N items appear")
	assert.NotContains(t, body, "ancient", "items outside the window are dropped")
}

func TestDigestOutsideWindowDoesNothing(t *testing.T) {
	now := time.Now()
	feed := rssFeed(now, feedEntry{Title: "story", Age: time.Hour})
	b, store := digestFixture(t, feed, now)

	// An hour the rule does not match.
	off := now.Add(3 * time.Hour)
	require.NoError(t, b.RunOnce(context.Background(), off))

	all, _, err := store.List(context.Background(), campaign.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestDigestEmptyFeedSkips(t *testing.T) {
	now := time.Now()
	b, store := digestFixture(t, rssFeed(now), now)

	require.NoError(t, b.RunOnce(context.Background(), now))

	all, _, err := store.List(context.Background(), campaign.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, all, "no digest campaign without content")
}

func TestPeriodKeyStableWithinISOWeek(t *testing.T) {
	monday := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
	sunday := time.Date(2026, 8, 30, 23, 0, 0, 0, time.UTC)
	nextMonday := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)

	assert.Equal(t, worker.PeriodKey(monday), worker.PeriodKey(sunday))
	assert.NotEqual(t, worker.PeriodKey(monday), worker.PeriodKey(nextMonday))
	assert.Equal(t, "digest:2026-W36", worker.PeriodKey(nextMonday))
}
