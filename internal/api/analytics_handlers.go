package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lumenpress/courier/internal/pkg/httputil"
	"github.com/lumenpress/courier/internal/service/analytics"
)

// CampaignAnalytics returns the latest snapshot for a campaign.
func (h *Handlers) CampaignAnalytics(w http.ResponseWriter, r *http.Request) {
	snap, err := h.analytics.Latest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, analytics.ErrNotFound) {
			httputil.NotFound(w, "no snapshots for campaign")
			return
		}
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, snap)
}

// CampaignAnalyticsTrend returns the snapshot series over the trailing
// ?days window, oldest first.
func (h *Handlers) CampaignAnalyticsTrend(w http.ResponseWriter, r *http.Request) {
	days, _ := strconv.Atoi(r.URL.Query().Get("days"))
	series, err := h.analytics.Trend(r.Context(), chi.URLParam(r, "id"), days)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{
		"snapshots": series,
		"total":     len(series),
	})
}

// TopPerformers ranks recent campaigns by open rate.
func (h *Handlers) TopPerformers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	n, _ := strconv.Atoi(q.Get("limit"))
	days, _ := strconv.Atoi(q.Get("days"))
	if days <= 0 {
		days = 7
	}
	snaps, err := h.analytics.TopPerformers(r.Context(), time.Duration(days)*24*time.Hour, n)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{
		"campaigns":   snaps,
		"window_days": days,
	})
}

// CaptureSnapshots snapshots every campaign that has started sending.
func (h *Handlers) CaptureSnapshots(w http.ResponseWriter, r *http.Request) {
	captured, err := h.analytics.CaptureAll(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{"captured": captured})
}
