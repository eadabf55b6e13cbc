package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/lumenpress/courier/internal/domain"
	"github.com/lumenpress/courier/internal/pkg/httputil"
	"github.com/lumenpress/courier/internal/pkg/logger"
)

const maxWebhookBody = 5 << 20 // 5MB

// IngestProviderEvents accepts provider webhook posts. The body may be a
// single event object or an array of events. Events are queued for the
// ingestor and the endpoint answers 200 as long as the payload parsed, so
// stale or unmatched events never trigger provider redelivery storms. A
// full queue answers 503; providers retry with their own backoff.
func (h *Handlers) IngestProviderEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		httputil.Error(w, http.StatusServiceUnavailable, "event ingestion not configured", "no_ingestor")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		httputil.BadRequest(w, "unreadable request body")
		return
	}

	events, err := parseProviderEvents(body)
	if err != nil {
		httputil.BadRequest(w, "invalid event payload: "+err.Error())
		return
	}

	accepted := 0
	for _, ev := range events {
		if ev.Type == "" {
			continue
		}
		if !h.events.Enqueue(ev) {
			logger.Warn("webhook queue full, rejecting batch", "accepted", accepted, "total", len(events))
			httputil.Error(w, http.StatusServiceUnavailable, "event queue full, retry later", "queue_full")
			return
		}
		accepted++
	}
	httputil.OK(w, map[string]interface{}{
		"accepted": accepted,
		"received": len(events),
	})
}

// parseProviderEvents decodes either a bare event or an array of events.
func parseProviderEvents(body []byte) ([]domain.ProviderEvent, error) {
	var events []domain.ProviderEvent
	if err := json.Unmarshal(body, &events); err == nil {
		return events, nil
	}
	var single domain.ProviderEvent
	if err := json.Unmarshal(body, &single); err != nil {
		return nil, err
	}
	return []domain.ProviderEvent{single}, nil
}
