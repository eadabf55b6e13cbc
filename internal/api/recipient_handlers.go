package api

import (
	"net/http"
	"strings"

	"github.com/lumenpress/courier/internal/domain"
	"github.com/lumenpress/courier/internal/pkg/httputil"
)

type upsertRecipientRequest struct {
	Email     string   `json:"email"`
	Frequency string   `json:"frequency"`
	Topics    []string `json:"topics"`
	Timezone  string   `json:"timezone"`
}

// UpsertRecipient creates or updates a subscriber by email. Preference
// changes never resurrect suppressed recipients.
func (h *Handlers) UpsertRecipient(w http.ResponseWriter, r *http.Request) {
	var req upsertRecipientRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	email := domain.NormalizeEmail(req.Email)
	if email == "" || !strings.Contains(email, "@") {
		httputil.BadRequest(w, "a valid email is required")
		return
	}
	freq := domain.Frequency(req.Frequency)
	if freq == "" {
		freq = domain.FrequencyEvery
	}
	switch freq {
	case domain.FrequencyEvery, domain.FrequencyDaily, domain.FrequencyWeekly:
	default:
		httputil.BadRequest(w, "frequency must be one of: every, daily, weekly")
		return
	}

	rec := &domain.Recipient{
		Email:     email,
		Status:    domain.RecipientActive,
		Frequency: freq,
		Topics:    req.Topics,
		Timezone:  req.Timezone,
	}
	if err := h.recipients.UpsertRecipient(r.Context(), rec); err != nil {
		httputil.InternalError(w, err)
		return
	}
	out, err := h.recipients.RecipientByEmail(r.Context(), email)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if out == nil {
		out = rec
	}
	httputil.Created(w, out)
}

// ListRecipients returns all subscribers.
func (h *Handlers) ListRecipients(w http.ResponseWriter, r *http.Request) {
	recs, err := h.recipients.ListRecipients(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{
		"recipients": recs,
		"total":      len(recs),
	})
}

type unsubscribeRequest struct {
	Email string `json:"email"`
}

// UnsubscribeRecipient opts a subscriber out. Idempotent: unknown or
// already-unsubscribed addresses report changed=false.
func (h *Handlers) UnsubscribeRecipient(w http.ResponseWriter, r *http.Request) {
	var req unsubscribeRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	email := domain.NormalizeEmail(req.Email)
	if email == "" {
		httputil.BadRequest(w, "email is required")
		return
	}
	changed, err := h.recipients.UnsubscribeRecipient(r.Context(), email)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{
		"email":   email,
		"changed": changed,
	})
}
