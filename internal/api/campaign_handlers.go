package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lumenpress/courier/internal/domain"
	"github.com/lumenpress/courier/internal/pkg/httputil"
	"github.com/lumenpress/courier/internal/service/campaign"
)

type createCampaignRequest struct {
	Name        string `json:"name"`
	Subject     string `json:"subject"`
	FromName    string `json:"from_name"`
	FromEmail   string `json:"from_email"`
	HTMLContent string `json:"html_content"`
	TemplateRef string `json:"template_ref"`
	Topic       string `json:"topic"`
}

// CreateCampaign creates a draft campaign.
func (h *Handlers) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req createCampaignRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	c, err := h.campaigns.Create(r.Context(), &domain.Campaign{
		Name:        req.Name,
		Subject:     req.Subject,
		FromName:    req.FromName,
		FromEmail:   req.FromEmail,
		HTMLContent: req.HTMLContent,
		TemplateRef: req.TemplateRef,
		Topic:       req.Topic,
	})
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.Created(w, c)
}

// GetCampaign returns a single campaign.
func (h *Handlers) GetCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := h.campaigns.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeCampaignError(w, err)
		return
	}
	httputil.OK(w, c)
}

// ListCampaigns lists campaigns with optional status/topic filters and
// limit/offset paging.
func (h *Handlers) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := campaign.ListFilter{
		Status: domain.CampaignStatus(q.Get("status")),
		Topic:  q.Get("topic"),
	}
	f.Limit, _ = strconv.Atoi(q.Get("limit"))
	f.Offset, _ = strconv.Atoi(q.Get("offset"))

	items, total, err := h.campaigns.List(r.Context(), f)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{
		"campaigns": items,
		"total":     total,
	})
}

type updateCampaignRequest struct {
	Name        *string `json:"name"`
	Subject     *string `json:"subject"`
	FromName    *string `json:"from_name"`
	FromEmail   *string `json:"from_email"`
	HTMLContent *string `json:"html_content"`
	TemplateRef *string `json:"template_ref"`
	Topic       *string `json:"topic"`
}

// UpdateCampaign edits a draft or scheduled campaign. Sent and in-flight
// campaigns are immutable.
func (h *Handlers) UpdateCampaign(w http.ResponseWriter, r *http.Request) {
	var req updateCampaignRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	c, err := h.campaigns.Update(r.Context(), chi.URLParam(r, "id"), campaign.UpdateFields{
		Name:        req.Name,
		Subject:     req.Subject,
		FromName:    req.FromName,
		FromEmail:   req.FromEmail,
		HTMLContent: req.HTMLContent,
		TemplateRef: req.TemplateRef,
		Topic:       req.Topic,
	})
	if err != nil {
		h.writeCampaignError(w, err)
		return
	}
	httputil.OK(w, c)
}

type scheduleRequest struct {
	SendAt time.Time `json:"send_at"`
}

// ScheduleCampaign arms a campaign for a future send.
func (h *Handlers) ScheduleCampaign(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	c, err := h.campaigns.Schedule(r.Context(), chi.URLParam(r, "id"), req.SendAt)
	if err != nil {
		h.writeCampaignError(w, err)
		return
	}
	httputil.OK(w, c)
}

// SendCampaignNow claims the campaign for immediate dispatch. Concurrent
// requests settle on one winner; the rest get a conflict.
func (h *Handlers) SendCampaignNow(w http.ResponseWriter, r *http.Request) {
	c, err := h.campaigns.SendNow(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeCampaignError(w, err)
		return
	}
	httputil.OK(w, c)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// CancelCampaign stops a scheduled or in-flight campaign and reports how
// many queued deliveries were dropped.
func (h *Handlers) CancelCampaign(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	c, dropped, err := h.campaigns.Cancel(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		h.writeCampaignError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{
		"campaign":             c,
		"cancelled_deliveries": dropped,
	})
}

// writeCampaignError maps service sentinels onto HTTP statuses.
func (h *Handlers) writeCampaignError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, campaign.ErrNotFound):
		httputil.NotFound(w, "campaign not found")
	case errors.Is(err, campaign.ErrInvalidSchedule):
		httputil.BadRequest(w, "send_at must be in the future")
	case errors.Is(err, campaign.ErrAlreadySent):
		httputil.Conflict(w, "campaign already sent or sending", "already_sent")
	case errors.Is(err, campaign.ErrNotCancellable):
		httputil.Conflict(w, "campaign is not in a cancellable state", "not_cancellable")
	case errors.Is(err, campaign.ErrImmutableCampaign):
		httputil.Conflict(w, "campaign content is frozen once sending starts", "immutable")
	case errors.Is(err, campaign.ErrDuplicatePeriod):
		httputil.Conflict(w, "a campaign for this period already exists", "duplicate_period")
	default:
		httputil.InternalError(w, err)
	}
}
