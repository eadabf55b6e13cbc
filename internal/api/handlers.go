package api

import (
	"context"
	"net/http"
	"time"

	"github.com/lumenpress/courier/internal/domain"
	"github.com/lumenpress/courier/internal/pkg/httputil"
	"github.com/lumenpress/courier/internal/service/analytics"
	"github.com/lumenpress/courier/internal/service/campaign"
)

// RecipientStore is the slice of persistence the recipient handlers need.
type RecipientStore interface {
	UpsertRecipient(ctx context.Context, r *domain.Recipient) error
	RecipientByEmail(ctx context.Context, email string) (*domain.Recipient, error)
	ListRecipients(ctx context.Context) ([]domain.Recipient, error)
	UnsubscribeRecipient(ctx context.Context, email string) (bool, error)
}

// EventSink accepts provider events for asynchronous application. The
// webhook handler is the only producer.
type EventSink interface {
	Enqueue(ev domain.ProviderEvent) bool
}

// Handlers bundles the services behind the HTTP surface.
type Handlers struct {
	campaigns  *campaign.Service
	recipients RecipientStore
	analytics  *analytics.Service
	events     EventSink

	startedAt time.Time
}

// NewHandlers wires the handler set. events may be nil when the webhook
// endpoint is not mounted (e.g. worker-less deployments).
func NewHandlers(campaigns *campaign.Service, recipients RecipientStore, an *analytics.Service, events EventSink) *Handlers {
	return &Handlers{
		campaigns:  campaigns,
		recipients: recipients,
		analytics:  an,
		events:     events,
		startedAt:  time.Now(),
	}
}

// HealthCheck reports process liveness.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]interface{}{
		"status":    "healthy",
		"uptime":    time.Since(h.startedAt).Round(time.Second).String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
