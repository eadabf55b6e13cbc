package worker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lumenpress/courier/internal/domain"
	"github.com/lumenpress/courier/internal/pkg/logger"
)

const ingestQueueDepth = 10000

// Ingestor applies provider webhook events to delivery rows and recipient
// state. Providers deliver at-least-once and out of order, so every write is
// conditional or set-if-unset; replaying an event changes nothing.
//
// Events arrive through Enqueue from the webhook handler and are applied by
// a single background goroutine. The handler never blocks on the store.
type Ingestor struct {
	store IngestStore

	events chan domain.ProviderEvent

	processed  int64
	suppressed int64
	discarded  int64
	dropOnFull int64

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.RWMutex
}

// NewIngestor creates an ingestor over the given store.
func NewIngestor(store IngestStore) *Ingestor {
	return &Ingestor{
		store:  store,
		events: make(chan domain.ProviderEvent, ingestQueueDepth),
	}
}

// Start launches the apply loop.
func (in *Ingestor) Start() error {
	in.mu.Lock()
	if in.running {
		in.mu.Unlock()
		return fmt.Errorf("ingestor already running")
	}
	in.running = true
	in.ctx, in.cancel = context.WithCancel(context.Background())
	in.mu.Unlock()

	log.Printf("[Ingestor] starting (queue depth %d)", ingestQueueDepth)

	in.wg.Add(1)
	go in.run()

	return nil
}

// Stop drains nothing: buffered events not yet applied are lost, which is
// acceptable because providers retry webhook delivery.
func (in *Ingestor) Stop() {
	in.mu.Lock()
	if !in.running {
		in.mu.Unlock()
		return
	}
	in.running = false
	in.mu.Unlock()

	in.cancel()
	in.wg.Wait()
	log.Printf("[Ingestor] stopped. Processed: %d, Suppressed: %d, Discarded: %d",
		atomic.LoadInt64(&in.processed),
		atomic.LoadInt64(&in.suppressed),
		atomic.LoadInt64(&in.discarded))
}

// Enqueue hands an event to the apply loop without blocking. Returns false
// when the queue is full; the provider will redeliver.
func (in *Ingestor) Enqueue(ev domain.ProviderEvent) bool {
	select {
	case in.events <- ev:
		return true
	default:
		atomic.AddInt64(&in.dropOnFull, 1)
		return false
	}
}

func (in *Ingestor) run() {
	defer in.wg.Done()

	for {
		select {
		case <-in.ctx.Done():
			return
		case ev := <-in.events:
			ctx, cancel := context.WithTimeout(in.ctx, 10*time.Second)
			if err := in.Process(ctx, ev); err != nil {
				log.Printf("[Ingestor] %s event for %s failed: %v",
					ev.Type, logger.RedactEmail(ev.Email), err)
			}
			cancel()
		}
	}
}

// Process applies one event synchronously. Exported so the webhook handler
// can be tested without the background loop.
func (in *Ingestor) Process(ctx context.Context, ev domain.ProviderEvent) error {
	ev.Email = domain.NormalizeEmail(ev.Email)
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	del, err := in.match(ctx, ev)
	if err != nil {
		return err
	}
	if del == nil {
		// Event for mail this system never sent (stale provider data, other
		// sender on the same account). Discard without error.
		atomic.AddInt64(&in.discarded, 1)
		log.Printf("[Ingestor] discarding unmatched %s event for %s", ev.Type, logger.RedactEmail(ev.Email))
		return nil
	}

	switch ev.Type {
	case domain.EventBounce:
		return in.applyBounce(ctx, del, ev)
	case domain.EventComplaint:
		return in.applyComplaint(ctx, del, ev)
	case domain.EventDelivery:
		_, err := in.store.SetDeliveryStatus(ctx, del.CampaignID, del.RecipientID,
			[]domain.DeliveryStatus{domain.DeliverySent}, domain.DeliveryDelivered, ev.Timestamp)
		if err == nil {
			atomic.AddInt64(&in.processed, 1)
		}
		return err
	case domain.EventOpen:
		return in.applyOpen(ctx, del, ev)
	case domain.EventClick:
		return in.applyClick(ctx, del, ev)
	case domain.EventUnsub:
		return in.applyUnsubscribe(ctx, del, ev)
	default:
		atomic.AddInt64(&in.discarded, 1)
		log.Printf("[Ingestor] ignoring unknown event type %q", ev.Type)
		return nil
	}
}

// match finds the delivery an event refers to: by provider message ID when
// present, otherwise by (campaign, email).
func (in *Ingestor) match(ctx context.Context, ev domain.ProviderEvent) (*domain.Delivery, error) {
	if ev.MessageID != "" {
		del, err := in.store.DeliveryByMessageID(ctx, ev.MessageID)
		if err != nil {
			return nil, err
		}
		if del != nil {
			return del, nil
		}
	}
	if ev.CampaignID != "" && ev.Email != "" {
		return in.store.DeliveryByCampaignEmail(ctx, ev.CampaignID, ev.Email)
	}
	return nil, nil
}

func (in *Ingestor) applyBounce(ctx context.Context, del *domain.Delivery, ev domain.ProviderEvent) error {
	from := []domain.DeliveryStatus{domain.DeliveryQueued, domain.DeliverySent, domain.DeliveryDelivered}

	if ev.BounceType == domain.BounceTransient {
		_, err := in.store.SetDeliveryStatus(ctx, del.CampaignID, del.RecipientID,
			from, domain.DeliveryBouncedSoft, ev.Timestamp)
		if err == nil {
			atomic.AddInt64(&in.processed, 1)
		}
		return err
	}

	// Hard bounce: the delivery record flips and the recipient is suppressed
	// for good. Both writes are idempotent, so a duplicate event is a no-op.
	if _, err := in.store.SetDeliveryStatus(ctx, del.CampaignID, del.RecipientID,
		from, domain.DeliveryBouncedHard, ev.Timestamp); err != nil {
		return err
	}
	newlySuppressed, err := in.store.SuppressRecipient(ctx, ev.Email, ev.Timestamp)
	if err != nil {
		return err
	}
	if newlySuppressed {
		atomic.AddInt64(&in.suppressed, 1)
		log.Printf("[Ingestor] suppressed %s after hard bounce", logger.RedactEmail(ev.Email))
	}
	atomic.AddInt64(&in.processed, 1)
	return nil
}

func (in *Ingestor) applyComplaint(ctx context.Context, del *domain.Delivery, ev domain.ProviderEvent) error {
	if _, err := in.store.SetDeliveryStatus(ctx, del.CampaignID, del.RecipientID,
		[]domain.DeliveryStatus{domain.DeliveryQueued, domain.DeliverySent, domain.DeliveryDelivered},
		domain.DeliveryComplained, ev.Timestamp); err != nil {
		return err
	}
	newlySuppressed, err := in.store.SuppressRecipient(ctx, ev.Email, ev.Timestamp)
	if err != nil {
		return err
	}
	if newlySuppressed {
		atomic.AddInt64(&in.suppressed, 1)
		log.Printf("[Ingestor] suppressed %s after complaint", logger.RedactEmail(ev.Email))
	}
	atomic.AddInt64(&in.processed, 1)
	return nil
}

func (in *Ingestor) applyOpen(ctx context.Context, del *domain.Delivery, ev domain.ProviderEvent) error {
	// An open proves delivery even if the delivery event never arrived.
	if _, err := in.store.SetDeliveryStatus(ctx, del.CampaignID, del.RecipientID,
		[]domain.DeliveryStatus{domain.DeliverySent}, domain.DeliveryDelivered, ev.Timestamp); err != nil {
		return err
	}
	if _, err := in.store.MarkOpened(ctx, del.CampaignID, del.RecipientID, ev.Timestamp); err != nil {
		return err
	}
	atomic.AddInt64(&in.processed, 1)
	return nil
}

func (in *Ingestor) applyClick(ctx context.Context, del *domain.Delivery, ev domain.ProviderEvent) error {
	// A click implies an open.
	if err := in.applyOpen(ctx, del, ev); err != nil {
		return err
	}
	_, err := in.store.MarkClicked(ctx, del.CampaignID, del.RecipientID, ev.Timestamp)
	return err
}

func (in *Ingestor) applyUnsubscribe(ctx context.Context, del *domain.Delivery, ev domain.ProviderEvent) error {
	if _, err := in.store.MarkUnsubscribed(ctx, del.CampaignID, del.RecipientID, ev.Timestamp); err != nil {
		return err
	}
	if _, err := in.store.UnsubscribeRecipient(ctx, ev.Email); err != nil {
		return err
	}
	atomic.AddInt64(&in.processed, 1)
	return nil
}
