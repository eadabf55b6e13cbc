package worker

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lumenpress/courier/internal/domain"
	"github.com/lumenpress/courier/internal/pkg/logger"
	"github.com/lumenpress/courier/internal/quiethours"
)

// DispatcherOptions tunes batching and retry behavior.
type DispatcherOptions struct {
	BatchSize   int
	Concurrency int
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration
	Tick        time.Duration
	// SendTimeout bounds each transport call so a hanging provider cannot
	// occupy a concurrency slot for the whole tick.
	SendTimeout time.Duration
}

func (o *DispatcherOptions) applyDefaults() {
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 10
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 30 * time.Second
	}
	if o.BackoffCap <= 0 {
		o.BackoffCap = time.Hour
	}
	if o.Tick <= 0 {
		o.Tick = 15 * time.Second
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = 10 * time.Second
	}
}

// Dispatcher drives campaigns through delivery: fan out one row per
// eligible recipient, send due rows in bounded batches, honor quiet hours
// and retry backoff, and complete the campaign once every row is terminal.
//
// All progress is persisted per delivery row, so a dispatcher crash loses at
// most the in-flight batch, and the unique (campaign, recipient) key makes
// the re-run skip everything already handled.
type Dispatcher struct {
	store     DispatchStore
	transport Transport
	quiet     *quiethours.Evaluator
	limiter   *RateLimiter // optional
	opts      DispatcherOptions

	deliveriesSent   int64
	deliveriesFailed int64
	deliveriesHeld   int64
	campaignsDone    int64

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.RWMutex
}

// NewDispatcher wires a dispatcher. limiter may be nil when Redis is not
// deployed.
func NewDispatcher(store DispatchStore, transport Transport, quiet *quiethours.Evaluator, limiter *RateLimiter, opts DispatcherOptions) *Dispatcher {
	opts.applyDefaults()
	return &Dispatcher{
		store:     store,
		transport: transport,
		quiet:     quiet,
		limiter:   limiter,
		opts:      opts,
	}
}

// Start begins the dispatch loop.
func (d *Dispatcher) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("dispatcher already running")
	}
	d.running = true
	d.ctx, d.cancel = context.WithCancel(context.Background())
	d.mu.Unlock()

	log.Printf("[Dispatcher] starting via %s transport (batch=%d concurrency=%d)",
		d.transport.Name(), d.opts.BatchSize, d.opts.Concurrency)

	d.wg.Add(1)
	go d.run()

	d.wg.Add(1)
	go d.heartbeatLoop()

	return nil
}

// Stop cancels the loop and waits for in-flight sends to finish.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	d.mu.Unlock()

	log.Printf("[Dispatcher] stopping...")
	d.cancel()
	d.wg.Wait()
	log.Printf("[Dispatcher] stopped. Sent: %d, Failed: %d, Held: %d",
		atomic.LoadInt64(&d.deliveriesSent),
		atomic.LoadInt64(&d.deliveriesFailed),
		atomic.LoadInt64(&d.deliveriesHeld))
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.opts.Tick)
	defer ticker.Stop()

	d.runTick()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.runTick()
		}
	}
}

func (d *Dispatcher) runTick() {
	ctx, cancel := context.WithTimeout(d.ctx, 5*time.Minute)
	defer cancel()

	campaigns, err := d.store.ListSending(ctx)
	if err != nil {
		log.Printf("[Dispatcher] list sending error: %v", err)
		return
	}

	for _, c := range campaigns {
		if err := d.ProcessCampaign(ctx, &c); err != nil {
			log.Printf("[Dispatcher] campaign %s error: %v", c.ID, err)
		}
	}
}

// ProcessCampaign runs one dispatch pass for a sending campaign: ensure the
// fan-out exists, send every batch that is currently due, then complete the
// campaign if nothing is left queued.
func (d *Dispatcher) ProcessCampaign(ctx context.Context, c *domain.Campaign) error {
	total, err := d.ensureFanOut(ctx, c)
	if err != nil {
		return err
	}

	if total == 0 {
		// No eligible audience at claim time. The campaign is trivially done.
		if ok, err := d.store.MarkCampaignSent(ctx, c.ID, time.Now().UTC()); err != nil {
			return err
		} else if ok {
			log.Printf("[Dispatcher] campaign %s had no eligible recipients, marked sent", c.ID)
			atomic.AddInt64(&d.campaignsDone, 1)
		}
		return nil
	}

	for {
		// Cancellation is observed between batches: a batch already handed
		// to the transport finishes, but no new batch starts.
		status, err := d.store.CampaignStatus(ctx, c.ID)
		if err != nil {
			return err
		}
		if status != domain.CampaignSending {
			log.Printf("[Dispatcher] campaign %s is %s, halting dispatch", c.ID, status)
			return nil
		}

		batch, err := d.store.ClaimDueDeliveries(ctx, c.ID, time.Now().UTC(), d.opts.BatchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			break
		}

		if err := d.sendBatch(ctx, c, batch); err != nil {
			return err
		}
		if len(batch) < d.opts.BatchSize {
			break
		}
	}

	_, queued, err := d.store.CountDeliveries(ctx, c.ID)
	if err != nil {
		return err
	}
	if queued == 0 {
		ok, err := d.store.MarkCampaignSent(ctx, c.ID, time.Now().UTC())
		if err != nil {
			return err
		}
		if ok {
			atomic.AddInt64(&d.campaignsDone, 1)
			log.Printf("[Dispatcher] campaign %s complete", c.ID)
		}
	}
	return nil
}

// ensureFanOut creates the per-recipient delivery rows exactly once and
// returns the campaign's total row count.
func (d *Dispatcher) ensureFanOut(ctx context.Context, c *domain.Campaign) (int, error) {
	total, _, err := d.store.CountDeliveries(ctx, c.ID)
	if err != nil {
		return 0, err
	}
	if total > 0 {
		return total, nil
	}

	recipients, err := d.store.SendableRecipients(ctx, c.Topic)
	if err != nil {
		return 0, fmt.Errorf("load recipients: %w", err)
	}
	if len(recipients) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	ds := make([]domain.Delivery, 0, len(recipients))
	for _, r := range recipients {
		ds = append(ds, domain.Delivery{
			CampaignID:  c.ID,
			RecipientID: r.ID,
			Email:       r.Email,
			Status:      domain.DeliveryQueued,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}

	inserted, err := d.store.CreateDeliveries(ctx, ds)
	if err != nil {
		return 0, fmt.Errorf("fan out: %w", err)
	}
	log.Printf("[Dispatcher] campaign %s fanned out to %d recipients (%d new)", c.ID, len(ds), inserted)
	return len(ds), nil
}

// sendBatch reserves rate-limit budget, then sends the batch with bounded
// concurrency. Quiet-hours holds are applied per recipient before any
// transport call.
func (d *Dispatcher) sendBatch(ctx context.Context, c *domain.Campaign, batch []DispatchItem) error {
	// Partition out recipients currently inside their quiet window first so
	// held deliveries never consume rate-limit budget.
	now := time.Now()
	due := batch[:0]
	for _, item := range batch {
		if d.quiet != nil {
			if isQuiet, resumeAt := d.quiet.Evaluate(now, item.Timezone); isQuiet {
				if err := d.store.DeferDelivery(ctx, item.Delivery.CampaignID, item.Delivery.RecipientID, resumeAt.UTC()); err != nil {
					return err
				}
				atomic.AddInt64(&d.deliveriesHeld, 1)
				continue
			}
		}
		due = append(due, item)
	}
	if len(due) == 0 {
		return nil
	}

	if d.limiter != nil {
		allowed, wait, err := d.limiter.CheckAndIncrement(ctx, len(due))
		if err != nil {
			return fmt.Errorf("rate limit: %w", err)
		}
		if !allowed {
			log.Printf("[Dispatcher] rate limited, retrying batch in %v", wait)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil // rows stay queued; the next pass picks them up
		}
	}

	sem := make(chan struct{}, d.opts.Concurrency)
	var wg sync.WaitGroup
	for i := range due {
		item := due[i]
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			d.sendOne(ctx, c, item)
		}()
	}
	wg.Wait()
	return nil
}

func (d *Dispatcher) sendOne(ctx context.Context, c *domain.Campaign, item DispatchItem) {
	del := item.Delivery
	msg := &Message{
		CampaignID:  c.ID,
		RecipientID: del.RecipientID,
		Email:       del.Email,
		FromName:    c.FromName,
		FromEmail:   c.FromEmail,
		Subject:     c.Subject,
		HTMLContent: c.HTMLContent,
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.opts.SendTimeout)
	result, err := d.transport.Send(sendCtx, msg)
	cancel()
	if err == nil {
		if err := d.store.MarkDeliverySent(ctx, del.CampaignID, del.RecipientID, result.MessageID, result.SentAt); err != nil {
			log.Printf("[Dispatcher] mark sent error for %s: %v", logger.RedactEmail(del.Email), err)
			return
		}
		atomic.AddInt64(&d.deliveriesSent, 1)
		return
	}

	attempts := del.Attempts + 1
	if !IsTransient(err) {
		if markErr := d.store.MarkDeliveryFailed(ctx, del.CampaignID, del.RecipientID, err.Error()); markErr != nil {
			log.Printf("[Dispatcher] mark failed error: %v", markErr)
			return
		}
		atomic.AddInt64(&d.deliveriesFailed, 1)
		log.Printf("[Dispatcher] permanent failure for %s: %v", logger.RedactEmail(del.Email), err)
		return
	}

	if attempts >= d.opts.MaxAttempts {
		if markErr := d.store.MarkDeliveryFailed(ctx, del.CampaignID, del.RecipientID,
			fmt.Sprintf("gave up after %d attempts: %v", attempts, err)); markErr != nil {
			log.Printf("[Dispatcher] mark failed error: %v", markErr)
			return
		}
		atomic.AddInt64(&d.deliveriesFailed, 1)
		log.Printf("[Dispatcher] exhausted retries for %s", logger.RedactEmail(del.Email))
		return
	}

	nextAt := time.Now().UTC().Add(d.backoff(attempts))
	if markErr := d.store.RequeueDelivery(ctx, del.CampaignID, del.RecipientID, nextAt, err.Error()); markErr != nil {
		log.Printf("[Dispatcher] requeue error: %v", markErr)
	}
}

// backoff returns the delay before retry number attempt+1: exponential from
// the base, capped, with full jitter to spread thundering herds.
func (d *Dispatcher) backoff(attempt int) time.Duration {
	delay := d.opts.BackoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= d.opts.BackoffCap {
			delay = d.opts.BackoffCap
			break
		}
	}
	return time.Duration(rand.Int63n(int64(delay)) + int64(delay)/2)
}

func (d *Dispatcher) heartbeatLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			log.Printf("[Dispatcher] heartbeat: sent=%d failed=%d held=%d campaigns=%d",
				atomic.LoadInt64(&d.deliveriesSent),
				atomic.LoadInt64(&d.deliveriesFailed),
				atomic.LoadInt64(&d.deliveriesHeld),
				atomic.LoadInt64(&d.campaignsDone))
		}
	}
}
