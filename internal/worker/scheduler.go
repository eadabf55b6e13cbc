package worker

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lumenpress/courier/internal/pkg/distlock"
)

const (
	// DefaultSchedulerTick is how often the scheduler polls for due campaigns.
	DefaultSchedulerTick = 60 * time.Second

	// DefaultclaimLimit bounds how many campaigns one tick promotes.
	DefaultClaimLimit = 10
)

// Scheduler polls for scheduled campaigns whose send time has arrived and
// claims them into the sending state. The claim is a conditional update, so
// multiple scheduler instances never double-promote a campaign; the
// distributed lock on top just keeps redundant instances from burning the
// same queries every tick.
type Scheduler struct {
	store      SchedulerStore
	lock       distlock.DistLock // optional
	digest     *DigestBuilder    // optional
	workerID   string
	tick       time.Duration
	claimLimit int

	campaignsClaimed int64
	errorCount       int64

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.RWMutex
}

// NewScheduler creates a scheduler. lock and digest may be nil.
func NewScheduler(store SchedulerStore, lock distlock.DistLock, digest *DigestBuilder, tick time.Duration, claimLimit int) *Scheduler {
	if tick <= 0 {
		tick = DefaultSchedulerTick
	}
	if claimLimit <= 0 {
		claimLimit = DefaultClaimLimit
	}
	return &Scheduler{
		store:      store,
		lock:       lock,
		digest:     digest,
		workerID:   fmt.Sprintf("scheduler-%s-%d", getHostname(), time.Now().UnixNano()%10000),
		tick:       tick,
		claimLimit: claimLimit,
	}
}

// Start begins the polling loop.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	log.Printf("[Scheduler] %s starting with tick %v", s.workerID, s.tick)

	s.wg.Add(1)
	go s.run()

	s.wg.Add(1)
	go s.heartbeatLoop()

	return nil
}

// Stop cancels the loop and waits for it to drain.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	log.Printf("[Scheduler] stopping...")
	s.cancel()
	s.wg.Wait()
	log.Printf("[Scheduler] stopped. Claimed: %d campaigns", atomic.LoadInt64(&s.campaignsClaimed))
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	// Catch up immediately on start instead of waiting out a full tick.
	s.runTick()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.runTick()
		}
	}
}

// runTick performs one scheduler pass: claim due campaigns, then give the
// digest rule a chance to fire.
func (s *Scheduler) runTick() {
	ctx, cancel := context.WithTimeout(s.ctx, 30*time.Second)
	defer cancel()

	if s.lock != nil {
		acquired, err := s.lock.Acquire(ctx)
		if err != nil {
			log.Printf("[Scheduler] lock error: %v", err)
			atomic.AddInt64(&s.errorCount, 1)
			return
		}
		if !acquired {
			return
		}
		defer func() {
			if err := s.lock.Release(ctx); err != nil {
				log.Printf("[Scheduler] lock release error: %v", err)
			}
		}()
	}

	s.claimDue(ctx)

	if s.digest != nil {
		if err := s.digest.RunOnce(ctx, time.Now()); err != nil {
			log.Printf("[Scheduler] digest rule error: %v", err)
			atomic.AddInt64(&s.errorCount, 1)
		}
	}
}

// ClaimDueOnce runs a single claim pass outside the loop. Exposed for
// operational tooling and tests.
func (s *Scheduler) ClaimDueOnce(ctx context.Context) int {
	return s.claimDue(ctx)
}

func (s *Scheduler) claimDue(ctx context.Context) int {
	due, err := s.store.DueScheduled(ctx, time.Now().UTC(), s.claimLimit)
	if err != nil {
		log.Printf("[Scheduler] due query error: %v", err)
		atomic.AddInt64(&s.errorCount, 1)
		return 0
	}

	claimed := 0
	for _, c := range due {
		ok, err := s.store.ClaimForSending(ctx, c.ID)
		if err != nil {
			log.Printf("[Scheduler] claim error for %s: %v", c.ID, err)
			atomic.AddInt64(&s.errorCount, 1)
			continue
		}
		if !ok {
			// Another instance got it, or the campaign was cancelled
			// between the query and the claim.
			continue
		}
		claimed++
		atomic.AddInt64(&s.campaignsClaimed, 1)
		log.Printf("[Scheduler] claimed campaign %s (%s) for sending", c.ID, c.Name)
	}
	return claimed
}

func (s *Scheduler) heartbeatLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			log.Printf("[Scheduler] heartbeat: claimed=%d errors=%d",
				atomic.LoadInt64(&s.campaignsClaimed), atomic.LoadInt64(&s.errorCount))
		}
	}
}

func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}
