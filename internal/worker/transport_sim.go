package worker

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/lumenpress/courier/internal/pkg/logger"
)

// SimulatedTransport accepts every message without touching a provider. Used
// for local development and smoke environments.
type SimulatedTransport struct {
	// Delay, when set, is slept per send to mimic provider latency.
	Delay time.Duration

	sent int64
}

func NewSimulatedTransport() *SimulatedTransport {
	return &SimulatedTransport{}
}

func (s *SimulatedTransport) Name() string { return "simulated" }

func (s *SimulatedTransport) Send(ctx context.Context, msg *Message) (*SendResult, error) {
	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return nil, Transient(ctx.Err())
		}
	}
	n := atomic.AddInt64(&s.sent, 1)
	id := "sim-" + uuid.New().String()
	if n%1000 == 1 {
		log.Printf("[SimTransport] sent %d messages (last: %s)", n, logger.RedactEmail(msg.Email))
	}
	return &SendResult{MessageID: id, SentAt: time.Now().UTC()}, nil
}

// Sent returns how many messages were accepted.
func (s *SimulatedTransport) Sent() int64 {
	return atomic.LoadInt64(&s.sent)
}
