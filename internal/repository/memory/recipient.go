package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lumenpress/courier/internal/domain"
)

// UpsertRecipient inserts or updates a recipient keyed by normalized email.
// On update only preferences change; status and suppression survive, so a
// preference upsert can never resurrect a suppressed or unsubscribed
// recipient.
func (s *Store) UpsertRecipient(_ context.Context, r *domain.Recipient) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := domain.NormalizeEmail(r.Email)
	if email == "" {
		return fmt.Errorf("recipient email is required")
	}
	r.Email = email

	if existingID, ok := s.recipientByEmail[email]; ok {
		existing := s.recipients[existingID]
		r.ID = existingID
		r.Status = existing.Status
		r.SuppressedAt = existing.SuppressedAt
		r.CreatedAt = existing.CreatedAt
	} else if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	r.UpdatedAt = time.Now().UTC()

	cp := *r
	s.recipients[r.ID] = &cp
	s.recipientByEmail[email] = r.ID
	return nil
}

// RecipientByEmail looks up a recipient by normalized email. Returns nil when
// absent.
func (s *Store) RecipientByEmail(_ context.Context, email string) (*domain.Recipient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.recipientByEmail[domain.NormalizeEmail(email)]
	if !ok {
		return nil, nil
	}
	cp := *s.recipients[id]
	return &cp, nil
}

// ListRecipients returns every recipient, unordered.
func (s *Store) ListRecipients(_ context.Context) ([]domain.Recipient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Recipient, 0, len(s.recipients))
	for _, r := range s.recipients {
		out = append(out, *r)
	}
	return out, nil
}

// SendableRecipients returns active recipients whose topic filters admit the
// campaign topic.
func (s *Store) SendableRecipients(_ context.Context, topic string) ([]domain.Recipient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Recipient
	for _, r := range s.recipients {
		if !r.Sendable() || !r.WantsTopic(topic) {
			continue
		}
		out = append(out, *r)
	}
	return out, nil
}

// SuppressRecipient marks the recipient suppressed. Suppression is one-way:
// repeated calls and already-suppressed recipients report false.
func (s *Store) SuppressRecipient(_ context.Context, email string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.recipientByEmail[domain.NormalizeEmail(email)]
	if !ok {
		return false, nil
	}
	r := s.recipients[id]
	if r.Status == domain.RecipientSuppressed {
		return false, nil
	}
	r.Status = domain.RecipientSuppressed
	r.SuppressedAt = &at
	r.UpdatedAt = time.Now().UTC()
	return true, nil
}

// UnsubscribeRecipient moves an active or pending recipient to unsubscribed.
// Suppressed recipients are left suppressed.
func (s *Store) UnsubscribeRecipient(_ context.Context, email string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.recipientByEmail[domain.NormalizeEmail(email)]
	if !ok {
		return false, nil
	}
	r := s.recipients[id]
	if r.Status == domain.RecipientSuppressed || r.Status == domain.RecipientUnsubscribed {
		return false, nil
	}
	r.Status = domain.RecipientUnsubscribed
	r.UpdatedAt = time.Now().UTC()
	return true, nil
}
