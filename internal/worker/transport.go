package worker

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Message is a rendered email handed to a Transport.
type Message struct {
	CampaignID  string
	RecipientID string
	Email       string
	FromName    string
	FromEmail   string
	Subject     string
	HTMLContent string
}

// SendResult is the provider's acknowledgement of an accepted message.
type SendResult struct {
	MessageID string
	SentAt    time.Time
}

// Transport delivers a single message through an email provider. Errors are
// classified with Transient/Permanent so the dispatcher knows whether to
// retry.
type Transport interface {
	Send(ctx context.Context, msg *Message) (*SendResult, error)
	Name() string
}

// TransientError wraps provider failures worth retrying (throttling,
// timeouts, 5xx).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError wraps failures that will not succeed on retry (rejected
// address, account suspended).
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return fmt.Sprintf("permanent: %v", e.Err) }
func (e *PermanentError) Unwrap() error { return e.Err }

// Transient wraps err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// Permanent wraps err as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsTransient reports whether the dispatcher should retry after err.
// Unclassified errors count as transient so a provider hiccup never burns a
// recipient permanently.
func IsTransient(err error) bool {
	var perm *PermanentError
	return !errors.As(err, &perm)
}
