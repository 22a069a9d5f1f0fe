// Package notification delivers due queue items over push, email and SMS.
package notification

import (
	"context"
	"errors"
	"fmt"

	"reminder-notify-backend/internal/model"
)

// TransportError is a failed delivery on one channel. Retryable tells the dispatcher
// whether another attempt may succeed.
type TransportError struct {
	Channel   model.Channel
	Retryable bool
	Err       error
}

func (e *TransportError) Error() string {
	kind := "terminal"
	if e.Retryable {
		kind = "retryable"
	}
	return fmt.Sprintf("%s: %s failure: %v", e.Channel, kind, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Retryable wraps err as a failure worth retrying.
func Retryable(ch model.Channel, err error) error {
	return &TransportError{Channel: ch, Retryable: true, Err: err}
}

// Terminal wraps err as a failure no retry can fix.
func Terminal(ch model.Channel, err error) error {
	return &TransportError{Channel: ch, Retryable: false, Err: err}
}

// IsRetryable classifies a send error. Errors a transport did not classify, timeouts
// included, count as retryable.
func IsRetryable(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Retryable
	}
	return true
}

// Recipient is who a message is addressed to on every channel.
type Recipient struct {
	OwnerID string
	Email   string
	Phone   string
}

// Transport sends a message over one channel.
type Transport interface {
	Channel() model.Channel
	Send(ctx context.Context, to Recipient, msg *Message) error
}
