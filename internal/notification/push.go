package notification

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/SherClockHolmes/webpush-go"

	"reminder-notify-backend/internal/logger"
	"reminder-notify-backend/internal/model"
	"reminder-notify-backend/internal/store"
)

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(ctx context.Context, payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of NotificationSender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(ctx context.Context, payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotificationWithContext(ctx, payload, sub, options)
}

const defaultPushTimeout = 10 * time.Second

// PushTransport delivers to every browser subscription of the recipient.
type PushTransport struct {
	store   store.Store
	options *webpush.Options
	sender  NotificationSender
	timeout time.Duration
}

// NewPushTransport creates a push transport signing with the given VAPID options. Each
// request to a push service is abandoned after timeout; options without an HTTP client
// get one bounded by the same timeout.
func NewPushTransport(s store.Store, options *webpush.Options, timeout time.Duration) *PushTransport {
	if timeout <= 0 {
		timeout = defaultPushTimeout
	}
	if options.HTTPClient == nil {
		options.HTTPClient = &http.Client{Timeout: timeout}
	}
	return &PushTransport{
		store:   s,
		options: options,
		sender:  &WebPushSender{}, // Use the real sender by default
		timeout: timeout,
	}
}

func (p *PushTransport) Channel() model.Channel {
	return model.ChannelPush
}

// Send succeeds when at least one subscription accepted the message. Subscriptions the
// push service reports as gone are deleted.
func (p *PushTransport) Send(ctx context.Context, to Recipient, msg *Message) error {
	subs, err := p.store.ListPushSubscriptions(ctx, to.OwnerID)
	if err != nil {
		return Retryable(model.ChannelPush, err)
	}
	if len(subs) == 0 {
		return Terminal(model.ChannelPush, errors.New("no push subscriptions"))
	}

	payload, err := msg.Payload()
	if err != nil {
		return Terminal(model.ChannelPush, err)
	}

	var (
		delivered int
		lastErr   error
		retryable bool
	)
	for i := range subs {
		err := p.sendOne(ctx, &subs[i], payload)
		if err == nil {
			delivered++
			continue
		}
		lastErr = err
		retryable = retryable || IsRetryable(err)
	}

	if delivered > 0 {
		return nil
	}
	if retryable {
		return Retryable(model.ChannelPush, lastErr)
	}
	return Terminal(model.ChannelPush, lastErr)
}

func (p *PushTransport) sendOne(ctx context.Context, sub *model.PushSubscription, payload []byte) error {
	// Manually construct the webpush.Subscription object
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	sendCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.sender.Send(sendCtx, payload, wpSub, p.options)
	if err != nil {
		return Retryable(model.ChannelPush, err)
	}
	defer resp.Body.Close()

	switch code := resp.StatusCode; {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound || code == http.StatusGone:
		// Handle expired subscriptions
		logger.Info("push subscription expired, deleting", "subscription", sub.ID, "status", code)
		if err := p.store.DeletePushSubscription(ctx, sub.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			logger.Warn("failed to delete expired subscription", "subscription", sub.ID, "err", err)
		}
		return Terminal(model.ChannelPush, fmt.Errorf("subscription gone (%d)", code))
	case code == http.StatusTooManyRequests || code >= 500:
		return Retryable(model.ChannelPush, fmt.Errorf("push service returned %d", code))
	default:
		return Terminal(model.ChannelPush, fmt.Errorf("push service returned %d", code))
	}
}
