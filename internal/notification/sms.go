package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"reminder-notify-backend/config"
	"reminder-notify-backend/internal/logger"
	"reminder-notify-backend/internal/model"
)

// smsRequest is the body posted to the SMS gateway.
type smsRequest struct {
	To   string `json:"to"`
	From string `json:"from,omitempty"`
	Body string `json:"body"`
}

// SMSTransport posts messages to an HTTP SMS gateway.
type SMSTransport struct {
	url     string
	token   string
	from    string
	client  *http.Client
	limiter *rate.Limiter
}

// NewSMSTransport creates a gateway client. Requests are throttled client-side to the
// gateway's configured rate.
func NewSMSTransport(cfg config.SMSConfig) *SMSTransport {
	var transport http.RoundTripper = &http.Transport{}
	if cfg.HTTPProxy != "" {
		proxyURL, err := url.Parse(cfg.HTTPProxy)
		if err != nil {
			logger.Warn("invalid SMS proxy URL, sending directly", "proxy", cfg.HTTPProxy, "err", err)
		} else {
			transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
		}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	limit := rate.Inf
	if cfg.RateLimitPerSec > 0 {
		limit = rate.Limit(cfg.RateLimitPerSec)
	}
	return &SMSTransport{
		url:   cfg.GatewayURL,
		token: cfg.APIToken,
		from:  cfg.From,
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		limiter: rate.NewLimiter(limit, 1),
	}
}

func (t *SMSTransport) Channel() model.Channel {
	return model.ChannelSMS
}

func (t *SMSTransport) Send(ctx context.Context, to Recipient, msg *Message) error {
	if to.Phone == "" {
		return Terminal(model.ChannelSMS, errors.New("no phone number"))
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return Retryable(model.ChannelSMS, err)
	}

	jsonBody, err := json.Marshal(smsRequest{To: to.Phone, From: t.from, Body: msg.Text()})
	if err != nil {
		return Terminal(model.ChannelSMS, fmt.Errorf("failed to marshal request payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewBuffer(jsonBody))
	if err != nil {
		return Terminal(model.ChannelSMS, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return Retryable(model.ChannelSMS, fmt.Errorf("http request failed: %w", err))
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch code := resp.StatusCode; {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500:
		return Retryable(model.ChannelSMS, fmt.Errorf("gateway returned %d", code))
	default:
		return Terminal(model.ChannelSMS, fmt.Errorf("gateway returned %d", code))
	}
}
