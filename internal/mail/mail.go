// Package mail delivers transactional email through the Resend HTTP API.
// Delivery is best-effort: callers treat failures as log-and-continue.
package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// Message is a single outbound email.
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Mailer sends transactional email.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

const resendEndpoint = "https://api.resend.com/emails"

// ResendMailer sends email through the Resend HTTP API.
type ResendMailer struct {
	apiKey string
	from   string
	client *http.Client
}

// NewResendMailer constructs a ResendMailer. The client timeout bounds the
// whole send; alert dispatch runs off the request path so a slow provider
// never delays a proxied call.
func NewResendMailer(apiKey, from string) *ResendMailer {
	return &ResendMailer{
		apiKey: strings.TrimSpace(apiKey),
		from:   strings.TrimSpace(from),
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts the message to the Resend API.
func (m *ResendMailer) Send(ctx context.Context, msg Message) error {
	if m == nil || m.apiKey == "" {
		return fmt.Errorf("mail: resend api key not configured")
	}
	if strings.TrimSpace(msg.To) == "" {
		return fmt.Errorf("mail: missing recipient")
	}

	payload, errMarshal := json.Marshal(map[string]any{
		"from":    m.from,
		"to":      []string{msg.To},
		"subject": msg.Subject,
		"html":    msg.HTML,
	})
	if errMarshal != nil {
		return fmt.Errorf("mail: marshal payload: %w", errMarshal)
	}

	req, errReq := http.NewRequestWithContext(ctx, http.MethodPost, resendEndpoint, bytes.NewReader(payload))
	if errReq != nil {
		return fmt.Errorf("mail: build request: %w", errReq)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, errDo := m.client.Do(req)
	if errDo != nil {
		return fmt.Errorf("mail: send: %w", errDo)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("mail: send failed with status %d", resp.StatusCode)
	}
	return nil
}

// LogMailer logs messages instead of delivering them. Used when no mail
// provider is configured and in tests.
type LogMailer struct{}

// Send logs the message.
func (LogMailer) Send(_ context.Context, msg Message) error {
	log.WithFields(log.Fields{
		"to":      msg.To,
		"subject": msg.Subject,
	}).Info("mail: delivery skipped (no provider configured)")
	return nil
}
