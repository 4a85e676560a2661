// Package sms delivers verification codes by SMS through the SMS Local API. An SMS carries only the
// code, so administrators approve with the bot's /confirm command or relay it to the user.
package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"webpanel-gate/internal/notifier"
)

const defaultTimeout = 15 * time.Second

// DefaultBaseURL is the SMS Local bulk endpoint.
const DefaultBaseURL = "https://www.smslocal.com/dev/bulkV2"

// ErrNotConfigured is returned when the client has no API key.
var ErrNotConfigured = errors.New("sms: API key not configured")

// SMSLocalClient sends verification codes via the SMS Local API (route=otp).
// See https://www.smslocal.in/help/otp-sms/ and https://www.smslocal.com/dev/bulkV2.
type SMSLocalClient struct {
	APIKey     string
	BaseURL    string
	Sender     string
	HTTPClient *http.Client
}

var _ notifier.Sender = (*SMSLocalClient)(nil)

// NewSMSLocalClient returns a client that uses the given API key and optional base URL/sender.
func NewSMSLocalClient(apiKey, baseURL, sender string) *SMSLocalClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &SMSLocalClient{
		APIKey:     apiKey,
		BaseURL:    baseURL,
		Sender:     sender,
		HTTPClient: &http.Client{Timeout: defaultTimeout},
	}
}

// Send delivers req.Code to phone. phone should be digits only (country code + number).
// A 4xx response other than 429 is permanent. Never logs the code or the API key.
func (c *SMSLocalClient) Send(ctx context.Context, phone string, req notifier.Request) error {
	return c.SendOTP(ctx, phone, req.Code)
}

// SendOTP sends otp to phone.
func (c *SMSLocalClient) SendOTP(ctx context.Context, phone, otp string) error {
	if c.APIKey == "" {
		return notifier.Permanent(ErrNotConfigured)
	}
	body := map[string]interface{}{
		"route":     "otp",
		"numbers":   phone,
		"variables": otp,
	}
	if c.Sender != "" {
		body["sender_id"] = c.Sender
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return notifier.Permanent(err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(raw))
	if err != nil {
		return notifier.Permanent(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", c.APIKey)
	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("sms: request failed status=%d body=%s", resp.StatusCode, string(b))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return notifier.Permanent(err)
		}
		return err
	}
	return nil
}
