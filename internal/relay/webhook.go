package relay

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"
)

const (
	headerSignature = "X-Webhook-Signature"
	headerEventID   = "X-Webhook-Event-Id"
	headerEventType = "X-Webhook-Event-Type"
)

type WebhookConfig struct {
	URL     string
	Secret  string
	Timeout time.Duration
}

// WebhookDeliverer posts event envelopes to the merchant's webhook
// endpoint. The body is signed with HMAC-SHA256 so the receiver can
// verify origin; any non-2xx response counts as a failed delivery.
type WebhookDeliverer struct {
	client *fasthttp.Client
	config WebhookConfig
}

func NewWebhookDeliverer(config WebhookConfig) (*WebhookDeliverer, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("webhook url is required")
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	return &WebhookDeliverer{
		client: &fasthttp.Client{
			MaxConnsPerHost: 64,
			ReadTimeout:     config.Timeout,
			WriteTimeout:    config.Timeout,
		},
		config: config,
	}, nil
}

// Deliver posts one signed event payload. The caller handles retries.
func (d *WebhookDeliverer) Deliver(ctx context.Context, eventID, eventType string, body []byte) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(d.config.URL)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.Header.Set(headerEventID, eventID)
	req.Header.Set(headerEventType, eventType)
	if d.config.Secret != "" {
		req.Header.Set(headerSignature, d.Sign(body))
	}
	req.SetBody(body)

	deadline := time.Now().Add(d.config.Timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}

	if err := d.client.DoDeadline(req, resp, deadline); err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}

	status := resp.StatusCode()
	if status < 200 || status > 299 {
		return fmt.Errorf("webhook returned status %d", status)
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of the body under the shared secret.
func (d *WebhookDeliverer) Sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(d.config.Secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
