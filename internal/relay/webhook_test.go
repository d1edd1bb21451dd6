package relay

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

func startWebhookServer(t *testing.T, handler fasthttp.RequestHandler) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go fasthttp.Serve(ln, handler) //nolint
	t.Cleanup(func() { ln.Close() })

	return "http://" + ln.Addr().String() + "/hooks/payments"
}

func TestWebhookDeliverer_Deliver_SignsBody(t *testing.T) {
	var gotSignature, gotEventID, gotEventType string
	var gotBody []byte

	url := startWebhookServer(t, func(ctx *fasthttp.RequestCtx) {
		gotSignature = string(ctx.Request.Header.Peek(headerSignature))
		gotEventID = string(ctx.Request.Header.Peek(headerEventID))
		gotEventType = string(ctx.Request.Header.Peek(headerEventType))
		gotBody = append([]byte(nil), ctx.PostBody()...)
		ctx.SetStatusCode(fasthttp.StatusOK)
	})

	deliverer, err := NewWebhookDeliverer(WebhookConfig{
		URL:     url,
		Secret:  "whsec_test",
		Timeout: 2 * time.Second,
	})
	require.NoError(t, err)

	body := []byte(`{"event_id":"evt_1","type":"payment.captured"}`)
	err = deliverer.Deliver(context.Background(), "evt_1", "payment.captured", body)
	require.NoError(t, err)

	assert.Equal(t, body, gotBody)
	assert.Equal(t, "evt_1", gotEventID)
	assert.Equal(t, "payment.captured", gotEventType)

	mac := hmac.New(sha256.New, []byte("whsec_test"))
	mac.Write(body)
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), gotSignature)
}

func TestWebhookDeliverer_Deliver_Non2xxIsError(t *testing.T) {
	url := startWebhookServer(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
	})

	deliverer, err := NewWebhookDeliverer(WebhookConfig{URL: url, Timeout: 2 * time.Second})
	require.NoError(t, err)

	err = deliverer.Deliver(context.Background(), "evt_2", "payment.captured", []byte(`{}`))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestWebhookDeliverer_RequiresURL(t *testing.T) {
	_, err := NewWebhookDeliverer(WebhookConfig{})
	assert.Error(t, err)
}
