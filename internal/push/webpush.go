package push

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"marketplace-payments/internal/models"
)

// Transport delivers one push message. ErrPermanent-wrapped failures
// mean the subscription is dead and should be deactivated; any other
// failure is transient and only logged.
type Transport interface {
	Send(ctx context.Context, sub *models.PushSubscription, payload *Payload) error
}

// Payload is the JSON body shown by the service worker.
type Payload struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Tag   string            `json:"tag,omitempty"`
	Data  map[string]string `json:"data,omitempty"`
}

// PermanentError signals the endpoint is gone for good (404/410).
type PermanentError struct {
	StatusCode int
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("push endpoint gone: status %d", e.StatusCode)
}

// WebPushTransport sends Web Push messages signed with the platform's
// VAPID keys.
type WebPushTransport struct {
	publicKey  string
	privateKey string
	subject    string
	timeout    time.Duration
}

// NewWebPushTransport creates the VAPID transport.
func NewWebPushTransport(publicKey, privateKey, subject string, timeout time.Duration) *WebPushTransport {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &WebPushTransport{
		publicKey:  publicKey,
		privateKey: privateKey,
		subject:    subject,
		timeout:    timeout,
	}
}

// Configured reports whether VAPID keys are set. Delivery is skipped
// entirely when they are not.
func (t *WebPushTransport) Configured() bool {
	return t.publicKey != "" && t.privateKey != ""
}

// Send delivers one message to a subscription endpoint.
func (t *WebPushTransport) Send(ctx context.Context, sub *models.PushSubscription, payload *Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal push payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	resp, err := webpush.SendNotificationWithContext(ctx, body, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dh,
			Auth:   sub.Auth,
		},
	}, &webpush.Options{
		Subscriber:      t.subject,
		VAPIDPublicKey:  t.publicKey,
		VAPIDPrivateKey: t.privateKey,
		TTL:             60,
	})
	if err != nil {
		return fmt.Errorf("push delivery failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return &PermanentError{StatusCode: resp.StatusCode}
	case resp.StatusCode >= 400:
		return fmt.Errorf("push endpoint returned %d", resp.StatusCode)
	}
	return nil
}
