package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/yourusername/clientflow/gateway"
	"github.com/yourusername/clientflow/models"
)

const deliveryAttempts = 3

// WebhookSender delivers signed event payloads to a tenant's registered
// endpoints and records every delivery outcome. Payloads are signed with the
// same timestamped HMAC scheme the inbound gateway verification uses, so
// receivers can verify them symmetrically.
type WebhookSender struct {
	db         *gorm.DB
	httpClient *http.Client

	// RetryDelay is multiplied by the attempt number between retries.
	RetryDelay time.Duration
}

func NewWebhookSender(db *gorm.DB) *WebhookSender {
	return &WebhookSender{
		db:         db,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		RetryDelay: time.Second,
	}
}

// Send delivers one event to every active endpoint of the tenant that
// subscribes to it. Endpoint failures are recorded, not returned: one dead
// endpoint must not hide the event from the others.
func (s *WebhookSender) Send(ctx context.Context, tenantID, event string, payload map[string]interface{}) error {
	var endpoints []models.WebhookEndpoint
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND is_active = ?", tenantID, true).
		Find(&endpoints).Error
	if err != nil {
		return fmt.Errorf("list webhook endpoints: %w", err)
	}

	body, err := json.Marshal(map[string]interface{}{
		"event":      event,
		"data":       payload,
		"created_at": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	for _, endpoint := range endpoints {
		if !subscribed(endpoint, event) {
			continue
		}
		s.deliver(ctx, endpoint, event, body)
	}
	return nil
}

// subscribed checks the endpoint's event filter; an empty filter means all
// events.
func subscribed(endpoint models.WebhookEndpoint, event string) bool {
	if strings.TrimSpace(endpoint.Events) == "" {
		return true
	}
	for _, name := range strings.Split(endpoint.Events, ",") {
		if strings.TrimSpace(name) == event {
			return true
		}
	}
	return false
}

func (s *WebhookSender) deliver(ctx context.Context, endpoint models.WebhookEndpoint, event string, body []byte) {
	for attempt := 1; attempt <= deliveryAttempts; attempt++ {
		statusCode, response, err := s.post(ctx, endpoint, event, body)

		delivery := models.WebhookDelivery{
			EndpointID: endpoint.ID,
			Event:      event,
			Payload:    truncate(string(body), 10000),
			StatusCode: statusCode,
			Success:    err == nil && statusCode >= 200 && statusCode < 300,
			Attempts:   attempt,
		}
		if err != nil {
			delivery.Response = truncate(err.Error(), 1000)
		} else {
			delivery.Response = truncate(response, 1000)
		}
		if dbErr := s.db.Create(&delivery).Error; dbErr != nil {
			// The delivery log is itself best-effort.
			log.Printf("record webhook delivery: %v", dbErr)
		}

		if delivery.Success {
			return
		}
		if attempt < deliveryAttempts {
			select {
			case <-time.After(time.Duration(attempt) * s.RetryDelay):
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *WebhookSender) post(ctx context.Context, endpoint models.WebhookEndpoint, event string, body []byte) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.URL, bytes.NewReader(body))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Event", event)
	req.Header.Set("X-Webhook-ID", endpoint.ID)
	req.Header.Set("X-Webhook-Signature", gateway.Sign(body, endpoint.Secret, time.Now()))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	responseBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return resp.StatusCode, string(responseBody), nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
