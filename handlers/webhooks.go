package handlers

import (
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/yourusername/clientflow/config"
	"github.com/yourusername/clientflow/dispatch"
	"github.com/yourusername/clientflow/gateway"
	"github.com/yourusername/clientflow/models"
	"github.com/yourusername/clientflow/reconcile"
)

// SignatureHeader carries the gateway's timestamped HMAC over the raw body.
const SignatureHeader = "Gateway-Signature"

type WebhookHandler struct {
	db         *gorm.DB
	config     *config.Config
	engine     *reconcile.Engine
	dispatcher *dispatch.Dispatcher
}

func NewWebhookHandler(db *gorm.DB, cfg *config.Config, engine *reconcile.Engine, dispatcher *dispatch.Dispatcher) *WebhookHandler {
	return &WebhookHandler{
		db:         db,
		config:     cfg,
		engine:     engine,
		dispatcher: dispatcher,
	}
}

// HandlePlatformWebhook receives platform events: the tenant's own
// subscription billing plus direct (non-connect) payment intents. Signature
// verification runs over the exact raw bytes before anything is parsed.
func (h *WebhookHandler) HandlePlatformWebhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read request body"})
		return
	}

	if err := gateway.VerifySignature(body, c.GetHeader(SignatureHeader), h.config.WebhookSecret); err != nil {
		log.Printf("webhook signature verification failed: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid signature"})
		return
	}

	event, err := gateway.ParseEvent(body)
	if err != nil {
		log.Printf("webhook parse failed: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Malformed event"})
		return
	}

	// Platform billing first: subscription lifecycle and account updates.
	if subFact, ok, err := gateway.NormalizeSubscriptionEvent(event); err != nil {
		h.ackMalformed(c, event.Type, err)
		return
	} else if ok {
		res, err := h.engine.ApplySubscription(c.Request.Context(), subFact)
		if err != nil {
			h.respondEngineError(c, event.Type, err)
			return
		}
		h.dispatcher.DispatchSubscription(res)
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	h.applyPaymentEvent(c, event, "")
}

// HandleConnectWebhook receives events for money flowing through tenants'
// connected merchant accounts. The tenant is resolved from the account
// identifier in the event envelope, never from payload contents, so events
// can never be applied to another tenant's records.
func (h *WebhookHandler) HandleConnectWebhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read request body"})
		return
	}

	if err := gateway.VerifySignature(body, c.GetHeader(SignatureHeader), h.config.ConnectWebhookSecret); err != nil {
		log.Printf("connect webhook signature verification failed: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid signature"})
		return
	}

	event, err := gateway.ParseEvent(body)
	if err != nil {
		log.Printf("connect webhook parse failed: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Malformed event"})
		return
	}

	if event.Account == "" {
		log.Printf("connect webhook %s event %s has no account, ignoring", event.Type, event.ID)
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	var tenant models.Tenant
	err = h.db.Where("gateway_account_id = ?", event.Account).First(&tenant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Printf("no tenant for connected account %s, ignoring %s", event.Account, event.Type)
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Webhook processing failed"})
		return
	}

	h.applyPaymentEvent(c, event, tenant.ID)
}

// applyPaymentEvent normalizes and reconciles a money event. tenantID, when
// set, is the envelope-derived tenant that overrides anything the payload
// claims.
func (h *WebhookHandler) applyPaymentEvent(c *gin.Context, event *gateway.Event, tenantID string) {
	fact, ok, err := gateway.NormalizeEvent(event)
	if err != nil {
		h.ackMalformed(c, event.Type, err)
		return
	}
	if !ok {
		log.Printf("unhandled event type: %s", event.Type)
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}
	if tenantID != "" {
		fact.TenantID = tenantID
	}

	res, err := h.engine.Apply(c.Request.Context(), fact)
	if err != nil {
		h.respondEngineError(c, event.Type, err)
		return
	}

	h.dispatcher.Dispatch(res)
	c.JSON(http.StatusOK, gin.H{"received": true, "duplicate": res.NoOp})
}

// ackMalformed acknowledges an event the sender formed badly. Retrying it
// would loop forever, so it is logged and dropped.
func (h *WebhookHandler) ackMalformed(c *gin.Context, eventType string, err error) {
	log.Printf("ignoring malformed %s event: %v", eventType, err)
	c.JSON(http.StatusOK, gin.H{"received": true})
}

// respondEngineError maps reconciliation errors onto webhook responses.
// Ignorable conditions are acknowledged so the provider stops retrying;
// persistence failures return 500 so it retries after the rollback.
func (h *WebhookHandler) respondEngineError(c *gin.Context, eventType string, err error) {
	switch {
	case errors.Is(err, reconcile.ErrUnknownReference),
		errors.Is(err, reconcile.ErrValidation),
		errors.Is(err, reconcile.ErrTenantMismatch):
		log.Printf("ignoring %s event: %v", eventType, err)
		c.JSON(http.StatusOK, gin.H{"received": true})
	default:
		log.Printf("error processing %s event: %v", eventType, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Webhook processing failed"})
	}
}
