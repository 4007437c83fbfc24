package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/yourusername/clientflow/config"
	"github.com/yourusername/clientflow/dispatch"
	"github.com/yourusername/clientflow/gateway"
	"github.com/yourusername/clientflow/models"
	"github.com/yourusername/clientflow/reconcile"
)

type PaymentHandler struct {
	db            *gorm.DB
	config        *config.Config
	gatewayClient gateway.ClientInterface
	engine        *reconcile.Engine
	dispatcher    *dispatch.Dispatcher
}

func NewPaymentHandler(db *gorm.DB, cfg *config.Config, dispatcher *dispatch.Dispatcher) *PaymentHandler {
	return &PaymentHandler{
		db:            db,
		config:        cfg,
		gatewayClient: gateway.NewClient(cfg.GatewayAPIBase, cfg.GatewayAPIKey),
		engine:        reconcile.NewEngine(db),
		dispatcher:    dispatcher,
	}
}

type ChargeCardRequest struct {
	PaymentMethodID string `json:"payment_method_id" binding:"required"`
	Amount          int64  `json:"amount" binding:"required,gt=0"`
	IsDeposit       bool   `json:"is_deposit"`
}

// ChargeCard collects a manual card-entry payment against an invoice and
// reconciles it inline. The gateway will also deliver a webhook for the same
// payment intent later; the engine absorbs that redelivery as a no-op.
func (h *PaymentHandler) ChargeCard(c *gin.Context) {
	tenant, ok := h.requireTenant(c)
	if !ok {
		return
	}

	var req ChargeCardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if tenant.GatewayAccountID == "" || tenant.GatewayAccountStatus != "active" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Gateway payments are not configured for this account"})
		return
	}

	var invoice models.Invoice
	err := h.db.Where("id = ? AND tenant_id = ?", c.Param("id"), tenant.ID).First(&invoice).Error
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Invoice not found"})
		return
	}

	// Never silently accept more than what is owed.
	if req.Amount > invoice.BalanceDue {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("Payment amount (%d) exceeds balance due (%d)", req.Amount, invoice.BalanceDue),
		})
		return
	}

	intent, err := h.gatewayClient.CreatePaymentIntent(c.Request.Context(), gateway.CreateIntentRequest{
		Amount:        req.Amount,
		Currency:      invoice.Currency,
		PaymentMethod: req.PaymentMethodID,
		Account:       tenant.GatewayAccountID,
		Description:   "Invoice " + invoice.InvoiceNumber,
		Metadata: map[string]string{
			"invoiceId": invoice.ID,
			"tenantId":  tenant.ID,
			"isDeposit": fmt.Sprintf("%t", req.IsDeposit),
			"source":    "dashboard",
		},
	})
	if err != nil {
		if gateway.IsCardError(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process card payment"})
		return
	}

	// 3DS and similar challenges: hand the continuation back to the client
	// without creating a terminal payment record. The webhook finishes the
	// reconciliation once the customer completes authentication.
	if intent.Status == gateway.IntentRequiresAction {
		c.JSON(http.StatusOK, gin.H{
			"requires_action":   true,
			"client_secret":     intent.ClientSecret,
			"payment_intent_id": intent.ID,
			"message":           "Additional authentication required",
		})
		return
	}

	if intent.Status != gateway.IntentSucceeded {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Payment failed with status: " + intent.Status})
		return
	}

	fact := reconcile.Fact{
		ExternalRef:      intent.ID,
		Kind:             reconcile.FactSucceeded,
		Amount:           req.Amount,
		Currency:         invoice.Currency,
		TenantID:         tenant.ID,
		GatewayAccountID: tenant.GatewayAccountID,
		InvoiceID:        invoice.ID,
		IsDeposit:        req.IsDeposit,
		Source:           reconcile.SourceManualEntry,
	}
	if charge, chargeErr := h.gatewayClient.GetCharge(c.Request.Context(), intent.ID, tenant.GatewayAccountID); chargeErr == nil {
		fact.CardBrand = charge.PaymentMethodDetails.Card.Brand
		fact.CardLast4 = charge.PaymentMethodDetails.Card.Last4
		fact.ReceiptURL = charge.ReceiptURL
	}

	res, err := h.engine.Apply(c.Request.Context(), fact)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record payment"})
		return
	}

	// The gateway webhook for this intent can land before we get here; the
	// engine then reports a no-op whose result carries no invoice. The money
	// was collected, so answer with the recorded state, never an error.
	if res.NoOp {
		if err := h.db.First(&invoice, "id = ?", invoice.ID).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load invoice"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success":         true,
			"duplicate":       true,
			"payment":         res.Payment,
			"invoice":         invoice,
			"is_paid_in_full": invoice.Status == models.InvoicePaid,
			"new_balance":     invoice.BalanceDue,
		})
		return
	}

	h.dispatcher.Dispatch(res)

	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"payment":         res.Payment,
		"invoice":         res.Invoice,
		"is_paid_in_full": res.InvoicePaidInFull,
		"new_balance":     res.Invoice.BalanceDue,
	})
}

type TerminalPaymentRequest struct {
	ReaderID  string `json:"reader_id" binding:"required"`
	Amount    int64  `json:"amount" binding:"required,gt=0"`
	IsDeposit bool   `json:"is_deposit"`
}

// TerminalPayment creates a collection intent and sends it to an in-person
// card reader. The response is an intermediate state: the customer has not
// presented a card yet, and the gateway webhook completes reconciliation.
func (h *PaymentHandler) TerminalPayment(c *gin.Context) {
	tenant, ok := h.requireTenant(c)
	if !ok {
		return
	}

	var req TerminalPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var invoice models.Invoice
	if err := h.db.Where("id = ? AND tenant_id = ?", c.Param("id"), tenant.ID).First(&invoice).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Invoice not found"})
		return
	}
	if req.Amount > invoice.BalanceDue {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("Payment amount (%d) exceeds balance due (%d)", req.Amount, invoice.BalanceDue),
		})
		return
	}

	intent, err := h.gatewayClient.CreatePaymentIntent(c.Request.Context(), gateway.CreateIntentRequest{
		Amount:   req.Amount,
		Currency: invoice.Currency,
		Account:  tenant.GatewayAccountID,
		Metadata: map[string]string{
			"invoiceId": invoice.ID,
			"tenantId":  tenant.ID,
			"isDeposit": fmt.Sprintf("%t", req.IsDeposit),
			"source":    "terminal",
		},
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create payment intent"})
		return
	}

	reader, err := h.gatewayClient.ProcessReaderPayment(c.Request.Context(), req.ReaderID, intent.ID, tenant.GatewayAccountID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to send payment to reader"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"pending":           true,
		"payment_intent_id": intent.ID,
		"reader":            reader,
		"message":           "Waiting for card presentation at the reader",
	})
}

type RefundRequest struct {
	Amount int64 `json:"amount" binding:"required,gt=0"`
}

// Refund reverses part or all of a captured payment through the gateway and
// applies the refund to the linked invoice and bookings.
func (h *PaymentHandler) Refund(c *gin.Context) {
	tenant, ok := h.requireTenant(c)
	if !ok {
		return
	}

	var req RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var payment models.Payment
	if err := h.db.Where("id = ? AND tenant_id = ?", c.Param("id"), tenant.ID).First(&payment).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Payment not found"})
		return
	}

	if payment.Status == models.PaymentRefunded {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Payment is already fully refunded"})
		return
	}
	if payment.Status == models.PaymentDisputed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot refund a disputed payment"})
		return
	}
	if payment.Status != models.PaymentSucceeded && payment.Status != models.PaymentPartialRefund {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Only captured payments can be refunded"})
		return
	}

	maxRefundable := payment.Amount - payment.RefundedAmount
	if req.Amount > maxRefundable {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("Maximum refundable amount is %d", maxRefundable),
		})
		return
	}

	account := payment.GatewayAccountID
	if account == "" {
		account = tenant.GatewayAccountID
	}

	refund, err := h.gatewayClient.CreateRefund(c.Request.Context(), payment.ExternalRef, req.Amount, account)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process refund"})
		return
	}

	res, err := h.engine.Apply(c.Request.Context(), reconcile.Fact{
		ExternalRef: payment.ExternalRef,
		Kind:        reconcile.FactRefunded,
		TenantID:    tenant.ID,
		RefundTotal: payment.RefundedAmount + req.Amount,
		Source:      reconcile.SourceManualEntry,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record refund"})
		return
	}

	h.dispatcher.Dispatch(res)

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"refund":  refund,
		"payment": res.Payment,
	})
}

func (h *PaymentHandler) GetPayment(c *gin.Context) {
	tenant, ok := h.requireTenant(c)
	if !ok {
		return
	}

	var payment models.Payment
	if err := h.db.Where("id = ? AND tenant_id = ?", c.Param("id"), tenant.ID).First(&payment).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Payment not found"})
		return
	}
	c.JSON(http.StatusOK, payment)
}

func (h *PaymentHandler) ListPayments(c *gin.Context) {
	tenant, ok := h.requireTenant(c)
	if !ok {
		return
	}

	var payments []models.Payment
	if err := h.db.Where("tenant_id = ?", tenant.ID).Order("created_at desc").Find(&payments).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch payments"})
		return
	}
	c.JSON(http.StatusOK, payments)
}

func (h *PaymentHandler) GetInvoice(c *gin.Context) {
	tenant, ok := h.requireTenant(c)
	if !ok {
		return
	}

	var invoice models.Invoice
	err := h.db.Preload("Bookings").Where("id = ? AND tenant_id = ?", c.Param("id"), tenant.ID).First(&invoice).Error
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Invoice not found"})
		return
	}
	c.JSON(http.StatusOK, invoice)
}

// requireTenant resolves the authenticated tenant set by the JWT middleware.
func (h *PaymentHandler) requireTenant(c *gin.Context) (*models.Tenant, bool) {
	tenantID, exists := c.Get("tenantID")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return nil, false
	}

	var tenant models.Tenant
	err := h.db.First(&tenant, "id = ?", tenantID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Tenant not found"})
		return nil, false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to resolve tenant"})
		return nil, false
	}
	return &tenant, true
}
