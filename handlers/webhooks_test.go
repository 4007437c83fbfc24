package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/yourusername/clientflow/config"
	"github.com/yourusername/clientflow/dispatch"
	"github.com/yourusername/clientflow/gateway"
	"github.com/yourusername/clientflow/models"
	"github.com/yourusername/clientflow/reconcile"
)

const (
	testPlatformSecret = "whsec_platform_test"
	testConnectSecret  = "whsec_connect_test"
)

type MockNotifier struct {
	mu     sync.Mutex
	events []string
}

func (m *MockNotifier) Notify(ctx context.Context, event string, payload map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *MockNotifier) Events() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.events...)
}

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, config.Migrate(db))
	return db
}

func newWebhookRouter(t *testing.T, db *gorm.DB) (*gin.Engine, *dispatch.Dispatcher, *MockNotifier) {
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		WebhookSecret:        testPlatformSecret,
		ConnectWebhookSecret: testConnectSecret,
	}
	notifier := &MockNotifier{}
	dispatcher := dispatch.NewDispatcher(db, notifier)
	handler := NewWebhookHandler(db, cfg, reconcile.NewEngine(db), dispatcher)

	router := gin.New()
	router.POST("/gateway/webhook", handler.HandlePlatformWebhook)
	router.POST("/gateway/connect-webhook", handler.HandleConnectWebhook)
	return router, dispatcher, notifier
}

func seedActiveTenant(t *testing.T, db *gorm.DB, accountID string) *models.Tenant {
	tenant := &models.Tenant{
		Name:                 "Test Studio",
		Email:                "owner@example.com",
		GatewayAccountID:     accountID,
		GatewayAccountStatus: "active",
		GatewayCustomerID:    "cus_" + accountID,
		SubscriptionStatus:   models.SubscriptionActive,
	}
	require.NoError(t, db.Create(tenant).Error)
	return tenant
}

func seedOpenInvoice(t *testing.T, db *gorm.DB, tenantID string, total int64) *models.Invoice {
	invoice := &models.Invoice{
		TenantID:      tenantID,
		InvoiceNumber: fmt.Sprintf("INV-%d", total),
		Total:         total,
		BalanceDue:    total,
		Currency:      "usd",
		Status:        models.InvoiceSent,
	}
	require.NoError(t, db.Create(invoice).Error)
	return invoice
}

func eventBody(t *testing.T, eventType, account string, object map[string]interface{}) []byte {
	body, err := json.Marshal(map[string]interface{}{
		"id":      "evt_" + eventType,
		"type":    eventType,
		"account": account,
		"data":    map[string]interface{}{"object": object},
	})
	require.NoError(t, err)
	return body
}

func postSigned(router *gin.Engine, path string, body []byte, secret string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, gateway.Sign(body, secret, time.Now()))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func countPayments(t *testing.T, db *gorm.DB) int64 {
	var n int64
	require.NoError(t, db.Model(&models.Payment{}).Count(&n).Error)
	return n
}

func TestWebhookRejectsInvalidSignature(t *testing.T) {
	db := setupTestDB(t)
	router, dispatcher, notifier := newWebhookRouter(t, db)
	tenant := seedActiveTenant(t, db, "acct_sig_1")
	invoice := seedOpenInvoice(t, db, tenant.ID, 5000)

	body := eventBody(t, gateway.EventPaymentSucceeded, "acct_sig_1", map[string]interface{}{
		"id":       "pi_sig_1",
		"amount":   5000,
		"metadata": map[string]string{"invoiceId": invoice.ID},
	})

	t.Run("Missing Header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/gateway/connect-webhook", bytes.NewReader(body))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Wrong Secret", func(t *testing.T) {
		w := postSigned(router, "/gateway/connect-webhook", body, "whsec_wrong")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Tampered Body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/gateway/connect-webhook", bytes.NewReader(body))
		req.Header.Set(SignatureHeader, gateway.Sign([]byte(`{"other":"body"}`), testConnectSecret, time.Now()))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	// A rejected request mutates nothing and fires no side effects.
	dispatcher.Wait()
	assert.Zero(t, countPayments(t, db))
	assert.Empty(t, notifier.Events())

	got := reloadInvoiceRow(t, db, invoice.ID)
	assert.Zero(t, got.AmountPaid)
	assert.Equal(t, int64(5000), got.BalanceDue)
}

func reloadInvoiceRow(t *testing.T, db *gorm.DB, id string) *models.Invoice {
	var invoice models.Invoice
	require.NoError(t, db.First(&invoice, "id = ?", id).Error)
	return &invoice
}

func TestConnectWebhookReconcilesPayment(t *testing.T) {
	db := setupTestDB(t)
	router, dispatcher, notifier := newWebhookRouter(t, db)
	tenant := seedActiveTenant(t, db, "acct_e2e_1")
	invoice := seedOpenInvoice(t, db, tenant.ID, 10000)

	body := eventBody(t, gateway.EventPaymentSucceeded, "acct_e2e_1", map[string]interface{}{
		"id":       "pi_e2e_1",
		"amount":   10000,
		"currency": "usd",
		"metadata": map[string]string{"invoiceId": invoice.ID},
	})

	w := postSigned(router, "/gateway/connect-webhook", body, testConnectSecret)
	require.Equal(t, http.StatusOK, w.Code)
	dispatcher.Wait()

	var payment models.Payment
	require.NoError(t, db.First(&payment, "external_ref = ?", "pi_e2e_1").Error)
	assert.Equal(t, models.PaymentSucceeded, payment.Status)
	assert.Equal(t, tenant.ID, payment.TenantID)

	got := reloadInvoiceRow(t, db, invoice.ID)
	assert.Equal(t, int64(10000), got.AmountPaid)
	assert.Zero(t, got.BalanceDue)
	assert.Equal(t, models.InvoicePaid, got.Status)

	assert.Contains(t, notifier.Events(), dispatch.EventPaymentReceived)
	assert.Contains(t, notifier.Events(), dispatch.EventInvoicePaid)

	// Redelivery acknowledges as a duplicate and changes nothing.
	before := len(notifier.Events())
	w = postSigned(router, "/gateway/connect-webhook", body, testConnectSecret)
	require.Equal(t, http.StatusOK, w.Code)
	dispatcher.Wait()

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["duplicate"])
	assert.Equal(t, int64(1), countPayments(t, db))
	assert.Len(t, notifier.Events(), before)
}

func TestConnectWebhookUnknownAccountAcknowledged(t *testing.T) {
	db := setupTestDB(t)
	router, dispatcher, _ := newWebhookRouter(t, db)

	body := eventBody(t, gateway.EventPaymentSucceeded, "acct_nobody", map[string]interface{}{
		"id":     "pi_orphan_1",
		"amount": 5000,
	})

	w := postSigned(router, "/gateway/connect-webhook", body, testConnectSecret)
	assert.Equal(t, http.StatusOK, w.Code)
	dispatcher.Wait()
	assert.Zero(t, countPayments(t, db))
}

func TestConnectWebhookMissingAccountAcknowledged(t *testing.T) {
	db := setupTestDB(t)
	router, _, _ := newWebhookRouter(t, db)

	body := eventBody(t, gateway.EventPaymentSucceeded, "", map[string]interface{}{
		"id":     "pi_noacct_1",
		"amount": 5000,
	})

	w := postSigned(router, "/gateway/connect-webhook", body, testConnectSecret)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Zero(t, countPayments(t, db))
}

func TestWebhookUnknownEventTypeAcknowledged(t *testing.T) {
	db := setupTestDB(t)
	router, _, _ := newWebhookRouter(t, db)
	seedActiveTenant(t, db, "acct_unknown_1")

	body := eventBody(t, "product.created", "acct_unknown_1", map[string]interface{}{"id": "prod_1"})

	w := postSigned(router, "/gateway/connect-webhook", body, testConnectSecret)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Zero(t, countPayments(t, db))
}

func TestPlatformWebhookSubscriptionLifecycle(t *testing.T) {
	db := setupTestDB(t)
	router, dispatcher, notifier := newWebhookRouter(t, db)
	tenant := seedActiveTenant(t, db, "acct_sub_1")

	body := eventBody(t, gateway.EventSubscriptionChange, "", map[string]interface{}{
		"id":       "sub_1",
		"customer": tenant.GatewayCustomerID,
		"status":   "past_due",
	})

	w := postSigned(router, "/gateway/webhook", body, testPlatformSecret)
	require.Equal(t, http.StatusOK, w.Code)
	dispatcher.Wait()

	var got models.Tenant
	require.NoError(t, db.First(&got, "id = ?", tenant.ID).Error)
	assert.Equal(t, models.SubscriptionPastDue, got.SubscriptionStatus)
	assert.Contains(t, notifier.Events(), dispatch.EventSubscriptionChange)
}

func TestPlatformWebhookTrialEnding(t *testing.T) {
	db := setupTestDB(t)
	router, dispatcher, notifier := newWebhookRouter(t, db)
	tenant := seedActiveTenant(t, db, "acct_trial_1")

	body := eventBody(t, gateway.EventTrialWillEnd, "", map[string]interface{}{
		"id":       "sub_2",
		"customer": tenant.GatewayCustomerID,
	})

	w := postSigned(router, "/gateway/webhook", body, testPlatformSecret)
	require.Equal(t, http.StatusOK, w.Code)
	dispatcher.Wait()
	assert.Contains(t, notifier.Events(), dispatch.EventTrialEnding)
}

func TestConnectWebhookRefund(t *testing.T) {
	db := setupTestDB(t)
	router, dispatcher, _ := newWebhookRouter(t, db)
	tenant := seedActiveTenant(t, db, "acct_ref_1")
	invoice := seedOpenInvoice(t, db, tenant.ID, 10000)

	succeeded := eventBody(t, gateway.EventPaymentSucceeded, "acct_ref_1", map[string]interface{}{
		"id":       "pi_ref_1",
		"amount":   10000,
		"metadata": map[string]string{"invoiceId": invoice.ID},
	})
	w := postSigned(router, "/gateway/connect-webhook", succeeded, testConnectSecret)
	require.Equal(t, http.StatusOK, w.Code)

	refunded := eventBody(t, gateway.EventChargeRefunded, "acct_ref_1", map[string]interface{}{
		"id":              "ch_ref_1",
		"payment_intent":  "pi_ref_1",
		"amount_refunded": 4000,
	})
	w = postSigned(router, "/gateway/connect-webhook", refunded, testConnectSecret)
	require.Equal(t, http.StatusOK, w.Code)
	dispatcher.Wait()

	var payment models.Payment
	require.NoError(t, db.First(&payment, "external_ref = ?", "pi_ref_1").Error)
	assert.Equal(t, models.PaymentPartialRefund, payment.Status)
	assert.Equal(t, int64(4000), payment.RefundedAmount)

	got := reloadInvoiceRow(t, db, invoice.ID)
	assert.Equal(t, int64(6000), got.AmountPaid)
}
