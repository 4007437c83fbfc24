package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Intent statuses reported by the gateway for synchronous collection.
const (
	IntentSucceeded      = "succeeded"
	IntentRequiresAction = "requires_action"
	IntentProcessing     = "processing"
	IntentCanceled       = "canceled"
)

// PaymentIntent is the gateway's view of one collection attempt.
type PaymentIntent struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	ClientSecret string `json:"client_secret"`
	FailureCode  string `json:"failure_code"`
	FailureMsg   string `json:"failure_message"`
}

// Charge carries the card and receipt details attached to an intent.
type Charge struct {
	ID                   string `json:"id"`
	ReceiptURL           string `json:"receipt_url"`
	PaymentMethodDetails struct {
		Card struct {
			Brand string `json:"brand"`
			Last4 string `json:"last4"`
		} `json:"card"`
	} `json:"payment_method_details"`
}

// Refund is the gateway's record of a refund against an intent.
type Refund struct {
	ID     string `json:"id"`
	Amount int64  `json:"amount"`
	Status string `json:"status"`
}

// Reader describes a terminal reader after a collection command.
type Reader struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Action string `json:"action,omitempty"`
}

// CreateIntentRequest captures the synchronous collection parameters. The
// account field routes the charge through a tenant's connected account.
type CreateIntentRequest struct {
	Amount        int64
	Currency      string
	PaymentMethod string
	Account       string
	Description   string
	Metadata      map[string]string
}

// ClientInterface is the surface the handlers depend on; the concrete client
// talks to the provider's REST API and tests substitute a mock.
type ClientInterface interface {
	CreatePaymentIntent(ctx context.Context, req CreateIntentRequest) (*PaymentIntent, error)
	GetCharge(ctx context.Context, intentID, account string) (*Charge, error)
	CreateRefund(ctx context.Context, intentID string, amount int64, account string) (*Refund, error)
	ProcessReaderPayment(ctx context.Context, readerID, intentID, account string) (*Reader, error)
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string) ClientInterface {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// apiError is the gateway's error envelope.
type apiError struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// GatewayError is returned for non-2xx gateway responses. Declined cards
// come back as type "card_error".
type GatewayError struct {
	StatusCode int
	Type       string
	Code       string
	Message    string
}

func (e *GatewayError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("gateway error (%s): %s", e.Type, e.Message)
	}
	return fmt.Sprintf("gateway error: status %d", e.StatusCode)
}

// IsCardError reports whether err is a gateway-reported card decline.
func IsCardError(err error) bool {
	gwErr, ok := err.(*GatewayError)
	return ok && gwErr.Type == "card_error"
}

func (c *Client) do(ctx context.Context, method, path, account string, form url.Values, out interface{}) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build gateway request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if account != "" {
		req.Header.Set("Gateway-Account", account)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr apiError
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return &GatewayError{
			StatusCode: resp.StatusCode,
			Type:       apiErr.Error.Type,
			Code:       apiErr.Error.Code,
			Message:    apiErr.Error.Message,
		}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode gateway response: %w", err)
		}
	}
	return nil
}

func (c *Client) CreatePaymentIntent(ctx context.Context, req CreateIntentRequest) (*PaymentIntent, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(req.Amount, 10))
	form.Set("currency", req.Currency)
	form.Set("payment_method", req.PaymentMethod)
	form.Set("confirm", "true")
	if req.Description != "" {
		form.Set("description", req.Description)
	}
	for k, v := range req.Metadata {
		form.Set("metadata["+k+"]", v)
	}

	var intent PaymentIntent
	if err := c.do(ctx, http.MethodPost, "/v1/payment_intents", req.Account, form, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

func (c *Client) GetCharge(ctx context.Context, intentID, account string) (*Charge, error) {
	var list struct {
		Data []Charge `json:"data"`
	}
	path := "/v1/charges?payment_intent=" + url.QueryEscape(intentID) + "&limit=1"
	if err := c.do(ctx, http.MethodGet, path, account, nil, &list); err != nil {
		return nil, err
	}
	if len(list.Data) == 0 {
		return nil, fmt.Errorf("no charge found for intent %s", intentID)
	}
	return &list.Data[0], nil
}

func (c *Client) CreateRefund(ctx context.Context, intentID string, amount int64, account string) (*Refund, error) {
	form := url.Values{}
	form.Set("payment_intent", intentID)
	form.Set("amount", strconv.FormatInt(amount, 10))
	form.Set("reason", "requested_by_customer")

	var refund Refund
	if err := c.do(ctx, http.MethodPost, "/v1/refunds", account, form, &refund); err != nil {
		return nil, err
	}
	return &refund, nil
}

func (c *Client) ProcessReaderPayment(ctx context.Context, readerID, intentID, account string) (*Reader, error) {
	form := url.Values{}
	form.Set("payment_intent", intentID)

	var reader Reader
	path := "/v1/terminal/readers/" + url.PathEscape(readerID) + "/process_payment_intent"
	if err := c.do(ctx, http.MethodPost, path, account, form, &reader); err != nil {
		return nil, err
	}
	return &reader, nil
}
