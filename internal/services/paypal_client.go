package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	paypal "github.com/logpacker/PayPal-Go-SDK"
	"github.com/koinonia/backend/internal/config"
)

// PayPalClient talks to the PayPal Orders and Payments v2 APIs. The SDK is
// used for OAuth token exchange; order, capture and refund calls go over raw
// HTTP so every mutating request can carry a PayPal-Request-Id header for
// provider-side idempotency.
type PayPalClient struct {
	cfg        *config.Config
	sdk        *paypal.Client
	httpClient *http.Client
	apiBase    string

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewPayPalClient creates the client and verifies credentials by fetching an
// initial access token.
func NewPayPalClient(cfg *config.Config) (*PayPalClient, error) {
	apiBase := paypal.APIBaseSandBox
	if cfg.PayPalMode == "live" {
		apiBase = paypal.APIBaseLive
	}

	sdk, err := paypal.NewClient(cfg.PayPalClientID, cfg.PayPalSecret, apiBase)
	if err != nil {
		return nil, fmt.Errorf("failed to create PayPal client: %w", err)
	}

	c := &PayPalClient{
		cfg:        cfg,
		sdk:        sdk,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		apiBase:    apiBase,
	}

	if _, err := c.getAccessToken(); err != nil {
		return nil, fmt.Errorf("failed to get PayPal access token: %w", err)
	}
	return c, nil
}

// getAccessToken returns a cached token, refreshing it shortly before expiry.
func (c *PayPalClient) getAccessToken() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	tok, err := c.sdk.GetAccessToken()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	c.accessToken = tok.Token
	// Refresh a minute early so in-flight requests never carry a stale token.
	c.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn)*time.Second - time.Minute)
	return c.accessToken, nil
}

func (c *PayPalClient) clearToken() {
	c.mu.Lock()
	c.accessToken = ""
	c.tokenExpiry = time.Time{}
	c.mu.Unlock()
}

// post sends an authenticated POST. A 401 clears the cached token and retries
// once with the same request id, so the provider sees one logical request.
func (c *PayPalClient) post(path string, body interface{}, requestID string) ([]byte, error) {
	respBody, status, err := c.doPost(path, body, requestID)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized {
		c.clearToken()
		respBody, status, err = c.doPost(path, body, requestID)
		if err != nil {
			return nil, err
		}
		if status == http.StatusUnauthorized {
			return nil, ErrProviderAuth
		}
	}
	if status < 200 || status > 299 {
		return nil, &ProviderError{Status: status, Body: string(respBody)}
	}
	return respBody, nil
}

func (c *PayPalClient) doPost(path string, body interface{}, requestID string) ([]byte, int, error) {
	token, err := c.getAccessToken()
	if err != nil {
		return nil, 0, err
	}

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, 0, fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	req, err := http.NewRequest(http.MethodPost, c.apiBase+path, &buf)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	if requestID != "" {
		req.Header.Set("PayPal-Request-Id", requestID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	return respBody, resp.StatusCode, nil
}

// Wire types for the Orders v2 API. Only the fields the orchestration reads
// are modelled; the full response bodies are kept raw on the ledger.

type OrderAmountBreakdown struct {
	ItemTotal *OrderMoney `json:"item_total,omitempty"`
}

type OrderMoney struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type OrderAmount struct {
	CurrencyCode string                `json:"currency_code"`
	Value        string                `json:"value"`
	Breakdown    *OrderAmountBreakdown `json:"breakdown,omitempty"`
}

type OrderItem struct {
	Name       string     `json:"name"`
	SKU        string     `json:"sku,omitempty"`
	Quantity   string     `json:"quantity"`
	UnitAmount OrderMoney `json:"unit_amount"`
}

type PurchaseUnitRequest struct {
	ReferenceID string      `json:"reference_id,omitempty"`
	CustomID    string      `json:"custom_id,omitempty"`
	Description string      `json:"description,omitempty"`
	Amount      OrderAmount `json:"amount"`
	Items       []OrderItem `json:"items,omitempty"`
}

type ApplicationContext struct {
	BrandName          string `json:"brand_name,omitempty"`
	LandingPage        string `json:"landing_page,omitempty"`
	ShippingPreference string `json:"shipping_preference,omitempty"`
	UserAction         string `json:"user_action,omitempty"`
	ReturnURL          string `json:"return_url,omitempty"`
	CancelURL          string `json:"cancel_url,omitempty"`
}

type OrderRequest struct {
	Intent             string                `json:"intent"`
	PurchaseUnits      []PurchaseUnitRequest `json:"purchase_units"`
	ApplicationContext *ApplicationContext   `json:"application_context,omitempty"`
}

type OrderLink struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

type OrderResponse struct {
	ID     string      `json:"id"`
	Status string      `json:"status"`
	Links  []OrderLink `json:"links"`
	Raw    []byte      `json:"-"`
}

// ApproveURL returns the payer approval link, or "".
func (o *OrderResponse) ApproveURL() string {
	for _, l := range o.Links {
		if l.Rel == "approve" {
			return l.Href
		}
	}
	return ""
}

type SellerReceivableBreakdown struct {
	GrossAmount *OrderMoney `json:"gross_amount,omitempty"`
	PayPalFee   *OrderMoney `json:"paypal_fee,omitempty"`
	NetAmount   *OrderMoney `json:"net_amount,omitempty"`
}

type CaptureDetail struct {
	ID                        string                     `json:"id"`
	Status                    string                     `json:"status"`
	Amount                    *OrderMoney                `json:"amount,omitempty"`
	SellerReceivableBreakdown *SellerReceivableBreakdown `json:"seller_receivable_breakdown,omitempty"`
}

type capturePayments struct {
	Captures []CaptureDetail `json:"captures"`
}

type capturePurchaseUnit struct {
	ReferenceID string           `json:"reference_id"`
	Payments    *capturePayments `json:"payments,omitempty"`
}

type CaptureResponse struct {
	ID            string                `json:"id"`
	Status        string                `json:"status"`
	PurchaseUnits []capturePurchaseUnit `json:"purchase_units"`
	Raw           []byte                `json:"-"`
}

// Capture returns the first capture detail, or nil.
func (r *CaptureResponse) Capture() *CaptureDetail {
	for _, pu := range r.PurchaseUnits {
		if pu.Payments != nil && len(pu.Payments.Captures) > 0 {
			return &pu.Payments.Captures[0]
		}
	}
	return nil
}

type RefundResponse struct {
	ID     string      `json:"id"`
	Status string      `json:"status"`
	Amount *OrderMoney `json:"amount,omitempty"`
	Raw    []byte      `json:"-"`
}

// CreateOrder creates an order. The request id identifies this attempt; the
// orchestration passes a fresh one per create so retries become new orders.
func (c *PayPalClient) CreateOrder(req OrderRequest, requestID string) (*OrderResponse, error) {
	body, err := c.post("/v2/checkout/orders", req, requestID)
	if err != nil {
		return nil, err
	}
	var out OrderResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to decode order response: %w", err)
	}
	out.Raw = body
	return &out, nil
}

// CaptureOrder captures an approved order. Callers pass a request id derived
// from the order id so concurrent or repeated captures collapse provider-side.
func (c *PayPalClient) CaptureOrder(orderID, requestID string) (*CaptureResponse, error) {
	path := fmt.Sprintf("/v2/checkout/orders/%s/capture", orderID)
	body, err := c.post(path, struct{}{}, requestID)
	if err != nil {
		return nil, err
	}
	var out CaptureResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to decode capture response: %w", err)
	}
	out.Raw = body
	return &out, nil
}

// RefundCapture refunds part or all of a capture.
// https://developer.paypal.com/docs/api/payments/v2/#captures_refund
func (c *PayPalClient) RefundCapture(captureID string, amount float64, currency, reason, requestID string) (*RefundResponse, error) {
	reqBody := map[string]interface{}{
		"amount": map[string]string{
			"currency_code": currency,
			"value":         fmt.Sprintf("%.2f", amount),
		},
	}
	if reason != "" {
		reqBody["note_to_payer"] = reason
	}

	path := fmt.Sprintf("/v2/payments/captures/%s/refund", captureID)
	body, err := c.post(path, reqBody, requestID)
	if err != nil {
		return nil, err
	}
	var out RefundResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to decode refund response: %w", err)
	}
	out.Raw = body
	return &out, nil
}
