package services

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	paypal "github.com/logpacker/PayPal-Go-SDK"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/koinonia/backend/internal/config"
)

// newTestPayPal points a client at a stub provider. The stub must serve
// POST /v1/oauth2/token for the SDK's token exchange.
func newTestPayPal(t *testing.T, srv *httptest.Server) *PayPalClient {
	t.Helper()
	sdk, err := paypal.NewClient("client-id", "secret", srv.URL)
	require.NoError(t, err)
	return &PayPalClient{
		cfg:        &config.Config{Currency: "USD"},
		sdk:        sdk,
		httpClient: srv.Client(),
		apiBase:    srv.URL,
	}
}

func tokenHandler(hits *int32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"tok-` + time.Now().Format("150405.000000") + `","token_type":"Bearer","expires_in":3600}`))
	}
}

func TestPayPalClientTokenCaching(t *testing.T) {
	var tokenHits int32
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/oauth2/token", tokenHandler(&tokenHits))
	mux.HandleFunc("/v2/checkout/orders", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"ORD-1","status":"CREATED","links":[{"href":"https://paypal.test/approve","rel":"approve"}]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestPayPal(t, srv)

	for i := 0; i < 3; i++ {
		resp, err := c.CreateOrder(OrderRequest{Intent: "CAPTURE"}, "req-1")
		require.NoError(t, err)
		assert.Equal(t, "ORD-1", resp.ID)
		assert.Equal(t, "https://paypal.test/approve", resp.ApproveURL())
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&tokenHits))
}

func TestPayPalClientRequestID(t *testing.T) {
	var tokenHits int32
	var gotRequestID string
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/oauth2/token", tokenHandler(&tokenHits))
	mux.HandleFunc("/v2/checkout/orders/ORD-1/capture", func(w http.ResponseWriter, r *http.Request) {
		gotRequestID = r.Header.Get("PayPal-Request-Id")
		w.Write([]byte(`{"id":"ORD-1","status":"COMPLETED","purchase_units":[{"payments":{"captures":[{"id":"CAP-1","status":"COMPLETED"}]}}]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestPayPal(t, srv)
	resp, err := c.CaptureOrder("ORD-1", "capture:ORD-1")
	require.NoError(t, err)
	assert.Equal(t, "capture:ORD-1", gotRequestID)

	cap := resp.Capture()
	require.NotNil(t, cap)
	assert.Equal(t, "CAP-1", cap.ID)
}

func TestPayPalClientRetriesOnceOn401(t *testing.T) {
	var tokenHits, orderHits int32
	var requestIDs []string
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/oauth2/token", tokenHandler(&tokenHits))
	mux.HandleFunc("/v2/checkout/orders", func(w http.ResponseWriter, r *http.Request) {
		requestIDs = append(requestIDs, r.Header.Get("PayPal-Request-Id"))
		if atomic.AddInt32(&orderHits, 1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"id":"ORD-2","status":"CREATED"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestPayPal(t, srv)
	resp, err := c.CreateOrder(OrderRequest{Intent: "CAPTURE"}, "req-7")
	require.NoError(t, err)
	assert.Equal(t, "ORD-2", resp.ID)

	// The retry fetched a fresh token but reused the request id.
	assert.Equal(t, int32(2), atomic.LoadInt32(&tokenHits))
	assert.Equal(t, []string{"req-7", "req-7"}, requestIDs)
}

func TestPayPalClientPersistent401(t *testing.T) {
	var tokenHits int32
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/oauth2/token", tokenHandler(&tokenHits))
	mux.HandleFunc("/v2/checkout/orders", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestPayPal(t, srv)
	_, err := c.CreateOrder(OrderRequest{Intent: "CAPTURE"}, "req-1")
	assert.ErrorIs(t, err, ErrProviderAuth)
}

func TestPayPalClientProviderError(t *testing.T) {
	var tokenHits int32
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/oauth2/token", tokenHandler(&tokenHits))
	mux.HandleFunc("/v2/checkout/orders/ORD-1/capture", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"name":"ORDER_NOT_APPROVED"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestPayPal(t, srv)
	_, err := c.CaptureOrder("ORD-1", "capture:ORD-1")
	require.Error(t, err)

	var provErr *ProviderError
	require.True(t, errors.As(err, &provErr))
	assert.Equal(t, http.StatusUnprocessableEntity, provErr.Status)
	assert.Contains(t, provErr.Body, "ORDER_NOT_APPROVED")
}

func TestPayPalClientRefundBody(t *testing.T) {
	var tokenHits int32
	var gotBody map[string]interface{}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/oauth2/token", tokenHandler(&tokenHits))
	mux.HandleFunc("/v2/payments/captures/CAP-1/refund", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Write([]byte(`{"id":"REF-1","status":"COMPLETED","amount":{"currency_code":"USD","value":"16.16"}}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestPayPal(t, srv)
	resp, err := c.RefundCapture("CAP-1", 16.16, "USD", "registration removed", "refund:ORD-1:l-1:n-1")
	require.NoError(t, err)
	assert.Equal(t, "REF-1", resp.ID)

	amount, ok := gotBody["amount"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "16.16", amount["value"])
	assert.Equal(t, "USD", amount["currency_code"])
	assert.Equal(t, "registration removed", gotBody["note_to_payer"])
}
