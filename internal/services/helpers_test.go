package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/markjakearzadon/shopify-mpesa-gateway/internal/config"
	"github.com/markjakearzadon/shopify-mpesa-gateway/internal/ledger"
)

type updateCall struct {
	OrderID string
	Update  OrderUpdate
}

// fakeUpdater records storefront updates instead of calling Shopify.
type fakeUpdater struct {
	mu    sync.Mutex
	calls []updateCall
	err   error
}

func (f *fakeUpdater) UpdateOrder(_ context.Context, orderID string, update OrderUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, updateCall{OrderID: orderID, Update: update})
	return f.err
}

func (f *fakeUpdater) Calls() []updateCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]updateCall(nil), f.calls...)
}

// fakeDaraja is an httptest stand-in for the Daraja endpoints.
type fakeDaraja struct {
	*httptest.Server

	tokenCalls    atomic.Int32
	stkCalls      atomic.Int32
	registerCalls atomic.Int32
	simulateCalls atomic.Int32

	// failRegister makes registerurl answer 500.
	failRegister atomic.Bool
	failToken    atomic.Bool

	mu       sync.Mutex
	lastSTK  map[string]any
	simulate map[string]any
}

func newFakeDaraja(t *testing.T) *fakeDaraja {
	t.Helper()
	f := &fakeDaraja{}
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v1/generate", func(w http.ResponseWriter, r *http.Request) {
		f.tokenCalls.Add(1)
		if f.failToken.Load() {
			http.Error(w, `{"errorMessage":"Invalid credentials"}`, http.StatusUnauthorized)
			return
		}
		writeTestJSON(w, map[string]string{"access_token": "test-token", "expires_in": "3599"})
	})
	mux.HandleFunc("/mpesa/stkpush/v1/processrequest", func(w http.ResponseWriter, r *http.Request) {
		f.stkCalls.Add(1)
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.lastSTK = body
		f.mu.Unlock()
		writeTestJSON(w, map[string]string{
			"MerchantRequestID":   "29115-34620561-1",
			"CheckoutRequestID":   "ws_CO_191220191020363925",
			"ResponseCode":        "0",
			"ResponseDescription": "Success. Request accepted for processing",
		})
	})
	mux.HandleFunc("/mpesa/c2b/v1/registerurl", func(w http.ResponseWriter, r *http.Request) {
		f.registerCalls.Add(1)
		if f.failRegister.Load() {
			http.Error(w, `{"errorMessage":"boom"}`, http.StatusInternalServerError)
			return
		}
		writeTestJSON(w, map[string]string{"ResponseDescription": "success"})
	})
	mux.HandleFunc("/mpesa/c2b/v1/simulate", func(w http.ResponseWriter, r *http.Request) {
		f.simulateCalls.Add(1)
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.simulate = body
		f.mu.Unlock()
		writeTestJSON(w, map[string]string{"ResponseDescription": "Accept the service request successfully."})
	})
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func (f *fakeDaraja) client(t *testing.T) *DarajaClient {
	return NewDarajaClient(config.DarajaConfig{
		BaseURL:        f.URL,
		ConsumerKey:    "key",
		ConsumerSecret: "secret",
	}, f.Client(), testLogger(t))
}

func writeTestJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func testLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t)
}

func newTestSettler(t *testing.T) (*Settler, *ledger.MemoryStore, *fakeUpdater) {
	store := ledger.NewMemoryStore()
	updater := &fakeUpdater{}
	return NewSettler(store, updater, nil, testLogger(t)), store, updater
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}
