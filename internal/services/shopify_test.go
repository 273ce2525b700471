package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markjakearzadon/shopify-mpesa-gateway/internal/config"
)

func TestShopifyUpdateOrder(t *testing.T) {
	var (
		gotMethod string
		gotPath   string
		gotToken  string
		gotBody   map[string]shopifyOrder
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotToken = r.Header.Get("X-Shopify-Access-Token")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		writeTestJSON(w, map[string]any{"order": map[string]any{"id": 1001}})
	}))
	defer srv.Close()

	c := NewShopifyClient(config.ShopifyConfig{
		Store:       srv.URL,
		AccessToken: "shpat_test",
		APIVersion:  "2024-10",
	}, srv.Client(), testLogger(t))

	err := c.UpdateOrder(context.Background(), "1001", OrderUpdate{
		Status:      "paid",
		Reference:   "NLJ7RT61SV",
		Amount:      50000,
		Currency:    "KES",
		PhoneNumber: "254712345678",
		Method:      expressName,
	})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "/admin/api/2024-10/orders/1001.json", gotPath)
	assert.Equal(t, "shpat_test", gotToken)
	assert.Equal(t, shopifyOrder{
		Tags:            "paid, mpesa_receipt_NLJ7RT61SV",
		FinancialStatus: "paid",
		Note:            "M-pesa Payment Received\nReceipt: NLJ7RT61SV\nAmount: 500.00 KES\nPhone: 254712345678",
	}, gotBody["order"])
}

func TestShopifyUpdateOrderFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"errors":"Not Found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewShopifyClient(config.ShopifyConfig{Store: srv.URL, APIVersion: "2024-10"}, srv.Client(), testLogger(t))
	err := c.UpdateOrder(context.Background(), "1001", OrderUpdate{Status: "paid"})

	var reqErr *ProviderRequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusNotFound, reqErr.StatusCode)
	assert.False(t, IsRetryable(err))
}

func TestShopifyBaseURL(t *testing.T) {
	c := NewShopifyClient(config.ShopifyConfig{Store: "my-shop.myshopify.com/"}, http.DefaultClient, testLogger(t))
	assert.Equal(t, "https://my-shop.myshopify.com", c.baseURL)
}

func TestOrderPayloadForJenga(t *testing.T) {
	got := orderPayload(OrderUpdate{Status: "paid", Reference: "JNG-123", Amount: 150050, Currency: "USD", Method: jengaName})
	assert.Equal(t, "paid, jenga_transaction_JNG-123", got.Tags)
	assert.Equal(t, "Jenga Payment Received\nReceipt: JNG-123\nAmount: 1500.50 USD", got.Note)
}
