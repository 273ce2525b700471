package services

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/markjakearzadon/shopify-mpesa-gateway/internal/config"
)

const shopifyName = "Shopify"

// ShopifyClient marks orders paid through the Shopify Admin REST API.
type ShopifyClient struct {
	cfg        config.ShopifyConfig
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger
}

func NewShopifyClient(cfg config.ShopifyConfig, httpClient *http.Client, log *zap.Logger) *ShopifyClient {
	base := strings.TrimRight(cfg.Store, "/")
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}
	return &ShopifyClient{
		cfg:        cfg,
		baseURL:    base,
		httpClient: httpClient,
		log:        log.Named("shopify"),
	}
}

type shopifyOrder struct {
	Tags            string `json:"tags"`
	FinancialStatus string `json:"financial_status"`
	Note            string `json:"note"`
}

// UpdateOrder tags the order with the payment reference and marks it paid.
// Repeating the call with the same update leaves the order unchanged.
func (c *ShopifyClient) UpdateOrder(ctx context.Context, orderID string, update OrderUpdate) error {
	header := http.Header{}
	header.Set("X-Shopify-Access-Token", c.cfg.AccessToken)

	endpoint := fmt.Sprintf("%s/admin/api/%s/orders/%s.json", c.baseURL, c.cfg.APIVersion, url.PathEscape(orderID))
	err := doJSON(ctx, c.httpClient, c.log, jsonCall{
		provider: shopifyName,
		op:       "update order",
		method:   http.MethodPut,
		url:      endpoint,
		header:   header,
		body:     map[string]shopifyOrder{"order": orderPayload(update)},
	})
	if err != nil {
		return err
	}
	c.log.Info("order marked paid", zap.String("order_id", orderID), zap.String("reference", update.Reference))
	return nil
}

func orderPayload(u OrderUpdate) shopifyOrder {
	tagPrefix, label := "mpesa_receipt_", "M-pesa"
	if u.Method == jengaName {
		tagPrefix, label = "jenga_transaction_", "Jenga"
	}

	var note strings.Builder
	fmt.Fprintf(&note, "%s Payment Received\nReceipt: %s\nAmount: %s", label, u.Reference, u.Amount)
	if u.Currency != "" {
		note.WriteString(" " + u.Currency)
	}
	if u.PhoneNumber != "" {
		fmt.Fprintf(&note, "\nPhone: %s", u.PhoneNumber)
	}

	return shopifyOrder{
		Tags:            u.Status + ", " + tagPrefix + u.Reference,
		FinancialStatus: u.Status,
		Note:            note.String(),
	}
}
