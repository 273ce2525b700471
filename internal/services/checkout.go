package services

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// OrderID is the storefront order id. Shopify sends it as a JSON number,
// other callers as a string.
type OrderID string

func (id *OrderID) UnmarshalJSON(data []byte) error {
	s, err := stringOrNumber(data)
	if err != nil {
		return fmt.Errorf("order id: %w", err)
	}
	*id = OrderID(s)
	return nil
}

// Price is a money value as the storefront sent it, e.g. "1,500.50" or 500.
// It is parsed into minor units only when a payment is initiated.
type Price string

func (p *Price) UnmarshalJSON(data []byte) error {
	s, err := stringOrNumber(data)
	if err != nil {
		return fmt.Errorf("price: %w", err)
	}
	*p = Price(s)
	return nil
}

func stringOrNumber(data []byte) (string, error) {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return "", nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return "", err
		}
		return strings.TrimSpace(s), nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return "", errors.New("must be a string or a number")
	}
	return n.String(), nil
}

type Address struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type CheckoutCustomer struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
}

// CheckoutPayload is the subset of a Shopify order the gateway reads.
type CheckoutPayload struct {
	ID                  OrderID           `json:"id"`
	Email               string            `json:"email"`
	Phone               string            `json:"phone"`
	TotalPrice          Price             `json:"total_price"`
	Currency            string            `json:"currency"`
	PaymentGatewayNames []string          `json:"payment_gateway_names"`
	BillingAddress      *Address          `json:"billing_address"`
	Customer            *CheckoutCustomer `json:"customer"`
}

// PaymentMethod is the first gateway name on the order.
func (c CheckoutPayload) PaymentMethod() string {
	if len(c.PaymentGatewayNames) == 0 {
		return ""
	}
	return strings.TrimSpace(c.PaymentGatewayNames[0])
}

// PhoneNumber prefers the billing phone, then the order and customer phones.
func (c CheckoutPayload) PhoneNumber() string {
	if c.BillingAddress != nil && c.BillingAddress.Phone != "" {
		return c.BillingAddress.Phone
	}
	if c.Phone != "" {
		return c.Phone
	}
	if c.Customer != nil {
		return c.Customer.Phone
	}
	return ""
}

func (c CheckoutPayload) CustomerName() string {
	if c.BillingAddress != nil && c.BillingAddress.Name != "" {
		return c.BillingAddress.Name
	}
	if c.Customer != nil {
		return strings.TrimSpace(c.Customer.FirstName + " " + c.Customer.LastName)
	}
	return ""
}

func (c CheckoutPayload) CustomerEmail() string {
	if c.Email != "" {
		return c.Email
	}
	if c.Customer != nil {
		return c.Customer.Email
	}
	return ""
}
