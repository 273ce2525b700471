package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markjakearzadon/shopify-mpesa-gateway/internal/config"
	"github.com/markjakearzadon/shopify-mpesa-gateway/internal/ledger"
	"github.com/markjakearzadon/shopify-mpesa-gateway/internal/models"
)

func newTestC2B(t *testing.T, simulate bool) (*C2BProvider, *fakeDaraja, *ledger.MemoryStore, *fakeUpdater) {
	fake := newFakeDaraja(t)
	settler, store, updater := newTestSettler(t)
	p := NewC2BProvider(config.C2BConfig{
		ShortCode:    "600000",
		CallbackURL:  "https://shop.example.com/order/c2b/callback",
		ResponseType: "Completed",
	}, simulate, fake.client(t), store, settler, testLogger(t))
	return p, fake, store, updater
}

func seedPending(t *testing.T, store ledger.Store, orderID string, amount models.Amount) {
	t.Helper()
	require.NoError(t, store.Put(context.Background(), models.LedgerEntry{
		OrderID: orderID,
		Amount:  amount,
		Status:  models.StatusPending,
	}))
}

func c2bPayload(shortCode, account, amount, transID string) C2BPayload {
	return C2BPayload{
		TransactionType:   "Pay Bill",
		TransID:           transID,
		TransTime:         "20241001120000",
		TransAmount:       json.Number(amount),
		BusinessShortCode: json.Number(shortCode),
		BillRefNumber:     account,
		MSISDN:            "254712345678",
	}
}

func TestC2BInitiate(t *testing.T) {
	p, fake, store, _ := newTestC2B(t, false)
	ctx := context.Background()

	res, err := p.Initiate(ctx, PaymentRequest{OrderID: "1001", Amount: 50000, PhoneNumber: "254712345678"})
	require.NoError(t, err)
	assert.Equal(t, "Please pay KES 500.00 using:\nPaybill Number: 600000\nAccount Number: 1001", res.Message)
	assert.Equal(t, "600000", res.PaybillNumber)
	assert.Equal(t, "1001", res.AccountNumber)
	assert.Equal(t, "500.00", res.Amount)

	entry, err := store.Get(ctx, "1001")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, entry.Status)
	assert.Equal(t, models.Amount(50000), entry.Amount)

	assert.Equal(t, int32(1), fake.registerCalls.Load())
	assert.Zero(t, fake.simulateCalls.Load())
}

func TestC2BRegistersOnce(t *testing.T) {
	p, fake, _, _ := newTestC2B(t, false)
	ctx := context.Background()

	for _, id := range []string{"1001", "1002", "1003"} {
		_, err := p.Initiate(ctx, PaymentRequest{OrderID: id, Amount: 10000})
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), fake.registerCalls.Load())
}

func TestC2BRegistrationFailureIsRetried(t *testing.T) {
	p, fake, store, _ := newTestC2B(t, false)
	ctx := context.Background()
	fake.failRegister.Store(true)

	_, err := p.Initiate(ctx, PaymentRequest{OrderID: "1001", Amount: 10000})
	require.NoError(t, err)
	_, err = store.Get(ctx, "1001")
	require.NoError(t, err)

	fake.failRegister.Store(false)
	_, err = p.Initiate(ctx, PaymentRequest{OrderID: "1002", Amount: 10000})
	require.NoError(t, err)
	_, err = p.Initiate(ctx, PaymentRequest{OrderID: "1003", Amount: 10000})
	require.NoError(t, err)

	assert.Equal(t, int32(2), fake.registerCalls.Load())
}

func TestC2BInitiateSimulates(t *testing.T) {
	p, fake, _, _ := newTestC2B(t, true)

	_, err := p.Initiate(context.Background(), PaymentRequest{OrderID: "1001", Amount: 50000, PhoneNumber: "254708374149"})
	require.NoError(t, err)
	require.Equal(t, int32(1), fake.simulateCalls.Load())

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, "1001", fake.simulate["BillRefNumber"])
	assert.Equal(t, "CustomerPayBillOnline", fake.simulate["CommandID"])
	assert.Equal(t, float64(500), fake.simulate["Amount"])
}

func TestC2BInitiateTokenFailureIsFatal(t *testing.T) {
	p, fake, store, _ := newTestC2B(t, false)
	fake.failToken.Store(true)

	_, err := p.Initiate(context.Background(), PaymentRequest{OrderID: "1001", Amount: 50000})
	var authErr *ProviderAuthError
	require.ErrorAs(t, err, &authErr)

	_, err = store.Get(context.Background(), "1001")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestC2BInitiateAlreadyPaid(t *testing.T) {
	p, _, store, _ := newTestC2B(t, false)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, models.LedgerEntry{
		OrderID: "1001", Amount: 50000, Status: models.StatusCompleted, ProviderReference: "NLJ7RT61SV",
	}))

	_, err := p.Initiate(ctx, PaymentRequest{OrderID: "1001", Amount: 50000})
	assert.ErrorIs(t, err, ledger.ErrLedgerConflict)
}

func TestC2BValidate(t *testing.T) {
	p, _, store, _ := newTestC2B(t, false)
	seedPending(t, store, "1001", 50000)

	tests := []struct {
		name    string
		payload C2BPayload
		want    C2BResponse
	}{
		{"accepted", c2bPayload("600000", "1001", "500", "T1"), C2BResponse{"0", "Accepted"}},
		{"accepted with decimals", c2bPayload("600000", "1001", "500.00", "T1"), C2BResponse{"0", "Accepted"}},
		{"wrong short code", c2bPayload("600001", "1001", "500", "T1"), C2BResponse{"C2B00010", "Invalid business short code"}},
		{"unknown account", c2bPayload("600000", "9999", "500", "T1"), C2BResponse{"C2B00011", "Invalid account number"}},
		{"short amount", c2bPayload("600000", "1001", "499", "T1"), C2BResponse{"C2B00012", "Invalid amount"}},
		{"unparsable amount", c2bPayload("600000", "1001", "abc", "T1"), C2BResponse{"C2B00012", "Invalid amount"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Validate(context.Background(), tt.payload))
		})
	}

	entry, err := store.Get(context.Background(), "1001")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, entry.Status)
}

func TestC2BValidateUsesAccountReferenceFallback(t *testing.T) {
	p, _, store, _ := newTestC2B(t, false)
	seedPending(t, store, "1001", 50000)

	payload := c2bPayload("600000", "", "500", "T1")
	payload.AccountReference = "1001"
	assert.Equal(t, C2BResponse{"0", "Accepted"}, p.Validate(context.Background(), payload))
}

func TestC2BConfirm(t *testing.T) {
	p, _, store, updater := newTestC2B(t, false)
	ctx := context.Background()
	seedPending(t, store, "1001", 50000)

	resp := p.Confirm(ctx, c2bPayload("600000", "1001", "500.00", "NLJ7RT61SV"))
	assert.Equal(t, C2BResponse{"0", "Success"}, resp)

	entry, err := store.Get(ctx, "1001")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, entry.Status)
	assert.Equal(t, "NLJ7RT61SV", entry.ProviderReference)

	calls := updater.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, OrderUpdate{
		Status:      "paid",
		Reference:   "NLJ7RT61SV",
		Amount:      50000,
		Currency:    "KES",
		PhoneNumber: "254712345678",
		Method:      c2bName,
	}, calls[0].Update)

	// duplicate delivery
	resp = p.Confirm(ctx, c2bPayload("600000", "1001", "500.00", "NLJ7RT61SV"))
	assert.Equal(t, "0", resp.ResultCode)
	assert.Len(t, updater.Calls(), 1)

	// a different transaction for a completed order is acknowledged, not applied
	resp = p.Confirm(ctx, c2bPayload("600000", "1001", "500.00", "OTHER123"))
	assert.Equal(t, "0", resp.ResultCode)
	assert.Len(t, updater.Calls(), 1)
	entry, err = store.Get(ctx, "1001")
	require.NoError(t, err)
	assert.Equal(t, "NLJ7RT61SV", entry.ProviderReference)
}

func TestC2BConfirmConcurrentDuplicates(t *testing.T) {
	p, _, store, updater := newTestC2B(t, false)
	seedPending(t, store, "1001", 50000)

	var wg sync.WaitGroup
	responses := make([]C2BResponse, 10)
	for i := range responses {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			responses[i] = p.Confirm(context.Background(), c2bPayload("600000", "1001", "500", "NLJ7RT61SV"))
		}(i)
	}
	wg.Wait()

	for _, resp := range responses {
		assert.Equal(t, "0", resp.ResultCode)
	}
	assert.Len(t, updater.Calls(), 1)
}

func TestC2BConfirmRejections(t *testing.T) {
	p, _, store, updater := newTestC2B(t, false)
	ctx := context.Background()
	seedPending(t, store, "1001", 50000)

	resp := p.Confirm(ctx, c2bPayload("600001", "1001", "500", "T1"))
	assert.Equal(t, C2BResponse{"1", "Invalid business short code"}, resp)

	resp = p.Confirm(ctx, c2bPayload("600000", "9999", "500", "T1"))
	assert.Equal(t, C2BResponse{"1", "Invalid account number"}, resp)

	entry, err := store.Get(ctx, "1001")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, entry.Status)

	resp = p.Confirm(ctx, c2bPayload("600000", "1001", "499", "T1"))
	assert.Equal(t, C2BResponse{"C2B00012", "Invalid amount"}, resp)

	entry, err = store.Get(ctx, "1001")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, entry.Status)
	assert.Empty(t, updater.Calls())

	// a failed order is never completed afterwards
	resp = p.Confirm(ctx, c2bPayload("600000", "1001", "500", "T2"))
	assert.Equal(t, "0", resp.ResultCode)
	assert.Empty(t, updater.Calls())
	entry, err = store.Get(ctx, "1001")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, entry.Status)
}

func TestC2BReinitiateAfterFailed(t *testing.T) {
	p, _, store, updater := newTestC2B(t, false)
	ctx := context.Background()
	seedPending(t, store, "1001", 50000)

	resp := p.Confirm(ctx, c2bPayload("600000", "1001", "499", "T1"))
	require.Equal(t, "C2B00012", resp.ResultCode)

	_, err := p.Initiate(ctx, PaymentRequest{OrderID: "1001", Amount: 50000})
	assert.ErrorIs(t, err, ledger.ErrLedgerConflict)

	resp = p.Confirm(ctx, c2bPayload("600000", "1001", "500", "T2"))
	assert.Equal(t, "0", resp.ResultCode)

	entry, err := store.Get(ctx, "1001")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, entry.Status)
	assert.Equal(t, "T1", entry.ProviderReference)
	assert.Empty(t, updater.Calls())
}

func TestC2BValidateRejectsSettledOrders(t *testing.T) {
	p, _, store, _ := newTestC2B(t, false)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, models.LedgerEntry{
		OrderID: "1001", Amount: 50000, Status: models.StatusCompleted, ProviderReference: "NLJ7RT61SV",
	}))
	require.NoError(t, store.Put(ctx, models.LedgerEntry{
		OrderID: "1002", Amount: 50000, Status: models.StatusFailed, ProviderReference: "QK2",
	}))

	for _, id := range []string{"1001", "1002"} {
		resp := p.Validate(ctx, c2bPayload("600000", id, "500", "T9"))
		assert.Equal(t, C2BResponse{"C2B00011", "Order already settled"}, resp, id)
	}

	entry, err := store.Get(ctx, "1001")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, entry.Status)
}

func TestC2BConfirmUpdaterFailure(t *testing.T) {
	p, _, store, updater := newTestC2B(t, false)
	updater.err = assert.AnError
	seedPending(t, store, "1001", 50000)

	resp := p.Confirm(context.Background(), c2bPayload("600000", "1001", "500", "NLJ7RT61SV"))
	assert.Equal(t, C2BResponse{"1", "Failed to process payment"}, resp)
}
