package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/markjakearzadon/shopify-mpesa-gateway/internal/logger"
)

const maxResponseBody = 1 << 20

type jsonCall struct {
	provider string
	op       string
	method   string
	url      string
	header   http.Header
	body     any
	out      any
}

// doJSON sends a JSON request and decodes a 2xx JSON answer into call.out.
// Every failure is returned as a *ProviderRequestError.
func doJSON(ctx context.Context, client *http.Client, log *zap.Logger, call jsonCall) error {
	fail := func(status int, body string, err error) error {
		return &ProviderRequestError{Provider: call.provider, Op: call.op, StatusCode: status, Body: body, Err: err}
	}

	var reqBody io.Reader
	if call.body != nil {
		raw, err := json.Marshal(call.body)
		if err != nil {
			return fail(0, "", fmt.Errorf("failed to marshal request: %w", err))
		}
		log.Debug("outbound request",
			zap.String("provider", call.provider),
			zap.String("op", call.op),
			logger.Body("body", raw),
		)
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, call.method, call.url, reqBody)
	if err != nil {
		return fail(0, "", fmt.Errorf("failed to create request: %w", err))
	}
	for key, values := range call.header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if call.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return fail(0, "", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fail(resp.StatusCode, "", fmt.Errorf("failed to read response: %w", err))
	}
	log.Debug("outbound response",
		zap.String("provider", call.provider),
		zap.String("op", call.op),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
		logger.Body("body", body),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fail(resp.StatusCode, string(logger.MaskJSON(body)), nil)
	}
	if call.out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, call.out); err != nil {
		return fail(resp.StatusCode, "", fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}
