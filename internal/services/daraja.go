package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/markjakearzadon/shopify-mpesa-gateway/internal/config"
)

const (
	darajaName = "Daraja"
	// tokens are refreshed this long before Daraja expires them
	tokenRefreshMargin = time.Minute
	tokenFetchTimeout  = 30 * time.Second
)

var eastAfricaTime = time.FixedZone("EAT", 3*60*60)

// DarajaClient talks to Safaricom's Daraja API. It caches the OAuth
// client-credentials token and collapses concurrent refreshes into one call.
type DarajaClient struct {
	cfg        config.DarajaConfig
	httpClient *http.Client
	log        *zap.Logger
	now        func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
	group     singleflight.Group
}

func NewDarajaClient(cfg config.DarajaConfig, httpClient *http.Client, log *zap.Logger) *DarajaClient {
	return &DarajaClient{
		cfg:        cfg,
		httpClient: httpClient,
		log:        log.Named("daraja"),
		now:        time.Now,
	}
}

// AccessToken returns a valid bearer token. Failures are *ProviderAuthError.
func (c *DarajaClient) AccessToken(ctx context.Context) (string, error) {
	if token, ok := c.cachedToken(); ok {
		return token, nil
	}

	v, err, _ := c.group.Do("token", func() (any, error) {
		// a flight that finished while we waited already refreshed it
		if token, ok := c.cachedToken(); ok {
			return token, nil
		}
		// shared by every waiter, so it outlives the caller that started it
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), tokenFetchTimeout)
		defer cancel()
		return c.fetchToken(fetchCtx)
	})
	if err != nil {
		return "", &ProviderAuthError{Provider: darajaName, Err: err}
	}
	return v.(string), nil
}

func (c *DarajaClient) cachedToken() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.now().Before(c.expiresAt) {
		return c.token, true
	}
	return "", false
}

func (c *DarajaClient) fetchToken(ctx context.Context) (string, error) {
	var resp struct {
		AccessToken string      `json:"access_token"`
		ExpiresIn   json.Number `json:"expires_in"`
	}
	header := http.Header{}
	header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(c.cfg.ConsumerKey+":"+c.cfg.ConsumerSecret)))

	err := doJSON(ctx, c.httpClient, c.log, jsonCall{
		provider: darajaName,
		op:       "oauth token",
		method:   http.MethodGet,
		url:      c.cfg.BaseURL + "/oauth/v1/generate?grant_type=client_credentials",
		header:   header,
		out:      &resp,
	})
	if err != nil {
		return "", err
	}
	if resp.AccessToken == "" {
		return "", errors.New("empty access_token in response")
	}

	ttl := time.Hour
	if secs, err := strconv.Atoi(resp.ExpiresIn.String()); err == nil && secs > 0 {
		ttl = time.Duration(secs) * time.Second
	}
	ttl -= tokenRefreshMargin
	if ttl < 0 {
		ttl = 0
	}

	c.mu.Lock()
	c.token = resp.AccessToken
	c.expiresAt = c.now().Add(ttl)
	c.mu.Unlock()

	c.log.Info("obtained access token", zap.Duration("ttl", ttl))
	return resp.AccessToken, nil
}

// post sends an authenticated JSON request to a Daraja endpoint.
func (c *DarajaClient) post(ctx context.Context, provider, op, path, token string, body, out any) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	return doJSON(ctx, c.httpClient, c.log, jsonCall{
		provider: provider,
		op:       op,
		method:   http.MethodPost,
		url:      c.cfg.BaseURL + path,
		header:   header,
		body:     body,
		out:      out,
	})
}

// darajaTimestamp formats t the way Daraja expects: yyyyMMddHHmmss in EAT.
func darajaTimestamp(t time.Time) string {
	return t.In(eastAfricaTime).Format("20060102150405")
}

// darajaPassword is base64(shortCode + passKey + timestamp).
func darajaPassword(shortCode, passKey, timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(shortCode + passKey + timestamp))
}
