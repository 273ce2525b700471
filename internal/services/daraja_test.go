package services

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccessTokenFetchesOnceForConcurrentCallers(t *testing.T) {
	fake := newFakeDaraja(t)
	c := fake.client(t)

	var wg sync.WaitGroup
	tokens := make([]string, 20)
	errs := make([]error, 20)
	for i := range tokens {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = c.AccessToken(context.Background())
		}(i)
	}
	wg.Wait()

	for i := range tokens {
		require.NoError(t, errs[i])
		assert.Equal(t, "test-token", tokens[i])
	}
	assert.Equal(t, int32(1), fake.tokenCalls.Load())

	// cached until expiry
	_, err := c.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), fake.tokenCalls.Load())
}

func TestAccessTokenIgnoresCallerCancellation(t *testing.T) {
	fake := newFakeDaraja(t)
	c := fake.client(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	token, err := c.AccessToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "test-token", token)

	_, err = c.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), fake.tokenCalls.Load())
}

func TestAccessTokenRefreshesAfterExpiry(t *testing.T) {
	fake := newFakeDaraja(t)
	c := fake.client(t)

	now := time.Date(2024, 10, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	_, err := c.AccessToken(context.Background())
	require.NoError(t, err)

	now = now.Add(time.Hour)
	_, err = c.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), fake.tokenCalls.Load())
}

func TestAccessTokenFailureIsAuthError(t *testing.T) {
	fake := newFakeDaraja(t)
	fake.failToken.Store(true)

	_, err := fake.client(t).AccessToken(context.Background())
	require.Error(t, err)

	var authErr *ProviderAuthError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, darajaName, authErr.Provider)

	var reqErr *ProviderRequestError
	require.True(t, errors.As(err, &reqErr))
	assert.Equal(t, 401, reqErr.StatusCode)
}

func TestDarajaTimestampUsesEastAfricaTime(t *testing.T) {
	ts := darajaTimestamp(time.Date(2024, 10, 1, 21, 30, 5, 0, time.UTC))
	assert.Equal(t, "20241002003005", ts)
}

func TestDarajaPassword(t *testing.T) {
	got := darajaPassword("174379", "passkey", "20241002003005")
	raw, err := base64.StdEncoding.DecodeString(got)
	require.NoError(t, err)
	assert.Equal(t, "174379passkey20241002003005", string(raw))
}
