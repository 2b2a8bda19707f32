package provider

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/tallyhq/tally/internal/common"
	"github.com/tallyhq/tally/internal/service"
)

func newTestClient() *PlaidClient {
	return &PlaidClient{
		logger: slog.Default().With("component", "provider"),
		retryOpts: &service.RetryOptions{
			MaxAttempts:  3,
			InitialDelay: time.Millisecond,
			MaxDelay:     5 * time.Millisecond,
			Multiplier:   2.0,
		},
	}
}

func TestPlaidClient_MapError_Taxonomy(t *testing.T) {
	client := newTestClient()

	t.Run("login required is auth expiry", func(t *testing.T) {
		err := client.mapPlaidCode("ITEM_LOGIN_REQUIRED", "the login details changed")
		assert.ErrorIs(t, err, common.ErrAuthExpired)
		assert.False(t, common.IsRetryable(err))
	})

	t.Run("rate limit is retryable", func(t *testing.T) {
		err := client.mapPlaidCode("RATE_LIMIT_EXCEEDED", "too many requests")
		assert.ErrorIs(t, err, common.ErrRateLimit)
		assert.True(t, common.IsRetryable(err))
	})

	t.Run("unknown code is opaque and terminal", func(t *testing.T) {
		err := client.mapPlaidCode("INTERNAL_SERVER_ERROR", "oops")
		assert.False(t, common.IsRetryable(err))
		assert.NotErrorIs(t, err, common.ErrAuthExpired)
	})

	t.Run("transport failure is transient", func(t *testing.T) {
		err := client.mapError(errors.New("connection reset"), "transactions sync")
		assert.ErrorIs(t, err, common.ErrTransient)
		assert.True(t, common.IsRetryable(err))
	})
}

func TestPlaidClient_AuthExpirySurvivesRetryWrapper(t *testing.T) {
	client := newTestClient()

	calls := 0
	err := common.WithRetry(context.Background(), func() error {
		calls++
		return client.mapPlaidCode("ITEM_LOGIN_REQUIRED", "stale credentials")
	}, *client.retryOpts)

	// Auth expiry is terminal: one attempt, and the kind stays visible
	// through the wrapper so callers can route the user to re-link.
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, common.ErrAuthExpired)
}

func TestPlaidClient_TransientExhaustionKeepsKind(t *testing.T) {
	client := newTestClient()

	calls := 0
	err := common.WithRetry(context.Background(), func() error {
		calls++
		return client.mapError(errors.New("i/o timeout"), "transactions sync")
	}, *client.retryOpts)

	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, common.ErrMaxRetries)
	assert.ErrorIs(t, err, common.ErrTransient)
}
