package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFailureCategoryRetryable(t *testing.T) {
	tests := []struct {
		category  FailureCategory
		retryable bool
	}{
		{CategoryRateLimit, true},
		{CategoryTimeout, true},
		{CategoryNetworkError, true},
		{CategoryServerError, true},
		{CategoryAuthentication, false},
		{CategoryNotFound, false},
		{CategoryPaywall, false},
		{CategoryInvalidContent, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.category), func(t *testing.T) {
			assert.Equal(t, tt.retryable, tt.category.Retryable())
		})
	}
}

func TestMostRetryable(t *testing.T) {
	tests := []struct {
		name     string
		observed []FailureCategory
		want     FailureCategory
	}{
		{
			name:     "rate limit wins over other retryables",
			observed: []FailureCategory{CategoryServerError, CategoryRateLimit, CategoryTimeout},
			want:     CategoryRateLimit,
		},
		{
			name:     "retryable wins over permanent",
			observed: []FailureCategory{CategoryNotFound, CategoryPaywall, CategoryServerError},
			want:     CategoryServerError,
		},
		{
			name:     "all permanent returns last observed",
			observed: []FailureCategory{CategoryNotFound, CategoryPaywall},
			want:     CategoryPaywall,
		},
		{
			name:     "empty defaults to network error",
			observed: nil,
			want:     CategoryNetworkError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MostRetryable(tt.observed))
		})
	}
}

func TestOutcomeCategory(t *testing.T) {
	cat, ok := Outcome("paywall").Category()
	assert.True(t, ok)
	assert.Equal(t, CategoryPaywall, cat)

	_, ok = OutcomeSuccess.Category()
	assert.False(t, ok)
}

func TestProviderStatsDerivedValues(t *testing.T) {
	stats := &ProviderStats{
		Total:          8,
		Successes:      6,
		Failures:       2,
		TotalLatencyMS: 4000,
	}
	assert.InDelta(t, 0.75, stats.SuccessRate(), 1e-9)
	assert.InDelta(t, 500.0, stats.AvgLatencyMS(), 1e-9)

	empty := &ProviderStats{}
	assert.Zero(t, empty.SuccessRate())
	assert.Zero(t, empty.AvgLatencyMS())
}

func TestPublisherPrefix(t *testing.T) {
	tests := []struct {
		identifier string
		want       string
	}{
		{"10.1371/journal.pone.0000001", "10.1371"},
		{"10.1038/s41586-020-2649-2", "10.1038"},
		{"no-slash-identifier", "no-slash-identifier"},
		{"/leading-slash", "/leading-slash"},
		{"10.1145/123/456", "10.1145"},
	}

	for _, tt := range tests {
		t.Run(tt.identifier, func(t *testing.T) {
			assert.Equal(t, tt.want, PublisherPrefix(tt.identifier))
		})
	}
}

func TestAttemptSucceeded(t *testing.T) {
	a := &Attempt{Outcome: OutcomeSuccess, Latency: 50 * time.Millisecond}
	assert.True(t, a.Succeeded())

	a.Outcome = OutcomeNotFound
	assert.False(t, a.Succeeded())
}

func TestCategoryOf(t *testing.T) {
	fe := NewFetchError("crossref", CategoryPaywall, nil)
	assert.Equal(t, CategoryPaywall, CategoryOf(fe))

	wrapped := fmt.Errorf("candidate loop: %w", fe)
	assert.Equal(t, CategoryPaywall, CategoryOf(wrapped))

	assert.Equal(t, CategoryNetworkError, CategoryOf(errors.New("connection reset")))
}

func TestFetchErrorUnwrap(t *testing.T) {
	cause := errors.New("tls handshake failed")
	fe := &FetchError{Provider: "unpaywall", Category: CategoryNetworkError, StatusCode: 0, Cause: cause}
	assert.ErrorIs(t, fe, cause)
	assert.Contains(t, fe.Error(), "unpaywall")
	assert.Contains(t, fe.Error(), "network_error")
}

func TestValidationErrorIsInvalidInput(t *testing.T) {
	err := NewValidationError("identifier", "identifier is required")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestNotFoundErrorIsNotFound(t *testing.T) {
	err := NewNotFoundError("provider", "core")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "provider not found: core")
}
