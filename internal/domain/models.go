// Package domain provides domain models and business logic for the Full-Text Retrieval Service.
package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Outcome represents the result of a single retrieval attempt.
// These values must match the database enum attempt_outcome.
type Outcome string

const (
	// OutcomeSuccess indicates the provider returned a usable document.
	OutcomeSuccess Outcome = "success"

	// Failure outcomes mirror FailureCategory values.
	OutcomeRateLimit      Outcome = "rate_limit"
	OutcomeTimeout        Outcome = "timeout"
	OutcomeNetworkError   Outcome = "network_error"
	OutcomeServerError    Outcome = "server_error"
	OutcomeAuthentication Outcome = "authentication"
	OutcomeNotFound       Outcome = "not_found"
	OutcomePaywall        Outcome = "paywall"
	OutcomeInvalidContent Outcome = "invalid_content"
)

// FailureCategory classifies why a retrieval attempt failed.
// These values must match the database enum failure_category.
type FailureCategory string

const (
	CategoryRateLimit      FailureCategory = "rate_limit"
	CategoryTimeout        FailureCategory = "timeout"
	CategoryNetworkError   FailureCategory = "network_error"
	CategoryServerError    FailureCategory = "server_error"
	CategoryAuthentication FailureCategory = "authentication"
	CategoryNotFound       FailureCategory = "not_found"
	CategoryPaywall        FailureCategory = "paywall"
	CategoryInvalidContent FailureCategory = "invalid_content"
)

// AllFailureCategories lists every known failure category.
var AllFailureCategories = []FailureCategory{
	CategoryRateLimit,
	CategoryTimeout,
	CategoryNetworkError,
	CategoryServerError,
	CategoryAuthentication,
	CategoryNotFound,
	CategoryPaywall,
	CategoryInvalidContent,
}

// IsValidFailureCategory reports whether c is a known failure category.
func IsValidFailureCategory(c FailureCategory) bool {
	for _, known := range AllFailureCategories {
		if c == known {
			return true
		}
	}
	return false
}

// Retryable reports whether failures in this category are expected to be
// transient and worth retrying with backoff. Permanent categories
// (authentication, not_found, paywall, invalid_content) never enter the
// retry queue.
func (c FailureCategory) Retryable() bool {
	switch c {
	case CategoryRateLimit, CategoryTimeout, CategoryNetworkError, CategoryServerError:
		return true
	default:
		return false
	}
}

// retryPrecedence orders retryable categories from most to least worth
// retrying. When a candidate round observes multiple failure categories, the
// round is classified by the first one present in this order.
var retryPrecedence = []FailureCategory{
	CategoryRateLimit,
	CategoryTimeout,
	CategoryNetworkError,
	CategoryServerError,
}

// MostRetryable picks the category that should classify a fully exhausted
// candidate round. Retryable categories win over permanent ones; among
// retryable categories the precedence is rate_limit, timeout, network_error,
// server_error. If no category is retryable, the last observed category is
// returned so the caller can surface it as terminal.
func MostRetryable(observed []FailureCategory) FailureCategory {
	for _, want := range retryPrecedence {
		for _, c := range observed {
			if c == want {
				return c
			}
		}
	}
	if len(observed) == 0 {
		return CategoryNetworkError
	}
	return observed[len(observed)-1]
}

// Category returns the failure category for a failure outcome, or "" and
// false for OutcomeSuccess.
func (o Outcome) Category() (FailureCategory, bool) {
	if o == OutcomeSuccess {
		return "", false
	}
	return FailureCategory(o), true
}

// Provider describes one external full-text source known to the catalog.
// Providers are seeded from static configuration at startup and mutated
// (enabled, priority) by admin action; they are never deleted, only disabled.
type Provider struct {
	// Name is the unique key for the provider.
	Name string

	// Enabled controls whether the orchestrator considers this provider.
	Enabled bool

	// Priority orders providers in the catalog; lower values are tried
	// earlier when performance data does not say otherwise.
	Priority int

	// RequiresAuth indicates the provider needs an API key or institutional
	// credentials.
	RequiresAuth bool

	// Timeout bounds a single fetch against this provider.
	Timeout time.Duration

	// BaseURL is the URL template root used by the generic HTTP adapter.
	BaseURL string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Attempt is one recorded try of one provider against one identifier.
// Attempts are immutable, append-only facts.
type Attempt struct {
	ID           uuid.UUID
	Identifier   string
	ProviderName string
	Outcome      Outcome
	Latency      time.Duration
	ByteSize     int64
	URLUsed      string
	CreatedAt    time.Time
}

// Succeeded reports whether the attempt ended in success.
func (a *Attempt) Succeeded() bool {
	return a.Outcome == OutcomeSuccess
}

// ProviderStats is the materialized per-provider view derived from the
// attempt ledger. One row per provider, overwritten in place.
type ProviderStats struct {
	ProviderName   string
	Total          int64
	Successes      int64
	Failures       int64
	TotalLatencyMS int64
	LastSuccessAt  *time.Time
	LastFailureAt  *time.Time
	UpdatedAt      time.Time
}

// SuccessRate returns successes/total, or 0 when no attempts are recorded.
func (s *ProviderStats) SuccessRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Successes) / float64(s.Total)
}

// AvgLatencyMS returns the mean attempt latency in milliseconds, or 0 when
// no attempts are recorded.
func (s *ProviderStats) AvgLatencyMS() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.TotalLatencyMS) / float64(s.Total)
}

// PublisherAffinity records the provider that most recently delivered a
// document for a publisher prefix. At most one row per prefix,
// last-write-wins on each success.
type PublisherAffinity struct {
	Prefix        string
	ProviderName  string
	SuccessCount  int64
	LastSuccessAt time.Time
}

// RetryEntry is a persisted retryable failure waiting for its next attempt.
// Created on retryable failure, mutated on subsequent retries, deleted on
// success or permanent exhaustion. At most one entry per identifier.
type RetryEntry struct {
	Identifier      string
	Category        FailureCategory
	RetryCount      int
	NextRetryAt     time.Time
	LastAttemptedAt time.Time
	CreatedAt       time.Time
}

// PublisherPrefix extracts the registrant-specific leading portion of an
// identifier, used to cluster identifiers likely served by the same
// provider. For DOI-style identifiers ("10.1371/journal.pone.0000001") this
// is the part before the first slash. Identifiers without a slash map to
// themselves.
func PublisherPrefix(identifier string) string {
	if i := strings.IndexByte(identifier, '/'); i > 0 {
		return identifier[:i]
	}
	return identifier
}
