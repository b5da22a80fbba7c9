package httpserver

import (
	"time"

	"github.com/helixir/fulltext-service/internal/batch"
	"github.com/helixir/fulltext-service/internal/domain"
	"github.com/helixir/fulltext-service/internal/performance"
	"github.com/helixir/fulltext-service/internal/retrieval"
)

// Response types for JSON serialization.

type downloadResponse struct {
	Identifier      string     `json:"identifier"`
	Status          string     `json:"status"`
	ProviderName    string     `json:"provider_name,omitempty"`
	Path            string     `json:"path,omitempty"`
	ByteSize        int64      `json:"byte_size,omitempty"`
	ProvidersTried  int        `json:"providers_tried"`
	FailureCategory string     `json:"failure_category,omitempty"`
	RetryScheduled  bool       `json:"retry_scheduled"`
	NextRetryAt     *time.Time `json:"next_retry_at,omitempty"`
	ElapsedMS       int64      `json:"elapsed_ms"`
}

type providerResponse struct {
	Name         string     `json:"name"`
	Enabled      bool       `json:"enabled"`
	Priority     int        `json:"priority"`
	RequiresAuth bool       `json:"requires_auth"`
	TimeoutMS    int64      `json:"timeout_ms"`
	Rank         int        `json:"rank"`
	Sampled      bool       `json:"sampled"`
	SuccessRate  float64    `json:"success_rate"`
	AvgLatencyMS float64    `json:"avg_latency_ms"`
	Total        int64      `json:"total_attempts"`
	Successes    int64      `json:"successes"`
	Failures     int64      `json:"failures"`
	LastSuccess  *time.Time `json:"last_success_at,omitempty"`
	LastFailure  *time.Time `json:"last_failure_at,omitempty"`
}

type listProvidersResponse struct {
	Providers []providerResponse `json:"providers"`
}

type retryEntryResponse struct {
	Identifier      string    `json:"identifier"`
	FailureCategory string    `json:"failure_category"`
	RetryCount      int       `json:"retry_count"`
	NextRetryAt     time.Time `json:"next_retry_at"`
	LastAttemptedAt time.Time `json:"last_attempted_at"`
	CreatedAt       time.Time `json:"created_at"`
}

type retryQueueResponse struct {
	Depth   int64                `json:"depth"`
	Entries []retryEntryResponse `json:"entries"`
}

type attemptResponse struct {
	ID           string    `json:"id"`
	Identifier   string    `json:"identifier"`
	ProviderName string    `json:"provider_name"`
	Outcome      string    `json:"outcome"`
	LatencyMS    int64     `json:"latency_ms"`
	ByteSize     int64     `json:"byte_size"`
	URLUsed      string    `json:"url_used,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type listAttemptsResponse struct {
	Attempts []attemptResponse `json:"attempts"`
	Count    int               `json:"count"`
}

type purgeAttemptsResponse struct {
	Removed int64     `json:"removed"`
	Cutoff  time.Time `json:"cutoff"`
}

type batchReportResponse struct {
	BatchID    string             `json:"batch_id"`
	Total      int                `json:"total"`
	Downloaded int                `json:"downloaded"`
	Existing   int                `json:"already_exists"`
	Failed     int                `json:"failed"`
	Errored    int                `json:"errored"`
	Skipped    int                `json:"skipped"`
	Results    []downloadResponse `json:"results"`
	Errors     map[string]string  `json:"errors,omitempty"`
	ElapsedMS  int64              `json:"elapsed_ms"`
}

// Converter functions

func resultToResponse(r *retrieval.Result) downloadResponse {
	return downloadResponse{
		Identifier:      r.Identifier,
		Status:          string(r.Status),
		ProviderName:    r.ProviderName,
		Path:            r.Path,
		ByteSize:        r.ByteSize,
		ProvidersTried:  r.ProvidersTried,
		FailureCategory: string(r.FailureCategory),
		RetryScheduled:  r.RetryScheduled,
		NextRetryAt:     r.NextRetryAt,
		ElapsedMS:       r.Elapsed.Milliseconds(),
	}
}

func batchReportToResponse(report *batch.Report) batchReportResponse {
	resp := batchReportResponse{
		BatchID:    report.BatchID.String(),
		Total:      report.Total,
		Downloaded: report.Downloaded,
		Existing:   report.Existing,
		Failed:     report.Failed,
		Errored:    report.Errored,
		Skipped:    report.Skipped,
		Results:    make([]downloadResponse, 0, len(report.Results)),
		Errors:     report.Errors,
		ElapsedMS:  report.Elapsed.Milliseconds(),
	}
	for _, r := range report.Results {
		resp.Results = append(resp.Results, resultToResponse(r))
	}
	return resp
}

func rankedProviderToResponse(rank int, rp performance.RankedProvider) providerResponse {
	resp := providerResponse{
		Name:         rp.Provider.Name,
		Enabled:      rp.Provider.Enabled,
		Priority:     rp.Provider.Priority,
		RequiresAuth: rp.Provider.RequiresAuth,
		TimeoutMS:    rp.Provider.Timeout.Milliseconds(),
		Rank:         rank,
		Sampled:      rp.Sampled(),
		SuccessRate:  rp.SuccessRate,
		AvgLatencyMS: rp.AvgLatencyMS,
	}
	if rp.Stats != nil {
		resp.Total = rp.Stats.Total
		resp.Successes = rp.Stats.Successes
		resp.Failures = rp.Stats.Failures
		resp.LastSuccess = rp.Stats.LastSuccessAt
		resp.LastFailure = rp.Stats.LastFailureAt
	}
	return resp
}

func retryEntryToResponse(e *domain.RetryEntry) retryEntryResponse {
	return retryEntryResponse{
		Identifier:      e.Identifier,
		FailureCategory: string(e.Category),
		RetryCount:      e.RetryCount,
		NextRetryAt:     e.NextRetryAt,
		LastAttemptedAt: e.LastAttemptedAt,
		CreatedAt:       e.CreatedAt,
	}
}

func attemptToResponse(a *domain.Attempt) attemptResponse {
	return attemptResponse{
		ID:           a.ID.String(),
		Identifier:   a.Identifier,
		ProviderName: a.ProviderName,
		Outcome:      string(a.Outcome),
		LatencyMS:    a.Latency.Milliseconds(),
		ByteSize:     a.ByteSize,
		URLUsed:      a.URLUsed,
		CreatedAt:    a.CreatedAt,
	}
}
