package httpserver

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/helixir/fulltext-service/internal/domain"
	"github.com/helixir/fulltext-service/internal/repository"
)

// maxRequestBodySize limits request body size to prevent abuse (1MB).
const maxRequestBodySize = 1 << 20

// readJSONBody reads and unmarshals a size-limited JSON request body.
func readJSONBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		return fmt.Errorf("read request body: %w", err)
	}
	if len(body) == 0 {
		return fmt.Errorf("request body is required")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

type downloadRequest struct {
	Identifier string `json:"identifier" validate:"required,min=1,max=512"`
	TargetDir  string `json:"target_dir" validate:"omitempty,max=4096"`
}

// startDownload handles POST /api/v1/downloads. It runs one retrieval
// synchronously and reports how the run ended.
func (s *Server) startDownload(w http.ResponseWriter, r *http.Request) {
	var req downloadRequest
	if err := readJSONBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("validation failed: %v", err))
		return
	}
	targetDir := req.TargetDir
	if targetDir == "" {
		targetDir = s.cfg.DefaultTargetDir
	}

	result, err := s.retriever.DownloadForIdentifier(r.Context(), req.Identifier, targetDir)
	if err != nil {
		s.logger.Error().Err(err).Str("identifier", req.Identifier).Msg("download failed")
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resultToResponse(result))
}

type batchDownloadRequest struct {
	Identifiers []string `json:"identifiers" validate:"required,min=1,dive,required,min=1,max=512"`
	TargetDir   string   `json:"target_dir" validate:"omitempty,max=4096"`
	Concurrency int      `json:"concurrency" validate:"omitempty,min=1"`
}

// startBatchDownload handles POST /api/v1/downloads/batch. The whole batch
// runs within the request; the response is the batch report.
func (s *Server) startBatchDownload(w http.ResponseWriter, r *http.Request) {
	var req batchDownloadRequest
	if err := readJSONBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("validation failed: %v", err))
		return
	}
	if len(req.Identifiers) > s.cfg.MaxBatchIdentifiers {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("too many identifiers: %d exceeds limit of %d", len(req.Identifiers), s.cfg.MaxBatchIdentifiers))
		return
	}
	targetDir := req.TargetDir
	if targetDir == "" {
		targetDir = s.cfg.DefaultTargetDir
	}
	concurrency := req.Concurrency
	if concurrency > s.cfg.MaxBatchConcurrency {
		concurrency = s.cfg.MaxBatchConcurrency
	}

	runner := s.batchFactory(concurrency)
	report, err := runner.Run(r.Context(), req.Identifiers, targetDir)
	if err != nil && report == nil {
		s.logger.Error().Err(err).Msg("batch failed")
		writeDomainError(w, err)
		return
	}
	// A cancelled batch still produced a partial report; return it.
	writeJSON(w, http.StatusOK, batchReportToResponse(report))
}

// getProviderRankings handles GET /api/v1/providers. Providers are returned
// in routing order together with their observed performance.
func (s *Server) getProviderRankings(w http.ResponseWriter, r *http.Request) {
	providers, err := s.catalog.List(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list providers")
		writeDomainError(w, err)
		return
	}

	ranked, err := s.rankings.Rank(r.Context(), providers)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to rank providers")
		writeDomainError(w, err)
		return
	}

	resp := listProvidersResponse{Providers: make([]providerResponse, 0, len(ranked))}
	for i, rp := range ranked {
		resp.Providers = append(resp.Providers, rankedProviderToResponse(i+1, rp))
	}
	writeJSON(w, http.StatusOK, resp)
}

type patchProviderRequest struct {
	Enabled  *bool `json:"enabled"`
	Priority *int  `json:"priority" validate:"omitempty,min=0"`
}

// patchProvider handles PATCH /api/v1/providers/{name}. Only the fields
// present in the body change.
func (s *Server) patchProvider(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "provider name is required")
		return
	}

	var req patchProviderRequest
	if err := readJSONBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("validation failed: %v", err))
		return
	}
	if req.Enabled == nil && req.Priority == nil {
		writeError(w, http.StatusBadRequest, "at least one of enabled or priority is required")
		return
	}

	if req.Enabled != nil {
		if err := s.catalog.SetEnabled(r.Context(), name, *req.Enabled); err != nil {
			writeDomainError(w, err)
			return
		}
	}
	if req.Priority != nil {
		if err := s.catalog.SetPriority(r.Context(), name, *req.Priority); err != nil {
			writeDomainError(w, err)
			return
		}
	}

	s.logger.Info().
		Str("provider", name).
		Interface("enabled", req.Enabled).
		Interface("priority", req.Priority).
		Msg("provider updated")
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated", "provider": name})
}

// getRetryQueue handles GET /api/v1/retry-queue.
func (s *Server) getRetryQueue(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	offset := queryInt(r, "offset", 0)

	depth, err := s.retryQueue.Depth(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to count retry queue")
		writeDomainError(w, err)
		return
	}
	entries, err := s.retryQueue.List(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list retry queue")
		writeDomainError(w, err)
		return
	}

	resp := retryQueueResponse{Depth: depth, Entries: make([]retryEntryResponse, 0, len(entries))}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, retryEntryToResponse(e))
	}
	writeJSON(w, http.StatusOK, resp)
}

// exportAttempts handles GET /api/v1/attempts. The ledger can be filtered by
// provider, outcome, identifier, and a since timestamp, and exported as JSON
// (default) or CSV via format=csv.
func (s *Server) exportAttempts(w http.ResponseWriter, r *http.Request) {
	filter := repository.AttemptFilter{
		Identifier:   r.URL.Query().Get("identifier"),
		ProviderName: r.URL.Query().Get("provider"),
		Limit:        queryInt(r, "limit", 100),
		Offset:       queryInt(r, "offset", 0),
	}

	if raw := r.URL.Query().Get("outcome"); raw != "" {
		outcome := domain.Outcome(raw)
		if outcome != domain.OutcomeSuccess && !domain.IsValidFailureCategory(domain.FailureCategory(raw)) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown outcome: %q", raw))
			return
		}
		filter.Outcome = outcome
	}
	if raw := r.URL.Query().Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
		filter.Since = since
	}

	attempts, err := s.attempts.List(r.Context(), filter)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list attempts")
		writeDomainError(w, err)
		return
	}

	if r.URL.Query().Get("format") == "csv" {
		writeAttemptsCSV(w, attempts)
		return
	}

	resp := listAttemptsResponse{Attempts: make([]attemptResponse, 0, len(attempts)), Count: len(attempts)}
	for _, a := range attempts {
		resp.Attempts = append(resp.Attempts, attemptToResponse(a))
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeAttemptsCSV streams the ledger rows as CSV.
func writeAttemptsCSV(w http.ResponseWriter, attempts []*domain.Attempt) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="attempts.csv"`)
	w.WriteHeader(http.StatusOK)

	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"identifier", "provider", "outcome", "latency_ms", "byte_size", "url", "created_at"})
	for _, a := range attempts {
		_ = cw.Write([]string{
			a.Identifier,
			a.ProviderName,
			string(a.Outcome),
			strconv.FormatInt(a.Latency.Milliseconds(), 10),
			strconv.FormatInt(a.ByteSize, 10),
			a.URLUsed,
			a.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	cw.Flush()
}

// purgeAttempts handles DELETE /api/v1/attempts?older_than_days=N. Stats are
// not rewound; the purge only reclaims ledger storage.
func (s *Server) purgeAttempts(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("older_than_days")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "older_than_days query parameter is required")
		return
	}
	days, err := strconv.Atoi(raw)
	if err != nil || days < 1 {
		writeError(w, http.StatusBadRequest, "older_than_days must be a positive integer")
		return
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	removed, err := s.attempts.PurgeOlderThan(r.Context(), cutoff)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to purge attempts")
		writeDomainError(w, err)
		return
	}

	s.logger.Info().Int64("removed", removed).Time("cutoff", cutoff).Msg("attempt ledger purged")
	writeJSON(w, http.StatusOK, purgeAttemptsResponse{Removed: removed, Cutoff: cutoff})
}

// queryInt parses an integer query parameter, falling back to def when the
// parameter is absent or malformed.
func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
