// Package observability provides logging and metrics support for the
// full-text retrieval service.
//
// # Logging
//
// Create a logger from configuration:
//
//	cfg := observability.LoggingConfig{
//	    Level:  "info",
//	    Format: "json",
//	    Output: "stdout",
//	}
//
//	logger := observability.NewLogger(cfg)
//	logger.Info().Str("identifier", id).Msg("retrieval started")
//
// Add retrieval context to a logger:
//
//	logger = observability.WithRetrievalContext(logger, identifier, provider)
//
// # Metrics
//
// Initialize metrics once at startup:
//
//	metrics := observability.NewMetrics("fulltext")
//
// Record metrics:
//
//	metrics.AttemptsTotal.WithLabelValues("crossref", "success").Inc()
//	metrics.FetchDuration.WithLabelValues("crossref").Observe(d.Seconds())
//
// # Standard Fields
//
// Common fields used across the service:
//
//   - identifier: document identifier (DOI)
//   - provider: catalog name of the external source
//   - prefix: publisher prefix of an identifier
//   - category: failure category of an attempt
//   - batch_id: batch run identifier
//
// # Thread Safety
//
// All components are safe for concurrent use from multiple goroutines.
package observability
