// Package pipeline tests the retrieval stack end to end in one process:
// real HTTP fetchers against local stub providers, the real orchestrator and
// batch driver, and in-memory routing state. No database or network access
// is required.
package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/fulltext-service/internal/batch"
	"github.com/helixir/fulltext-service/internal/domain"
	"github.com/helixir/fulltext-service/internal/performance"
	"github.com/helixir/fulltext-service/internal/retrieval"
	"github.com/helixir/fulltext-service/internal/retryqueue"
	"github.com/helixir/fulltext-service/internal/sources"
	"github.com/helixir/fulltext-service/internal/sources/httpfetch"
)

const pdfBody = "%PDF-1.4\nstub document body"

// stubProvider is a local HTTP server standing in for one external provider.
type stubProvider struct {
	server *httptest.Server

	mu       sync.Mutex
	requests int
	// respond decides the response per identifier; nil serves the PDF.
	respond func(w http.ResponseWriter, identifier string)
}

func newStubProvider(respond func(w http.ResponseWriter, identifier string)) *stubProvider {
	p := &stubProvider{respond: respond}
	p.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		p.requests++
		p.mu.Unlock()

		identifier := r.URL.Path[1:]
		if p.respond != nil {
			p.respond(w, identifier)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		fmt.Fprint(w, pdfBody)
	}))
	return p
}

func (p *stubProvider) requestCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests
}

// memPerformance implements the orchestrator's performance surface in memory,
// including last-success publisher affinity.
type memPerformance struct {
	mu       sync.Mutex
	attempts []*domain.Attempt
	affinity map[string]string
}

func newMemPerformance() *memPerformance {
	return &memPerformance{affinity: make(map[string]string)}
}

func (m *memPerformance) RecordAttempt(ctx context.Context, attempt *domain.Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, attempt)
	if attempt.Succeeded() {
		m.affinity[domain.PublisherPrefix(attempt.Identifier)] = attempt.ProviderName
	}
	return nil
}

func (m *memPerformance) Rank(ctx context.Context, candidates []*domain.Provider) ([]performance.RankedProvider, error) {
	return performance.Rank(candidates, nil), nil
}

func (m *memPerformance) BestProviderForPrefix(ctx context.Context, prefix string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.affinity[prefix], nil
}

func (m *memPerformance) attemptsFor(provider string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.attempts {
		if a.ProviderName == provider {
			n++
		}
	}
	return n
}

type memRetries struct {
	mu      sync.Mutex
	entries map[string]domain.FailureCategory
}

func newMemRetries() *memRetries {
	return &memRetries{entries: make(map[string]domain.FailureCategory)}
}

func (m *memRetries) OnFailure(ctx context.Context, identifier string, category domain.FailureCategory) (retryqueue.Outcome, *domain.RetryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !category.Retryable() {
		delete(m.entries, identifier)
		return retryqueue.OutcomePermanent, nil, nil
	}
	m.entries[identifier] = category
	return retryqueue.OutcomeScheduled, &domain.RetryEntry{
		Identifier:  identifier,
		Category:    category,
		NextRetryAt: time.Now().Add(time.Minute),
	}, nil
}

func (m *memRetries) OnSuccess(ctx context.Context, identifier string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, identifier)
	return nil
}

func (m *memRetries) queued() map[string]domain.FailureCategory {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]domain.FailureCategory, len(m.entries))
	for k, v := range m.entries {
		out[k] = v
	}
	return out
}

type staticCatalog struct {
	providers []*domain.Provider
}

func (c *staticCatalog) ListEnabled(ctx context.Context) ([]*domain.Provider, error) {
	return c.providers, nil
}

// buildStack wires real fetchers for the given stub providers into a real
// orchestrator with in-memory routing state.
func buildStack(t *testing.T, stubs map[string]*stubProvider, priorities map[string]int) (*retrieval.Service, *memPerformance, *memRetries) {
	t.Helper()

	registry := sources.NewRegistry()
	var providers []*domain.Provider
	for name, stub := range stubs {
		registry.Register(httpfetch.New(httpfetch.Config{
			ProviderName:         name,
			BaseURL:              stub.server.URL + "/{identifier}",
			RateLimit:            1000,
			AllowPrivateNetworks: true,
		}, zerolog.Nop()))
		providers = append(providers, &domain.Provider{
			Name:     name,
			Enabled:  true,
			Priority: priorities[name],
			Timeout:  5 * time.Second,
		})
	}

	perf := newMemPerformance()
	retries := newMemRetries()
	svc := retrieval.NewService(
		retrieval.Config{},
		&staticCatalog{providers: providers},
		registry,
		perf,
		retries,
		nil,
		nil,
		zerolog.Nop(),
	)
	return svc, perf, retries
}

func TestPipeline_BatchDownloadsThroughRealFetchers(t *testing.T) {
	reliable := newStubProvider(nil)
	defer reliable.server.Close()

	svc, _, retries := buildStack(t,
		map[string]*stubProvider{"reliable": reliable},
		map[string]int{"reliable": 1},
	)

	targetDir := t.TempDir()
	driver := batch.NewDriver(batch.Config{Concurrency: 4}, svc, nil, zerolog.Nop())

	identifiers := []string{
		"10.1371/journal.pone.0000001",
		"10.1371/journal.pone.0000002",
		"10.1038/s41586-021-03819-2",
	}
	report, err := driver.Run(context.Background(), identifiers, targetDir)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Downloaded)
	assert.Zero(t, report.Failed)
	assert.Empty(t, retries.queued())

	// Artifacts are on disk under sanitized names.
	for _, id := range identifiers {
		path := retrieval.ArtifactPath(targetDir, id)
		content, err := os.ReadFile(path)
		require.NoError(t, err, "artifact missing for %s", id)
		assert.Equal(t, pdfBody, string(content))
		assert.Equal(t, filepath.Dir(path), targetDir)
	}

	// A second run is satisfied from disk without contacting the provider.
	before := reliable.requestCount()
	report, err = driver.Run(context.Background(), identifiers, targetDir)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Existing)
	assert.Zero(t, report.Downloaded)
	assert.Equal(t, before, reliable.requestCount())
}

func TestPipeline_FailoverAndAffinity(t *testing.T) {
	// The first-priority provider 404s everything; the fallback serves PDFs.
	broken := newStubProvider(func(w http.ResponseWriter, identifier string) {
		http.Error(w, "no such document", http.StatusNotFound)
	})
	defer broken.server.Close()
	working := newStubProvider(nil)
	defer working.server.Close()

	svc, perf, _ := buildStack(t,
		map[string]*stubProvider{"broken": broken, "working": working},
		map[string]int{"broken": 1, "working": 2},
	)

	targetDir := t.TempDir()
	result, err := svc.DownloadForIdentifier(context.Background(), "10.1371/journal.pone.0000001", targetDir)
	require.NoError(t, err)
	assert.Equal(t, retrieval.StatusDownloaded, result.Status)
	assert.Equal(t, "working", result.ProviderName)
	assert.Equal(t, 2, result.ProvidersTried)

	// The affinity learned from the success puts the working provider first
	// for the next identifier under the same prefix: the broken provider is
	// not contacted again.
	brokenBefore := broken.requestCount()
	result, err = svc.DownloadForIdentifier(context.Background(), "10.1371/journal.pone.0000002", targetDir)
	require.NoError(t, err)
	assert.Equal(t, "working", result.ProviderName)
	assert.Equal(t, 1, result.ProvidersTried)
	assert.Equal(t, brokenBefore, broken.requestCount())

	assert.Equal(t, 2, perf.attemptsFor("working"))
	assert.Equal(t, 1, perf.attemptsFor("broken"))
}

func TestPipeline_TransientFailuresQueueForRetry(t *testing.T) {
	flaky := newStubProvider(func(w http.ResponseWriter, identifier string) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	})
	defer flaky.server.Close()

	svc, _, retries := buildStack(t,
		map[string]*stubProvider{"flaky": flaky},
		map[string]int{"flaky": 1},
	)

	result, err := svc.DownloadForIdentifier(context.Background(), "10.99/transient", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, retrieval.StatusFailed, result.Status)
	assert.Equal(t, domain.CategoryServerError, result.FailureCategory)
	assert.True(t, result.RetryScheduled)

	queued := retries.queued()
	assert.Equal(t, domain.CategoryServerError, queued["10.99/transient"])
}

func TestPipeline_PermanentFailureIsTerminal(t *testing.T) {
	paywalled := newStubProvider(func(w http.ResponseWriter, identifier string) {
		http.Error(w, "purchase required", http.StatusPaymentRequired)
	})
	defer paywalled.server.Close()

	svc, _, retries := buildStack(t,
		map[string]*stubProvider{"paywalled": paywalled},
		map[string]int{"paywalled": 1},
	)

	result, err := svc.DownloadForIdentifier(context.Background(), "10.99/locked", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, retrieval.StatusFailed, result.Status)
	assert.Equal(t, domain.CategoryPaywall, result.FailureCategory)
	assert.False(t, result.RetryScheduled)
	assert.Empty(t, retries.queued())
}

func TestPipeline_HTMLLandingPageIsRejected(t *testing.T) {
	landing := newStubProvider(func(w http.ResponseWriter, identifier string) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html><body>Sign in to download</body></html>")
	})
	defer landing.server.Close()

	svc, _, _ := buildStack(t,
		map[string]*stubProvider{"landing": landing},
		map[string]int{"landing": 1},
	)

	result, err := svc.DownloadForIdentifier(context.Background(), "10.99/landing", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, retrieval.StatusFailed, result.Status)
	assert.Equal(t, domain.CategoryInvalidContent, result.FailureCategory)
	assert.False(t, result.RetryScheduled)
}
