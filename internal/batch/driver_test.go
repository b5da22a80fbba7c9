package batch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/fulltext-service/internal/domain"
	"github.com/helixir/fulltext-service/internal/retrieval"
)

// countingDownloader returns scripted results and tracks concurrency.
type countingDownloader struct {
	mu         sync.Mutex
	results    map[string]*retrieval.Result
	errs       map[string]error
	delay      time.Duration
	inFlight   int64
	maxInFlight int64
	calls      []string
}

func newCountingDownloader() *countingDownloader {
	return &countingDownloader{
		results: make(map[string]*retrieval.Result),
		errs:    make(map[string]error),
	}
}

func (c *countingDownloader) DownloadForIdentifier(ctx context.Context, identifier, targetDir string) (*retrieval.Result, error) {
	current := atomic.AddInt64(&c.inFlight, 1)
	defer atomic.AddInt64(&c.inFlight, -1)
	for {
		max := atomic.LoadInt64(&c.maxInFlight)
		if current <= max || atomic.CompareAndSwapInt64(&c.maxInFlight, max, current) {
			break
		}
	}

	if c.delay > 0 {
		time.Sleep(c.delay)
	}

	c.mu.Lock()
	c.calls = append(c.calls, identifier)
	c.mu.Unlock()

	if err, ok := c.errs[identifier]; ok {
		return nil, err
	}
	if result, ok := c.results[identifier]; ok {
		return result, nil
	}
	return &retrieval.Result{Identifier: identifier, Status: retrieval.StatusDownloaded}, nil
}

func TestDriver_Run_AggregatesReport(t *testing.T) {
	dl := newCountingDownloader()
	dl.results["10.1/exists"] = &retrieval.Result{Identifier: "10.1/exists", Status: retrieval.StatusAlreadyExists}
	dl.results["10.1/fails"] = &retrieval.Result{
		Identifier:      "10.1/fails",
		Status:          retrieval.StatusFailed,
		FailureCategory: domain.CategoryServerError,
	}
	dl.errs["10.1/broken"] = errors.New("ledger down")

	driver := NewDriver(Config{Concurrency: 2}, dl, nil, zerolog.Nop())

	report, err := driver.Run(context.Background(), []string{
		"10.1/ok", "10.1/exists", "10.1/fails", "10.1/broken",
	}, "/tmp/fulltext")
	require.NoError(t, err)

	assert.Equal(t, 4, report.Total)
	assert.Equal(t, 1, report.Downloaded)
	assert.Equal(t, 1, report.Existing)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Errored)
	assert.Zero(t, report.Skipped)
	assert.Len(t, report.Results, 3)
	assert.Contains(t, report.Errors, "10.1/broken")
	assert.NotEqual(t, report.BatchID.String(), "00000000-0000-0000-0000-000000000000")
}

func TestDriver_Run_DeduplicatesIdentifiers(t *testing.T) {
	dl := newCountingDownloader()
	driver := NewDriver(Config{Concurrency: 2}, dl, nil, zerolog.Nop())

	report, err := driver.Run(context.Background(), []string{"10.1/a", "10.1/a", "10.1/b"}, "/tmp/fulltext")
	require.NoError(t, err)
	assert.Equal(t, 2, report.Total)
	assert.Len(t, dl.calls, 2)
}

func TestDriver_Run_RespectsConcurrencyCap(t *testing.T) {
	dl := newCountingDownloader()
	dl.delay = 20 * time.Millisecond
	driver := NewDriver(Config{Concurrency: 3}, dl, nil, zerolog.Nop())

	identifiers := make([]string, 12)
	for i := range identifiers {
		identifiers[i] = "10.1/doc" + string(rune('a'+i))
	}

	_, err := driver.Run(context.Background(), identifiers, "/tmp/fulltext")
	require.NoError(t, err)
	assert.LessOrEqual(t, atomic.LoadInt64(&dl.maxInFlight), int64(3))
}

func TestDriver_Run_CancellationStopsDispatch(t *testing.T) {
	dl := newCountingDownloader()
	dl.delay = 30 * time.Millisecond
	driver := NewDriver(Config{Concurrency: 1}, dl, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(45 * time.Millisecond)
		cancel()
	}()

	identifiers := make([]string, 50)
	for i := range identifiers {
		identifiers[i] = "10.1/doc" + string(rune('a'+i%26)) + string(rune('a'+i/26))
	}

	report, err := driver.Run(ctx, identifiers, "/tmp/fulltext")
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.Positive(t, report.Skipped)
	assert.Less(t, len(dl.calls), 50)
	// Everything dispatched was finished and accounted for.
	assert.Equal(t, report.Total-report.Skipped,
		report.Downloaded+report.Existing+report.Failed+report.Errored)
}

// cancelObservingDownloader records whether any run observed a cancelled
// context.
type cancelObservingDownloader struct {
	delay        time.Duration
	sawCancelled int64
}

func (c *cancelObservingDownloader) DownloadForIdentifier(ctx context.Context, identifier, targetDir string) (*retrieval.Result, error) {
	time.Sleep(c.delay)
	if ctx.Err() != nil {
		atomic.AddInt64(&c.sawCancelled, 1)
	}
	return &retrieval.Result{Identifier: identifier, Status: retrieval.StatusDownloaded}, nil
}

func TestDriver_Run_InFlightRunFinishesAfterCancellation(t *testing.T) {
	dl := &cancelObservingDownloader{delay: 150 * time.Millisecond}
	driver := NewDriver(Config{Concurrency: 1}, dl, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	report, err := driver.Run(ctx, []string{"10.1/a", "10.1/b"}, "/tmp/fulltext")
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)

	// The run in flight at cancellation time kept a live context, finished
	// naturally, and counted as downloaded rather than errored.
	assert.Zero(t, atomic.LoadInt64(&dl.sawCancelled))
	assert.Equal(t, 1, report.Downloaded)
	assert.Zero(t, report.Errored)
	assert.Equal(t, 1, report.Skipped)
}

func TestDriver_Run_InterCallDelaySpacesDispatches(t *testing.T) {
	dl := newCountingDownloader()
	driver := NewDriver(Config{Concurrency: 4, InterCallDelay: 25 * time.Millisecond}, dl, nil, zerolog.Nop())

	start := time.Now()
	_, err := driver.Run(context.Background(), []string{"10.1/a", "10.1/b", "10.1/c", "10.1/d"}, "/tmp/fulltext")
	require.NoError(t, err)
	// Three inter-call gaps after the first immediate dispatch.
	assert.GreaterOrEqual(t, time.Since(start), 70*time.Millisecond)
}

func TestDriver_Run_Validation(t *testing.T) {
	driver := NewDriver(Config{}, newCountingDownloader(), nil, zerolog.Nop())

	_, err := driver.Run(context.Background(), nil, "/tmp/fulltext")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = driver.Run(context.Background(), []string{"10.1/a"}, "")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
