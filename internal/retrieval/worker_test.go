package retrieval

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/fulltext-service/internal/domain"
)

type stubDueQueue struct {
	due        []*domain.RetryEntry
	depthCalls int
}

func (s *stubDueQueue) Due(ctx context.Context, limit int) ([]*domain.RetryEntry, error) {
	if len(s.due) <= limit {
		due := s.due
		s.due = nil
		return due, nil
	}
	due := s.due[:limit]
	s.due = s.due[limit:]
	return due, nil
}

func (s *stubDueQueue) Depth(ctx context.Context) (int64, error) {
	s.depthCalls++
	return int64(len(s.due)), nil
}

type stubRetryDownloader struct {
	mu          sync.Mutex
	results     map[string]*Result
	identifiers []string
}

func (s *stubRetryDownloader) DownloadForIdentifier(ctx context.Context, identifier, targetDir string) (*Result, error) {
	s.mu.Lock()
	s.identifiers = append(s.identifiers, identifier)
	s.mu.Unlock()
	if r, ok := s.results[identifier]; ok {
		return r, nil
	}
	return &Result{Identifier: identifier, Status: StatusDownloaded}, nil
}

func (s *stubRetryDownloader) seen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.identifiers)
}

func TestRetryWorker_DrainOnce(t *testing.T) {
	queue := &stubDueQueue{due: []*domain.RetryEntry{
		{Identifier: "10.1/a", Category: domain.CategoryTimeout, RetryCount: 1},
		{Identifier: "10.1/b", Category: domain.CategoryServerError, RetryCount: 0},
	}}
	downloader := &stubRetryDownloader{results: map[string]*Result{
		"10.1/b": {Identifier: "10.1/b", Status: StatusFailed, FailureCategory: domain.CategoryServerError},
	}}
	w := NewRetryWorker(WorkerConfig{BatchSize: 10, TargetDir: t.TempDir()}, queue, downloader, zerolog.Nop())

	w.DrainOnce(context.Background())

	assert.Equal(t, []string{"10.1/a", "10.1/b"}, downloader.identifiers)
	assert.Equal(t, 1, queue.depthCalls)
}

func TestRetryWorker_DrainOnce_RespectsBatchSize(t *testing.T) {
	queue := &stubDueQueue{due: []*domain.RetryEntry{
		{Identifier: "10.1/a"},
		{Identifier: "10.1/b"},
		{Identifier: "10.1/c"},
	}}
	downloader := &stubRetryDownloader{}
	w := NewRetryWorker(WorkerConfig{BatchSize: 2, TargetDir: t.TempDir()}, queue, downloader, zerolog.Nop())

	w.DrainOnce(context.Background())

	assert.Len(t, downloader.identifiers, 2)
}

func TestRetryWorker_DrainOnce_EmptyQueueIsQuiet(t *testing.T) {
	queue := &stubDueQueue{}
	downloader := &stubRetryDownloader{}
	w := NewRetryWorker(WorkerConfig{TargetDir: t.TempDir()}, queue, downloader, zerolog.Nop())

	w.DrainOnce(context.Background())

	assert.Empty(t, downloader.identifiers)
	// No drain happened, so the gauge refresh is skipped too.
	assert.Zero(t, queue.depthCalls)
}

func TestRetryWorker_Run_StopsOnCancel(t *testing.T) {
	queue := &stubDueQueue{due: []*domain.RetryEntry{{Identifier: "10.1/a"}}}
	downloader := &stubRetryDownloader{}
	w := NewRetryWorker(WorkerConfig{Interval: 5 * time.Millisecond, BatchSize: 10, TargetDir: t.TempDir()}, queue, downloader, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		return downloader.seen() > 0
	}, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancellation")
	}
}
