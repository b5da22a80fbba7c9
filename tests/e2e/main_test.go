//go:build e2e

// E2E tests exercise the HTTP API of a running full-text retrieval service:
//
//  1. docker compose up -d --wait (PostgreSQL)
//  2. FULLTEXT_DATABASE_SSL_MODE=disable go run ./cmd/server &
//  3. go test -tags e2e -v ./tests/e2e/...
//
// Point FULLTEXT_API_URL at the service if it is not on localhost:8080.
// The suite only touches the administrative and reporting surface; it never
// contacts external document providers.
package e2e

import (
	"fmt"
	"net/http"
	"os"
	"testing"
	"time"
)

var (
	apiBaseURL string
	httpClient = &http.Client{Timeout: 10 * time.Second}
)

func TestMain(m *testing.M) {
	apiBaseURL = os.Getenv("FULLTEXT_API_URL")
	if apiBaseURL == "" {
		apiBaseURL = "http://localhost:8080"
	}

	// Fail fast when the service is not reachable.
	resp, err := httpClient.Get(apiBaseURL + "/healthz")
	if err != nil {
		fmt.Fprintf(os.Stderr, "service not reachable at %s: %v\n", apiBaseURL, err)
		os.Exit(1)
	}
	resp.Body.Close()

	os.Exit(m.Run())
}
