// Package httpfetch provides the generic HTTP fetcher adapter.
//
// One httpfetch.Fetcher serves one catalog provider: it resolves the
// provider's URL template against an identifier, downloads the document, and
// maps every failure onto a domain.FailureCategory. Provider-specific wire
// protocols beyond a URL template and an optional API key are out of scope.
package httpfetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/helixir/fulltext-service/internal/domain"
	"github.com/helixir/fulltext-service/internal/sources"
)

// identifierPlaceholder is the token in a provider's base URL that gets
// replaced with the (path-escaped) identifier.
const identifierPlaceholder = "{identifier}"

// Config holds fetcher configuration for one provider.
type Config struct {
	// ProviderName is the catalog name this fetcher serves.
	ProviderName string

	// BaseURL is the URL template containing the {identifier} placeholder,
	// e.g. "https://api.unpaywall.org/v2/{identifier}?email=ops@example.org".
	BaseURL string

	// APIKey, when set, is sent as a bearer token.
	APIKey string

	// MaxSize is the maximum document size in bytes. Default: 100MB.
	MaxSize int64

	// UserAgent is the User-Agent header. Default: "Helixir-Fulltext/1.0".
	UserAgent string

	// RateLimit is the sustained request rate per second. Default: 1.
	RateLimit float64

	// AllowPrivateNetworks disables SSRF private-IP checks. This MUST only
	// be set to true in test environments. Production code must never set this.
	AllowPrivateNetworks bool
}

// Fetcher is the generic HTTP implementation of sources.Fetcher.
type Fetcher struct {
	name                 string
	baseURL              string
	apiKey               string
	maxSize              int64
	userAgent            string
	allowPrivateNetworks bool // For testing only; never enable in production.
	limiter              *sources.RateLimiter
	client               *http.Client
	logger               zerolog.Logger
}

// Compile-time interface verification.
var _ sources.Fetcher = (*Fetcher)(nil)

// New creates a fetcher for one provider.
func New(cfg Config, logger zerolog.Logger) *Fetcher {
	if cfg.MaxSize == 0 {
		cfg.MaxSize = 100 * 1024 * 1024 // 100MB
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Mozilla/5.0 (compatible; Helixir-Fulltext/1.0; +https://helixir.io/bot)"
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 1
	}

	f := &Fetcher{
		name:                 cfg.ProviderName,
		baseURL:              cfg.BaseURL,
		apiKey:               cfg.APIKey,
		maxSize:              cfg.MaxSize,
		userAgent:            cfg.UserAgent,
		allowPrivateNetworks: cfg.AllowPrivateNetworks,
		limiter:              sources.NewRateLimiter(cfg.RateLimit, 1),
		logger:               logger.With().Str("component", "httpfetch").Str("provider", cfg.ProviderName).Logger(),
	}

	// No client-level timeout; the orchestrator bounds each fetch through the
	// context deadline. Redirect targets are re-validated against private IP
	// checks to prevent SSRF via open redirects.
	f.client = &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return domain.NewFetchError(f.name, domain.CategoryNetworkError, errors.New("too many redirects"))
			}
			if !f.allowPrivateNetworks {
				if err := validateURLNotPrivate(req.URL.String()); err != nil {
					return domain.NewFetchError(f.name, domain.CategoryNetworkError, err)
				}
			}
			return nil
		},
	}

	return f
}

// Name returns the catalog name of the provider this fetcher serves.
func (f *Fetcher) Name() string {
	return f.name
}

// ResolveURL expands the provider's URL template for an identifier.
func (f *Fetcher) ResolveURL(identifier string) string {
	escaped := url.PathEscape(identifier)
	// DOI slashes are meaningful path separators for most providers.
	escaped = strings.ReplaceAll(escaped, "%2F", "/")
	return strings.ReplaceAll(f.baseURL, identifierPlaceholder, escaped)
}

// Fetch retrieves the document for an identifier. Every failure is returned
// as a *domain.FetchError carrying a FailureCategory.
func (f *Fetcher) Fetch(ctx context.Context, identifier string) (*sources.FetchResult, error) {
	if identifier == "" {
		return nil, domain.NewFetchError(f.name, domain.CategoryNotFound, errors.New("empty identifier"))
	}

	if err := f.limiter.Wait(ctx); err != nil {
		return nil, f.classifyTransport(err)
	}

	target := f.ResolveURL(identifier)
	if !f.allowPrivateNetworks {
		if err := validateURLNotPrivate(target); err != nil {
			return nil, domain.NewFetchError(f.name, domain.CategoryNetworkError, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, domain.NewFetchError(f.name, domain.CategoryNetworkError, err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/pdf, */*;q=0.8")
	if f.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+f.apiKey)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, f.classifyTransport(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		fe := &domain.FetchError{
			Provider:   f.name,
			Category:   classifyStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
		}
		f.logger.Debug().Int("status", resp.StatusCode).Str("category", string(fe.Category)).Str("identifier", identifier).Msg("fetch failed")
		return nil, fe
	}

	// Read one extra byte to detect oversized responses.
	limitReader := io.LimitReader(resp.Body, f.maxSize+1)
	content, err := io.ReadAll(limitReader)
	if err != nil {
		return nil, f.classifyTransport(err)
	}
	if int64(len(content)) > f.maxSize {
		return nil, domain.NewFetchError(f.name, domain.CategoryInvalidContent,
			fmt.Errorf("document exceeds %d bytes", f.maxSize))
	}

	contentType := resp.Header.Get("Content-Type")
	if err := validateContent(content, contentType); err != nil {
		return nil, domain.NewFetchError(f.name, domain.CategoryInvalidContent, err)
	}

	hash := sha256.Sum256(content)
	return &sources.FetchResult{
		Content:     content,
		ContentHash: hex.EncodeToString(hash[:]),
		SizeBytes:   int64(len(content)),
		ContentType: contentType,
		URLUsed:     target,
	}, nil
}

// classifyTransport maps transport-level errors onto failure categories.
// Deadline expiry counts as a timeout; everything else is a network error.
func (f *Fetcher) classifyTransport(err error) *domain.FetchError {
	category := domain.CategoryNetworkError
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		category = domain.CategoryTimeout
	}
	return domain.NewFetchError(f.name, category, err)
}

// classifyStatus maps an HTTP status onto a failure category.
func classifyStatus(status int) domain.FailureCategory {
	switch {
	case status == http.StatusTooManyRequests:
		return domain.CategoryRateLimit
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domain.CategoryAuthentication
	case status == http.StatusPaymentRequired:
		return domain.CategoryPaywall
	case status == http.StatusNotFound || status == http.StatusGone:
		return domain.CategoryNotFound
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return domain.CategoryTimeout
	case status >= 500:
		return domain.CategoryServerError
	default:
		return domain.CategoryNetworkError
	}
}

// validateContent checks that the body looks like a usable full-text document.
// An HTML body behind a 200 is the classic paywall landing page.
func validateContent(content []byte, contentType string) error {
	if len(content) == 0 {
		return errors.New("empty document body")
	}
	ct := strings.ToLower(contentType)
	if strings.Contains(ct, "text/html") {
		return errors.New("received HTML landing page instead of a document")
	}
	if strings.Contains(ct, "application/pdf") && !strings.HasPrefix(string(content[:min(5, len(content))]), "%PDF-") {
		return errors.New("body does not start with a PDF header")
	}
	return nil
}

// isPrivateIP returns true if the IP address is in a private, loopback, or
// otherwise non-routable range. Covers both IPv4 and IPv6 private ranges.
func isPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}
	privateRanges := []struct{ start, end net.IP }{
		{net.ParseIP("10.0.0.0"), net.ParseIP("10.255.255.255")},
		{net.ParseIP("172.16.0.0"), net.ParseIP("172.31.255.255")},
		{net.ParseIP("192.168.0.0"), net.ParseIP("192.168.255.255")},
		{net.ParseIP("169.254.0.0"), net.ParseIP("169.254.255.255")},
		// IPv6 Unique Local Addresses (fc00::/7).
		{net.ParseIP("fc00::"), net.ParseIP("fdff:ffff:ffff:ffff:ffff:ffff:ffff:ffff")},
		// IPv6 link-local (fe80::/10).
		{net.ParseIP("fe80::"), net.ParseIP("febf:ffff:ffff:ffff:ffff:ffff:ffff:ffff")},
	}
	for _, r := range privateRanges {
		if bytesInRange(ip.To16(), r.start.To16(), r.end.To16()) {
			return true
		}
	}
	return false
}

func bytesInRange(ip, lo, hi []byte) bool {
	for i := range ip {
		if ip[i] < lo[i] {
			return false
		}
		if ip[i] > hi[i] {
			return false
		}
	}
	return true
}

// validateURLNotPrivate resolves the hostname and rejects private IPs.
func validateURLNotPrivate(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	// Reject non-HTTP(S) schemes to prevent file://, gopher://, etc.
	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
		// allowed
	default:
		return fmt.Errorf("scheme %q is not allowed", parsed.Scheme)
	}

	host := parsed.Hostname()
	ips, err := net.LookupHost(host)
	if err != nil {
		return fmt.Errorf("DNS lookup failed for %s: %w", host, err)
	}
	for _, ipStr := range ips {
		ip := net.ParseIP(ipStr)
		if ip != nil && isPrivateIP(ip) {
			return fmt.Errorf("%s resolves to private address %s", host, ipStr)
		}
	}
	return nil
}
