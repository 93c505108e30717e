// Package edgar locates and fetches SEC filings through the public EDGAR
// API and normalizes them to plain text.
package edgar

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/finsight-labs/filingrag/internal/domain"
	"golang.org/x/time/rate"
)

const (
	defaultTickersURL     = "https://www.sec.gov/files/company_tickers.json"
	defaultSubmissionsURL = "https://data.sec.gov/submissions"
	defaultArchivesURL    = "https://www.sec.gov/Archives/edgar/data"

	// SEC fair-use guidance allows at most 10 requests per second.
	requestsPerSecond = 10

	defaultMaxRetries     = 3
	defaultInitialBackoff = 500 * time.Millisecond
	defaultHTTPTimeout    = 30 * time.Second

	// rawCacheLimit bounds the resolve-time download cache so a long-running
	// process does not accumulate filing bodies indefinitely.
	rawCacheLimit = 8
)

// ClientConfig holds configuration for the EDGAR client.
type ClientConfig struct {
	// UserAgent is required by SEC guidelines and must identify the caller.
	UserAgent string

	// Base URLs are overridable for tests.
	TickersURL     string
	SubmissionsURL string
	ArchivesURL    string

	HTTPTimeout    time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
}

// Client is a rate-limited HTTP client for the SEC EDGAR API. It also
// keeps a small cache of raw filing bodies so that a resolve followed by
// a fetch of the same reference downloads the document only once.
type Client struct {
	httpClient     *http.Client
	limiter        *rate.Limiter
	userAgent      string
	tickersURL     string
	submissionsURL string
	archivesURL    string
	maxRetries     int
	initialBackoff time.Duration

	mu       sync.Mutex
	rawCache map[string]cachedDocument
}

type cachedDocument struct {
	body []byte
	hash string
}

// NewClient creates an EDGAR client with the given configuration.
func NewClient(cfg ClientConfig) *Client {
	if cfg.TickersURL == "" {
		cfg.TickersURL = defaultTickersURL
	}
	if cfg.SubmissionsURL == "" {
		cfg.SubmissionsURL = defaultSubmissionsURL
	}
	if cfg.ArchivesURL == "" {
		cfg.ArchivesURL = defaultArchivesURL
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = defaultHTTPTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaultInitialBackoff
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "filingrag/1.0 (ops@finsight-labs.example)"
	}

	return &Client{
		httpClient:     &http.Client{Timeout: cfg.HTTPTimeout},
		limiter:        rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond),
		userAgent:      cfg.UserAgent,
		tickersURL:     cfg.TickersURL,
		submissionsURL: cfg.SubmissionsURL,
		archivesURL:    cfg.ArchivesURL,
		maxRetries:     cfg.MaxRetries,
		initialBackoff: cfg.InitialBackoff,
		rawCache:       make(map[string]cachedDocument),
	}
}

// get performs a rate-limited GET with bounded exponential backoff on
// transient failures. A 404 is returned immediately without retrying.
func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	backoff := c.initialBackoff

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		body, retryable, err := c.getOnce(ctx, url)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
	}

	return nil, domain.NewDomainErrorWithCause(domain.ErrCodeFetch,
		fmt.Sprintf("request to %s failed after %d attempts", url, c.maxRetries), lastErr)
}

func (c *Client) getOnce(ctx context.Context, url string) (body []byte, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return nil, false, domain.NewDomainError(domain.ErrCodeNotFound,
			fmt.Sprintf("SEC returned 404 for %s", url))
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("SEC returned status %d for %s", resp.StatusCode, url)
	default:
		return nil, false, domain.NewDomainError(domain.ErrCodeFetch,
			fmt.Sprintf("SEC returned status %d for %s", resp.StatusCode, url))
	}

	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, err
	}
	return body, false, nil
}

// rawDocument downloads a filing body, serving from the resolve-time cache
// when the same URL was fetched recently.
func (c *Client) rawDocument(ctx context.Context, url string) ([]byte, string, error) {
	c.mu.Lock()
	if doc, ok := c.rawCache[url]; ok {
		c.mu.Unlock()
		return doc.body, doc.hash, nil
	}
	c.mu.Unlock()

	return c.refreshDocument(ctx, url)
}

// refreshDocument always downloads the filing body, replacing any cached
// copy. Resolution must use this path: serving a cached body during
// resolve would pin the content hash and hide amended filings.
func (c *Client) refreshDocument(ctx context.Context, url string) ([]byte, string, error) {
	body, err := c.get(ctx, url)
	if err != nil {
		return nil, "", err
	}
	hash := hashContent(body)
	c.cacheRaw(url, body, hash)
	return body, hash, nil
}

func (c *Client) cacheRaw(url string, body []byte, hash string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.rawCache) >= rawCacheLimit {
		for k := range c.rawCache {
			delete(c.rawCache, k)
			break
		}
	}
	c.rawCache[url] = cachedDocument{body: body, hash: hash}
}

func hashContent(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
