package edgar

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/finsight-labs/filingrag/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testFilingHTML = `<html><body>
<p>Item 1. Business</p>
<p>Apple designs smartphones and personal computers.</p>
<p>Item 1A. Risk Factors</p>
<p>The company faces intense competition in all markets.</p>
<p>Item 1B. Unresolved Staff Comments</p>
</body></html>`

// edgarFixture runs fake SEC endpoints and returns a client pointed at them.
type edgarFixture struct {
	server       *httptest.Server
	client       *Client
	docDownloads atomic.Int64

	mu         sync.Mutex
	filingHTML string
}

func (f *edgarFixture) setFilingHTML(html string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filingHTML = html
}

func (f *edgarFixture) currentFilingHTML() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.filingHTML
}

func newEDGARFixture(t *testing.T) *edgarFixture {
	t.Helper()

	f := &edgarFixture{filingHTML: testFilingHTML}
	mux := http.NewServeMux()

	mux.HandleFunc("/files/company_tickers.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"0": {"cik_str": 320193, "ticker": "AAPL", "title": "Apple Inc."},
			"1": {"cik_str": 789019, "ticker": "MSFT", "title": "Microsoft Corp"}
		}`)
	})

	mux.HandleFunc("/submissions/CIK0000320193.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"cik": "320193",
			"name": "Apple Inc.",
			"filings": {"recent": {
				"accessionNumber": ["0000320193-25-000001", "0000320193-24-000123"],
				"filingDate": ["2025-02-01", "2024-11-01"],
				"form": ["8-K", "10-K"],
				"primaryDocument": ["pressrelease.htm", "aapl-20240928.htm"]
			}}
		}`)
	})

	mux.HandleFunc("/submissions/CIK0000789019.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"cik": "789019",
			"name": "Microsoft Corp",
			"filings": {"recent": {
				"accessionNumber": ["0000789019-25-000009"],
				"filingDate": ["2025-01-15"],
				"form": ["8-K"],
				"primaryDocument": ["pressrelease.htm"]
			}}
		}`)
	})

	mux.HandleFunc("/archives/320193/000032019324000123/aapl-20240928.htm", func(w http.ResponseWriter, r *http.Request) {
		f.docDownloads.Add(1)
		fmt.Fprint(w, f.currentFilingHTML())
	})

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)

	f.client = NewClient(ClientConfig{
		UserAgent:      "filingrag-test/1.0 (test@example.com)",
		TickersURL:     f.server.URL + "/files/company_tickers.json",
		SubmissionsURL: f.server.URL + "/submissions",
		ArchivesURL:    f.server.URL + "/archives",
		InitialBackoff: time.Millisecond,
	})
	return f
}

func mustKey(t *testing.T, ticker string, section domain.SectionKind) domain.DocumentKey {
	t.Helper()
	key, err := domain.NewDocumentKey(ticker, section)
	require.NoError(t, err)
	return key
}

func TestLocator_Resolve(t *testing.T) {
	f := newEDGARFixture(t)
	locator := NewLocator(f.client)

	ref, err := locator.Resolve(context.Background(), mustKey(t, "AAPL", domain.SectionRiskFactors))

	require.NoError(t, err)
	assert.Equal(t, "0000320193-24-000123", ref.AccessionNumber)
	assert.Equal(t, time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC), ref.FilingDate)
	assert.Contains(t, ref.SourceURL, "/archives/320193/000032019324000123/aapl-20240928.htm")
	assert.Len(t, ref.ContentHash, 64)
}

func TestLocator_Resolve_SkipsNonTenK(t *testing.T) {
	f := newEDGARFixture(t)
	locator := NewLocator(f.client)

	ref, err := locator.Resolve(context.Background(), mustKey(t, "AAPL", domain.SectionRiskFactors))

	require.NoError(t, err)
	// The newer 8-K must be skipped in favor of the 10-K.
	assert.NotContains(t, ref.SourceURL, "pressrelease")
}

func TestLocator_Resolve_TickerNotFound(t *testing.T) {
	f := newEDGARFixture(t)
	locator := NewLocator(f.client)

	_, err := locator.Resolve(context.Background(), mustKey(t, "ZZZZ", domain.SectionRiskFactors))

	assert.Equal(t, domain.ErrTickerNotFound, err)
}

func TestLocator_Resolve_NoTenKOnFile(t *testing.T) {
	f := newEDGARFixture(t)
	locator := NewLocator(f.client)

	_, err := locator.Resolve(context.Background(), mustKey(t, "MSFT", domain.SectionRiskFactors))

	assert.Equal(t, domain.ErrFilingNotFound, err)
}

func TestLocator_ResolveThenFetch_DownloadsOnce(t *testing.T) {
	f := newEDGARFixture(t)
	locator := NewLocator(f.client)
	fetcher := NewFetcher(f.client)

	ref, err := locator.Resolve(context.Background(), mustKey(t, "AAPL", domain.SectionRiskFactors))
	require.NoError(t, err)

	text, err := fetcher.Fetch(context.Background(), ref)
	require.NoError(t, err)
	assert.Contains(t, text, "intense competition")

	assert.Equal(t, int64(1), f.docDownloads.Load(), "resolve and fetch should share one download")
}

func TestLocator_Resolve_SeesAmendedFiling(t *testing.T) {
	f := newEDGARFixture(t)
	locator := NewLocator(f.client)
	key := mustKey(t, "AAPL", domain.SectionRiskFactors)

	first, err := locator.Resolve(context.Background(), key)
	require.NoError(t, err)

	f.setFilingHTML(`<html><body>
<p>Item 1A. Risk Factors</p>
<p>The amended filing adds a new litigation risk.</p>
<p>Item 1B. Unresolved Staff Comments</p>
</body></html>`)

	second, err := locator.Resolve(context.Background(), key)
	require.NoError(t, err)

	assert.NotEqual(t, first.ContentHash, second.ContentHash)
	assert.Equal(t, int64(2), f.docDownloads.Load(), "each resolve must re-download the filing")
}

func TestClient_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, "ok")
	}))
	defer server.Close()

	client := NewClient(ClientConfig{
		UserAgent:      "filingrag-test/1.0 (test@example.com)",
		InitialBackoff: time.Millisecond,
	})

	body, err := client.get(context.Background(), server.URL)

	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	assert.Equal(t, int64(3), calls.Load())
}

func TestClient_ExhaustsRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(ClientConfig{
		UserAgent:      "filingrag-test/1.0 (test@example.com)",
		MaxRetries:     2,
		InitialBackoff: time.Millisecond,
	})

	_, err := client.get(context.Background(), server.URL)

	require.Error(t, err)
	var domainErr *domain.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, domain.ErrCodeFetch, domainErr.Code)
}

func TestClient_DoesNotRetry404(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(ClientConfig{
		UserAgent:      "filingrag-test/1.0 (test@example.com)",
		InitialBackoff: time.Millisecond,
	})

	_, err := client.get(context.Background(), server.URL)

	require.Error(t, err)
	assert.Equal(t, int64(1), calls.Load())

	var domainErr *domain.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, domain.ErrCodeNotFound, domainErr.Code)
}

func TestClient_ClientErrorIsFetchError(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	client := NewClient(ClientConfig{
		UserAgent:      "filingrag-test/1.0 (test@example.com)",
		InitialBackoff: time.Millisecond,
	})

	_, err := client.get(context.Background(), server.URL)

	require.Error(t, err)
	assert.Equal(t, int64(1), calls.Load(), "client errors must not be retried")

	var domainErr *domain.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, domain.ErrCodeFetch, domainErr.Code)
}
