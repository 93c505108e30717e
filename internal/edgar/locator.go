package edgar

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/finsight-labs/filingrag/internal/domain"
)

// tickerEntry is one row of the SEC company_tickers.json registry.
type tickerEntry struct {
	CIK    int    `json:"cik_str"`
	Ticker string `json:"ticker"`
	Title  string `json:"title"`
}

// submissionsResponse is the company submissions document from
// data.sec.gov. Filing attributes arrive as parallel arrays.
type submissionsResponse struct {
	CIK     string `json:"cik"`
	Name    string `json:"name"`
	Filings struct {
		Recent recentFilings `json:"recent"`
	} `json:"filings"`
}

type recentFilings struct {
	AccessionNumber []string `json:"accessionNumber"`
	FilingDate      []string `json:"filingDate"`
	Form            []string `json:"form"`
	PrimaryDocument []string `json:"primaryDocument"`
}

// Locator resolves a ticker and section kind to a FilingReference for the
// company's latest 10-K. Resolution downloads the filing body once to
// compute the content hash; the body stays in the client's raw cache so a
// subsequent Fetch of the same reference does not re-download it.
type Locator struct {
	client *Client
}

// NewLocator creates a Locator over the given EDGAR client.
func NewLocator(client *Client) *Locator {
	return &Locator{client: client}
}

// Resolve returns the current latest 10-K reference for a ticker. It does
// not consult or compare against any cached index; freshness decisions
// belong to the index manager.
func (l *Locator) Resolve(ctx context.Context, key domain.DocumentKey) (domain.FilingReference, error) {
	cik, err := l.lookupCIK(ctx, key.Ticker)
	if err != nil {
		return domain.FilingReference{}, err
	}

	accession, filingDate, sourceURL, err := l.latestTenK(ctx, cik)
	if err != nil {
		return domain.FilingReference{}, err
	}

	_, hash, err := l.client.refreshDocument(ctx, sourceURL)
	if err != nil {
		return domain.FilingReference{}, err
	}

	return domain.FilingReference{
		Key:             key,
		AccessionNumber: accession,
		FilingDate:      filingDate,
		SourceURL:       sourceURL,
		ContentHash:     hash,
	}, nil
}

// lookupCIK maps a ticker to its zero-padded 10-digit CIK via the SEC
// company registry.
func (l *Locator) lookupCIK(ctx context.Context, ticker string) (string, error) {
	body, err := l.client.get(ctx, l.client.tickersURL)
	if err != nil {
		return "", err
	}

	var entries map[string]tickerEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return "", domain.NewDomainErrorWithCause(domain.ErrCodeFetch, "malformed SEC ticker registry", err)
	}

	for _, entry := range entries {
		if strings.EqualFold(entry.Ticker, ticker) {
			return fmt.Sprintf("%010d", entry.CIK), nil
		}
	}
	return "", domain.ErrTickerNotFound
}

// latestTenK finds the most recent 10-K in the company's submission
// history and constructs its Archives download URL.
func (l *Locator) latestTenK(ctx context.Context, cik string) (accession string, filingDate time.Time, sourceURL string, err error) {
	url := fmt.Sprintf("%s/CIK%s.json", l.client.submissionsURL, cik)
	body, err := l.client.get(ctx, url)
	if err != nil {
		return "", time.Time{}, "", err
	}

	var resp submissionsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", time.Time{}, "", domain.NewDomainErrorWithCause(domain.ErrCodeFetch, "malformed SEC submissions response", err)
	}

	recent := resp.Filings.Recent
	for i, form := range recent.Form {
		if form != "10-K" {
			continue
		}
		if i >= len(recent.AccessionNumber) || i >= len(recent.PrimaryDocument) {
			break
		}

		accession = recent.AccessionNumber[i]
		if i < len(recent.FilingDate) {
			filingDate, _ = time.Parse("2006-01-02", recent.FilingDate[i])
		}

		sourceURL = fmt.Sprintf("%s/%s/%s/%s",
			l.client.archivesURL,
			strings.TrimLeft(cik, "0"),
			strings.ReplaceAll(accession, "-", ""),
			recent.PrimaryDocument[i],
		)
		return accession, filingDate, sourceURL, nil
	}

	return "", time.Time{}, "", domain.ErrFilingNotFound
}
