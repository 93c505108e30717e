package edgar

import (
	"bytes"
	"context"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/finsight-labs/filingrag/internal/domain"
)

var (
	whitespaceRE = regexp.MustCompile(`[ \t]+`)
	blankLinesRE = regexp.MustCompile(`\n\s*\n+`)
)

// Fetcher downloads a resolved filing and normalizes it to the plain text
// of the requested section.
type Fetcher struct {
	client *Client
}

// NewFetcher creates a Fetcher over the given EDGAR client.
func NewFetcher(client *Client) *Fetcher {
	return &Fetcher{client: client}
}

// Fetch returns the normalized plain text for the reference's section.
// The raw body must hash to the reference's content hash; a mismatch
// means the filing changed between resolution and fetch, which would
// break the one-snapshot-per-entry invariant, so it is an error.
func (f *Fetcher) Fetch(ctx context.Context, ref domain.FilingReference) (string, error) {
	body, hash, err := f.client.rawDocument(ctx, ref.SourceURL)
	if err != nil {
		return "", err
	}
	if hash != ref.ContentHash {
		return "", domain.NewDomainError(domain.ErrCodeFetch, "filing content changed between resolve and fetch")
	}

	text, err := normalizeHTML(body)
	if err != nil {
		return "", domain.NewDomainErrorWithCause(domain.ErrCodeFetch, "failed to parse filing markup", err)
	}
	if strings.TrimSpace(text) == "" {
		return "", domain.ErrSectionEmpty
	}

	section, err := extractSection(text, ref.Key.Section)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(section) == "" {
		return "", domain.ErrSectionEmpty
	}
	return section, nil
}

// normalizeHTML strips markup and boilerplate from a filing document,
// leaving plain text. Script, style, and hidden iXBRL metadata blocks are
// dropped entirely; remaining whitespace is collapsed while paragraph
// breaks are preserved for the chunker.
func normalizeHTML(body []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", err
	}

	doc.Find("script, style, ix\\:header").Remove()

	var b strings.Builder
	doc.Find("body").Each(func(_ int, sel *goquery.Selection) {
		sel.Contents().Each(func(_ int, node *goquery.Selection) {
			writeBlockText(&b, node)
		})
	})

	text := b.String()
	if strings.TrimSpace(text) == "" {
		// Plain-text filings have no body element.
		text = doc.Text()
	}

	text = whitespaceRE.ReplaceAllString(text, " ")
	text = blankLinesRE.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text), nil
}

// writeBlockText renders an element's text followed by a paragraph break,
// so block-level structure survives into the normalized output.
func writeBlockText(b *strings.Builder, sel *goquery.Selection) {
	text := strings.TrimSpace(sel.Text())
	if text == "" {
		return
	}
	b.WriteString(text)
	b.WriteString("\n\n")
}
