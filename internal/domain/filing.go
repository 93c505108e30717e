package domain

import (
	"fmt"
	"strings"
	"time"
)

// SectionKind identifies a retrievable section of a 10-K filing.
type SectionKind string

const (
	SectionRiskFactors   SectionKind = "risk_factors"
	SectionBusiness      SectionKind = "business"
	SectionMDA           SectionKind = "mda"
	SectionLegal         SectionKind = "legal"
	SectionExecutives    SectionKind = "executives"
	SectionCompensation  SectionKind = "compensation"
	SectionCybersecurity SectionKind = "cybersecurity"
	SectionFull          SectionKind = "full"
)

// ValidSectionKinds lists every section kind accepted by the service.
var ValidSectionKinds = []SectionKind{
	SectionRiskFactors,
	SectionBusiness,
	SectionMDA,
	SectionLegal,
	SectionExecutives,
	SectionCompensation,
	SectionCybersecurity,
	SectionFull,
}

func isValidSectionKind(s SectionKind) bool {
	for _, v := range ValidSectionKinds {
		if s == v {
			return true
		}
	}
	return false
}

// DocumentKey identifies one retrievable corpus: a ticker plus a filing
// section. It is the partition key for the index cache and is immutable
// once constructed.
type DocumentKey struct {
	Ticker  string
	Section SectionKind
}

// NewDocumentKey validates and normalizes a ticker/section pair.
// Tickers are upper-cased so "aapl" and "AAPL" address the same index.
func NewDocumentKey(ticker string, section SectionKind) (DocumentKey, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if ticker == "" {
		return DocumentKey{}, ErrMissingTicker
	}
	if !isValidSectionKind(section) {
		return DocumentKey{}, ErrInvalidSectionKind
	}
	return DocumentKey{Ticker: ticker, Section: section}, nil
}

// String renders the key in its canonical "TICKER:section" form, used for
// on-disk snapshot names and log lines.
func (k DocumentKey) String() string {
	return k.Ticker + ":" + string(k.Section)
}

// FilingReference pins one fetched filing snapshot. ContentHash is a
// SHA-256 digest of the raw document body; it is the authoritative
// staleness signal, independent of the nominal filing date (a filing can
// be amended without a new date).
type FilingReference struct {
	Key             DocumentKey
	AccessionNumber string
	FilingDate      time.Time
	SourceURL       string
	ContentHash     string
}

// Same reports whether two references point at identical filing content.
func (r FilingReference) Same(other FilingReference) bool {
	return r.ContentHash != "" && r.ContentHash == other.ContentHash
}

// Passage is one retrievable unit of a filing section. Ordinal is a
// stable 0-based sequence number within a single snapshot, used for
// result ordering and citation.
type Passage struct {
	Key        DocumentKey
	Ordinal    int
	Text       string
	TokenCount int
	Embedding  []float32
}

// IndexEntry is the persisted unit of the vector store: one filing
// snapshot's passages plus the reference they were derived from. Entries
// are replaced wholesale on rebuild, never patched.
type IndexEntry struct {
	Key        DocumentKey
	Reference  FilingReference
	Passages   []Passage
	Dimensions int
	BuiltAt    time.Time
}

// ValidateIndexEntry enforces the snapshot invariants: the entry derives
// from exactly one content hash, ordinals are contiguous from zero, and
// every embedding has the entry's dimensionality.
func ValidateIndexEntry(e *IndexEntry) error {
	if e == nil {
		return fmt.Errorf("index entry cannot be nil")
	}
	if e.Key != e.Reference.Key {
		return fmt.Errorf("index entry key %s does not match reference key %s", e.Key, e.Reference.Key)
	}
	if e.Reference.ContentHash == "" {
		return fmt.Errorf("index entry reference has no content hash")
	}
	if len(e.Passages) == 0 {
		return fmt.Errorf("index entry has no passages")
	}
	if e.Dimensions <= 0 {
		return fmt.Errorf("index entry Dimensions must be positive")
	}
	for i, p := range e.Passages {
		if p.Ordinal != i {
			return fmt.Errorf("passage ordinal %d at position %d: ordinals must be contiguous from 0", p.Ordinal, i)
		}
		if p.Key != e.Key {
			return fmt.Errorf("passage %d key %s does not match entry key %s", i, p.Key, e.Key)
		}
		if len(p.Embedding) != e.Dimensions {
			return fmt.Errorf("passage %d has %d dimensions, entry expects %d", i, len(p.Embedding), e.Dimensions)
		}
		if strings.TrimSpace(p.Text) == "" {
			return fmt.Errorf("passage %d has empty text", i)
		}
	}
	return nil
}
