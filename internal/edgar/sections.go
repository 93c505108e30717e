package edgar

import (
	"regexp"

	"github.com/finsight-labs/filingrag/internal/domain"
)

// sectionMarker bounds one 10-K item by its start heading and the heading
// of whatever item follows it.
type sectionMarker struct {
	start *regexp.Regexp
	end   *regexp.Regexp
}

// sectionMarkers maps each extractable section to its 10-K item headings.
// Filings vary between "Item 1A. Risk Factors" and all-caps headings, so
// both forms are matched.
var sectionMarkers = map[domain.SectionKind]sectionMarker{
	domain.SectionRiskFactors: {
		start: regexp.MustCompile(`(?i)Item\s*1A\.?\s*Risk\s*Factors|RISK\s*FACTORS`),
		end:   regexp.MustCompile(`(?i)Item\s*1B|Item\s*1C|Item\s*2|UNRESOLVED\s*STAFF`),
	},
	domain.SectionBusiness: {
		start: regexp.MustCompile(`(?i)Item\s*1\.?\s*Business|PART\s*I\b.*?BUSINESS`),
		end:   regexp.MustCompile(`(?i)Item\s*1A|Risk\s*Factors`),
	},
	domain.SectionMDA: {
		start: regexp.MustCompile(`(?i)Item\s*7\.?\s*Management|MANAGEMENT.{0,40}DISCUSSION`),
		end:   regexp.MustCompile(`(?i)Item\s*7A|Item\s*8|QUANTITATIVE`),
	},
	domain.SectionLegal: {
		start: regexp.MustCompile(`(?i)Item\s*3\.?\s*Legal\s*Proceedings|LEGAL\s*PROCEEDINGS`),
		end:   regexp.MustCompile(`(?i)Item\s*4|MINE\s*SAFETY`),
	},
	domain.SectionExecutives: {
		start: regexp.MustCompile(`(?i)Item\s*10\.?\s*Directors|DIRECTORS.*EXECUTIVE\s*OFFICERS`),
		end:   regexp.MustCompile(`(?i)Item\s*11|EXECUTIVE\s*COMPENSATION`),
	},
	domain.SectionCompensation: {
		start: regexp.MustCompile(`(?i)Item\s*11\.?\s*Executive\s*Compensation|EXECUTIVE\s*COMPENSATION`),
		end:   regexp.MustCompile(`(?i)Item\s*12|SECURITY\s*OWNERSHIP`),
	},
	domain.SectionCybersecurity: {
		start: regexp.MustCompile(`(?i)Item\s*1C\.?\s*Cybersecurity|CYBERSECURITY`),
		end:   regexp.MustCompile(`(?i)Item\s*2|PROPERTIES`),
	},
}

// headingSkip keeps the end-marker search from matching the tail of the
// start heading itself.
const headingSkip = 100

// extractSection slices one item's text out of a normalized filing.
// SectionFull returns the whole document. A section that cannot be found
// yields ErrSectionEmpty so callers can tell "filing resolved but section
// unusable" apart from success.
func extractSection(text string, section domain.SectionKind) (string, error) {
	if section == domain.SectionFull {
		return text, nil
	}

	marker, ok := sectionMarkers[section]
	if !ok {
		return "", domain.ErrInvalidSectionKind
	}

	loc := marker.start.FindStringIndex(text)
	if loc == nil {
		return "", domain.ErrSectionEmpty
	}
	start := loc[0]

	searchFrom := start + headingSkip
	if searchFrom > len(text) {
		searchFrom = len(text)
	}

	end := len(text)
	if endLoc := marker.end.FindStringIndex(text[searchFrom:]); endLoc != nil {
		end = searchFrom + endLoc[0]
	}

	return text[start:end], nil
}
