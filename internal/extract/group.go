package extract

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/sells-group/dnm-router/internal/model"
)

// Group is the pages of one statement, in page order.
type Group struct {
	Pages []Page
}

// First returns the first page of the group.
func (g Group) First() Page { return g.Pages[0] }

// Terminal returns the last page of the group, where totals are printed.
func (g Group) Terminal() Page { return g.Pages[len(g.Pages)-1] }

// GroupPages groups consecutive pages of multi-page statements using their
// "Page X of Y" numbering. Pages that are not statement content are dropped.
// A page whose numbering does not line up with its neighbours stands alone.
func GroupPages(pages []Page) []Group {
	var groups []Group
	for i := 0; i < len(pages); {
		p := pages[i]
		if !p.Statement {
			i++
			continue
		}
		n := 1
		if p.CurrentPage == 1 && p.TotalPages > 1 && consistentRun(pages[i:], p.TotalPages) {
			n = p.TotalPages
		}
		groups = append(groups, Group{Pages: pages[i : i+n]})
		i += n
	}
	return groups
}

func consistentRun(pages []Page, total int) bool {
	if len(pages) < total {
		return false
	}
	for k := 0; k < total; k++ {
		p := pages[k]
		if !p.Statement || p.CurrentPage != k+1 || p.TotalPages != total {
			return false
		}
	}
	return true
}

// BuildStatement extracts the company name for a group. Only the terminal page
// runs the cascade; the name is shared by every page of the group. Location
// and email detection read the first page, where the address block sits.
func (e *Extractor) BuildStatement(g Group) *model.Statement {
	first, terminal := g.First(), g.Terminal()
	res := e.ExtractPage(terminal)

	pages := make([]int, len(g.Pages))
	for i, p := range g.Pages {
		pages[i] = p.Index
	}

	rest := first.Rest()
	return &model.Statement{
		ID:                     fmt.Sprintf("stmt-%04d", first.Index+1),
		PageIndex:              first.Index,
		Pages:                  pages,
		PageRange:              PageRange(pages),
		CurrentPage:            first.CurrentPage,
		TotalPages:             len(g.Pages),
		RawTextExcerpt:         excerpt(terminal.Lines, 240),
		RestOfLines:            rest,
		CompanyName:            res.Name,
		ExtractionMethod:       res.Method,
		FallbackUsed:           res.FallbackUsed,
		FallbackReason:         res.FallbackReason,
		AlternateCandidateName: res.Alternate,
		Location:               DetectLocation(rest),
		HasEmail:               strings.Contains(strings.ToLower(rest), "email"),
	}
}

// PageRange renders 0-based page indexes as a 1-based range ("3" or "3-5").
func PageRange(pages []int) string {
	switch len(pages) {
	case 0:
		return ""
	case 1:
		return fmt.Sprintf("%d", pages[0]+1)
	default:
		return fmt.Sprintf("%d-%d", pages[0]+1, pages[len(pages)-1]+1)
	}
}

func excerpt(lines []string, max int) string {
	s := strings.Join(lines, "\n")
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

var usStates = map[string]bool{
	"AL": true, "AK": true, "AZ": true, "AR": true, "CA": true, "CO": true, "CT": true,
	"DE": true, "FL": true, "GA": true, "HI": true, "ID": true, "IL": true, "IN": true,
	"IA": true, "KS": true, "KY": true, "LA": true, "ME": true, "MD": true, "MA": true,
	"MI": true, "MN": true, "MS": true, "MO": true, "MT": true, "NE": true, "NV": true,
	"NH": true, "NJ": true, "NM": true, "NY": true, "NC": true, "ND": true, "OH": true,
	"OK": true, "OR": true, "PA": true, "RI": true, "SC": true, "SD": true, "TN": true,
	"TX": true, "UT": true, "VT": true, "VA": true, "WA": true, "WV": true, "WI": true,
	"WY": true, "DC": true,
}

var stateZipRe = regexp.MustCompile(`\b([A-Z]{2})\s+\d{5}(-\d{4})?\b`)

// DetectLocation reports National when the text carries a US state code,
// preferring a "ST 12345" pair, and Foreign otherwise.
func DetectLocation(text string) model.Location {
	for _, m := range stateZipRe.FindAllStringSubmatch(text, -1) {
		if usStates[m[1]] {
			return model.LocationNational
		}
	}
	tokens := strings.FieldsFunc(text, func(r rune) bool { return !unicode.IsLetter(r) })
	for _, tok := range tokens {
		if len(tok) == 2 && usStates[tok] {
			return model.LocationNational
		}
	}
	return model.LocationForeign
}
