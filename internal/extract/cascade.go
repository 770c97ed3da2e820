package extract

import (
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dnm-router/internal/model"
)

var (
	subtotalRe  = regexp.MustCompile(`(?i)Subtotal\s+\$[\d,]+\.\d{2}\s+([^\n\r]+?)\s+Total Due\s+\$[\d,]+\.\d{2}`)
	multilineRe = regexp.MustCompile(`(?i)([^\n\r]+\n[^\n\r]*?)\s+Total Due\s+\$[\d,]+\.\d{2}`)
	lineEndRe   = regexp.MustCompile(`(?i)(\S[^\n\r]*?)\s+Total Due\s+\$[\d,]+\.\d{2}`)
	spaceRe     = regexp.MustCompile(`\s+`)

	streetRe = regexp.MustCompile(`^\d{1,6}[A-Za-z]?\s+[A-Za-z0-9]`)
	poBoxRe  = regexp.MustCompile(`(?i)\b(p\.?\s*o\.?\s*box|post\s+office\s+box)\b`)
	postalRe = regexp.MustCompile(`(\b[A-Z]{2}\s+\d{5}(-\d{4})?\b)|(^\d{5}(-\d{4})?$)|(\b[A-Z]\d[A-Z]\s?\d[A-Z]\d\b)`)
	headerRe = regexp.MustCompile(`(?i)^(statement(\s+of\s+(account|open\s+invoice\(s\)))?|statement\s+date|invoice(\s+(number|date))?|remit\s+to|bill\s+to|account\s+(number|no\.?)|page\s*\d+\s*of\s*\d+|total\s+due|amount|description)\b`)
)

// ErrAmbiguous marks a page where no rule produced a usable name and the first
// line was taken verbatim. It is logged, never returned.
var ErrAmbiguous = eris.New("extract: ambiguous company name")

// maxAccumulatedLines caps the address-anchored multiline rule.
const maxAccumulatedLines = 3

// Result is the outcome of the extraction cascade for one page.
type Result struct {
	Name           string
	Method         model.ExtractionMethod
	FallbackUsed   bool
	FallbackReason string
	FirstLine      string
	// Alternate is the first line when the chosen rule disagrees with it.
	Alternate string
}

// Extractor runs the name cascade and records an extraction log entry for
// every page it sees. Safe for concurrent use.
type Extractor struct {
	cfg Config
	log *Log
}

// New creates an Extractor. A nil log disables logging.
func New(cfg Config, log *Log) *Extractor {
	if cfg.MaxNameLength <= 0 {
		cfg.MaxNameLength = defaultMaxNameLength
	}
	return &Extractor{cfg: cfg, log: log}
}

// Config returns the extractor configuration.
func (e *Extractor) Config() Config {
	return e.cfg
}

// Log returns the extraction log, which may be nil.
func (e *Extractor) Log() *Log {
	return e.log
}

// Extract parses text and runs the cascade on it.
func (e *Extractor) Extract(index int, text string) Result {
	return e.ExtractPage(ParsePage(e.cfg, index, text))
}

// ExtractPage runs the cascade on a parsed page. First matching rule wins:
// subtotal block, multi-line block, single line, then the first line verbatim.
func (e *Extractor) ExtractPage(p Page) Result {
	first := p.FirstLine()
	res := e.cascade(p, first)
	res.FirstLine = first
	if first != "" && res.Name != first {
		res.Alternate = first
	}

	if res.FallbackUsed {
		zap.L().Debug("extract: fallback used",
			zap.Int("page_index", p.Index),
			zap.String("name", res.Name),
			zap.Error(eris.Wrap(ErrAmbiguous, res.FallbackReason)),
		)
	}

	e.log.Append(model.ExtractionLogEntry{
		PageIndex:    p.Index,
		Method:       res.Method,
		FallbackUsed: res.FallbackUsed,
		Match:        res.Name == first,
		Extracted:    res.Name,
		FirstLine:    first,
	})
	return res
}

func (e *Extractor) cascade(p Page, first string) Result {
	if strings.TrimSpace(p.Text) == "" {
		return Result{Method: model.MethodFallback, FallbackUsed: true, FallbackReason: "empty page text"}
	}
	if len(p.Lines) == 0 {
		return Result{Method: model.MethodFallback, FallbackUsed: true, FallbackReason: "no content lines"}
	}

	tooLong := false

	if m := subtotalRe.FindStringSubmatch(p.Text); m != nil {
		if name := collapse(m[1]); name != "" {
			if len(name) <= e.cfg.MaxNameLength {
				return Result{Name: name, Method: model.MethodSubtotal}
			}
			tooLong = true
		}
	}

	if m := multilineRe.FindStringSubmatch(p.Text); m != nil {
		if name := collapse(m[1]); name != "" {
			if len(name) <= e.cfg.MaxNameLength {
				return Result{Name: name, Method: model.MethodMultiline}
			}
			tooLong = true
		}
	}

	if m := lineEndRe.FindStringSubmatch(p.Text); m != nil {
		if name := collapse(m[1]); name != "" {
			if len(name) <= e.cfg.MaxNameLength {
				return Result{Name: name, Method: model.MethodLine}
			}
			tooLong = true
		}
	}

	if !tooLong {
		if name, n := accumulateToAddress(p.Lines); n >= 2 && len(name) <= e.cfg.MaxNameLength {
			return Result{Name: name, Method: model.MethodMultiline}
		}
		if !IsAddressLine(first) && !IsBoilerplate(first) && len(first) <= e.cfg.MaxNameLength {
			return Result{Name: first, Method: model.MethodLine}
		}
	}

	reason := "no pattern matched"
	if tooLong {
		reason = "candidate exceeded maximum name length"
	}
	return Result{Name: first, Method: model.MethodFallback, FallbackUsed: true, FallbackReason: reason}
}

// accumulateToAddress joins lines from the top until an address line. It
// returns the joined name and the number of lines used, or 0 when no address
// line follows within maxAccumulatedLines.
func accumulateToAddress(lines []string) (string, int) {
	var acc []string
	for _, line := range lines {
		if IsAddressLine(line) {
			if len(acc) == 0 {
				return "", 0
			}
			return collapse(strings.Join(acc, " ")), len(acc)
		}
		if IsBoilerplate(line) || len(acc) == maxAccumulatedLines {
			return "", 0
		}
		acc = append(acc, line)
	}
	return "", 0
}

// IsAddressLine reports whether line looks like a street, PO box or postal line.
func IsAddressLine(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	return streetRe.MatchString(line) || poBoxRe.MatchString(line) || postalRe.MatchString(line)
}

// IsBoilerplate reports whether line is a statement header rather than a name.
func IsBoilerplate(line string) bool {
	return headerRe.MatchString(strings.TrimSpace(line))
}

func collapse(s string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}
