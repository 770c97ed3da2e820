// Package extract turns raw statement page text into a candidate company name.
package extract

import (
	"regexp"
	"strconv"
	"strings"
)

// Config controls how page text is delimited before the cascade runs.
type Config struct {
	// StartMarkers begin statement content (e.g. the sender's phone number).
	// When empty the whole page is content.
	StartMarkers []string `yaml:"start_markers" mapstructure:"start_markers"`
	// EndMarker ends statement content. Ignored when StartMarkers is empty.
	EndMarker string `yaml:"end_marker" mapstructure:"end_marker"`
	// SkipPhrases drop any content line that contains them.
	SkipPhrases []string `yaml:"skip_phrases" mapstructure:"skip_phrases"`
	// MaxNameLength rejects pattern results longer than this. Default 100.
	MaxNameLength int `yaml:"max_name_length" mapstructure:"max_name_length"`
}

const defaultMaxNameLength = 100

var pageRe = regexp.MustCompile(`(?i)Page\s*(\d+)\s*of\s*(\d+)`)

// Page is one parsed PDF page.
type Page struct {
	Index       int
	Text        string
	Lines       []string
	CurrentPage int
	TotalPages  int
	// Statement is false when markers are configured and not found.
	Statement bool
}

// FirstLine returns the first content line, or "".
func (p Page) FirstLine() string {
	if len(p.Lines) == 0 {
		return ""
	}
	return p.Lines[0]
}

// Rest returns the content lines after the first, newline joined.
func (p Page) Rest() string {
	if len(p.Lines) < 2 {
		return ""
	}
	return strings.Join(p.Lines[1:], "\n")
}

// ParsePage reads page numbering and the delimited content lines.
func ParsePage(cfg Config, index int, text string) Page {
	p := Page{Index: index, Text: text, CurrentPage: 1, TotalPages: 1, Statement: true}

	if m := pageRe.FindStringSubmatch(text); m != nil {
		cur, err1 := strconv.Atoi(m[1])
		tot, err2 := strconv.Atoi(m[2])
		if err1 == nil && err2 == nil && cur >= 1 && tot >= cur {
			p.CurrentPage, p.TotalPages = cur, tot
		}
	}

	content := text
	if len(cfg.StartMarkers) > 0 {
		start := -1
		for _, marker := range cfg.StartMarkers {
			if i := strings.Index(text, marker); i >= 0 && (start == -1 || i < start) {
				start = i
			}
		}
		end := len(text)
		if cfg.EndMarker != "" {
			end = strings.Index(text, cfg.EndMarker)
		}
		if start == -1 || end == -1 || start >= end {
			p.Statement = false
			return p
		}
		content = text[start:end]
		for _, marker := range cfg.StartMarkers {
			content = strings.ReplaceAll(content, marker, "")
		}
	}

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(strings.TrimRight(line, "\r"))
		if line == "" || containsAny(line, cfg.SkipPhrases) {
			continue
		}
		p.Lines = append(p.Lines, line)
	}
	return p
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if sub != "" && strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
