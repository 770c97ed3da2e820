package model

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Question asks whether an extracted name and a roster name are the same company.
type Question struct {
	ID            string         `json:"id"`
	StatementID   string         `json:"statement_id"`
	ExtractedName string         `json:"extracted_name"`
	ExtractedKey  string         `json:"extracted_key"`
	RosterName    string         `json:"roster_name"`
	RosterKey     string         `json:"roster_key"`
	Score         float64        `json:"score"`
	PageInfo      string         `json:"page_info,omitempty"`
	Status        QuestionStatus `json:"status"`
	Index         int            `json:"index"`
	Total         int            `json:"total"`
}

// QuestionStatus tracks a question through a review session.
type QuestionStatus string

const (
	QuestionPending  QuestionStatus = "pending"
	QuestionAnswered QuestionStatus = "answered"
	QuestionSkipped  QuestionStatus = "skipped"
)

// Answer is a reviewer's response to a question.
type Answer string

const (
	AnswerYes      Answer = "yes"
	AnswerNo       Answer = "no"
	AnswerSkip     Answer = "skip"
	AnswerPrevious Answer = "previous"
)

// ParseAnswer accepts the long form and the single-letter prompt shortcuts.
func ParseAnswer(s string) (Answer, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "y":
		return AnswerYes, nil
	case "no", "n":
		return AnswerNo, nil
	case "skip", "s":
		return AnswerSkip, nil
	case "previous", "prev", "p", "back":
		return AnswerPrevious, nil
	default:
		return "", eris.Errorf("model: unknown answer %q", s)
	}
}
