package model

import "time"

// Provenance records where a decision was made. All fields are optional.
type Provenance struct {
	SessionID   string `json:"session_id,omitempty" yaml:"session_id,omitempty"`
	StatementID string `json:"statement_id,omitempty" yaml:"statement_id,omitempty"`
	PageInfo    string `json:"page_info,omitempty" yaml:"page_info,omitempty"`
	Destination string `json:"destination,omitempty" yaml:"destination,omitempty"`
}

// Merge returns p overlaid with the non-empty fields of next.
func (p Provenance) Merge(next Provenance) Provenance {
	if next.SessionID != "" {
		p.SessionID = next.SessionID
	}
	if next.StatementID != "" {
		p.StatementID = next.StatementID
	}
	if next.PageInfo != "" {
		p.PageInfo = next.PageInfo
	}
	if next.Destination != "" {
		p.Destination = next.Destination
	}
	return p
}

// Decision is a persisted human judgment about an (extracted, roster) name pair.
// Keys are normalized names.
type Decision struct {
	ExtractedKey string     `json:"extracted_name_key" yaml:"extracted_name_key"`
	RosterKey    string     `json:"roster_name_key" yaml:"roster_name_key"`
	Confirmed    bool       `json:"confirmed" yaml:"confirmed"`
	Score        float64    `json:"score_at_decision" yaml:"score_at_decision"`
	CreatedAt    time.Time  `json:"created_at" yaml:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" yaml:"updated_at"`
	Provenance   Provenance `json:"provenance" yaml:"provenance"`
}

// DecisionKey identifies a decision.
type DecisionKey struct {
	Extracted string
	Roster    string
}

// Key returns the decision's lookup key.
func (d Decision) Key() DecisionKey {
	return DecisionKey{Extracted: d.ExtractedKey, Roster: d.RosterKey}
}
