// Package model defines the record types shared by the extraction, matching,
// review and routing stages.
package model

// ExtractionMethod names the cascade rule that produced a company name.
type ExtractionMethod string

const (
	MethodSubtotal  ExtractionMethod = "subtotal"
	MethodMultiline ExtractionMethod = "multiline"
	MethodLine      ExtractionMethod = "line"
	MethodFallback  ExtractionMethod = "fallback"
)

// Location is the coarse mailing region detected from statement text.
type Location string

const (
	LocationNational Location = "National"
	LocationForeign  Location = "Foreign"
)

// Destination is the final routing classification of a statement.
type Destination string

const (
	DestinationDNM            Destination = "DNM"
	DestinationForeign        Destination = "Foreign"
	DestinationDomesticSingle Destination = "DomesticSingle"
	DestinationDomesticMulti  Destination = "DomesticMulti"

	// DestinationRequiresReview marks a statement with unresolved candidates.
	// It is never a final destination.
	DestinationRequiresReview Destination = "RequiresReview"
)

// Final reports whether d is one of the four mailing destinations.
func (d Destination) Final() bool {
	switch d {
	case DestinationDNM, DestinationForeign, DestinationDomesticSingle, DestinationDomesticMulti:
		return true
	default:
		return false
	}
}

// RosterEntry is one name of the do-not-mail roster.
type RosterEntry struct {
	Name           string `json:"name"`
	NormalizedName string `json:"normalized_name"`
	Index          int    `json:"index"`
}

// Candidate is a roster entry scored against an extracted name.
type Candidate struct {
	RosterName       string  `json:"roster_name"`
	NormalizedRoster string  `json:"normalized_roster"`
	Score            float64 `json:"score"`
	RosterIndex      int     `json:"roster_index"`
}

// EquivalenceStatus is the review outcome of a single candidate.
type EquivalenceStatus string

const (
	EquivalenceConfirmed  EquivalenceStatus = "confirmed"
	EquivalenceRejected   EquivalenceStatus = "rejected"
	EquivalenceUnresolved EquivalenceStatus = "unresolved"
)

// Equivalence is the downstream report line for one candidate of a statement.
type Equivalence struct {
	RosterName string            `json:"roster_name"`
	Score      float64           `json:"score"`
	Status     EquivalenceStatus `json:"status"`
	FromMemory bool              `json:"from_memory"`
}

// Statement is one extracted statement (a page or a group of pages).
type Statement struct {
	ID                     string           `json:"id"`
	PageIndex              int              `json:"page_index"`
	Pages                  []int            `json:"pages"`
	PageRange              string           `json:"page_range"`
	CurrentPage            int              `json:"current_page"`
	TotalPages             int              `json:"total_pages"`
	RawTextExcerpt         string           `json:"raw_text_excerpt"`
	RestOfLines            string           `json:"rest_of_lines,omitempty"`
	CompanyName            string           `json:"company_name"`
	NormalizedName         string           `json:"normalized_name"`
	ExtractionMethod       ExtractionMethod `json:"extraction_method"`
	FallbackUsed           bool             `json:"fallback_used"`
	FallbackReason         string           `json:"fallback_reason,omitempty"`
	AlternateCandidateName string           `json:"alternate_candidate_name,omitempty"`
	Location               Location         `json:"location"`
	HasEmail               bool             `json:"has_email"`
	ExactMatch             string           `json:"exact_match,omitempty"`
	Candidates             []Candidate      `json:"candidates"`
	Destination            Destination      `json:"destination,omitempty"`
	RequiresReview         bool             `json:"requires_review"`
	Equivalences           []Equivalence    `json:"company_equivalences"`
}

// ExtractionLogEntry is a diagnostic record of one cascade run.
type ExtractionLogEntry struct {
	PageIndex    int              `json:"page_index"`
	Method       ExtractionMethod `json:"extraction_method"`
	FallbackUsed bool             `json:"fallback_used"`
	Match        bool             `json:"match"`
	Extracted    string           `json:"extracted"`
	FirstLine    string           `json:"first_line"`
}
