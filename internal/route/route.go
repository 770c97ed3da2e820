// Package route decides the mailing destination of a statement once its
// candidates have been resolved.
package route

import (
	"github.com/sells-group/dnm-router/internal/model"
)

// Config controls the resolver rules.
type Config struct {
	// EmailForcesDNM routes statements that mention an email address to DNM.
	EmailForcesDNM bool `yaml:"email_forces_dnm" mapstructure:"email_forces_dnm"`
}

// Result is the outcome for one statement.
type Result struct {
	Destination    model.Destination `json:"destination"`
	RequiresReview bool              `json:"requires_review"`
	Reason         string            `json:"reason"`
}

// Resolver applies the routing rules. It is stateless.
type Resolver struct {
	cfg Config
}

// New creates a Resolver.
func New(cfg Config) *Resolver {
	return &Resolver{cfg: cfg}
}

// Resolve applies, in order: exact roster match, any confirmed equivalence,
// the email rule, any unresolved equivalence, then the default mapping.
func (r *Resolver) Resolve(st *model.Statement, eqs []model.Equivalence) Result {
	if st.ExactMatch != "" {
		return Result{Destination: model.DestinationDNM, Reason: "exact roster match"}
	}
	unresolved := false
	for _, eq := range eqs {
		switch eq.Status {
		case model.EquivalenceConfirmed:
			return Result{Destination: model.DestinationDNM, Reason: "confirmed equivalence"}
		case model.EquivalenceUnresolved:
			unresolved = true
		}
	}
	if r.cfg.EmailForcesDNM && st.HasEmail {
		return Result{Destination: model.DestinationDNM, Reason: "email on statement"}
	}
	if unresolved {
		return Result{Destination: model.DestinationRequiresReview, RequiresReview: true, Reason: "unresolved candidates"}
	}
	return Result{Destination: DefaultDestination(st), Reason: "default mapping"}
}

// Apply resolves st and writes the result and equivalences onto it.
func (r *Resolver) Apply(st *model.Statement, eqs []model.Equivalence) Result {
	res := r.Resolve(st, eqs)
	st.Destination = res.Destination
	st.RequiresReview = res.RequiresReview
	st.Equivalences = eqs
	return res
}

// DefaultDestination maps a statement with no roster match by location and
// page count.
func DefaultDestination(st *model.Statement) model.Destination {
	switch {
	case st.Location == model.LocationForeign:
		return model.DestinationForeign
	case st.TotalPages <= 1:
		return model.DestinationDomesticSingle
	default:
		return model.DestinationDomesticMulti
	}
}
