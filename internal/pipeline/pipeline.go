// Package pipeline routes a batch of statement pages: extraction, roster
// matching, review and destination resolution.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/dnm-router/internal/extract"
	"github.com/sells-group/dnm-router/internal/model"
	"github.com/sells-group/dnm-router/internal/monitoring"
	"github.com/sells-group/dnm-router/internal/resolve"
	"github.com/sells-group/dnm-router/internal/review"
	"github.com/sells-group/dnm-router/internal/route"
)

const defaultWorkers = 4

// ErrSkipAll is returned by an Answerer to skip every remaining question.
var ErrSkipAll = eris.New("pipeline: skip remaining questions")

// Config configures a Pipeline.
type Config struct {
	Extract   extract.Config
	Route     route.Config
	Threshold float64
	Workers   int
}

// Answerer supplies reviewer answers. st is the statement the question came
// from and may be nil.
type Answerer interface {
	Ask(ctx context.Context, q model.Question, st *model.Statement) (model.Answer, error)
}

// AnswerFunc adapts a function to Answerer.
type AnswerFunc func(ctx context.Context, q model.Question, st *model.Statement) (model.Answer, error)

// Ask calls f.
func (f AnswerFunc) Ask(ctx context.Context, q model.Question, st *model.Statement) (model.Answer, error) {
	return f(ctx, q, st)
}

// Pipeline is safe for concurrent use; each call works on its own statements.
type Pipeline struct {
	cfg      Config
	matcher  *resolve.Matcher
	resolver *route.Resolver
	sessions *review.Manager
}

// New creates a Pipeline whose review sessions live in sessions.
func New(cfg Config, sessions *review.Manager) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	return &Pipeline{
		cfg:      cfg,
		matcher:  resolve.NewMatcher(cfg.Threshold),
		resolver: route.New(cfg.Route),
		sessions: sessions,
	}
}

// Sessions returns the session registry.
func (p *Pipeline) Sessions() *review.Manager {
	return p.sessions
}

// Batch is the extraction and matching output for one document.
type Batch struct {
	Statements []*model.Statement
	Log        *extract.Log
}

// Match parses and groups pages, then extracts, normalizes and matches every
// statement concurrently. Statements keep page order.
func (p *Pipeline) Match(ctx context.Context, pages []string, roster *resolve.Roster) (*Batch, error) {
	start := time.Now()
	log := extract.NewLog()
	ex := extract.New(p.cfg.Extract, log)

	parsed := make([]extract.Page, len(pages))
	for i, text := range pages {
		parsed[i] = extract.ParsePage(p.cfg.Extract, i, text)
		if !parsed[i].Statement {
			zap.L().Debug("pipeline: page skipped, no start marker", zap.Int("page_index", i))
		}
	}
	groups := extract.GroupPages(parsed)

	statements := make([]*model.Statement, len(groups))
	m := monitoring.Default()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)
	for i, grp := range groups {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			st := ex.BuildStatement(grp)
			p.matchStatement(st, roster)
			m.ExtractionsTotal.WithLabelValues(string(st.ExtractionMethod)).Inc()
			m.CandidatesPerStatement.Observe(float64(len(st.Candidates)))
			statements[i] = st
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "pipeline: match statements")
	}

	summary := log.Summary()
	zap.L().Info("pipeline: statements matched",
		zap.Int("pages", len(pages)),
		zap.Int("statements", len(statements)),
		zap.Int("fallbacks", summary.Fallbacks),
		zap.Int("disagreements", summary.Disagreements),
		zap.Duration("elapsed", time.Since(start)),
	)
	return &Batch{Statements: statements, Log: log}, nil
}

func (p *Pipeline) matchStatement(st *model.Statement, roster *resolve.Roster) {
	st.NormalizedName = resolve.NormalizeName(st.CompanyName)
	if st.NormalizedName == "" {
		return
	}
	if e, ok := roster.Exact(st.NormalizedName); ok {
		st.ExactMatch = e.Name
		return
	}
	st.Candidates = p.matcher.Match(st.NormalizedName, roster)
}

// Start matches pages and opens a prepared review session over the result.
func (p *Pipeline) Start(ctx context.Context, pages []string, roster *resolve.Roster) (*review.Session, *Batch, error) {
	batch, err := p.Match(ctx, pages, roster)
	if err != nil {
		return nil, nil, err
	}
	s, err := p.sessions.Create(ctx, batch.Statements)
	if err != nil {
		return nil, nil, eris.Wrap(err, "pipeline: create session")
	}
	return s, batch, nil
}

// Result is a routed batch.
type Result struct {
	SessionID  string                     `json:"session_id"`
	Statements []*model.Statement         `json:"statements"`
	Summary    Summary                    `json:"summary"`
	Log        []model.ExtractionLogEntry `json:"extraction_log,omitempty"`
}

// Summary counts a routed batch.
type Summary struct {
	Statements   int                       `json:"statements"`
	Destinations map[model.Destination]int `json:"destinations"`
	Review       review.Progress           `json:"review"`
	Extraction   extract.LogSummary        `json:"extraction"`
}

// Finalize routes a resolved session. log may be nil.
func (p *Pipeline) Finalize(s *review.Session, log *extract.Log) (*Result, error) {
	statements, err := s.Finalize(p.resolver)
	if err != nil {
		return nil, err
	}
	res := &Result{
		SessionID:  s.ID(),
		Statements: statements,
		Log:        log.Entries(),
		Summary: Summary{
			Statements:   len(statements),
			Destinations: make(map[model.Destination]int),
			Review:       s.Progress(),
		},
	}
	if log != nil {
		res.Summary.Extraction = log.Summary()
	}
	for _, st := range statements {
		res.Summary.Destinations[st.Destination]++
	}
	return res, nil
}

// Run routes a document end to end, asking a for every question the memory
// cannot answer. Invalid answers and previous with nothing to go back to are
// re-asked. Any other error abandons the session; answers already given stay
// in memory.
func (p *Pipeline) Run(ctx context.Context, pages []string, roster *resolve.Roster, a Answerer) (*Result, error) {
	s, batch, err := p.Start(ctx, pages, roster)
	if err != nil {
		return nil, err
	}
	defer p.sessions.Delete(context.WithoutCancel(ctx), s.ID()) //nolint:errcheck

	if err := p.review(ctx, s, a); err != nil {
		return nil, err
	}
	return p.Finalize(s, batch.Log)
}

func (p *Pipeline) review(ctx context.Context, s *review.Session, a Answerer) error {
	log := zap.L().With(zap.String("session_id", s.ID()))
	for {
		q := s.Current()
		if q == nil {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return eris.Wrap(err, "pipeline: review cancelled")
		}

		ans, err := a.Ask(ctx, *q, s.Statement(q.StatementID))
		if errors.Is(err, ErrSkipAll) {
			n, err := s.SkipRemaining(ctx)
			if err != nil {
				return err
			}
			log.Info("pipeline: remaining questions skipped", zap.Int("skipped", n))
			return nil
		}
		if err != nil {
			return eris.Wrap(err, "pipeline: ask")
		}

		_, err = s.Answer(ctx, q.ID, ans)
		switch {
		case err == nil:
		case errors.Is(err, review.ErrInvalidAnswer), errors.Is(err, review.ErrNoHistory):
			log.Warn("pipeline: answer rejected", zap.Error(err))
		default:
			return err
		}
	}
}
