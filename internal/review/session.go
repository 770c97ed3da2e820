// Package review drives the human question protocol for candidates that
// neither an exact match nor the decision memory could resolve.
package review

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dnm-router/internal/memory"
	"github.com/sells-group/dnm-router/internal/model"
	"github.com/sells-group/dnm-router/internal/monitoring"
	"github.com/sells-group/dnm-router/internal/route"
)

// State is the lifecycle state of a session.
type State string

const (
	StateIdle             State = "idle"
	StateQuestionsPending State = "questions_pending"
	StateAllResolved      State = "all_resolved"
	StateFinalized        State = "finalized"
	StateAbandoned        State = "abandoned"
)

var (
	// ErrStaleQuestion is returned for an answer to a question the session
	// does not know or has already resolved. The session is unaffected.
	ErrStaleQuestion = eris.New("review: stale question")
	// ErrInvalidAnswer is returned for an answer outside yes/no/skip/previous.
	ErrInvalidAnswer = eris.New("review: invalid answer")
	// ErrNoHistory is returned by previous when nothing has been answered.
	ErrNoHistory = eris.New("review: no answer to go back to")
	// ErrNotResolved is returned by Finalize while questions are pending.
	ErrNotResolved = eris.New("review: questions still pending")
	// ErrClosed is returned for any operation on a finalized or abandoned session.
	ErrClosed = eris.New("review: session closed")
	// ErrAlreadyPrepared is returned by a second Prepare.
	ErrAlreadyPrepared = eris.New("review: session already prepared")
)

// Options tune a session.
type Options struct {
	// AutoDNMThreshold confirms candidates scoring at or above it without
	// asking and without persisting. 0 disables.
	AutoDNMThreshold float64
}

// target is one candidate slot a question resolves.
type target struct {
	statementID string
	candidate   int
}

type question struct {
	model.Question
	targets []target

	// prior is the pair's stored decision before this session first wrote it.
	prior     *model.Decision
	persisted bool
	// reopened marks an answered question sent back to pending by previous.
	reopened bool
}

// Session is one review of a batch of statements. Methods are safe for
// concurrent use; calls are serialized.
type Session struct {
	mu sync.Mutex

	id    string
	state State
	opts  Options
	store memory.Store

	statements []*model.Statement
	byID       map[string]*model.Statement
	eqs        map[string][]model.Equivalence

	questions []*question
	qByID     map[string]*question
	history   []*question

	autoMemory    int
	autoThreshold int
	storeDown     bool

	createdAt time.Time
	updatedAt time.Time
}

// New creates an idle session over statements that already carry their
// normalized names and candidates.
func New(id string, statements []*model.Statement, store memory.Store, opts Options) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UTC()
	s := &Session{
		id:         id,
		state:      StateIdle,
		opts:       opts,
		store:      store,
		statements: statements,
		byID:       make(map[string]*model.Statement, len(statements)),
		eqs:        make(map[string][]model.Equivalence, len(statements)),
		qByID:      make(map[string]*question),
		createdAt:  now,
		updatedAt:  now,
	}
	for _, st := range statements {
		s.byID[st.ID] = st
	}
	return s
}

// ID returns the session ID.
func (s *Session) ID() string { return s.id }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Prepare resolves what it can from exact matches, the auto-DNM threshold and
// the decision memory, and turns every remaining candidate into a question.
// Questions are grouped by statement in statement order, candidates in
// descending score. A pair shared by several statements is asked once. When
// the memory store is unavailable every remaining candidate is asked.
func (s *Session) Prepare(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle {
		return ErrAlreadyPrepared
	}

	m := monitoring.Default()
	byPair := make(map[model.DecisionKey]*question)

	for _, st := range s.statements {
		if st.ExactMatch != "" || len(st.Candidates) == 0 {
			continue
		}
		eqs := make([]model.Equivalence, len(st.Candidates))
		for i, c := range st.Candidates {
			eqs[i] = model.Equivalence{RosterName: c.RosterName, Score: c.Score, Status: model.EquivalenceUnresolved}

			if s.opts.AutoDNMThreshold > 0 && c.Score >= s.opts.AutoDNMThreshold {
				eqs[i].Status = model.EquivalenceConfirmed
				s.autoThreshold++
				m.QuestionsTotal.WithLabelValues("auto").Inc()
				continue
			}

			key := model.DecisionKey{Extracted: st.NormalizedName, Roster: c.NormalizedRoster}
			if q, ok := byPair[key]; ok {
				q.targets = append(q.targets, target{statementID: st.ID, candidate: i})
				continue
			}

			if d := s.recall(ctx, key); d != nil {
				eqs[i].Status = statusFor(d.Confirmed)
				eqs[i].FromMemory = true
				s.autoMemory++
				m.QuestionsTotal.WithLabelValues("memory").Inc()
				continue
			}

			q := &question{
				Question: model.Question{
					ID:            uuid.NewString(),
					StatementID:   st.ID,
					ExtractedName: st.CompanyName,
					ExtractedKey:  key.Extracted,
					RosterName:    c.RosterName,
					RosterKey:     key.Roster,
					Score:         c.Score,
					PageInfo:      st.PageRange,
					Status:        model.QuestionPending,
				},
				targets: []target{{statementID: st.ID, candidate: i}},
			}
			byPair[key] = q
			s.questions = append(s.questions, q)
			s.qByID[q.ID] = q
		}
		s.eqs[st.ID] = eqs
	}

	for i, q := range s.questions {
		q.Index = i + 1
		q.Total = len(s.questions)
	}
	m.QuestionsTotal.WithLabelValues("asked").Add(float64(len(s.questions)))

	s.state = StateQuestionsPending
	if len(s.questions) == 0 {
		s.state = StateAllResolved
	}
	s.touch()

	zap.L().Info("review: session prepared",
		zap.String("session_id", s.id),
		zap.Int("statements", len(s.statements)),
		zap.Int("questions", len(s.questions)),
		zap.Int("from_memory", s.autoMemory),
		zap.Int("auto_dnm", s.autoThreshold),
		zap.Bool("store_unavailable", s.storeDown),
	)
	return nil
}

// recall looks the pair up in memory. Any store error disables further
// lookups for this session so the reviewer is asked instead.
func (s *Session) recall(ctx context.Context, key model.DecisionKey) *model.Decision {
	if s.storeDown || s.store == nil {
		return nil
	}
	d, err := s.store.Lookup(ctx, key.Extracted, key.Roster)
	monitoring.Default().MemoryOpsTotal.WithLabelValues("lookup", monitoring.Result(err)).Inc()
	if err != nil {
		s.storeDown = true
		zap.L().Warn("review: memory lookup failed, asking every candidate",
			zap.String("session_id", s.id),
			zap.Error(err),
		)
		return nil
	}
	return d
}

// Current returns the first pending question, or nil.
func (s *Session) Current() *model.Question {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, q := range s.questions {
		if q.Status == model.QuestionPending {
			out := q.Question
			return &out
		}
	}
	return nil
}

// Questions returns a copy of every question in order.
func (s *Session) Questions() []model.Question {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Question, len(s.questions))
	for i, q := range s.questions {
		out[i] = q.Question
	}
	return out
}

// Answer applies a reviewer answer. yes and no are persisted to the memory
// store before the question is marked answered; a store failure leaves the
// question pending. skip is never persisted. previous reopens the most
// recently resolved question (questionID is ignored) and persists nothing.
// Skipping a reopened question puts its pair back to the decision stored
// before this session answered it.
func (s *Session) Answer(ctx context.Context, questionID string, ans model.Answer) (*model.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateFinalized || s.state == StateAbandoned {
		return nil, ErrClosed
	}
	if s.state == StateIdle {
		return nil, eris.Wrap(ErrStaleQuestion, "session not prepared")
	}

	m := monitoring.Default()
	switch ans {
	case model.AnswerPrevious:
		q, err := s.back()
		if err == nil {
			m.QuestionsTotal.WithLabelValues("previous").Inc()
		}
		return q, err
	case model.AnswerYes, model.AnswerNo, model.AnswerSkip:
	default:
		return nil, eris.Wrapf(ErrInvalidAnswer, "%q", ans)
	}

	q, ok := s.qByID[questionID]
	if !ok || q.Status != model.QuestionPending {
		return nil, eris.Wrapf(ErrStaleQuestion, "question %s", questionID)
	}

	switch ans {
	case model.AnswerSkip:
		if err := s.restore(ctx, q); err != nil {
			return nil, err
		}
		q.Status = model.QuestionSkipped
	default:
		confirmed := ans == model.AnswerYes
		if err := s.persist(ctx, q, confirmed); err != nil {
			return nil, err
		}
		q.Status = model.QuestionAnswered
		q.reopened = false
		s.setTargets(q, statusFor(confirmed))
	}
	m.QuestionsTotal.WithLabelValues(string(ans)).Inc()

	s.history = append(s.history, q)
	s.refreshState()
	out := q.Question
	return &out, nil
}

// persist writes a yes/no answer. The first write of a question records the
// pair's prior decision so that a later restore can put it back.
func (s *Session) persist(ctx context.Context, q *question, confirmed bool) error {
	if s.store == nil {
		return nil
	}
	m := monitoring.Default()
	if !q.persisted {
		prior, err := s.store.Lookup(ctx, q.ExtractedKey, q.RosterKey)
		m.MemoryOpsTotal.WithLabelValues("lookup", monitoring.Result(err)).Inc()
		if err != nil {
			return eris.Wrapf(err, "review: read prior decision for %s", q.ID)
		}
		q.prior = prior
	}
	_, err := s.store.StoreOrUpdate(ctx, q.ExtractedKey, q.RosterKey, confirmed, q.Score, model.Provenance{
		SessionID:   s.id,
		StatementID: q.StatementID,
		PageInfo:    q.PageInfo,
	})
	m.MemoryOpsTotal.WithLabelValues("store_or_update", monitoring.Result(err)).Inc()
	if err != nil {
		return eris.Wrapf(err, "review: persist answer for %s", q.ID)
	}
	q.persisted = true
	return nil
}

// restore undoes this session's write for a reopened question: the pair is
// deleted when nothing was stored before, otherwise the prior decision is
// written back.
func (s *Session) restore(ctx context.Context, q *question) error {
	if !q.reopened || !q.persisted || s.store == nil {
		return nil
	}
	var err error
	op := "delete_pair"
	if q.prior == nil {
		_, err = s.store.DeletePair(ctx, q.ExtractedKey, q.RosterKey)
	} else {
		op = "store_or_update"
		_, err = s.store.StoreOrUpdate(ctx, q.ExtractedKey, q.RosterKey, q.prior.Confirmed, q.prior.Score, q.prior.Provenance)
	}
	monitoring.Default().MemoryOpsTotal.WithLabelValues(op, monitoring.Result(err)).Inc()
	if err != nil {
		return eris.Wrapf(err, "review: restore decision for %s", q.ID)
	}
	q.prior = nil
	q.persisted = false
	q.reopened = false
	return nil
}

func (s *Session) back() (*model.Question, error) {
	if len(s.history) == 0 {
		return nil, ErrNoHistory
	}
	q := s.history[len(s.history)-1]
	s.history = s.history[:len(s.history)-1]
	if q.Status == model.QuestionAnswered {
		q.reopened = true
	}
	q.Status = model.QuestionPending
	s.setTargets(q, model.EquivalenceUnresolved)
	s.refreshState()
	out := q.Question
	return &out, nil
}

// SkipRemaining marks every pending question skipped and returns how many.
// Reopened questions get their prior decision back first; a restore failure
// stops the sweep and leaves that question pending.
func (s *Session) SkipRemaining(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateFinalized || s.state == StateAbandoned {
		return 0, ErrClosed
	}
	n := 0
	var err error
	for _, q := range s.questions {
		if q.Status != model.QuestionPending {
			continue
		}
		if err = s.restore(ctx, q); err != nil {
			break
		}
		q.Status = model.QuestionSkipped
		s.history = append(s.history, q)
		n++
	}
	monitoring.Default().QuestionsTotal.WithLabelValues("skip").Add(float64(n))
	s.refreshState()
	return n, err
}

// Finalize routes every statement and writes destinations and equivalences
// onto them. Skipped candidates stay unresolved, so their statements route to
// RequiresReview unless another rule decides first.
func (s *Session) Finalize(resolver *route.Resolver) ([]*model.Statement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateFinalized, StateAbandoned:
		return nil, ErrClosed
	case StateAllResolved:
	default:
		return nil, ErrNotResolved
	}

	m := monitoring.Default()
	for _, st := range s.statements {
		res := resolver.Apply(st, s.eqs[st.ID])
		m.StatementsTotal.WithLabelValues(string(res.Destination)).Inc()
	}
	s.state = StateFinalized
	s.touch()
	zap.L().Info("review: session finalized", zap.String("session_id", s.id))
	return s.statements, nil
}

// Abandon discards pending questions. Decisions already answered stay
// stored; questions reopened by previous get their prior decision back. The
// session is abandoned even when a restore fails, and the first failure is
// returned.
func (s *Session) Abandon(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateFinalized || s.state == StateAbandoned {
		return nil
	}

	var first error
	for _, q := range s.questions {
		if err := s.restore(ctx, q); err != nil {
			zap.L().Warn("review: restore on abandon failed",
				zap.String("session_id", s.id),
				zap.String("question_id", q.ID),
				zap.Error(err),
			)
			if first == nil {
				first = err
			}
		}
	}
	s.state = StateAbandoned
	s.history = nil
	s.touch()
	return first
}

// UpdatedAt returns the time of the session's last state change.
func (s *Session) UpdatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updatedAt
}

// Progress summarizes the session.
type Progress struct {
	SessionID        string    `json:"session_id"`
	State            State     `json:"state"`
	Statements       int       `json:"statements"`
	Total            int       `json:"total"`
	Answered         int       `json:"answered"`
	Skipped          int       `json:"skipped"`
	Pending          int       `json:"pending"`
	FromMemory       int       `json:"from_memory"`
	AutoDNM          int       `json:"auto_dnm"`
	StoreUnavailable bool      `json:"store_unavailable"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Progress returns counts by question status.
func (s *Session) Progress() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := Progress{
		SessionID:        s.id,
		State:            s.state,
		Statements:       len(s.statements),
		Total:            len(s.questions),
		FromMemory:       s.autoMemory,
		AutoDNM:          s.autoThreshold,
		StoreUnavailable: s.storeDown,
		UpdatedAt:        s.updatedAt,
	}
	for _, q := range s.questions {
		switch q.Status {
		case model.QuestionAnswered:
			p.Answered++
		case model.QuestionSkipped:
			p.Skipped++
		default:
			p.Pending++
		}
	}
	return p
}

// Statements returns the session's statements. Destinations are set only
// after Finalize.
func (s *Session) Statements() []*model.Statement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statements
}

// Statement returns the statement with the given ID, or nil.
func (s *Session) Statement(id string) *model.Statement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byID[id]
}

func (s *Session) setTargets(q *question, status model.EquivalenceStatus) {
	for _, t := range q.targets {
		s.eqs[t.statementID][t.candidate].Status = status
		s.eqs[t.statementID][t.candidate].FromMemory = false
	}
}

func (s *Session) refreshState() {
	s.state = StateAllResolved
	for _, q := range s.questions {
		if q.Status == model.QuestionPending {
			s.state = StateQuestionsPending
			break
		}
	}
	s.touch()
}

func (s *Session) touch() {
	s.updatedAt = time.Now().UTC()
}

func statusFor(confirmed bool) model.EquivalenceStatus {
	if confirmed {
		return model.EquivalenceConfirmed
	}
	return model.EquivalenceRejected
}
