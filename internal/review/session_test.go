package review

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dnm-router/internal/memory"
	"github.com/sells-group/dnm-router/internal/model"
	"github.com/sells-group/dnm-router/internal/route"
)

func stmt(id, name string, cands ...model.Candidate) *model.Statement {
	return &model.Statement{
		ID:             id,
		CompanyName:    name,
		NormalizedName: name,
		PageRange:      "1",
		TotalPages:     1,
		Location:       model.LocationNational,
		Candidates:     cands,
	}
}

func cand(roster string, score float64) model.Candidate {
	return model.Candidate{RosterName: roster, NormalizedRoster: roster, Score: score}
}

func prepared(t *testing.T, store memory.Store, opts Options, sts ...*model.Statement) *Session {
	t.Helper()
	s := New("", sts, store, opts)
	require.NoError(t, s.Prepare(context.Background()))
	return s
}

// failingStore errors on every call.
type failingStore struct {
	*memory.MemStore
	lookupErr error
	writeErr  error
}

func (f *failingStore) Lookup(ctx context.Context, ek, rk string) (*model.Decision, error) {
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	return f.MemStore.Lookup(ctx, ek, rk)
}

func (f *failingStore) StoreOrUpdate(ctx context.Context, ek, rk string, confirmed bool, score float64, prov model.Provenance) (*model.Decision, error) {
	if f.writeErr != nil {
		return nil, f.writeErr
	}
	return f.MemStore.StoreOrUpdate(ctx, ek, rk, confirmed, score, prov)
}

func TestPrepare_OrdersQuestions(t *testing.T) {
	s := prepared(t, memory.NewMemStore(), Options{},
		stmt("stmt-0001", "beta freight", cand("beta foods", 54.5)),
		stmt("stmt-0002", "acme", cand("acme corp", 80), cand("acme ltd", 60)),
	)

	qs := s.Questions()
	require.Len(t, qs, 3)
	assert.Equal(t, "beta foods", qs[0].RosterName)
	assert.Equal(t, "acme corp", qs[1].RosterName)
	assert.Equal(t, "acme ltd", qs[2].RosterName)
	for i, q := range qs {
		assert.Equal(t, i+1, q.Index)
		assert.Equal(t, 3, q.Total)
		assert.Equal(t, model.QuestionPending, q.Status)
	}
	assert.Equal(t, StateQuestionsPending, s.State())
	assert.Equal(t, qs[0].ID, s.Current().ID)
}

func TestPrepare_NothingToAsk(t *testing.T) {
	exact := stmt("stmt-0001", "acme corp")
	exact.ExactMatch = "Acme Corp"
	s := prepared(t, memory.NewMemStore(), Options{}, exact, stmt("stmt-0002", "zeta"))

	assert.Empty(t, s.Questions())
	assert.Nil(t, s.Current())
	assert.Equal(t, StateAllResolved, s.State())

	out, err := s.Finalize(route.New(route.Config{}))
	require.NoError(t, err)
	assert.Equal(t, model.DestinationDNM, out[0].Destination)
	assert.Equal(t, model.DestinationDomesticSingle, out[1].Destination)
	assert.Nil(t, out[0].Equivalences)
}

func TestPrepare_Twice(t *testing.T) {
	s := prepared(t, memory.NewMemStore(), Options{})
	assert.ErrorIs(t, s.Prepare(context.Background()), ErrAlreadyPrepared)
}

func TestAnswer_YesPersistsAndRoutesDNM(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemStore()
	s := prepared(t, store, Options{}, stmt("stmt-0001", "beta freight", cand("beta foods", 54.5)))

	q := s.Current()
	got, err := s.Answer(ctx, q.ID, model.AnswerYes)
	require.NoError(t, err)
	assert.Equal(t, model.QuestionAnswered, got.Status)
	assert.Equal(t, StateAllResolved, s.State())

	d, err := store.Lookup(ctx, "beta freight", "beta foods")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.True(t, d.Confirmed)
	assert.Equal(t, 54.5, d.Score)
	assert.Equal(t, s.ID(), d.Provenance.SessionID)
	assert.Equal(t, "stmt-0001", d.Provenance.StatementID)

	out, err := s.Finalize(route.New(route.Config{}))
	require.NoError(t, err)
	assert.Equal(t, model.DestinationDNM, out[0].Destination)
	require.Len(t, out[0].Equivalences, 1)
	assert.Equal(t, model.EquivalenceConfirmed, out[0].Equivalences[0].Status)
	assert.False(t, out[0].Equivalences[0].FromMemory)
}

func TestAnswer_NoRoutesDefault(t *testing.T) {
	ctx := context.Background()
	st := stmt("stmt-0001", "beta freight", cand("beta foods", 54.5))
	st.TotalPages = 3
	s := prepared(t, memory.NewMemStore(), Options{}, st)

	_, err := s.Answer(ctx, s.Current().ID, model.AnswerNo)
	require.NoError(t, err)

	out, err := s.Finalize(route.New(route.Config{}))
	require.NoError(t, err)
	assert.Equal(t, model.DestinationDomesticMulti, out[0].Destination)
	assert.False(t, out[0].RequiresReview)
	assert.Equal(t, model.EquivalenceRejected, out[0].Equivalences[0].Status)
}

func TestPrepare_NeverAsksTwice(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemStore()

	first := prepared(t, store, Options{}, stmt("stmt-0001", "beta freight", cand("beta foods", 54.5)))
	_, err := first.Answer(ctx, first.Current().ID, model.AnswerNo)
	require.NoError(t, err)

	second := prepared(t, store, Options{}, stmt("stmt-0009", "beta freight", cand("beta foods", 54.5)))
	assert.Empty(t, second.Questions())
	assert.Equal(t, 1, second.Progress().FromMemory)

	out, err := second.Finalize(route.New(route.Config{}))
	require.NoError(t, err)
	eq := out[0].Equivalences[0]
	assert.Equal(t, model.EquivalenceRejected, eq.Status)
	assert.True(t, eq.FromMemory)
}

func TestPrepare_SharedPairAskedOnce(t *testing.T) {
	ctx := context.Background()
	s := prepared(t, memory.NewMemStore(), Options{},
		stmt("stmt-0001", "beta freight", cand("beta foods", 54.5)),
		stmt("stmt-0002", "beta freight", cand("beta foods", 54.5)),
	)
	require.Len(t, s.Questions(), 1)

	_, err := s.Answer(ctx, s.Current().ID, model.AnswerYes)
	require.NoError(t, err)

	out, err := s.Finalize(route.New(route.Config{}))
	require.NoError(t, err)
	assert.Equal(t, model.DestinationDNM, out[0].Destination)
	assert.Equal(t, model.DestinationDNM, out[1].Destination)
}

func TestAnswer_SkipNeverPersists(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemStore()
	s := prepared(t, store, Options{}, stmt("stmt-0001", "beta freight", cand("beta foods", 54.5)))

	got, err := s.Answer(ctx, s.Current().ID, model.AnswerSkip)
	require.NoError(t, err)
	assert.Equal(t, model.QuestionSkipped, got.Status)

	st, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.TotalDecisions)

	out, err := s.Finalize(route.New(route.Config{}))
	require.NoError(t, err)
	assert.Equal(t, model.DestinationRequiresReview, out[0].Destination)
	assert.True(t, out[0].RequiresReview)
}

func TestAnswer_SkippedButEmailForcesDNM(t *testing.T) {
	st := stmt("stmt-0001", "beta freight", cand("beta foods", 54.5))
	st.HasEmail = true
	s := prepared(t, memory.NewMemStore(), Options{}, st)

	_, err := s.SkipRemaining(context.Background())
	require.NoError(t, err)

	out, err := s.Finalize(route.New(route.Config{EmailForcesDNM: true}))
	require.NoError(t, err)
	assert.Equal(t, model.DestinationDNM, out[0].Destination)
}

func TestAnswer_PreviousReopens(t *testing.T) {
	ctx := context.Background()
	s := prepared(t, memory.NewMemStore(), Options{},
		stmt("stmt-0001", "acme", cand("acme corp", 80), cand("acme ltd", 60)),
	)

	_, err := s.Answer(ctx, "", model.AnswerPrevious)
	assert.ErrorIs(t, err, ErrNoHistory)

	first := s.Current()
	_, err = s.Answer(ctx, first.ID, model.AnswerYes)
	require.NoError(t, err)
	second := s.Current()
	require.NotEqual(t, first.ID, second.ID)
	_, err = s.Answer(ctx, second.ID, model.AnswerSkip)
	require.NoError(t, err)
	assert.Equal(t, StateAllResolved, s.State())

	back, err := s.Answer(ctx, "", model.AnswerPrevious)
	require.NoError(t, err)
	assert.Equal(t, second.ID, back.ID)
	assert.Equal(t, model.QuestionPending, back.Status)
	assert.Equal(t, StateQuestionsPending, s.State())
	assert.Equal(t, second.ID, s.Current().ID)

	back, err = s.Answer(ctx, "", model.AnswerPrevious)
	require.NoError(t, err)
	assert.Equal(t, first.ID, back.ID)
	assert.Equal(t, first.ID, s.Current().ID)

	_, err = s.Finalize(route.New(route.Config{}))
	assert.ErrorIs(t, err, ErrNotResolved)
}

func TestAnswer_PreviousThenSkipForgetsAnswer(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemStore()
	s := prepared(t, store, Options{}, stmt("stmt-0001", "beta freight", cand("beta foods", 54.5)))

	q := s.Current()
	_, err := s.Answer(ctx, q.ID, model.AnswerYes)
	require.NoError(t, err)
	_, err = s.Answer(ctx, "", model.AnswerPrevious)
	require.NoError(t, err)
	_, err = s.Answer(ctx, q.ID, model.AnswerSkip)
	require.NoError(t, err)

	d, err := store.Lookup(ctx, "beta freight", "beta foods")
	require.NoError(t, err)
	assert.Nil(t, d, "a taken-back answer must not stay in memory")

	next := prepared(t, store, Options{}, stmt("stmt-0001", "beta freight", cand("beta foods", 54.5)))
	assert.Len(t, next.Questions(), 1)
}

func TestAnswer_PreviousThenSkipRestoresPriorDecision(t *testing.T) {
	ctx := context.Background()
	backend := memory.NewMemStore()
	_, err := backend.StoreOrUpdate(ctx, "beta freight", "beta foods", false, 54.5, model.Provenance{SessionID: "earlier"})
	require.NoError(t, err)

	// The lookup failure during Prepare makes the session ask a remembered pair.
	store := &failingStore{MemStore: backend, lookupErr: errors.New("connection refused")}
	s := prepared(t, store, Options{}, stmt("stmt-0001", "beta freight", cand("beta foods", 54.5)))
	store.lookupErr = nil

	q := s.Current()
	_, err = s.Answer(ctx, q.ID, model.AnswerYes)
	require.NoError(t, err)
	_, err = s.Answer(ctx, "", model.AnswerPrevious)
	require.NoError(t, err)
	_, err = s.SkipRemaining(ctx)
	require.NoError(t, err)

	d, err := backend.Lookup(ctx, "beta freight", "beta foods")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.False(t, d.Confirmed)
	assert.Equal(t, "earlier", d.Provenance.SessionID)
}

func TestAnswer_PreviousThenAnswerKeepsFinal(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemStore()
	s := prepared(t, store, Options{}, stmt("stmt-0001", "beta freight", cand("beta foods", 54.5)))

	q := s.Current()
	_, err := s.Answer(ctx, q.ID, model.AnswerYes)
	require.NoError(t, err)
	_, err = s.Answer(ctx, "", model.AnswerPrevious)
	require.NoError(t, err)
	_, err = s.Answer(ctx, q.ID, model.AnswerNo)
	require.NoError(t, err)

	d, err := store.Lookup(ctx, "beta freight", "beta foods")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.False(t, d.Confirmed)

	all, err := store.LookupAll(ctx, "beta freight")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestAbandon_RestoresReopenedAnswer(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemStore()
	s := prepared(t, store, Options{},
		stmt("stmt-0001", "acme", cand("acme corp", 80), cand("acme ltd", 60)),
	)

	first := s.Current()
	_, err := s.Answer(ctx, first.ID, model.AnswerNo)
	require.NoError(t, err)
	second := s.Current()
	_, err = s.Answer(ctx, second.ID, model.AnswerYes)
	require.NoError(t, err)
	_, err = s.Answer(ctx, "", model.AnswerPrevious)
	require.NoError(t, err)

	require.NoError(t, s.Abandon(ctx))

	d, err := store.Lookup(ctx, "acme", "acme ltd")
	require.NoError(t, err)
	assert.Nil(t, d, "reopened answer is taken back")
	d, err = store.Lookup(ctx, "acme", "acme corp")
	require.NoError(t, err)
	require.NotNil(t, d, "answers still standing stay stored")
	assert.False(t, d.Confirmed)
}

func TestAnswer_Stale(t *testing.T) {
	ctx := context.Background()
	s := prepared(t, memory.NewMemStore(), Options{}, stmt("stmt-0001", "beta freight", cand("beta foods", 54.5)))
	q := s.Current()

	_, err := s.Answer(ctx, "nope", model.AnswerYes)
	assert.ErrorIs(t, err, ErrStaleQuestion)

	_, err = s.Answer(ctx, q.ID, model.AnswerYes)
	require.NoError(t, err)
	_, err = s.Answer(ctx, q.ID, model.AnswerNo)
	assert.ErrorIs(t, err, ErrStaleQuestion)
	assert.Equal(t, StateAllResolved, s.State())
}

func TestAnswer_Invalid(t *testing.T) {
	s := prepared(t, memory.NewMemStore(), Options{}, stmt("stmt-0001", "beta freight", cand("beta foods", 54.5)))
	_, err := s.Answer(context.Background(), s.Current().ID, model.Answer("maybe"))
	assert.ErrorIs(t, err, ErrInvalidAnswer)
}

func TestAnswer_StoreFailureKeepsPending(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{MemStore: memory.NewMemStore(), writeErr: memory.ErrUnavailable}
	s := prepared(t, store, Options{}, stmt("stmt-0001", "beta freight", cand("beta foods", 54.5)))
	q := s.Current()

	_, err := s.Answer(ctx, q.ID, model.AnswerYes)
	assert.ErrorIs(t, err, memory.ErrUnavailable)
	assert.Equal(t, model.QuestionPending, s.Current().Status)
	assert.Equal(t, StateQuestionsPending, s.State())

	store.writeErr = nil
	_, err = s.Answer(ctx, q.ID, model.AnswerYes)
	require.NoError(t, err)
}

func TestPrepare_StoreUnavailableAsksAll(t *testing.T) {
	ctx := context.Background()
	backend := memory.NewMemStore()
	_, err := backend.StoreOrUpdate(ctx, "beta freight", "beta foods", true, 54.5, model.Provenance{})
	require.NoError(t, err)

	store := &failingStore{MemStore: backend, lookupErr: errors.New("connection refused")}
	s := prepared(t, store, Options{}, stmt("stmt-0001", "beta freight", cand("beta foods", 54.5)))

	assert.Len(t, s.Questions(), 1)
	assert.True(t, s.Progress().StoreUnavailable)
}

func TestPrepare_AutoDNMThreshold(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemStore()
	s := prepared(t, store, Options{AutoDNMThreshold: 90},
		stmt("stmt-0001", "acme", cand("acme corp", 95), cand("acme ltd", 60)),
	)
	require.Len(t, s.Questions(), 1)
	assert.Equal(t, "acme ltd", s.Current().RosterName)
	assert.Equal(t, 1, s.Progress().AutoDNM)

	st, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.TotalDecisions, "auto confirmations are not persisted")

	_, err = s.Answer(ctx, s.Current().ID, model.AnswerNo)
	require.NoError(t, err)
	out, err := s.Finalize(route.New(route.Config{}))
	require.NoError(t, err)
	assert.Equal(t, model.DestinationDNM, out[0].Destination)
}

func TestSkipRemaining(t *testing.T) {
	ctx := context.Background()
	s := prepared(t, memory.NewMemStore(), Options{},
		stmt("stmt-0001", "acme", cand("acme corp", 80), cand("acme ltd", 60)),
		stmt("stmt-0002", "beta freight", cand("beta foods", 54.5)),
	)
	_, err := s.Answer(ctx, s.Current().ID, model.AnswerNo)
	require.NoError(t, err)

	n, err := s.SkipRemaining(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	p := s.Progress()
	assert.Equal(t, 1, p.Answered)
	assert.Equal(t, 2, p.Skipped)
	assert.Zero(t, p.Pending)
	assert.Equal(t, StateAllResolved, p.State)
}

func TestAbandon(t *testing.T) {
	ctx := context.Background()
	s := prepared(t, memory.NewMemStore(), Options{}, stmt("stmt-0001", "beta freight", cand("beta foods", 54.5)))
	q := s.Current()
	require.NoError(t, s.Abandon(ctx))

	assert.Equal(t, StateAbandoned, s.State())
	_, err := s.Answer(ctx, q.ID, model.AnswerYes)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.Finalize(route.New(route.Config{}))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestFinalize_Once(t *testing.T) {
	s := prepared(t, memory.NewMemStore(), Options{}, stmt("stmt-0001", "zeta"))
	_, err := s.Finalize(route.New(route.Config{}))
	require.NoError(t, err)
	_, err = s.Finalize(route.New(route.Config{}))
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, StateFinalized, s.State())
}

func TestSession_ConcurrentAnswers(t *testing.T) {
	ctx := context.Background()
	var sts []*model.Statement
	for i := 0; i < 20; i++ {
		sts = append(sts, stmt("stmt-"+string(rune('a'+i)), "name "+string(rune('a'+i)), cand("roster", 60)))
	}
	store := memory.NewMemStore()
	s := prepared(t, store, Options{}, sts...)
	qs := s.Questions()
	require.Len(t, qs, 20)

	var wg sync.WaitGroup
	for _, q := range qs {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, _ = s.Answer(ctx, id, model.AnswerYes)
		}(q.ID)
	}
	wg.Wait()

	assert.Equal(t, StateAllResolved, s.State())
	st, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20, st.ConfirmedCount)
}
