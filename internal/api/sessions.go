package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/dnm-router/internal/model"
	"github.com/sells-group/dnm-router/internal/report"
	"github.com/sells-group/dnm-router/internal/resolve"
	"github.com/sells-group/dnm-router/internal/review"
)

// createSessionRequest opens a review session over already-extracted page
// text.
type createSessionRequest struct {
	Pages  []string `json:"pages" validate:"required,min=1"`
	Roster []string `json:"roster" validate:"required,min=1,dive,required"`
}

// answerRequest answers the question identified by QuestionID. previous and
// skip-all ignore it.
type answerRequest struct {
	QuestionID string `json:"question_id"`
	Answer     string `json:"answer" validate:"required"`
}

// sessionView is a session's progress with its current question.
type sessionView struct {
	Progress review.Progress `json:"progress"`
	Question *model.Question `json:"question"`
}

func isSkipAll(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "a", "skip-all", "skip_all":
		return true
	}
	return false
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*review.Session, bool) {
	sess, err := s.sessions().Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		respondErr(w, err)
		return nil, false
	}
	return sess, true
}

func view(sess *review.Session) sessionView {
	return sessionView{Progress: sess.Progress(), Question: sess.Current()}
}

func (s *Server) listSessions(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"sessions": s.sessions().List()})
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := validateStruct(req); err != nil {
		respondError(w, http.StatusBadRequest, "validation error: "+err.Error())
		return
	}

	sess, batch, err := s.pipeline.Start(r.Context(), req.Pages, resolve.NewRoster(req.Roster))
	if err != nil {
		respondErr(w, err)
		return
	}
	s.setLog(sess.ID(), batch.Log)

	zap.L().Info("api: session created",
		zap.String("session_id", sess.ID()),
		zap.Int("statements", len(batch.Statements)),
	)
	respondJSON(w, http.StatusCreated, view(sess))
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"progress":  sess.Progress(),
		"questions": sess.Questions(),
	})
}

func (s *Server) currentQuestion(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, view(sess))
}

func (s *Server) answer(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := validateStruct(req); err != nil {
		respondError(w, http.StatusBadRequest, "validation error: "+err.Error())
		return
	}

	if isSkipAll(req.Answer) {
		n, err := sess.SkipRemaining(r.Context())
		if err != nil {
			respondErr(w, err)
			return
		}
		zap.L().Info("api: remaining questions skipped",
			zap.String("session_id", sess.ID()), zap.Int("skipped", n))
		respondJSON(w, http.StatusOK, view(sess))
		return
	}

	ans, err := model.ParseAnswer(req.Answer)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if ans != model.AnswerPrevious && req.QuestionID == "" {
		respondError(w, http.StatusBadRequest, "validation error: question_id is required")
		return
	}

	if _, err := sess.Answer(r.Context(), req.QuestionID, ans); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, view(sess))
}

func (s *Server) finalize(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	res, err := s.pipeline.Finalize(sess, s.log(sess.ID()))
	if err != nil {
		respondErr(w, err)
		return
	}
	s.dropLog(sess.ID())

	if strings.EqualFold(r.URL.Query().Get("format"), "csv") {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", "attachment; filename="+sess.ID()+".csv")
		if err := report.WriteCSV(w, res); err != nil {
			zap.L().Error("api: write csv report", zap.String("session_id", sess.ID()), zap.Error(err))
		}
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	err := s.sessions().Delete(r.Context(), id)
	if errors.Is(err, review.ErrSessionNotFound) {
		respondErr(w, err)
		return
	}
	s.dropLog(id)
	if err != nil {
		respondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
