package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/dnm-router/internal/memory"
	"github.com/sells-group/dnm-router/internal/model"
	"github.com/sells-group/dnm-router/internal/resolve"
)

// decisionRequest is the body of PUT /v1/memory. Names are normalized before
// they are used as keys.
type decisionRequest struct {
	ExtractedName string  `json:"extracted_name" validate:"required"`
	RosterName    string  `json:"roster_name" validate:"required"`
	Confirmed     *bool   `json:"confirmed" validate:"required"`
	Score         float64 `json:"score" validate:"min=0,max=100"`
	SessionID     string  `json:"session_id,omitempty"`
	StatementID   string  `json:"statement_id,omitempty"`
	PageInfo      string  `json:"page_info,omitempty"`
}

// pathKey normalizes a URL name parameter into a memory key.
func pathKey(r *http.Request, param string) (string, bool) {
	key := resolve.NormalizeName(chi.URLParam(r, param))
	return key, key != ""
}

func (s *Server) lookupAll(w http.ResponseWriter, r *http.Request) {
	key, ok := pathKey(r, "extracted")
	if !ok {
		respondError(w, http.StatusBadRequest, "extracted name normalizes to nothing")
		return
	}
	ds, err := s.store.LookupAll(r.Context(), key)
	if err != nil {
		respondErr(w, err)
		return
	}
	if ds == nil {
		ds = []model.Decision{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"extracted_name_key": key,
		"decisions":          ds,
	})
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) {
	ek, ok := pathKey(r, "extracted")
	if !ok {
		respondError(w, http.StatusBadRequest, "extracted name normalizes to nothing")
		return
	}
	rk, ok := pathKey(r, "roster")
	if !ok {
		respondError(w, http.StatusBadRequest, "roster name normalizes to nothing")
		return
	}
	d, err := s.store.Lookup(r.Context(), ek, rk)
	if err != nil {
		respondErr(w, err)
		return
	}
	if d == nil {
		respondError(w, http.StatusNotFound, "no decision for "+ek+" / "+rk)
		return
	}
	respondJSON(w, http.StatusOK, d)
}

func (s *Server) putDecision(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := validateStruct(req); err != nil {
		respondError(w, http.StatusBadRequest, "validation error: "+err.Error())
		return
	}

	d, err := s.store.StoreOrUpdate(r.Context(),
		resolve.NormalizeName(req.ExtractedName),
		resolve.NormalizeName(req.RosterName),
		*req.Confirmed, req.Score,
		model.Provenance{SessionID: req.SessionID, StatementID: req.StatementID, PageInfo: req.PageInfo},
	)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, d)
}

func (s *Server) deleteDecisions(w http.ResponseWriter, r *http.Request) {
	key, ok := pathKey(r, "extracted")
	if !ok {
		respondError(w, http.StatusBadRequest, "extracted name normalizes to nothing")
		return
	}
	n, err := s.store.Delete(r.Context(), key)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"deleted": n})
}

func (s *Server) memoryStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.store.Stats(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, st)
}

func (s *Server) exportMemory(w http.ResponseWriter, r *http.Request) {
	f := memory.FormatJSON
	if strings.EqualFold(r.URL.Query().Get("format"), string(memory.FormatYAML)) {
		f = memory.FormatYAML
	}
	snap, err := s.store.Export(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}

	ct := "application/json"
	if f == memory.FormatYAML {
		ct = "application/yaml"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Disposition",
		"attachment; filename=dnm_memory_"+time.Now().UTC().Format("20060102")+"."+string(f))
	if err := memory.WriteSnapshot(w, snap, f); err != nil {
		respondErr(w, err)
	}
}

func (s *Server) importMemory(w http.ResponseWriter, r *http.Request) {
	f := memory.FormatJSON
	if ct := r.Header.Get("Content-Type"); strings.Contains(ct, "yaml") {
		f = memory.FormatYAML
	}
	snap, err := memory.ReadSnapshot(r.Body, f)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	n, err := s.store.Import(r.Context(), snap)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"imported": n,
		"received": len(snap.Decisions),
	})
}
