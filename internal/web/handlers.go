package web

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"time"

	"screener/internal/engine"
	"screener/internal/market"
	"screener/internal/refresh"
	"screener/internal/scanner"
	"screener/internal/symbols"
	"screener/pkg/model"
)

const (
	maxUploadBytes = 1 << 20
	timeLayout     = "2006-01-02 15:04:05 MST"
)

// ResultsResponse is a ResultSet plus display metadata
type ResultsResponse struct {
	*model.ResultSet
	UpdatedAt   string `json:"updated_at"`
	GradeFilter string `json:"grade_filter,omitempty"`
}

// SummaryResponse is the header block of the dashboard
type SummaryResponse struct {
	RunID        string                   `json:"run_id,omitempty"`
	Policy       string                   `json:"policy"`
	Total        int                      `json:"total"`
	Graded       int                      `json:"graded"`
	GradeA       int                      `json:"grade_a"`
	GradeCounts  map[string]int           `json:"grade_counts,omitempty"`
	SkippedCount int                      `json:"skipped_count"`
	SkipReasons  map[model.SkipReason]int `json:"skip_reasons,omitempty"`
	UniverseSize int                      `json:"universe_size"`
	UpdatedAt    string                   `json:"updated_at,omitempty"`
	Interval     string                   `json:"refresh_interval"`
	Status       string                   `json:"status"`
	Market       string                   `json:"market"`
	MarketNote   string                   `json:"market_note,omitempty"`
}

// UniverseResponse reports the active universe
type UniverseResponse struct {
	Count    int      `json:"count"`
	Symbols  []string `json:"symbols"`
	Rejected []string `json:"rejected,omitempty"`
}

// PolicyInfo describes one grading policy; a nil threshold is disabled
type PolicyInfo struct {
	Name         string   `json:"name"`
	Active       bool     `json:"active"`
	AChange      *float64 `json:"a_change"`
	AVol         *float64 `json:"a_vol"`
	AVolumeRatio *float64 `json:"a_volume_ratio"`
	BChange      *float64 `json:"b_change"`
	BVol         *float64 `json:"b_vol"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleResults serves the latest ResultSet, optionally re-sorted and filtered
func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	rs, err := s.source.Latest()
	if rs == nil || rs.Empty() {
		s.log.WithError(err).Debug("results requested with no data")
		writeError(w, http.StatusServiceUnavailable, scanner.ErrEmptyResultSet.Error())
		return
	}

	q := r.URL.Query()
	view := rs.Clone()
	if sortParam := q.Get("sort"); sortParam != "" {
		key, err := model.ParseSortKey(sortParam)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		view.SortBy(key)
	}

	resp := ResultsResponse{UpdatedAt: s.formatTime(rs.StartedAt)}
	if gradeParam := q.Get("grade"); gradeParam != "" {
		g, err := model.ParseGrade(gradeParam)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		view = view.Filter(g)
		resp.GradeFilter = g.String()
	}
	resp.ResultSet = view

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.summary())
}

func (s *Server) summary() SummaryResponse {
	sum := SummaryResponse{
		Policy:       s.source.Policy().Name,
		UniverseSize: len(s.source.Universe()),
		Interval:     s.source.Interval().String(),
		Status:       "ok",
	}

	ms := s.schedule.StatusAt(s.now(), s.loc)
	sum.Market = ms.Reason
	switch {
	case ms.IsOpen:
		sum.MarketNote = "closes in " + market.FormatDuration(ms.TimeToClose)
	case ms.TimeToOpen > 0:
		sum.MarketNote = "opens in " + market.FormatDuration(ms.TimeToOpen)
	}

	rs, err := s.source.Latest()
	switch {
	case errors.Is(err, refresh.ErrNoRun):
		sum.Status = "pending"
		return sum
	case rs == nil || rs.Empty():
		sum.Status = "no_data"
	}
	if rs == nil {
		return sum
	}

	sum.RunID = rs.RunID
	sum.Total = rs.Total
	sum.Graded = len(rs.Records)
	sum.GradeA = rs.CountGrade(model.GradeA)
	sum.GradeCounts = rs.GradeCounts
	sum.SkippedCount = rs.SkippedCount
	sum.SkipReasons = rs.SkipReasons
	sum.UpdatedAt = s.formatTime(rs.StartedAt)
	return sum
}

// handleRefresh runs the pipeline now and blocks until it finishes. A client
// disconnect does not cancel the run.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	rs, err := s.source.Refresh(r.Context())
	switch {
	case errors.Is(err, refresh.ErrRunInProgress):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, scanner.ErrEmptyResultSet), errors.Is(err, scanner.ErrEmptyUniverse):
		writeError(w, http.StatusServiceUnavailable, scanner.ErrEmptyResultSet.Error())
		return
	case errors.Is(err, context.Canceled):
		writeError(w, http.StatusServiceUnavailable, "refresh cancelled")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, ResultsResponse{ResultSet: rs, UpdatedAt: s.formatTime(rs.StartedAt)})
}

func (s *Server) handleUniverse(w http.ResponseWriter, r *http.Request) {
	u := s.source.Universe()
	writeJSON(w, http.StatusOK, UniverseResponse{Count: len(u), Symbols: u})
}

// handleUploadUniverse replaces the universe from a multipart "file" field
// holding one ticker per line or CSV row
func (s *Server) handleUploadUniverse(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid upload: "+err.Error())
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	raw, err := symbols.Read(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	clean, rejected := symbols.Clean(raw)
	if len(clean) == 0 {
		writeError(w, http.StatusBadRequest, "no valid tickers in upload")
		return
	}

	s.source.SetUniverse(clean)
	s.hub.broadcast(statusMsg{Type: "status", Level: "info", Text: "universe updated"})
	writeJSON(w, http.StatusOK, UniverseResponse{Count: len(clean), Symbols: clean, Rejected: rejected})
}

func (s *Server) handlePolicies(w http.ResponseWriter, r *http.Request) {
	active := s.source.Policy()
	policies := engine.Policies()
	out := make([]PolicyInfo, 0, len(policies)+1)
	seen := false
	for _, p := range policies {
		isActive := p == active
		seen = seen || isActive
		out = append(out, policyInfo(p, isActive))
	}
	if !seen {
		out = append(out, policyInfo(active, true))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   s.formatTime(time.Now()),
	})
}

// onRun pushes every finished run to connected dashboards
func (s *Server) onRun(rs *model.ResultSet, err error) {
	s.hub.broadcast(resultsMsg{Type: "results", Summary: s.summary()})
}

func (s *Server) greeting() []any {
	return []any{
		statusMsg{Type: "status", Level: "info", Text: "connected"},
		resultsMsg{Type: "results", Summary: s.summary()},
	}
}

func (s *Server) formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.In(s.loc).Format(timeLayout)
}

func policyInfo(p engine.GradingPolicy, active bool) PolicyInfo {
	return PolicyInfo{
		Name:         p.Name,
		Active:       active,
		AChange:      threshold(p.AChange),
		AVol:         threshold(p.AVol),
		AVolumeRatio: threshold(p.AVolumeRatio),
		BChange:      threshold(p.BChange),
		BVol:         threshold(p.BVol),
	}
}

func threshold(v float64) *float64 {
	if math.IsInf(v, -1) {
		return nil
	}
	return &v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
