package web

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"screener/internal/engine"
	"screener/internal/refresh"
	"screener/internal/scanner"
	"screener/pkg/model"
)

func ptr(v float64) *float64 { return &v }

type stubRunner struct {
	rs  *model.ResultSet
	err error
}

func (s *stubRunner) Run(ctx context.Context, universe []string, cfg scanner.RunConfig) (*model.ResultSet, error) {
	return s.rs, s.err
}

func sampleResults() *model.ResultSet {
	outcomes := []engine.Outcome{
		engine.Ok(model.MetricRecord{Symbol: "BBCA", ChangePct: 3.5, ATRPct: 3.2, VolumeRatio: ptr(2), Edge: 3.41, Grade: model.GradeA}),
		engine.Ok(model.MetricRecord{Symbol: "TLKM", ChangePct: 1.2, ATRPct: 4.0, Edge: 2.04, Grade: model.GradeB}),
		engine.Ok(model.MetricRecord{Symbol: "ASII", ChangePct: -0.5, ATRPct: 1.0, Edge: -0.05, Grade: model.NoGrade}),
		engine.Skipped("GOTO", model.SkipFetchFailed, nil),
	}
	rs := engine.Aggregate(outcomes, model.SortByATR)
	rs.RunID = "run-1"
	rs.Policy = "momentum"
	rs.StartedAt = time.Date(2024, 6, 3, 2, 30, 0, 0, time.UTC)
	return rs
}

func newTestServer(t *testing.T, runner *stubRunner) (*Server, *refresh.Refresher) {
	t.Helper()
	ref := refresh.New(runner, []string{"BBCA", "TLKM", "ASII", "GOTO"}, scanner.DefaultRunConfig(), 30*time.Second, nil)
	loc, err := time.LoadLocation("Asia/Jakarta")
	if err != nil {
		loc = time.FixedZone("WIB", 7*3600)
	}
	srv, err := NewServer(ref, prometheus.NewRegistry(), loc, nil)
	require.NoError(t, err)
	return srv, ref
}

func do(t *testing.T, h http.Handler, method, target string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, body)
		req.Header.Set("Content-Type", contentType)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestResultsBeforeFirstRun(t *testing.T) {
	srv, _ := newTestServer(t, &stubRunner{rs: sampleResults()})

	rec := do(t, srv.Handler(), http.MethodGet, "/api/results", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "no data available, retry")
}

func TestResultsAfterEmptyRun(t *testing.T) {
	empty := engine.Aggregate([]engine.Outcome{engine.Skipped("BBCA", model.SkipFetchFailed, nil)}, model.SortByATR)
	srv, ref := newTestServer(t, &stubRunner{rs: empty, err: scanner.ErrEmptyResultSet})
	_, _ = ref.Refresh(context.Background())

	rec := do(t, srv.Handler(), http.MethodGet, "/api/results", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = do(t, srv.Handler(), http.MethodGet, "/api/summary", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var sum SummaryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sum))
	assert.Equal(t, "no_data", sum.Status)
	assert.Equal(t, 1, sum.SkippedCount)
}

func TestResultsSortAndFilter(t *testing.T) {
	srv, ref := newTestServer(t, &stubRunner{rs: sampleResults()})
	_, err := ref.Refresh(context.Background())
	require.NoError(t, err)

	rec := do(t, srv.Handler(), http.MethodGet, "/api/results", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp ResultsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Records, 3)
	assert.Equal(t, "TLKM", resp.Records[0].Symbol)
	assert.Equal(t, 1, resp.SkippedCount)
	assert.Equal(t, "2024-06-03 09:30:00 WIB", resp.UpdatedAt)

	rec = do(t, srv.Handler(), http.MethodGet, "/api/results?sort=change", nil, "")
	resp = ResultsResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "BBCA", resp.Records[0].Symbol)

	rec = do(t, srv.Handler(), http.MethodGet, "/api/results?grade=A", nil, "")
	resp = ResultsResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Records, 1)
	assert.Equal(t, "Grade A", resp.GradeFilter)

	// the stored result keeps its ATR order
	latest, _ := ref.Latest()
	assert.Equal(t, "TLKM", latest.Records[0].Symbol)

	rec = do(t, srv.Handler(), http.MethodGet, "/api/results?sort=price", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, srv.Handler(), http.MethodGet, "/api/results?grade=S", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSummary(t *testing.T) {
	srv, ref := newTestServer(t, &stubRunner{rs: sampleResults()})
	// Monday 10:00 WIB
	srv.now = func() time.Time { return time.Date(2024, 6, 3, 3, 0, 0, 0, time.UTC) }

	rec := do(t, srv.Handler(), http.MethodGet, "/api/summary", nil, "")
	var sum SummaryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sum))
	assert.Equal(t, "pending", sum.Status)
	assert.Equal(t, 4, sum.UniverseSize)
	assert.Equal(t, "open", sum.Market)
	assert.Equal(t, "closes in 2h 0m", sum.MarketNote)

	_, err := ref.Refresh(context.Background())
	require.NoError(t, err)

	rec = do(t, srv.Handler(), http.MethodGet, "/api/summary", nil, "")
	sum = SummaryResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sum))
	assert.Equal(t, "ok", sum.Status)
	assert.Equal(t, 1, sum.GradeA)
	assert.Equal(t, 3, sum.Graded)
	assert.Equal(t, 4, sum.Total)
	assert.Equal(t, "momentum", sum.Policy)
	assert.Equal(t, "30s", sum.Interval)
}

func TestRefreshEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, &stubRunner{rs: sampleResults()})
	rec := do(t, srv.Handler(), http.MethodPost, "/api/refresh", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"run_id":"run-1"`)

	empty := &model.ResultSet{}
	srv, _ = newTestServer(t, &stubRunner{rs: empty, err: scanner.ErrEmptyResultSet})
	rec = do(t, srv.Handler(), http.MethodPost, "/api/refresh", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = do(t, srv.Handler(), http.MethodGet, "/api/refresh", nil, "")
	assert.NotEqual(t, http.StatusOK, rec.Code)
}

func TestUploadUniverse(t *testing.T) {
	srv, ref := newTestServer(t, &stubRunner{rs: sampleResults()})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "watchlist.csv")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("Symbol,Name\nbbri,Bank Rakyat\nBMRI.JK,Mandiri\nBBRI,dup\nTOOLONGX,bad\n"))
	require.NoError(t, mw.Close())

	rec := do(t, srv.Handler(), http.MethodPost, "/api/universe", &buf, mw.FormDataContentType())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp UniverseResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"BBRI", "BMRI"}, resp.Symbols)
	assert.Empty(t, resp.Rejected, "invalid rows are dropped while reading")
	assert.Equal(t, []string{"BBRI", "BMRI"}, ref.Universe())

	rec = do(t, srv.Handler(), http.MethodGet, "/api/universe", nil, "")
	assert.Contains(t, rec.Body.String(), `"count":2`)
}

func TestUploadUniverseRejectsMissingFile(t *testing.T) {
	srv, _ := newTestServer(t, &stubRunner{rs: sampleResults()})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("other", "x"))
	require.NoError(t, mw.Close())

	rec := do(t, srv.Handler(), http.MethodPost, "/api/universe", &buf, mw.FormDataContentType())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPolicies(t *testing.T) {
	srv, _ := newTestServer(t, &stubRunner{rs: sampleResults()})
	rec := do(t, srv.Handler(), http.MethodGet, "/api/policies", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var out []PolicyInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 2)
	assert.Equal(t, "classic", out[0].Name)
	assert.Nil(t, out[0].AVolumeRatio, "disabled threshold is null")
	assert.False(t, out[0].Active)
	assert.Equal(t, "momentum", out[1].Name)
	assert.True(t, out[1].Active)
	require.NotNil(t, out[1].AChange)
	assert.Equal(t, 3.0, *out[1].AChange)
}

func TestHealthMetricsAndStatic(t *testing.T) {
	srv, _ := newTestServer(t, &stubRunner{rs: sampleResults()})

	rec := do(t, srv.Handler(), http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	rec = do(t, srv.Handler(), http.MethodGet, "/metrics", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, srv.Handler(), http.MethodGet, "/", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "IDX Screener")
}

func TestWebSocketPushesRuns(t *testing.T) {
	srv, ref := newTestServer(t, &stubRunner{rs: sampleResults()})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var status statusMsg
	require.NoError(t, conn.ReadJSON(&status))
	assert.Equal(t, "connected", status.Text)

	var greet resultsMsg
	require.NoError(t, conn.ReadJSON(&greet))
	assert.Equal(t, "pending", greet.Summary.Status)

	require.Eventually(t, func() bool { return srv.hub.count() == 1 }, time.Second, 5*time.Millisecond)
	_, err = ref.Refresh(context.Background())
	require.NoError(t, err)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var pushed resultsMsg
	require.NoError(t, conn.ReadJSON(&pushed))
	assert.Equal(t, "results", pushed.Type)
	assert.Equal(t, "run-1", pushed.Summary.RunID)
	assert.Equal(t, 1, pushed.Summary.GradeA)
}
