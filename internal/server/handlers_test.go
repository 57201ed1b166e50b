package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jcgregorio/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ImahnShekhzadeh/FindRootsAndInverseValues/internal/config"
	"github.com/ImahnShekhzadeh/FindRootsAndInverseValues/internal/optimizer"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	return newTestServerWithConfig(t, config.Default())
}

func newTestServerWithConfig(t *testing.T, cfg config.Config) (*Server, *httptest.Server) {
	cfg.Samples = 11
	log := logger.NewFromOptions(&logger.Options{SyncWriter: os.Stderr})

	s := New(cfg, log, prometheus.NewRegistry())
	ts := httptest.NewServer(NewRouter(s))
	t.Cleanup(func() {
		ts.Close()
		s.Shutdown()
	})
	return s, ts
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	b, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestSolve_Root(t *testing.T) {
	_, ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/solve", RunParams{Func: "x*x - 2", A: 0, B: 2, Tol: 1e-6})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got SolveResponse
	decode(t, resp, &got)
	assert.True(t, got.Converged)
	assert.InDelta(t, math.Sqrt2, got.Root, 1e-6)
	assert.Equal(t, "increasing", got.Direction)
	assert.Empty(t, got.Warning)
}

func TestSolve_Inverse(t *testing.T) {
	_, ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/solve", RunParams{Func: "x ** 3", Mode: ModeInverse, Y: 8, A: 0, B: 3, Tol: 1e-6})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got SolveResponse
	decode(t, resp, &got)
	assert.InDelta(t, 2.0, got.Root, 1e-6)
}

func TestSolve_NotConvergedIsWarning(t *testing.T) {
	_, ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/solve", RunParams{Func: "x - 0.3", A: -100, B: 100, Tol: 1e-9, MaxIter: 1})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got SolveResponse
	decode(t, resp, &got)
	assert.False(t, got.Converged)
	assert.Equal(t, 0.0, got.Root)
	assert.Contains(t, got.Warning, "not converged")
}

func TestSolve_RequestTolBeatsConfigThresholds(t *testing.T) {
	cfg := config.Default()
	cfg.XTol = 1e-12
	cfg.FTol = 1e-12
	_, ts := newTestServerWithConfig(t, cfg)

	resp := postJSON(t, ts.URL+"/solve", RunParams{Func: "x - 0,3", A: 0, B: 1, Tol: 1e-3})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var loose SolveResponse
	decode(t, resp, &loose)
	assert.True(t, loose.Converged)
	assert.LessOrEqual(t, loose.Iters, 10)

	// без своего tol действуют пороги из конфига
	resp = postJSON(t, ts.URL+"/solve", RunParams{Func: "x - 0,3", A: 0, B: 1})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var tight SolveResponse
	decode(t, resp, &tight)
	assert.Greater(t, tight.Iters, 30)
}

func TestSolve_Errors(t *testing.T) {
	_, ts := newTestServer(t)

	tests := []struct {
		name string
		body any
		want int
	}{
		{"no bracket", RunParams{Func: "x*x - 1", A: 2, B: 3}, http.StatusUnprocessableEntity},
		{"a >= b", RunParams{Func: "x", A: 3, B: 3}, http.StatusBadRequest},
		{"bad expression", RunParams{Func: "x +", A: 0, B: 1}, http.StatusBadRequest},
		{"bad mode", RunParams{Func: "x", Mode: "minimize", A: -1, B: 1}, http.StatusBadRequest},
		{"negative tol", RunParams{Func: "x", A: -1, B: 2, Tol: -1}, http.StatusBadRequest},
		{"not json", "{", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, ts.URL+"/solve", tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestBatch(t *testing.T) {
	_, ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/batch", BatchParams{
		RunParams: RunParams{Func: "sin(x)", Tol: 1e-9},
		Brackets:  []optimizer.Bracket{{A: 2, B: 4}, {A: 0.5, B: 1}, {A: 5, B: 7}},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got struct {
		Results []BatchItem `json:"results"`
	}
	decode(t, resp, &got)
	require.Len(t, got.Results, 3)
	assert.InDelta(t, math.Pi, got.Results[0].Root, 1e-9)
	assert.Contains(t, got.Results[1].Err, "does not bracket")
	assert.InDelta(t, 2*math.Pi, got.Results[2].Root, 1e-9)
	assert.Equal(t, optimizer.Bracket{A: 5, B: 7}, got.Results[2].Bracket)
}

func TestBatch_Inverse(t *testing.T) {
	_, ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/batch", BatchParams{
		RunParams: RunParams{Func: "x * x", Mode: ModeInverse, Y: 9, Tol: 1e-9},
		Brackets:  []optimizer.Bracket{{A: 0, B: 5}, {A: -5, B: 0}},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got struct {
		Results []BatchItem `json:"results"`
	}
	decode(t, resp, &got)
	assert.InDelta(t, 3.0, got.Results[0].Root, 1e-9)
	assert.InDelta(t, -3.0, got.Results[1].Root, 1e-9)
}

func TestBatch_Limits(t *testing.T) {
	s, ts := newTestServer(t)
	s.cfg.MaxBatch = 1

	resp := postJSON(t, ts.URL+"/batch", BatchParams{RunParams: RunParams{Func: "x"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, ts.URL+"/batch", BatchParams{
		RunParams: RunParams{Func: "x"},
		Brackets:  []optimizer.Bracket{{A: -1, B: 1}, {A: -2, B: 2}},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func startRun(t *testing.T, ts *httptest.Server, p RunParams) string {
	resp := postJSON(t, ts.URL+"/start", p)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got struct {
		ID        string     `json:"id"`
		XS        []float64  `json:"xs"`
		YS        []*float64 `json:"ys"`
		Direction string     `json:"direction"`
	}
	decode(t, resp, &got)
	require.NotEmpty(t, got.ID)
	require.Len(t, got.XS, 11)
	require.Len(t, got.YS, 11)
	assert.Equal(t, p.A, got.XS[0])
	assert.InDelta(t, p.B, got.XS[10], 1e-12)
	return got.ID
}

func waitDone(t *testing.T, ts *httptest.Server, id string) RunSnapshot {
	var snap RunSnapshot
	require.Eventually(t, func() bool {
		resp, err := http.Get(ts.URL + "/run?id=" + id)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
			return false
		}
		return snap.Done || snap.Stopped || snap.Err != ""
	}, 5*time.Second, 10*time.Millisecond)
	return snap
}

func TestStartRun_ExportCSV(t *testing.T) {
	_, ts := newTestServer(t)

	id := startRun(t, ts, RunParams{Func: "cos(x)", A: 0, B: 3, Tol: 1e-8})
	snap := waitDone(t, ts, id)
	require.True(t, snap.Done)
	assert.InDelta(t, math.Pi/2, snap.Result.Root, 1e-8)
	assert.Equal(t, snap.Result.Iters, snap.Iters)

	resp, err := http.Get(ts.URL + "/export?id=" + id)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/csv; charset=utf-8", resp.Header.Get("Content-Type"))

	rows, err := csv.NewReader(resp.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, snap.Iters+1)
	assert.Equal(t, []string{"k", "a", "b", "mid", "f(mid)", "b-a"}, rows[0])
	assert.Equal(t, "1", rows[1][0])
	assert.Equal(t, "1.5", rows[1][3])
}

func TestStartRun_WarningWhenNotConverged(t *testing.T) {
	_, ts := newTestServer(t)

	id := startRun(t, ts, RunParams{Func: "x - 0.3", A: -100, B: 100, Tol: 1e-9, MaxIter: 1})
	snap := waitDone(t, ts, id)
	assert.True(t, snap.Done)
	assert.Contains(t, snap.Warning, "not converged")
	assert.False(t, snap.Result.Converged)
}

func TestStartRun_ErrorIsRecorded(t *testing.T) {
	_, ts := newTestServer(t)

	id := startRun(t, ts, RunParams{Func: "x*x - 1", A: 2, B: 3})
	snap := waitDone(t, ts, id)
	assert.False(t, snap.Done)
	assert.Contains(t, snap.Err, "does not bracket")
}

func TestStartRun_Validation(t *testing.T) {
	_, ts := newTestServer(t)

	assert.Equal(t, http.StatusBadRequest, postJSON(t, ts.URL+"/start", RunParams{Func: "x", A: 1, B: 0}).StatusCode)
	assert.Equal(t, http.StatusBadRequest, postJSON(t, ts.URL+"/start", RunParams{Func: "", A: 0, B: 1}).StatusCode)
	assert.Equal(t, http.StatusBadRequest, postJSON(t, ts.URL+"/start", RunParams{Func: "x", A: 0, B: 1, MaxIter: -1}).StatusCode)
}

func TestStream_DeliversRunEvents(t *testing.T) {
	_, ts := newTestServer(t)

	id := startRun(t, ts, RunParams{Func: "x ** 3", Mode: ModeInverse, Y: 8, A: 0, B: 3, Tol: 1e-6})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/stream?id="+id, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var types []string
	var done map[string]any
	sc := bufio.NewScanner(resp.Body)
	for done == nil && sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev map[string]any
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		types = append(types, ev["type"].(string))
		if ev["type"] == "done" {
			done = ev
		}
	}
	require.NotNil(t, done)
	assert.Equal(t, "start", types[0])
	assert.Contains(t, types, "iter")
	assert.InDelta(t, 2.0, done["x"].(float64), 1e-6)
}

func TestRun_CancelledContextStops(t *testing.T) {
	s, _ := newTestServer(t)

	f, err := optimizer.NewEvalFunc("x*x - 2")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rs := &RunState{ID: "stopped-run", Params: RunParams{Mode: ModeRoot, A: 0, B: 2}}
	s.runs.save(rs)
	s.hub.Open(rs.ID)
	s.run(ctx, rs, f, optimizer.DefaultOptions())

	snap := rs.snapshot()
	assert.True(t, snap.Stopped)
	assert.False(t, snap.Done)
	assert.Equal(t, 0, snap.Iters)
}

func TestStartRun_EvictsOldestRun(t *testing.T) {
	cfg := config.Default()
	cfg.MaxRuns = 1
	s, ts := newTestServerWithConfig(t, cfg)

	first := startRun(t, ts, RunParams{Func: "x - 1", A: 0, B: 3})
	second := startRun(t, ts, RunParams{Func: "x - 2", A: 0, B: 3})

	resp, err := http.Get(ts.URL + "/run?id=" + first)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.False(t, s.hub.Exists(first))

	assert.True(t, s.hub.Exists(second))
	snap := waitDone(t, ts, second)
	assert.InDelta(t, 2.0, snap.Result.Root, 1e-6)
}

func TestStopRun(t *testing.T) {
	_, ts := newTestServer(t)

	id := startRun(t, ts, RunParams{Func: "x", A: -1, B: 3})
	resp := postJSON(t, ts.URL+"/stop?id="+id, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = postJSON(t, ts.URL+"/stop?id=nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLookupErrors(t *testing.T) {
	_, ts := newTestServer(t)

	for _, path := range []string{"/export", "/run", "/stream"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, path)

		resp, err = http.Get(ts.URL + path + "?id=unknown")
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
	}
}

func TestMetrics(t *testing.T) {
	_, ts := newTestServer(t)

	postJSON(t, ts.URL+"/solve", RunParams{Func: "x - 1", A: 0, B: 3})

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `bisect_runs_total{mode="root",outcome="converged"} 1`)
	assert.Contains(t, string(body), "bisect_iterations_bucket")
}
