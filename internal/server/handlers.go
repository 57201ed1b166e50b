package server

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jcgregorio/logger"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ImahnShekhzadeh/FindRootsAndInverseValues/internal/config"
	"github.com/ImahnShekhzadeh/FindRootsAndInverseValues/internal/optimizer"
	"github.com/ImahnShekhzadeh/FindRootsAndInverseValues/internal/sse"
)

// Server — HTTP-интерфейс к решателю
type Server struct {
	cfg      config.Config
	log      *logger.Logger
	hub      *sse.Hub
	runs     *registry
	metrics  *metrics
	registry *prometheus.Registry
}

func New(cfg config.Config, log *logger.Logger, reg *prometheus.Registry) *Server {
	return &Server{
		cfg:      cfg,
		log:      log,
		hub:      sse.New(),
		runs:     newRegistry(cfg.MaxRuns),
		metrics:  newMetrics(reg),
		registry: reg,
	}
}

// Shutdown останавливает запуски и закрывает SSE-потоки
func (s *Server) Shutdown() {
	s.runs.cancelAll()
	s.hub.Shutdown()
}

// StartRun запускает новый процесс поиска корня
func (s *Server) StartRun(w http.ResponseWriter, r *http.Request) {
	var p RunParams
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, "ошибка JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := p.normalize(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	opts := p.options(s.cfg.Options())
	if err := opts.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f, err := optimizer.NewEvalFunc(p.Func)
	if err != nil {
		http.Error(w, "ошибка в выражении функции: "+err.Error(), http.StatusBadRequest)
		return
	}
	g := p.target(f)

	// предварительно считаем значения функции для графика
	n := s.cfg.Samples
	xs := make([]float64, n)
	ys := make([]*float64, n)
	h := (p.B - p.A) / float64(n-1)
	for i := 0; i < n; i++ {
		x := p.A + float64(i)*h
		xs[i] = x
		if y, err := g.Eval(x); err == nil && finite(y) {
			ys[i] = &y
		}
	}

	direction := ""
	if d, err := optimizer.Monotonicity(g, p.A, p.B); err == nil {
		direction = d.String()
	}

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	rs := &RunState{
		ID:        id,
		Params:    p,
		CreatedAt: time.Now(),
		Cancel:    cancel,
	}
	for _, old := range s.runs.save(rs) {
		s.hub.Close(old.ID)
		s.log.Infof("run %s: evicted", old.ID)
	}
	s.hub.Open(id)
	s.log.Infof("run %s: %s f(x) = %s on [%g, %g]", id, p.Mode, p.Func, p.A, p.B)

	// асинхронный запуск
	s.metrics.active.Inc()
	go func() {
		defer s.metrics.active.Dec()
		defer cancel()
		s.run(ctx, rs, f, opts)
	}()

	writeJSON(w, map[string]any{
		"id":        id,
		"xs":        xs,
		"ys":        ys,
		"direction": direction,
	})
}

func (s *Server) run(ctx context.Context, rs *RunState, f optimizer.Func, opts optimizer.Options) {
	id, p := rs.ID, rs.Params

	// стартовое событие
	s.publish(id, map[string]any{
		"type": "start",
		"id":   id,
	})

	onIter := func(it optimizer.Iter) error {
		select {
		case <-ctx.Done():
			return optimizer.ErrStopped
		default:
		}

		rs.addIter(it)
		s.publish(id, map[string]any{
			"type": "iter",
			"iter": it,
		})
		return nil
	}

	res, err := p.solve(f, opts, onIter)

	switch {
	case err == nil:
		rs.finish(res, "", "", false)
		s.metrics.observe(p.Mode, outcomeConverged, res.Iters)
		s.log.Infof("run %s: x = %g, f = %g after %d iterations", id, res.Root, res.FRoot, res.Iters)
		s.publish(id, map[string]any{
			"type":  "done",
			"x":     res.Root,
			"fx":    res.FRoot,
			"iters": res.Iters,
		})
	case errors.Is(err, optimizer.ErrStopped):
		rs.finish(res, "", "", true)
		s.metrics.observe(p.Mode, outcomeStopped, res.Iters)
		s.log.Infof("run %s: stopped after %d iterations", id, res.Iters)
		s.publish(id, map[string]any{
			"type": "stopped",
		})
	case optimizer.IsWarning(err):
		rs.finish(res, err.Error(), "", false)
		s.metrics.observe(p.Mode, outcomeNotConverged, res.Iters)
		s.log.Warningf("run %s: %s", id, err)
		s.publish(id, map[string]any{
			"type":  "warning",
			"x":     res.Root,
			"fx":    res.FRoot,
			"iters": res.Iters,
			"err":   err.Error(),
		})
	default:
		msg := "ошибка при вычислении: " + err.Error()
		rs.finish(res, "", msg, false)
		s.metrics.observe(p.Mode, outcomeError, res.Iters)
		s.log.Errorf("run %s: %s", id, err)
		s.publish(id, map[string]any{
			"type": "error",
			"err":  msg,
		})
	}
}

func (s *Server) publish(id string, payload map[string]any) {
	msg, err := json.Marshal(payload)
	if err != nil {
		s.log.Errorf("run %s: encoding event: %s", id, err)
		return
	}
	s.hub.Publish(id, string(msg))
}

// StopRun — прерывание процесса поиска
func (s *Server) StopRun(w http.ResponseWriter, r *http.Request) {
	rs, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if rs.Cancel != nil {
		rs.Cancel()
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetRun — текущее состояние запуска
func (s *Server) GetRun(w http.ResponseWriter, r *http.Request) {
	rs, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, rs.snapshot())
}

// ExportCSV — экспорт итераций в CSV
func (s *Server) ExportCSV(w http.ResponseWriter, r *http.Request) {
	rs, ok := s.lookup(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename=iterations_"+rs.ID+".csv")

	cw := csv.NewWriter(w)
	defer cw.Flush()

	_ = cw.Write([]string{"k", "a", "b", "mid", "f(mid)", "b-a"})

	for _, it := range rs.iterations() {
		_ = cw.Write([]string{
			strconv.Itoa(it.K),
			fmtFloat(it.A),
			fmtFloat(it.B),
			fmtFloat(it.XMid),
			fmtFloat(it.FXMid),
			fmtFloat(it.Len),
		})
	}
}

// Stream — SSE-стрим событий запуска
func (s *Server) Stream(w http.ResponseWriter, r *http.Request) {
	rs, ok := s.lookup(w, r)
	if !ok {
		return
	}

	r2 := r.Clone(r.Context())
	q := r2.URL.Query()
	q.Set("stream", rs.ID)
	r2.URL.RawQuery = q.Encode()
	s.hub.ServeHTTP(w, r2)
}

// SolveResponse — ответ синхронного решения
type SolveResponse struct {
	optimizer.Result
	Direction string `json:"direction,omitempty"`
	Warning   string `json:"warning,omitempty"`
}

// Solve — синхронный поиск корня или обратного значения
func (s *Server) Solve(w http.ResponseWriter, r *http.Request) {
	var p RunParams
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, "ошибка JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := p.normalize(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f, err := optimizer.NewEvalFunc(p.Func)
	if err != nil {
		http.Error(w, "ошибка в выражении функции: "+err.Error(), http.StatusBadRequest)
		return
	}

	res, err := p.solve(f, p.options(s.cfg.Options()), nil)
	resp := SolveResponse{Result: res}
	switch {
	case err == nil:
		s.metrics.observe(p.Mode, outcomeConverged, res.Iters)
	case optimizer.IsWarning(err):
		s.metrics.observe(p.Mode, outcomeNotConverged, res.Iters)
		resp.Warning = err.Error()
	default:
		s.metrics.observe(p.Mode, outcomeError, res.Iters)
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	if d, err := optimizer.Monotonicity(p.target(f), p.A, p.B); err == nil {
		resp.Direction = d.String()
	}
	writeJSON(w, resp)
}

// BatchParams — пакет отрезков для одной функции
type BatchParams struct {
	RunParams
	Brackets []optimizer.Bracket `json:"brackets"`
}

// BatchItem — результат одного отрезка пакета
type BatchItem struct {
	optimizer.Bracket
	optimizer.Result
	Err string `json:"err,omitempty"`
}

// Batch — синхронное решение для набора отрезков
func (s *Server) Batch(w http.ResponseWriter, r *http.Request) {
	var p BatchParams
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, "ошибка JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(p.Brackets) == 0 {
		http.Error(w, "требуется хотя бы один отрезок", http.StatusBadRequest)
		return
	}
	if len(p.Brackets) > s.cfg.MaxBatch {
		http.Error(w, "слишком много отрезков: "+strconv.Itoa(len(p.Brackets)), http.StatusBadRequest)
		return
	}
	// отрезки проверяются по отдельности, общий [a, b] не нужен
	p.A, p.B = 0, 1
	if err := p.normalize(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f, err := optimizer.NewEvalFunc(p.Func)
	if err != nil {
		http.Error(w, "ошибка в выражении функции: "+err.Error(), http.StatusBadRequest)
		return
	}

	opts := p.options(s.cfg.Options())
	var out []optimizer.BatchResult
	if p.Mode == ModeInverse {
		out, err = optimizer.InverseBatch(r.Context(), f, p.Y, p.Brackets, opts, s.cfg.Workers)
	} else {
		out, err = optimizer.BisectBatch(r.Context(), f, p.Brackets, opts, s.cfg.Workers)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	items := make([]BatchItem, len(out))
	for i, br := range out {
		items[i] = BatchItem{Bracket: br.Bracket, Result: br.Result}
		outcome := outcomeConverged
		if br.Err != nil {
			items[i].Err = br.Err.Error()
			outcome = outcomeError
			if optimizer.IsWarning(br.Err) {
				outcome = outcomeNotConverged
			}
		}
		s.metrics.observe(p.Mode, outcome, br.Iters)
	}
	writeJSON(w, map[string]any{"results": items})
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*RunState, bool) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "требуется id", http.StatusBadRequest)
		return nil, false
	}
	rs := s.runs.get(id)
	if rs == nil {
		http.Error(w, "неизвестный id", http.StatusNotFound)
		return nil, false
	}
	return rs, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, optimizer.ErrInvalidInterval), errors.Is(err, optimizer.ErrInvalidOptions):
		return http.StatusBadRequest
	default:
		// нет смены знака, NaN, ошибка вычисления выражения
		return http.StatusUnprocessableEntity
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func fmtFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', 16, 64)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
