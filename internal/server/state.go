package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ImahnShekhzadeh/FindRootsAndInverseValues/internal/optimizer"
)

const (
	ModeRoot    = "root"
	ModeInverse = "inverse"
)

// параметры запуска метода
type RunParams struct {
	Func    string  `json:"func"`
	Mode    string  `json:"mode"`
	Y       float64 `json:"y"`
	A       float64 `json:"a"`
	B       float64 `json:"b"`
	Tol     float64 `json:"tol"`
	XTol    float64 `json:"xtol"`
	FTol    float64 `json:"ftol"`
	MaxIter int     `json:"maxIter"`
}

// normalize подставляет значения по умолчанию и проверяет параметры
func (p *RunParams) normalize() error {
	if p.Mode == "" {
		p.Mode = ModeRoot
	}
	if p.Mode != ModeRoot && p.Mode != ModeInverse {
		return fmt.Errorf("неизвестный режим %q", p.Mode)
	}
	if !(p.A < p.B) {
		return fmt.Errorf("требуется a < b")
	}
	return nil
}

func (p RunParams) options(defaults optimizer.Options) optimizer.Options {
	return optimizer.Options{
		Tol:     p.Tol,
		XTol:    p.XTol,
		FTol:    p.FTol,
		MaxIter: p.MaxIter,
	}.Or(defaults)
}

// target — функция, корень которой ищется в этом режиме
func (p RunParams) target(f optimizer.Func) optimizer.Func {
	if p.Mode == ModeInverse {
		return optimizer.Shift(f, p.Y)
	}
	return f
}

func (p RunParams) solve(f optimizer.Func, opts optimizer.Options, onIter func(optimizer.Iter) error) (optimizer.Result, error) {
	if p.Mode == ModeInverse {
		return optimizer.Inverse(f, p.Y, p.A, p.B, opts, onIter)
	}
	return optimizer.Bisect(f, p.A, p.B, opts, onIter)
}

// состояние одного запуска
type RunState struct {
	ID        string
	Params    RunParams
	CreatedAt time.Time
	Cancel    context.CancelFunc

	mu       sync.Mutex
	lastIter optimizer.Iter
	iters    []optimizer.Iter
	result   optimizer.Result
	err      string
	warning  string
	done     bool
	stopped  bool
}

// RunSnapshot — копия состояния для отдачи наружу
type RunSnapshot struct {
	ID        string           `json:"id"`
	Params    RunParams        `json:"params"`
	CreatedAt time.Time        `json:"createdAt"`
	LastIter  optimizer.Iter   `json:"lastIter"`
	Iters     int              `json:"iters"`
	Result    optimizer.Result `json:"result"`
	Err       string           `json:"err,omitempty"`
	Warning   string           `json:"warning,omitempty"`
	Done      bool             `json:"done"`
	Stopped   bool             `json:"stopped"`
}

func (rs *RunState) addIter(it optimizer.Iter) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.lastIter = it
	rs.iters = append(rs.iters, it)
}

func (rs *RunState) iterations() []optimizer.Iter {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return append([]optimizer.Iter(nil), rs.iters...)
}

func (rs *RunState) finish(res optimizer.Result, warning, errMsg string, stopped bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.result = res
	rs.warning = warning
	rs.err = errMsg
	rs.stopped = stopped
	rs.done = errMsg == "" && !stopped
}

func (rs *RunState) snapshot() RunSnapshot {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return RunSnapshot{
		ID:        rs.ID,
		Params:    rs.Params,
		CreatedAt: rs.CreatedAt,
		LastIter:  rs.lastIter,
		Iters:     len(rs.iters),
		Result:    rs.result,
		Err:       rs.err,
		Warning:   rs.warning,
		Done:      rs.done,
		Stopped:   rs.stopped,
	}
}

// registry — запуски по id; хранит не больше max последних
type registry struct {
	mu    sync.Mutex
	max   int
	runs  map[string]*RunState
	order []string
}

func newRegistry(max int) *registry {
	return &registry{max: max, runs: map[string]*RunState{}}
}

// save добавляет запуск и возвращает вытесненные, самые старые первыми.
// Вытесненные запуски останавливаются.
func (r *registry) save(rs *RunState) []*RunState {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[rs.ID] = rs
	r.order = append(r.order, rs.ID)

	var evicted []*RunState
	for r.max > 0 && len(r.order) > r.max {
		old := r.runs[r.order[0]]
		delete(r.runs, r.order[0])
		r.order = r.order[1:]
		if old.Cancel != nil {
			old.Cancel()
		}
		evicted = append(evicted, old)
	}
	return evicted
}

func (r *registry) get(id string) *RunState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs[id]
}

// cancelAll останавливает все незавершённые запуски
func (r *registry) cancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rs := range r.runs {
		if rs.Cancel != nil {
			rs.Cancel()
		}
	}
}
