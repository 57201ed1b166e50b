package optimizer

import (
	"math"
	"time"

	"github.com/pkg/errors"
)

const (
	DefaultTol     = 1e-6
	DefaultMaxIter = 100
)

// Options — параметры сходимости одного запуска.
// Tol подставляется в XTol и FTol, если они не заданы; нулевые значения означают значения по умолчанию.
type Options struct {
	Tol       float64       `json:"tol"`
	XTol      float64       `json:"xtol"`
	FTol      float64       `json:"ftol"`
	MaxIter   int           `json:"maxIter"`
	TimeLimit time.Duration `json:"-"`
}

// DefaultOptions возвращает Tol = 1e-6, MaxIter = 100
func DefaultOptions() Options {
	return Options{Tol: DefaultTol, MaxIter: DefaultMaxIter}
}

// Or заполняет незаданные (нулевые) поля значениями из d.
// Собственный Tol сначала подставляется в XTol и FTol, и только потом берутся XTol и FTol из d.
func (o Options) Or(d Options) Options {
	if o.Tol != 0 {
		if o.XTol == 0 {
			o.XTol = o.Tol
		}
		if o.FTol == 0 {
			o.FTol = o.Tol
		}
	}
	if o.Tol == 0 {
		o.Tol = d.Tol
	}
	if o.XTol == 0 {
		o.XTol = d.XTol
	}
	if o.FTol == 0 {
		o.FTol = d.FTol
	}
	if o.MaxIter == 0 {
		o.MaxIter = d.MaxIter
	}
	if o.TimeLimit == 0 {
		o.TimeLimit = d.TimeLimit
	}
	return o
}

// Validate возвращает ErrInvalidOptions для отрицательных значений
func (o Options) Validate() error {
	_, err := o.resolve()
	return err
}

func (o Options) resolve() (Options, error) {
	if o.Tol == 0 {
		o.Tol = DefaultTol
	}
	if o.XTol == 0 {
		o.XTol = o.Tol
	}
	if o.FTol == 0 {
		o.FTol = o.Tol
	}
	if o.MaxIter == 0 {
		o.MaxIter = DefaultMaxIter
	}
	if !(o.Tol > 0) || !(o.XTol > 0) || !(o.FTol > 0) {
		return o, errors.Wrapf(ErrInvalidOptions, "tolerance must be positive (tol=%g xtol=%g ftol=%g)", o.Tol, o.XTol, o.FTol)
	}
	if o.MaxIter < 0 || o.TimeLimit < 0 {
		return o, errors.Wrapf(ErrInvalidOptions, "maxIter=%d timeLimit=%s", o.MaxIter, o.TimeLimit)
	}
	return o, nil
}

// Iter — одна итерация метода бисекции: отрезок [A, B], на котором вычислена середина
type Iter struct {
	K     int     `json:"k"`
	A     float64 `json:"a"`
	B     float64 `json:"b"`
	XMid  float64 `json:"xmid"`
	FXMid float64 `json:"fxmid"`
	Len   float64 `json:"len"`
}

// Result — итог одного запуска
type Result struct {
	Root      float64       `json:"root"`
	FRoot     float64       `json:"froot"`
	Iters     int           `json:"iters"`
	Converged bool          `json:"converged"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Bisect — реализация метода бисекции.
//
// Сначала проверяются концы отрезка: если |f(a)| или |f(b)| не больше FTol,
// соответствующий конец возвращается без итераций. Затем f(a) и f(b) обязаны
// иметь разные знаки, иначе ErrNoBracket.
//
// На каждой итерации сначала проверяется |f(mid)| < FTol, затем (b-a)/2 < XTol;
// достаточно любого из условий. f(mid) == 0 — всегда успех.
//
// При исчерпании MaxIter или TimeLimit возвращается последняя середина вместе с
// ErrNotConverged. onIter вызывается после каждой итерации; если вернёт
// ErrStopped — алгоритм прерывается.
func Bisect(f Func, a, b float64, opts Options, onIter func(Iter) error) (Result, error) {
	start := time.Now()

	if math.IsNaN(a) || math.IsNaN(b) || !(a < b) {
		return Result{}, errors.Wrapf(ErrInvalidInterval, "[%g, %g]", a, b)
	}
	o, err := opts.resolve()
	if err != nil {
		return Result{}, err
	}

	fa, err := eval(f, a)
	if err != nil {
		return Result{}, err
	}
	fb, err := eval(f, b)
	if err != nil {
		return Result{}, err
	}

	if math.Abs(fa) <= o.FTol {
		return Result{Root: a, FRoot: fa, Converged: true, Elapsed: time.Since(start)}, nil
	}
	if math.Abs(fb) <= o.FTol {
		return Result{Root: b, FRoot: fb, Converged: true, Elapsed: time.Since(start)}, nil
	}
	if (fa > 0) == (fb > 0) {
		return Result{}, errors.Wrapf(ErrNoBracket, "f(%g) = %g, f(%g) = %g", a, fa, b, fb)
	}

	var last Result
	for k := 1; k <= o.MaxIter; k++ {
		// половины по отдельности: b - a переполняется при концах разных знаков около MaxFloat64
		half := b/2 - a/2
		mid := a/2 + b/2

		fmid, err := eval(f, mid)
		if err != nil {
			last.Elapsed = time.Since(start)
			return last, err
		}
		last = Result{Root: mid, FRoot: fmid, Iters: k}

		if onIter != nil {
			if err := onIter(Iter{K: k, A: a, B: b, XMid: mid, FXMid: fmid, Len: b - a}); err != nil {
				last.Elapsed = time.Since(start)
				if errors.Is(err, ErrStopped) {
					return last, ErrStopped
				}
				return last, err
			}
		}

		// mid == a или mid == b: отрезок больше не делится в float64
		if fmid == 0 || math.Abs(fmid) < o.FTol || half < o.XTol || mid == a || mid == b {
			last.Converged = true
			last.Elapsed = time.Since(start)
			return last, nil
		}

		if (fmid > 0) == (fa > 0) {
			a, fa = mid, fmid
		} else {
			b = mid
		}

		if o.TimeLimit > 0 && time.Since(start) > o.TimeLimit {
			last.Elapsed = time.Since(start)
			return last, errors.Wrapf(ErrNotConverged, "time limit %s reached after %d iterations", o.TimeLimit, k)
		}
	}

	last.Elapsed = time.Since(start)
	return last, errors.Wrapf(ErrNotConverged, "%d iterations, bracket [%g, %g]", o.MaxIter, a, b)
}

func eval(f Func, x float64) (float64, error) {
	v, err := f.Eval(x)
	if err != nil {
		return v, errors.Wrapf(err, "f(%g)", x)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v, errors.Wrapf(ErrNonFinite, "f(%g) = %g", x, v)
	}
	return v, nil
}
