package optimizer

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Bracket — отрезок [A, B], на котором ищется корень
type Bracket struct {
	A float64 `json:"a"`
	B float64 `json:"b"`
}

// BatchResult — результат для одного отрезка пакета
type BatchResult struct {
	Bracket
	Result
	Err error `json:"-"`
}

// BisectBatch решает задачу независимо для каждого отрезка, не более workers
// запусков одновременно (workers <= 0 — без ограничения). Порядок результатов
// совпадает с порядком brackets. Ошибки отдельных отрезков попадают в
// BatchResult.Err; ошибкой всего пакета становится только отмена ctx.
func BisectBatch(ctx context.Context, f Func, brackets []Bracket, opts Options, workers int) ([]BatchResult, error) {
	out := make([]BatchResult, len(brackets))

	var g errgroup.Group
	if workers > 0 {
		g.SetLimit(workers)
	}
	stop := func(Iter) error {
		return ctx.Err()
	}

	for i, br := range brackets {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				out[i] = BatchResult{Bracket: br, Err: err}
				return nil
			}
			res, err := Bisect(f, br.A, br.B, opts, stop)
			out[i] = BatchResult{Bracket: br, Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	return out, ctx.Err()
}

// InverseBatch — BisectBatch для g(x) = f(x) - y
func InverseBatch(ctx context.Context, f Func, y float64, brackets []Bracket, opts Options, workers int) ([]BatchResult, error) {
	return BisectBatch(ctx, Shift(f, y), brackets, opts, workers)
}
