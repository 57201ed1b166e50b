package optimizer

// Inverse ищет x на [a, b], для которого f(x) = y, как корень g(x) = f(x) - y.
// Result.FRoot содержит g(x), а не f(x).
func Inverse(f Func, y, a, b float64, opts Options, onIter func(Iter) error) (Result, error) {
	return Bisect(Shift(f, y), a, b, opts, onIter)
}
