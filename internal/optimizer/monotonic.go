package optimizer

import "github.com/pkg/errors"

// Direction — характер монотонности f на отрезке
type Direction int

const (
	Decreasing Direction = -1
	Increasing Direction = 1
)

func (d Direction) String() string {
	switch d {
	case Increasing:
		return "increasing"
	case Decreasing:
		return "decreasing"
	default:
		return "unknown"
	}
}

// Monotonicity сравнивает f(a) и f(b). Проверяются только концы отрезка,
// так что это оценка, а не доказательство монотонности.
func Monotonicity(f Func, a, b float64) (Direction, error) {
	fa, err := eval(f, a)
	if err != nil {
		return 0, err
	}
	fb, err := eval(f, b)
	if err != nil {
		return 0, err
	}
	switch {
	case fa < fb:
		return Increasing, nil
	case fa > fb:
		return Decreasing, nil
	default:
		return 0, errors.Wrapf(ErrNotMonotonic, "f(%g) = f(%g) = %g", a, b, fa)
	}
}
