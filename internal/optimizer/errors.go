package optimizer

import "github.com/pkg/errors"

var (
	// ErrInvalidInterval — задан отрезок с a >= b
	ErrInvalidInterval = errors.New("bisection: invalid interval, need a < b")

	// ErrInvalidOptions — неположительная точность или число итераций
	ErrInvalidOptions = errors.New("bisection: invalid options")

	// ErrNoBracket — f(a) и f(b) одного знака, корень не локализован
	ErrNoBracket = errors.New("bisection: interval does not bracket a root")

	// ErrNotConverged — исчерпан лимит итераций или времени.
	// Не фатальна: вместе с ней возвращается последняя оценка корня.
	ErrNotConverged = errors.New("bisection: not converged")

	// ErrNonFinite — функция вернула NaN или ±Inf
	ErrNonFinite = errors.New("bisection: function value is not finite")

	// ErrStopped — специальная ошибка для принудительной остановки
	ErrStopped = errors.New("bisection: stopped by callback")

	// ErrNotMonotonic — f(a) == f(b)
	ErrNotMonotonic = errors.New("bisection: function is not strictly monotonic on interval")
)

// IsWarning сообщает, что ошибка не отменяет результат
func IsWarning(err error) bool {
	return errors.Is(err, ErrNotConverged)
}
