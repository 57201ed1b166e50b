package optimizer

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/Knetic/govaluate"
)

// Func — интерфейс для абстрактной функции f(x)
type Func interface {
	Eval(x float64) (float64, error)
}

// FuncOf оборачивает обычную функцию Go в Func
type FuncOf func(float64) float64

func (f FuncOf) Eval(x float64) (float64, error) {
	return f(x), nil
}

// shifted — g(x) = f(x) - y
type shifted struct {
	f Func
	y float64
}

// Shift возвращает g(x) = f(x) - y; корень g — обратное значение f в точке y.
func Shift(f Func, y float64) Func {
	if y == 0 {
		return f
	}
	return shifted{f: f, y: y}
}

func (s shifted) Eval(x float64) (float64, error) {
	v, err := s.f.Eval(x)
	if err != nil {
		return math.NaN(), err
	}
	return v - s.y, nil
}

// evalFunc — реализация Func на основе govaluate
type evalFunc struct {
	src  string
	expr *govaluate.EvaluableExpression
}

var (
	decimalComma = regexp.MustCompile(`(\d),(\d)`)
	// govaluate не разбирает экспоненциальную запись
	sciLiteral = regexp.MustCompile(`(?:\d+\.?\d*|\.\d+)[eE][+-]?\d+`)
)

// expandSci переписывает "1e-3" в "0.001"
func expandSci(lit string) string {
	v, err := strconv.ParseFloat(lit, 64)
	if err != nil {
		return lit
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

var exprFuncs = map[string]govaluate.ExpressionFunction{
	"sin":  unary(math.Sin),
	"cos":  unary(math.Cos),
	"tan":  unary(math.Tan),
	"exp":  unary(math.Exp),
	"log":  unary(math.Log),
	"sqrt": unary(math.Sqrt),
	"abs":  unary(math.Abs),
	"pow": func(args ...interface{}) (interface{}, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("pow: ожидается 2 аргумента, получено %d", len(args))
		}
		return math.Pow(toFloat(args[0]), toFloat(args[1])), nil
	},
}

func unary(fn func(float64) float64) govaluate.ExpressionFunction {
	return func(args ...interface{}) (interface{}, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("ожидается 1 аргумент, получено %d", len(args))
		}
		return fn(toFloat(args[0])), nil
	}
}

// NewEvalFunc создаёт вычислимую функцию по строке f(x).
// Результат безопасен для одновременного использования из нескольких горутин.
func NewEvalFunc(expr string) (Func, error) {
	// нормализуем запятые в десятичной записи: "0,5" -> "0.5", но "pow(x, 2)" не трогаем
	expr = decimalComma.ReplaceAllString(strings.TrimSpace(expr), "$1.$2")
	expr = sciLiteral.ReplaceAllStringFunc(expr, expandSci)
	if expr == "" {
		return nil, fmt.Errorf("пустое выражение")
	}

	parsed, err := govaluate.NewEvaluableExpressionWithFunctions(expr, exprFuncs)
	if err != nil {
		return nil, err
	}
	for _, v := range parsed.Vars() {
		switch v {
		case "x", "pi", "e":
		default:
			return nil, fmt.Errorf("неизвестная переменная %q", v)
		}
	}

	return &evalFunc{src: expr, expr: parsed}, nil
}

func (f *evalFunc) String() string {
	return f.src
}

func (f *evalFunc) Eval(x float64) (float64, error) {
	// параметры на каждый вызов: выражение само по себе не меняется
	v, err := f.expr.Evaluate(map[string]interface{}{
		"x":  x,
		"pi": math.Pi,
		"e":  math.E,
	})
	if err != nil {
		return math.NaN(), err
	}

	switch t := v.(type) {
	case float64:
		return t, nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case string:
		parsed, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return math.NaN(), err
		}
		return parsed, nil
	default:
		return math.NaN(), fmt.Errorf("выражение не вернуло число: %T", v)
	}
}

func toFloat(v interface{}) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	default:
		return math.NaN()
	}
}
