// Command bisect ищет корень или обратное значение функции методом бисекции.
package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/jcgregorio/logger"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/ImahnShekhzadeh/FindRootsAndInverseValues/internal/config"
	"github.com/ImahnShekhzadeh/FindRootsAndInverseValues/internal/optimizer"
)

const defaultFunc = "(x - 2) ** 3"

// solveFlags — флаги, общие для всех команд
type solveFlags struct {
	ConfigFile string
	Func       string
	A, B       float64
	Y          float64
	Tol        float64
	XTol       float64
	FTol       float64
	MaxIter    int
}

func (flags *solveFlags) AsCliFlags(a, b, y float64) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Usage:       "JSON5 config with solver defaults.",
			Destination: &flags.ConfigFile,
		},
		&cli.StringFlag{
			Name:        "func",
			Value:       defaultFunc,
			Usage:       "Expression in x, e.g. 'x*x - 2', 'cos(pi * x)' or 'exp(x) - 1e-3'; constants pi and e.",
			Destination: &flags.Func,
		},
		&cli.Float64Flag{
			Name:        "a",
			Value:       a,
			Usage:       "Left endpoint of the interval.",
			Destination: &flags.A,
		},
		&cli.Float64Flag{
			Name:        "b",
			Value:       b,
			Usage:       "Right endpoint of the interval.",
			Destination: &flags.B,
		},
		&cli.Float64Flag{
			Name:        "y",
			Value:       y,
			Usage:       "Target value for the inverse: solve f(x) = y.",
			Destination: &flags.Y,
		},
		&cli.Float64Flag{
			Name:        "tol",
			Value:       1e-10,
			Usage:       "Tolerance for both |f(mid)| and the half-width of the interval.",
			Destination: &flags.Tol,
		},
		&cli.Float64Flag{
			Name:        "xtol",
			Usage:       "Tolerance for the half-width of the interval, overrides --tol.",
			Destination: &flags.XTol,
		},
		&cli.Float64Flag{
			Name:        "ftol",
			Usage:       "Tolerance for |f(mid)|, overrides --tol.",
			Destination: &flags.FTol,
		},
		&cli.IntFlag{
			Name:        "max_iter",
			Usage:       "Maximum number of halvings.",
			Destination: &flags.MaxIter,
		},
	}
}

func (flags *solveFlags) options() (optimizer.Options, error) {
	cfg, err := config.Load(flags.ConfigFile)
	if err != nil {
		return optimizer.Options{}, err
	}
	return optimizer.Options{
		Tol:     flags.Tol,
		XTol:    flags.XTol,
		FTol:    flags.FTol,
		MaxIter: flags.MaxIter,
	}.Or(cfg.Options()), nil
}

func main() {
	log := logger.NewFromOptions(&logger.Options{SyncWriter: os.Stderr})
	if err := newApp(os.Stdout, log).Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp(out io.Writer, log *logger.Logger) *cli.App {
	var rootFlags, inverseFlags, batchFlags solveFlags

	batchCliFlags := append((&batchFlags).AsCliFlags(0, 0, 0), &cli.StringSliceFlag{
		Name:     "brackets",
		Usage:    "Intervals as a:b, e.g. --brackets 2:4 --brackets 5:7.",
		Required: true,
	})

	return &cli.App{
		Name:   "bisect",
		Usage:  "Find roots and inverse values with the bisection method.",
		Writer: out,
		Commands: []*cli.Command{
			{
				Name:  "root",
				Usage: "Find x in [a, b] with f(x) = 0.",
				Flags: (&rootFlags).AsCliFlags(-5, 5, 0),
				Action: func(c *cli.Context) error {
					f, opts, err := prepare(&rootFlags)
					if err != nil {
						return err
					}
					res, err := optimizer.Bisect(f, rootFlags.A, rootFlags.B, opts, nil)
					if err := report(log, err); err != nil {
						return err
					}
					fmt.Fprintf(out, "Found root at x = %.12g in %s.\nFunction evaluation: %g (%d iterations).\n", res.Root, res.Elapsed, res.FRoot, res.Iters)
					return nil
				},
			},
			{
				Name:  "inverse",
				Usage: "Find x in [a, b] with f(x) = y.",
				Flags: (&inverseFlags).AsCliFlags(0, 5, 3),
				Action: func(c *cli.Context) error {
					f, opts, err := prepare(&inverseFlags)
					if err != nil {
						return err
					}
					res, err := optimizer.Inverse(f, inverseFlags.Y, inverseFlags.A, inverseFlags.B, opts, nil)
					if err := report(log, err); err != nil {
						return err
					}
					fmt.Fprintf(out, "Found inverse value f^(-1)(y=%g) = %.12g in %s (%d iterations).\n", inverseFlags.Y, res.Root, res.Elapsed, res.Iters)
					return nil
				},
			},
			{
				Name:  "batch",
				Usage: "Find one root per interval; intervals are solved independently.",
				Flags: batchCliFlags,
				Action: func(c *cli.Context) error {
					f, opts, err := prepare(&batchFlags)
					if err != nil {
						return err
					}
					brackets, err := parseBrackets(c.StringSlice("brackets"))
					if err != nil {
						return err
					}
					results, err := optimizer.BisectBatch(c.Context, f, brackets, opts, 0)
					if err != nil {
						return err
					}
					for _, r := range results {
						if r.Err != nil && !optimizer.IsWarning(r.Err) {
							fmt.Fprintf(out, "[%g, %g]: %s\n", r.A, r.B, r.Err)
							continue
						}
						_ = report(log, r.Err)
						fmt.Fprintf(out, "[%g, %g]: x = %.12g, f(x) = %g\n", r.A, r.B, r.Root, r.FRoot)
					}
					return nil
				},
			},
		},
	}
}

func prepare(flags *solveFlags) (optimizer.Func, optimizer.Options, error) {
	opts, err := flags.options()
	if err != nil {
		return nil, opts, err
	}
	f, err := optimizer.NewEvalFunc(flags.Func)
	if err != nil {
		return nil, opts, errors.Wrapf(err, "parsing %q", flags.Func)
	}
	return f, opts, nil
}

// report пропускает ErrNotConverged с предупреждением в лог
func report(log *logger.Logger, err error) error {
	if err == nil {
		return nil
	}
	if optimizer.IsWarning(err) {
		log.Warningf("%s; returning current best estimate", err)
		return nil
	}
	return err
}

func parseBrackets(values []string) ([]optimizer.Bracket, error) {
	out := make([]optimizer.Bracket, 0, len(values))
	for _, v := range values {
		lo, hi, ok := strings.Cut(v, ":")
		if !ok {
			return nil, errors.Errorf("bracket %q: want a:b", v)
		}
		a, err := strconv.ParseFloat(strings.TrimSpace(lo), 64)
		if err != nil {
			return nil, errors.Wrapf(err, "bracket %q", v)
		}
		b, err := strconv.ParseFloat(strings.TrimSpace(hi), 64)
		if err != nil {
			return nil, errors.Wrapf(err, "bracket %q", v)
		}
		out = append(out, optimizer.Bracket{A: a, B: b})
	}
	return out, nil
}
