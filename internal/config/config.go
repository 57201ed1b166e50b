// Package config описывает настройки сервера и CLI; файл — JSON5.
package config

import (
	"os"
	"time"

	"github.com/flynn/json5"
	"github.com/pkg/errors"

	"github.com/ImahnShekhzadeh/FindRootsAndInverseValues/internal/optimizer"
)

// Config — настройки запуска
type Config struct {
	// Addr — адрес HTTP-сервера, например ":8080"
	Addr string `json:"addr"`

	// Tol, XTol, FTol, MaxIter — значения по умолчанию для запросов без своих параметров
	Tol     float64 `json:"tol"`
	XTol    float64 `json:"xtol"`
	FTol    float64 `json:"ftol"`
	MaxIter int     `json:"max_iter"`

	// TimeLimit — ограничение времени одного запуска, "30s", "2m". Пусто — без ограничения.
	TimeLimit string `json:"time_limit"`

	// Workers — параллелизм пакетного решения; 0 — без ограничения
	Workers int `json:"workers"`

	// Samples — число точек графика в ответе /start
	Samples int `json:"samples"`

	// MaxBatch — максимальное число отрезков в одном пакетном запросе
	MaxBatch int `json:"max_batch"`

	// MaxRuns — сколько последних запусков /start хранить вместе с их SSE-потоками
	MaxRuns int `json:"max_runs"`
}

func Default() Config {
	return Config{
		Addr:      ":8080",
		Tol:       optimizer.DefaultTol,
		MaxIter:   optimizer.DefaultMaxIter,
		TimeLimit: "60s",
		Workers:   4,
		Samples:   400,
		MaxBatch:  1000,
		MaxRuns:   100,
	}
}

// Load читает JSON5 из path поверх Default(). Пустой path — только значения по умолчанию.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "opening config %s", path)
	}
	defer f.Close()

	if err := json5.NewDecoder(f).Decode(&cfg); err != nil {
		return cfg, errors.Wrapf(err, "decoding config %s", path)
	}
	return cfg, cfg.Validate()
}

// Validate проверяет согласованность значений
func (c Config) Validate() error {
	if c.Addr == "" {
		return errors.New("config: addr is required")
	}
	if err := c.Options().Validate(); err != nil {
		return errors.Wrap(err, "config")
	}
	if _, err := c.timeLimit(); err != nil {
		return err
	}
	if c.Workers < 0 || c.Samples < 2 || c.MaxBatch <= 0 || c.MaxRuns <= 0 {
		return errors.Errorf("config: workers=%d samples=%d max_batch=%d max_runs=%d out of range", c.Workers, c.Samples, c.MaxBatch, c.MaxRuns)
	}
	return nil
}

func (c Config) timeLimit() (time.Duration, error) {
	if c.TimeLimit == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.TimeLimit)
	if err != nil {
		return 0, errors.Wrapf(err, "config: time_limit %q", c.TimeLimit)
	}
	if d < 0 {
		return 0, errors.Errorf("config: negative time_limit %q", c.TimeLimit)
	}
	return d, nil
}

// Options — параметры решателя по умолчанию
func (c Config) Options() optimizer.Options {
	d, _ := c.timeLimit()
	return optimizer.Options{
		Tol:       c.Tol,
		XTol:      c.XTol,
		FTol:      c.FTol,
		MaxIter:   c.MaxIter,
		TimeLimit: d,
	}
}
