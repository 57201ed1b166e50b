package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jcgregorio/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"

	"github.com/ImahnShekhzadeh/FindRootsAndInverseValues/internal/config"
	"github.com/ImahnShekhzadeh/FindRootsAndInverseValues/internal/server"
)

func main() {
	log := logger.NewFromOptions(&logger.Options{SyncWriter: os.Stderr, IncludeDebug: true})

	var configFile, addr string
	app := &cli.App{
		Name:  "server",
		Usage: "HTTP-сервер метода бисекции",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Usage:       "JSON5 config file",
				Destination: &configFile,
			},
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "HTTP address, overrides the config (e.g. ':8080')",
				Destination: &addr,
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}
			return serve(c.Context, cfg, log)
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func serve(ctx context.Context, cfg config.Config, log *logger.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	s := server.New(cfg, log, reg)
	defer s.Shutdown()

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: server.NewRouter(s),
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Infof("Сервер запущен на http://localhost%s", cfg.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.Info("Сервер остановлен")
	return nil
}
