// Package main provides an HTTP API server for a bpindex file.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/oda/bpindex/internal/config"
	"github.com/oda/bpindex/internal/httpapi"
	"github.com/oda/bpindex/internal/logging"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg := config.Default()
	if err := cfg.ApplyEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	fs := pflag.NewFlagSet("server", pflag.ExitOnError)
	fs.StringVarP(&cfg.Path, "path", "p", cfg.Path, "index file (env "+config.EnvPath+")")
	fs.StringVar(&cfg.Backend, "backend", cfg.Backend, "storage backend: file, mmap or memory")
	fs.BoolVar(&cfg.Sync, "sync", cfg.Sync, "fsync after every mutating request")
	fs.StringVar(&cfg.Server.Host, "host", cfg.Server.Host, "listen host")
	fs.IntVar(&cfg.Server.Port, "port", cfg.Server.Port, "listen port (env "+config.EnvPort+")")
	fs.StringVar(&cfg.Server.Mode, "mode", cfg.Server.Mode, "gin mode: debug, release or test")
	fs.StringVar(&cfg.Logger.Level, "log-level", cfg.Logger.Level, "log level")
	fs.StringVar(&cfg.Logger.FileName, "log-file", cfg.Logger.FileName, "rotated JSON log file")
	fs.Parse(os.Args[1:])

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := logging.New(cfg.Logger)
	if err != nil {
		return err
	}
	defer log.Sync()

	gin.SetMode(cfg.Server.Mode)

	tree, err := cfg.OpenTree(log)
	if err != nil {
		return err
	}
	api := httpapi.New(tree, log)
	defer func() {
		if err := api.Close(); err != nil {
			log.Error("closing index failed", zap.Error(err))
		}
	}()

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("bpindex API server starting",
			zap.String("addr", srv.Addr),
			zap.String("path", cfg.Path),
			zap.String("backend", cfg.Backend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "listen")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
