// Command telescoped serves the operator API for the mount: start and stop slews,
// watch the status stream, and drive the mount from hamlib clients.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/w1xm/mount_control/controller"
	"github.com/w1xm/mount_control/internal/config"
	"github.com/w1xm/mount_control/internal/metrics"
	"github.com/w1xm/mount_control/session"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	configPath = flag.String("config", "", "YAML config file")
	addr       = flag.String("addr", "", "address to listen on (overrides http.addr)")
	mode       = flag.String("mode", "", "default control mode: simulation, hybrid or real")
	rotctld    = flag.String("rotctld", "", "rotctld listen address (overrides http.rotctld)")
	staticDir  = flag.String("static_dir", "", "directory containing static files")
	debug      = flag.Bool("debug", false, "log at debug level")
)

func newLogger(debug bool) (*zap.SugaredLogger, error) {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
	}
	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}

func main() {
	flag.Parse()
	logger, err := newLogger(*debug)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("loading config: %v", err)
	}
	if *addr != "" {
		cfg.HTTP.Addr = *addr
	}
	if *rotctld != "" {
		cfg.HTTP.Rotctld = *rotctld
	}
	if *mode != "" {
		if cfg.Controller.Mode, err = controller.ParseMode(*mode); err != nil {
			logger.Fatal(err)
		}
	}

	m, err := metrics.New(nil)
	if err != nil {
		logger.Fatalf("registering metrics: %v", err)
	}
	manager := session.NewManager(cfg, logger, m)
	s := NewServer(manager, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.HTTP.Rotctld != "" {
		a, err := s.ListenRotctld(ctx, cfg.HTTP.Rotctld)
		if err != nil {
			logger.Fatalf("listening for rotctld: %v", err)
		}
		logger.Infof("rotctld listening on %v", a)
	}

	srv := &http.Server{
		Handler:     s.Router(*staticDir),
		Addr:        cfg.HTTP.Addr,
		ReadTimeout: 15 * time.Second,
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("Listening on %v in %v mode", srv.Addr, cfg.Controller.Mode)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		if err := manager.Stop(); err != nil {
			logger.Errorf("stopping session: %v", err)
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Errorf("server: %v", err)
		os.Exit(1)
	}
}
