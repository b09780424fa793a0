package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/osvaldoandrade/uicase/pkg/app"
	_ "github.com/osvaldoandrade/uicase/pkg/auth/jwks"   // jwks bearer validation
	_ "github.com/osvaldoandrade/uicase/pkg/auth/static" // fixed tokens for dev and CI
	"github.com/osvaldoandrade/uicase/pkg/config"
)

func fatal(stage string, err error) {
	fmt.Fprintf(os.Stderr, "[ERROR] %s: %v\n", stage, err)
	os.Exit(1)
}

func main() {
	// .env is a local-development convenience; its absence is fine.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fatal("load .env", err)
	}

	cfg, err := config.LoadConfigOptional(os.Getenv("UICASE_CONFIG_PATH"))
	if err != nil {
		fatal("load config", err)
	}
	if err := cfg.Validate(); err != nil {
		fatal("invalid config", err)
	}

	application, err := app.NewApplication(cfg)
	if err != nil {
		fatal("init app", err)
	}
	app.SetupMappings(application)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           application.Engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		application.Logger.Info("listening", "addr", srv.Addr, "transport", application.Runner.Name())
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			fatal("http server", err)
		}
	case <-ctx.Done():
	}
	application.Logger.Info("shutting down")

	// a run in flight may still be waiting on the agent
	grace := time.Duration(cfg.Agent.HTTPTimeoutSeconds+10) * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		application.Logger.Warn("http shutdown", "err", err)
	}
	if err := application.Close(shutdownCtx); err != nil {
		application.Logger.Warn("close", "err", err)
	}
}
