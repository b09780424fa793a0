// Package agent hands a run request to the external browser automation agent,
// either over HTTP or through an in-process agent library, and returns its raw
// result.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/osvaldoandrade/uicase/internal/llm"
	"github.com/osvaldoandrade/uicase/internal/metrics"
	"github.com/osvaldoandrade/uicase/pkg/domain"
)

const (
	TransportHTTP  = "http"
	TransportSync  = "sync"
	TransportAsync = "async"
)

type Config struct {
	Transport string
	Library   string

	HTTPBase       string
	HTTPRunPath    string
	HTTPTimeout    time.Duration
	HTTPAuthHeader string

	CDPURL       string
	DefaultModel string

	LLM llm.Config
}

// Runner executes a request against the agent.
type Runner interface {
	Name() string
	// Available must be checked before Run; false means the agent cannot be reached at all.
	Available() bool
	Run(ctx context.Context, req domain.RunRequest) (map[string]any, error)
}

// ResolveTransport picks the configured transport, defaulting to http when a
// base URL is set and to async otherwise.
func ResolveTransport(cfg Config) string {
	t := strings.ToLower(strings.TrimSpace(cfg.Transport))
	if t != "" {
		return t
	}
	if strings.TrimSpace(cfg.HTTPBase) != "" {
		return TransportHTTP
	}
	return TransportAsync
}

func New(cfg Config, logger *slog.Logger) (Runner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Library == "" {
		cfg.Library = DefaultLibrary
	}
	switch t := ResolveTransport(cfg); t {
	case TransportHTTP:
		return newHTTPRunner(cfg, logger), nil
	case TransportSync:
		return newSyncRunner(cfg, logger), nil
	case TransportAsync:
		return newAsyncRunner(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown agent transport %q", t)
	}
}

func modelFor(req domain.RunRequest, cfg Config) string {
	if m := strings.TrimSpace(req.Model); m != "" {
		return m
	}
	return cfg.DefaultModel
}

func observe(transport string, started time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	metrics.AgentRequestsTotal.WithLabelValues(transport, outcome).Inc()
	metrics.AgentLatencySeconds.WithLabelValues(transport).Observe(time.Since(started).Seconds())
}

// runAgent calls ag.Run, turning a panic inside the library into an error.
func runAgent(ctx context.Context, ag Agent) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("agent panicked: %v", r)
		}
	}()
	return ag.Run(ctx)
}
