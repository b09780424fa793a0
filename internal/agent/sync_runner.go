package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/osvaldoandrade/uicase/pkg/domain"
)

type syncRunner struct {
	cfg    Config
	logger *slog.Logger
}

func newSyncRunner(cfg Config, logger *slog.Logger) *syncRunner {
	return &syncRunner{cfg: cfg, logger: logger}
}

func (r *syncRunner) Name() string    { return TransportSync }
func (r *syncRunner) Available() bool { return Available(r.cfg.Library) }

func (r *syncRunner) Run(ctx context.Context, req domain.RunRequest) (out map[string]any, err error) {
	lib, ok := Lookup(r.cfg.Library)
	if !ok {
		return nil, execErr(TransportSync, ErrAgentUnavailable)
	}
	started := time.Now()
	defer func() { observe(TransportSync, started, err) }()

	base := Options{
		Task:     ComposeInstruction(req.Task, req.SuccessCriteria),
		Model:    modelFor(req, r.cfg),
		Metadata: req.Metadata,
	}
	ag, rungName, cleanup, err := construct(ctx, lib, r.cfg, req.IsHeadless(), base)
	if err != nil {
		return nil, execErr(TransportSync, err)
	}
	defer cleanup()
	r.logger.Debug("agent constructed", "transport", TransportSync, "library", r.cfg.Library, "construction", rungName)

	v, err := runAgent(ctx, ag)
	if err != nil {
		return nil, execErr(TransportSync, err)
	}
	return toResult(v), nil
}
