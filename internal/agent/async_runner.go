package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/osvaldoandrade/uicase/internal/llm"
	"github.com/osvaldoandrade/uicase/pkg/domain"
)

type asyncRunner struct {
	cfg    Config
	logger *slog.Logger
	newLLM func(llm.Config) (*llm.Client, error)
}

func newAsyncRunner(cfg Config, logger *slog.Logger) *asyncRunner {
	return &asyncRunner{cfg: cfg, logger: logger, newLLM: llm.New}
}

func (r *asyncRunner) Name() string    { return TransportAsync }
func (r *asyncRunner) Available() bool { return Available(r.cfg.Library) }

type runOutcome struct {
	v   any
	err error
}

func (r *asyncRunner) Run(ctx context.Context, req domain.RunRequest) (out map[string]any, err error) {
	lib, ok := Lookup(r.cfg.Library)
	if !ok {
		return nil, execErr(TransportAsync, ErrAgentUnavailable)
	}
	if !lib.Capabilities().Has(CapLLM) {
		return nil, execErr(TransportAsync, fmt.Errorf("library %q does not accept an LLM client: %w", r.cfg.Library, ErrUnsupported))
	}
	llmCfg := r.cfg.LLM
	llmCfg.Vision = true
	if req.Model != "" {
		llmCfg.Model = req.Model
	}
	client, err := r.newLLM(llmCfg)
	if err != nil {
		return nil, execErr(TransportAsync, err)
	}

	started := time.Now()
	defer func() { observe(TransportAsync, started, err) }()

	ag, err := lib.NewAgent(ctx, Options{
		Task:      ComposeInstruction(req.Task, req.SuccessCriteria),
		LLM:       client,
		UseVision: true,
		Metadata:  req.Metadata,
	})
	if err != nil {
		return nil, execErr(TransportAsync, err)
	}
	if ag == nil {
		return nil, execErr(TransportAsync, errors.New("library returned no agent"))
	}

	done := make(chan runOutcome, 1)
	go func() {
		v, err := runAgent(ctx, ag)
		done <- runOutcome{v: v, err: err}
	}()
	select {
	case <-ctx.Done():
		return nil, execErr(TransportAsync, ctx.Err())
	case o := <-done:
		if o.err != nil {
			return nil, execErr(TransportAsync, o.err)
		}
		r.logger.Debug("agent finished", "transport", TransportAsync, "model", client.Model())
		return toResult(o.v), nil
	}
}
