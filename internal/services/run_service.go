package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/osvaldoandrade/uicase/internal/agent"
	"github.com/osvaldoandrade/uicase/internal/artifacts"
	"github.com/osvaldoandrade/uicase/internal/metrics"
	"github.com/osvaldoandrade/uicase/internal/outcome"
	"github.com/osvaldoandrade/uicase/internal/report"
	"github.com/osvaldoandrade/uicase/internal/repository"
	"github.com/osvaldoandrade/uicase/internal/tracing"
	"github.com/osvaldoandrade/uicase/pkg/domain"
)

var ErrInvalidRequest = errors.New("invalid request")

// RunFailedError is returned when the agent failed; a failure report was still written.
type RunFailedError struct {
	RunID      string
	ReportPath string
	Err        error
}

func (e *RunFailedError) Error() string { return e.Err.Error() }
func (e *RunFailedError) Unwrap() error { return e.Err }

type RunService interface {
	Run(ctx context.Context, req domain.RunRequest) (*domain.RunResponse, error)
	Get(ctx context.Context, id string) (*domain.RunRecord, error)
	List(ctx context.Context, limit int) ([]domain.RunRecord, error)
}

type runService struct {
	runner     agent.Runner
	normalizer *artifacts.Normalizer
	renderer   *report.Renderer
	repo       repository.RunRepository
	callback   ResultCallbackService
	logger     *slog.Logger
	now        func() time.Time
}

// NewRunService wires the run flow. repo and callback may be nil.
func NewRunService(runner agent.Runner, normalizer *artifacts.Normalizer, renderer *report.Renderer, repo repository.RunRepository, callback ResultCallbackService, logger *slog.Logger, now func() time.Time) RunService {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &runService{
		runner:     runner,
		normalizer: normalizer,
		renderer:   renderer,
		repo:       repo,
		callback:   callback,
		logger:     logger,
		now:        now,
	}
}

func (s *runService) Run(ctx context.Context, req domain.RunRequest) (*domain.RunResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if !s.runner.Available() {
		return nil, agent.ErrAgentUnavailable
	}

	transport := s.runner.Name()
	rec := domain.RunRecord{
		ID:        uuid.NewString(),
		Task:      req.Task,
		Criteria:  req.SuccessCriteria,
		Transport: transport,
		StartedAt: s.now().UTC(),
	}

	ctx, span := tracing.Tracer("runs").Start(ctx, "uicase.run_case",
		trace.WithAttributes(
			attribute.String("uicase.run_id", rec.ID),
			attribute.String("uicase.transport", transport),
			attribute.Int("uicase.criteria", len(req.SuccessCriteria)),
			attribute.Bool("uicase.headless", req.IsHeadless()),
		),
	)
	defer span.End()
	log := s.logger.With("runId", rec.ID, "transport", transport)
	log.Info("run started", "criteria", len(req.SuccessCriteria), "headless", req.IsHeadless())

	raw, err := s.runner.Run(ctx, req)
	// The report and record outlive a client that went away mid-run.
	post := context.WithoutCancel(ctx)
	if errors.Is(err, agent.ErrMissingBaseURL) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "config")
		return nil, err
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("agent execution failed", "err", err)
		raw = map[string]any{"ok": false, "error": err.Error()}
		rec.Error = err.Error()
	}

	verdict := outcome.Evaluate(raw)
	rec.OK, rec.Message = verdict.OK, verdict.Message

	if err == nil {
		res, nerr := s.normalizer.Normalize(post, raw)
		if nerr != nil {
			// raw is untouched; the report shows the agent's own references.
			log.Warn("screenshot normalization failed", "err", nerr)
		}
		for _, r := range res {
			if r.Persisted() {
				rec.Screenshots = append(rec.Screenshots, r.Path)
			}
		}
	}

	path, rerr := s.renderer.Render(post, report.Input{
		Task:        req.Task,
		Criteria:    req.SuccessCriteria,
		OK:          verdict.OK,
		Raw:         raw,
		Screenshots: rec.Screenshots,
	})
	if rerr != nil {
		metrics.ReportsWrittenTotal.WithLabelValues("error").Inc()
		span.RecordError(rerr)
		span.SetStatus(codes.Error, rerr.Error())
		log.Error("report render failed", "err", rerr)
		return nil, rerr
	}
	metrics.ReportsWrittenTotal.WithLabelValues("ok").Inc()
	rec.ReportPath = path
	rec.FinishedAt = s.now().UTC()

	outcomeLabel := "passed"
	if err != nil {
		outcomeLabel = "error"
	} else if !verdict.OK {
		outcomeLabel = "failed"
	}
	metrics.RunsTotal.WithLabelValues(transport, outcomeLabel).Inc()
	metrics.RunDurationSeconds.WithLabelValues(transport, outcomeLabel).Observe(rec.FinishedAt.Sub(rec.StartedAt).Seconds())
	span.SetAttributes(attribute.Bool("uicase.ok", verdict.OK), attribute.String("uicase.report_path", path))

	s.record(post, log, rec)
	log.Info("run finished", "ok", verdict.OK, "report", path, "screenshots", len(rec.Screenshots))

	if err != nil {
		return nil, &RunFailedError{RunID: rec.ID, ReportPath: path, Err: err}
	}
	return &domain.RunResponse{
		RunID:      rec.ID,
		OK:         verdict.OK,
		Message:    verdict.Message,
		ReportPath: path,
		Raw:        raw,
	}, nil
}

// record stores the run and fires the webhook; neither may fail the run.
func (s *runService) record(ctx context.Context, log *slog.Logger, rec domain.RunRecord) {
	if s.repo != nil {
		if err := s.repo.Save(ctx, rec); err != nil {
			log.Warn("run record not saved", "err", err)
		}
	}
	if s.callback != nil {
		s.callback.Send(ctx, rec)
	}
}

func (s *runService) Get(ctx context.Context, id string) (*domain.RunRecord, error) {
	if s.repo == nil {
		return nil, repository.ErrRunNotFound
	}
	return s.repo.Get(ctx, id)
}

func (s *runService) List(ctx context.Context, limit int) ([]domain.RunRecord, error) {
	if s.repo == nil {
		return []domain.RunRecord{}, nil
	}
	return s.repo.List(ctx, limit)
}
