package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/osvaldoandrade/uicase/internal/tracing"
	"github.com/osvaldoandrade/uicase/pkg/domain"
)

const (
	defaultRunPath     = "/run"
	defaultHTTPTimeout = 120 * time.Second
	maxResponseBytes   = 16 << 20
)

type httpRunner struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

func newHTTPRunner(cfg Config, logger *slog.Logger) *httpRunner {
	if cfg.HTTPRunPath == "" {
		cfg.HTTPRunPath = defaultRunPath
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = defaultHTTPTimeout
	}
	return &httpRunner{cfg: cfg, client: &http.Client{Timeout: cfg.HTTPTimeout}, logger: logger}
}

func (r *httpRunner) Name() string { return TransportHTTP }

// Available is always true; a missing base URL surfaces from Run as a configuration error.
func (r *httpRunner) Available() bool { return true }

func (r *httpRunner) url() string {
	path := r.cfg.HTTPRunPath
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return strings.TrimRight(r.cfg.HTTPBase, "/") + path
}

func (r *httpRunner) Run(ctx context.Context, req domain.RunRequest) (out map[string]any, err error) {
	if strings.TrimSpace(r.cfg.HTTPBase) == "" {
		return nil, ErrMissingBaseURL
	}
	started := time.Now()
	defer func() { observe(TransportHTTP, started, err) }()

	payload := map[string]any{
		"task":     ComposeInstruction(req.Task, req.SuccessCriteria),
		"model":    modelFor(req, r.cfg),
		"headless": req.IsHeadless(),
	}
	if req.SuccessCriteria != nil {
		payload["success_criteria"] = req.SuccessCriteria
	}
	if req.Metadata != nil {
		payload["metadata"] = req.Metadata
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, execErr(TransportHTTP, fmt.Errorf("encode request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url(), bytes.NewReader(body))
	if err != nil {
		return nil, execErr(TransportHTTP, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if v := strings.TrimSpace(r.cfg.HTTPAuthHeader); v != "" {
		httpReq.Header.Set("Authorization", v)
	}
	tracing.InjectHeaders(ctx, httpReq.Header)

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, execErr(TransportHTTP, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, execErr(TransportHTTP, fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, execErr(TransportHTTP, fmt.Errorf("agent service returned status %d: %s", resp.StatusCode, truncate(string(data), 512)))
	}

	if !isJSON(resp.Header.Get("Content-Type")) {
		return map[string]any{"text": string(data)}, nil
	}
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, execErr(TransportHTTP, fmt.Errorf("decode response: %w", err))
	}
	if m, ok := decoded.(map[string]any); ok {
		return m, nil
	}
	return map[string]any{"result": decoded}, nil
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && mt == "application/json"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
