package app

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/osvaldoandrade/uicase/internal/services"
	_ "github.com/osvaldoandrade/uicase/pkg/auth/static" // Register static auth provider.
	"github.com/osvaldoandrade/uicase/pkg/config"
	"github.com/osvaldoandrade/uicase/pkg/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
)

const testToken = "test-token"

// 1x1 transparent PNG.
var pngPixel = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89,
}

type testEnv struct {
	server     *httptest.Server
	cfg        *config.Config
	callbackCh chan map[string]any
	hookSig    chan signed
}

type signed struct {
	ts, sig string
	body    []byte
}

func newTestEnv(t *testing.T, agent http.HandlerFunc) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	agentSrv := httptest.NewServer(agent)
	t.Cleanup(agentSrv.Close)

	env := &testEnv{
		callbackCh: make(chan map[string]any, 1),
		hookSig:    make(chan signed, 1),
	}
	hookSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		var payload map[string]any
		_ = json.Unmarshal(b, &payload)
		select {
		case env.callbackCh <- payload:
			env.hookSig <- signed{
				ts:   r.Header.Get(services.HeaderWebhookTimestamp),
				sig:  r.Header.Get(services.HeaderWebhookSignature),
				body: b,
			}
		default:
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(hookSrv.Close)

	dir := t.TempDir()
	cfg, err := config.LoadConfigOptional("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.RedisAddr = mr.Addr()
	cfg.LogLevel = "error"
	cfg.Env = "test"
	cfg.ArtifactsDir = dir
	cfg.ReportsDir = filepath.Join(dir, "reports")
	cfg.ScreenshotsDir = filepath.Join(dir, "screenshots")
	cfg.Agent.Transport = "http"
	cfg.Agent.HTTPBase = agentSrv.URL
	cfg.AuthProvider = "static"
	cfg.AuthConfig = map[string]any{"token": testToken}
	cfg.ResultWebhookURL = hookSrv.URL
	cfg.WebhookHmacSecret = "secret"
	cfg.ResultWebhookMaxAttempts = 2
	cfg.ResultWebhookBaseBackoffSeconds = 1
	cfg.ResultWebhookMaxBackoffSeconds = 1
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config validate: %v", err)
	}

	app, err := NewApplication(cfg, WithRedis(rdb))
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	SetupMappings(app)
	env.server = httptest.NewServer(app.Engine)
	t.Cleanup(env.server.Close)
	env.cfg = cfg
	return env
}

func TestHTTPIntegrationFlow(t *testing.T) {
	ctx := context.Background()
	var agentReq map[string]any
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/run" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&agentReq)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "success",
			"artifacts": map[string]any{
				"screenshots": []string{base64.StdEncoding.EncodeToString(pngPixel)},
			},
		})
	})

	body := map[string]any{
		"task": "Open the app and go to the home page",
		"success_criteria": []map[string]any{
			{"type": "url_contains", "value": "/home"},
		},
	}
	var resp domain.RunResponse
	status, bodyStr := doJSON(t, ctx, http.MethodPost, env.server.URL+"/v1/uicase/run-case", testToken, body, &resp)
	if status != http.StatusOK {
		t.Fatalf("run-case status %d body=%s", status, bodyStr)
	}
	if !resp.OK || resp.Message != domain.MessageCompleted {
		t.Fatalf("expected passing run, got %+v", resp)
	}
	if resp.RunID == "" {
		t.Fatal("missing run id")
	}
	if agentReq == nil || !strings.Contains(agentReq["task"].(string), "url_contains: /home") {
		t.Fatalf("agent did not receive composed instruction: %v", agentReq)
	}

	html, err := os.ReadFile(resp.ReportPath)
	if err != nil {
		t.Fatalf("report not written: %v", err)
	}
	if !strings.Contains(string(html), "/home") {
		t.Fatalf("report missing criterion")
	}
	shots, _ := filepath.Glob(filepath.Join(env.cfg.ScreenshotsDir, "*.png"))
	if len(shots) != 1 {
		t.Fatalf("expected one persisted screenshot, got %v", shots)
	}

	var rec domain.RunRecord
	status, bodyStr = doJSON(t, ctx, http.MethodGet, env.server.URL+"/v1/uicase/runs/"+resp.RunID, testToken, nil, &rec)
	if status != http.StatusOK {
		t.Fatalf("get run status %d body=%s", status, bodyStr)
	}
	if rec.ID != resp.RunID || !rec.OK || len(rec.Screenshots) != 1 {
		t.Fatalf("unexpected stored run: %+v", rec)
	}

	var list struct {
		Runs []domain.RunRecord `json:"runs"`
	}
	status, bodyStr = doJSON(t, ctx, http.MethodGet, env.server.URL+"/v1/uicase/runs?limit=5", testToken, nil, &list)
	if status != http.StatusOK || len(list.Runs) != 1 {
		t.Fatalf("list runs status %d body=%s", status, bodyStr)
	}

	status, bodyStr = doJSON(t, ctx, http.MethodGet, env.server.URL+"/v1/uicase/runs/"+resp.RunID+"/report", testToken, nil, nil)
	if status != http.StatusOK || !strings.Contains(bodyStr, "<html") {
		t.Fatalf("report status %d", status)
	}

	select {
	case payload := <-env.callbackCh:
		if payload["runId"] != resp.RunID {
			t.Fatalf("callback runId mismatch: %v", payload["runId"])
		}
		if payload["ok"] != true {
			t.Fatalf("callback ok mismatch: %v", payload["ok"])
		}
		got := <-env.hookSig
		ts, _ := strconv.ParseInt(got.ts, 10, 64)
		if want := services.Sign("secret", ts, got.body); got.sig != want {
			t.Fatalf("signature mismatch: got %q want %q", got.sig, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected webhook callback")
	}
}

func TestHTTPIntegrationAuthAndProbes(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	status, _ := doJSON(t, ctx, http.MethodPost, env.server.URL+"/v1/uicase/run-case", "", map[string]any{"task": "x"}, nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", status)
	}
	status, _ = doJSON(t, ctx, http.MethodPost, env.server.URL+"/v1/uicase/run-case", testToken, map[string]any{"task": "  "}, nil)
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank task, got %d", status)
	}
	status, _ = doJSON(t, ctx, http.MethodGet, env.server.URL+"/v1/uicase/runs/missing", testToken, nil, nil)
	if status != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown run, got %d", status)
	}

	status, bodyStr := doJSON(t, ctx, http.MethodGet, env.server.URL+"/healthz", "", nil, nil)
	if status != http.StatusOK {
		t.Fatalf("healthz status %d body=%s", status, bodyStr)
	}
	status, bodyStr = doJSON(t, ctx, http.MethodGet, env.server.URL+"/readyz", "", nil, nil)
	if status != http.StatusOK {
		t.Fatalf("readyz status %d body=%s", status, bodyStr)
	}
	status, bodyStr = doJSON(t, ctx, http.MethodGet, env.server.URL+"/metrics", "", nil, nil)
	if status != http.StatusOK || !strings.Contains(bodyStr, "go_goroutines") {
		t.Fatalf("metrics status %d", status)
	}
}

func TestHTTPIntegrationAgentFailure(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "browser crashed", http.StatusInternalServerError)
	})

	var failure map[string]any
	status, bodyStr := doJSONAny(t, ctx, http.MethodPost, env.server.URL+"/run-case", testToken, map[string]any{"task": "open"}, &failure)
	if status != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d body=%s", status, bodyStr)
	}
	reportPath, _ := failure["report_path"].(string)
	if reportPath == "" || failure["run_id"] == "" {
		t.Fatalf("expected run_id and report_path in failure body: %s", bodyStr)
	}
	html, err := os.ReadFile(reportPath)
	if err != nil {
		t.Fatalf("failure report not written: %v", err)
	}
	if !strings.Contains(string(html), "browser crashed") {
		t.Fatalf("failure report missing agent error")
	}

	select {
	case payload := <-env.callbackCh:
		if payload["ok"] != false || payload["error"] == nil {
			t.Fatalf("expected failed callback, got %v", payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected webhook callback")
	}
}

func TestHTTPIntegrationMemoryPersistence(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	agentSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success": false, "reason": "button not found"}`))
	}))
	t.Cleanup(agentSrv.Close)

	dir := t.TempDir()
	cfg, err := config.LoadConfigOptional("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.LogLevel = "error"
	cfg.PersistenceProvider = "memory"
	cfg.ReportsDir = filepath.Join(dir, "reports")
	cfg.ScreenshotsDir = filepath.Join(dir, "screenshots")
	cfg.Agent.HTTPBase = agentSrv.URL
	cfg.AuthProvider = ""
	cfg.ResultWebhookURL = ""

	app, err := NewApplication(cfg)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	if app.Redis != nil || app.RateLimiter != nil {
		t.Fatal("memory persistence should run without redis")
	}
	SetupMappings(app)
	server := httptest.NewServer(app.Engine)
	t.Cleanup(server.Close)

	var resp domain.RunResponse
	status, bodyStr := doJSON(t, ctx, http.MethodPost, server.URL+"/run-case", "", map[string]any{"task": "click buy"}, &resp)
	if status != http.StatusOK {
		t.Fatalf("run-case status %d body=%s", status, bodyStr)
	}
	if resp.OK || resp.Message != domain.MessageFailed {
		t.Fatalf("expected failed verdict, got %+v", resp)
	}

	var rec domain.RunRecord
	status, bodyStr = doJSON(t, ctx, http.MethodGet, server.URL+"/v1/uicase/runs/"+resp.RunID, "", nil, &rec)
	if status != http.StatusOK || rec.OK {
		t.Fatalf("get run status %d body=%s", status, bodyStr)
	}

	closeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := app.Close(closeCtx); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func doJSON(t *testing.T, ctx context.Context, method, url, token string, body any, out any) (int, string) {
	t.Helper()
	status, b := do(t, ctx, method, url, token, body)
	if out != nil && status >= 200 && status < 300 {
		_ = json.Unmarshal(b, out)
	}
	return status, string(b)
}

// doJSONAny decodes the body regardless of status.
func doJSONAny(t *testing.T, ctx context.Context, method, url, token string, body any, out any) (int, string) {
	t.Helper()
	status, b := do(t, ctx, method, url, token, body)
	_ = json.Unmarshal(b, out)
	return status, string(b)
}

func do(t *testing.T, ctx context.Context, method, url, token string, body any) (int, []byte) {
	t.Helper()
	var buf io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		buf = bytes.NewBuffer(b)
	}
	req, _ := http.NewRequestWithContext(ctx, method, url, buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, b
}
