package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/osvaldoandrade/uicase/internal/backoff"
	"github.com/osvaldoandrade/uicase/internal/metrics"
	"github.com/osvaldoandrade/uicase/internal/ratelimit"
	"github.com/osvaldoandrade/uicase/internal/tracing"
	"github.com/osvaldoandrade/uicase/pkg/domain"
)

const (
	HeaderWebhookTimestamp = "X-Uicase-Timestamp"
	HeaderWebhookSignature = "X-Uicase-Signature"
)

// ResultCallbackService posts a finished run to the configured result webhook.
type ResultCallbackService interface {
	Send(ctx context.Context, rec domain.RunRecord)
	// Wait blocks until in-flight deliveries finish.
	Wait()
}

type resultCallbackService struct {
	logger      *slog.Logger
	url         string
	secret      string
	maxAttempts int
	schedule    *backoff.Schedule
	client      *http.Client

	limiter ratelimit.Limiter
	bucket  ratelimit.Bucket

	wg sync.WaitGroup
}

func NewResultCallbackService(logger *slog.Logger, url string, secret string, maxAttempts int, schedule *backoff.Schedule, limiter ratelimit.Limiter, bucket ratelimit.Bucket) ResultCallbackService {
	if logger == nil {
		logger = slog.Default()
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if schedule == nil {
		schedule = backoff.NewSchedule(backoff.ExpEqualJitter, 2*time.Second, time.Minute, time.Now().UnixNano())
	}
	return &resultCallbackService{
		logger:      logger,
		url:         strings.TrimSpace(url),
		secret:      secret,
		maxAttempts: maxAttempts,
		schedule:    schedule,
		client:      &http.Client{Timeout: 10 * time.Second},
		limiter:     limiter,
		bucket:      bucket,
	}
}

func (s *resultCallbackService) Send(ctx context.Context, rec domain.RunRecord) {
	if s.url == "" {
		return
	}
	payload := map[string]any{
		"runId":      rec.ID,
		"ok":         rec.OK,
		"message":    rec.Message,
		"reportPath": rec.ReportPath,
		"finishedAt": rec.FinishedAt,
	}
	if rec.Error != "" {
		payload["error"] = rec.Error
	}

	b, _ := json.Marshal(payload)
	// The request that produced rec is finished by the time delivery retries.
	bg := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.sendWithRetry(bg, rec.ID, b)
	}()
}

// Wait blocks until in-flight deliveries finish.
func (s *resultCallbackService) Wait() { s.wg.Wait() }

func (s *resultCallbackService) sendWithRetry(ctx context.Context, runID string, body []byte) {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if s.limiter != nil && s.bucket.Enabled() {
			for {
				dec, err := s.limiter.Allow(ctx, "webhook", s.url, s.bucket)
				if err != nil {
					// Fail open.
					break
				}
				if dec.Allowed {
					break
				}
				metrics.RateLimitHitsTotal.WithLabelValues("webhook", "run_result").Inc()
				if sleepOrDone(ctx, dec.RetryAfter) != nil {
					return
				}
			}
		}

		status, err := s.post(ctx, body)
		if err == nil && status >= 200 && status < 300 {
			metrics.WebhookDeliveriesTotal.WithLabelValues("success").Inc()
			s.logger.Debug("result webhook delivered", "runId", runID, "attempt", attempt)
			return
		}
		s.logger.Debug("result webhook attempt failed", "runId", runID, "attempt", attempt, "status", status, "err", err)
		if attempt == s.maxAttempts {
			break
		}
		if sleepOrDone(ctx, s.schedule.Delay(attempt-1)) != nil {
			return
		}
	}
	metrics.WebhookDeliveriesTotal.WithLabelValues("failure").Inc()
	s.logger.Warn("result webhook failed", "url", s.url, "runId", runID, "attempts", s.maxAttempts)
}

func (s *resultCallbackService) post(ctx context.Context, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectHeaders(ctx, req.Header)
	s.addSignature(req, body)
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func sleepOrDone(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *resultCallbackService) addSignature(req *http.Request, body []byte) {
	if strings.TrimSpace(s.secret) == "" {
		return
	}
	ts := time.Now().UTC().Unix()
	req.Header.Set(HeaderWebhookTimestamp, fmt.Sprintf("%d", ts))
	req.Header.Set(HeaderWebhookSignature, Sign(s.secret, ts, body))
}

// Sign computes the hex HMAC-SHA256 of "<ts>.<body>" receivers verify against.
func Sign(secret string, ts int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(fmt.Sprintf("%d.", ts)))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
