// Package artifacts turns the screenshot references an agent reports (inline
// base64, local paths, remote URLs) into files under the screenshots directory.
package artifacts

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/osvaldoandrade/uicase/internal/metrics"
	"github.com/osvaldoandrade/uicase/internal/providers"
)

type Source string

const (
	SourceBase64  Source = "base64"
	SourceFile    Source = "file"
	SourceURL     Source = "url"
	SourceSkipped Source = "skipped"
)

const (
	DefaultFetchTimeout = 30 * time.Second
	maxDownloadBytes    = 32 << 20
)

// Resolution is the outcome for a single screenshot reference.
type Resolution struct {
	Index  int    `json:"index"`
	Source Source `json:"source"`
	Path   string `json:"path,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func (r Resolution) Persisted() bool { return r.Source != SourceSkipped && r.Path != "" }

type Normalizer struct {
	uploader providers.Uploader
	client   *http.Client
	timeout  time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

func NewNormalizer(uploader providers.Uploader, fetchTimeout time.Duration, logger *slog.Logger, now func() time.Time) *Normalizer {
	if fetchTimeout <= 0 {
		fetchTimeout = DefaultFetchTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Normalizer{
		uploader: uploader,
		client:   &http.Client{Timeout: fetchTimeout},
		timeout:  fetchTimeout,
		logger:   logger,
		now:      now,
	}
}

// Normalize resolves raw["artifacts"]["screenshots"] and replaces it in place
// with the persisted paths. Unresolvable entries are dropped. An error is only
// returned when the screenshots directory cannot be created, in which case raw
// is left untouched.
func (n *Normalizer) Normalize(ctx context.Context, raw map[string]any) ([]Resolution, error) {
	refs, replace, ok := screenshotRefs(raw)
	if !ok {
		return nil, nil
	}
	if err := os.MkdirAll(n.uploader.Root(), 0o755); err != nil {
		return nil, fmt.Errorf("create screenshots dir: %w", err)
	}

	res := n.Persist(ctx, refs)
	paths := make([]string, 0, len(res))
	for _, r := range res {
		if r.Persisted() {
			paths = append(paths, r.Path)
		}
	}
	replace(paths)
	return res, nil
}

// screenshotRefs finds the screenshot list in either the decoded JSON shape
// or the typed maps and slices an in-process library returns. replace writes
// the persisted paths back in the container's own element type.
func screenshotRefs(raw map[string]any) (refs []any, replace func([]string), ok bool) {
	switch arts := raw["artifacts"].(type) {
	case map[string]any:
		switch list := arts["screenshots"].(type) {
		case []any:
			refs = list
		case []string:
			refs = asAny(list)
		default:
			return nil, nil, false
		}
		return refs, func(paths []string) { arts["screenshots"] = asAny(paths) }, true
	case map[string][]string:
		list, present := arts["screenshots"]
		if !present {
			return nil, nil, false
		}
		return asAny(list), func(paths []string) { arts["screenshots"] = paths }, true
	}
	return nil, nil, false
}

func asAny(list []string) []any {
	out := make([]any, len(list))
	for i, s := range list {
		out[i] = s
	}
	return out
}

// Persist resolves each reference independently; one failing entry never stops the rest.
func (n *Normalizer) Persist(ctx context.Context, refs []any) []Resolution {
	out := make([]Resolution, 0, len(refs))
	for i, ref := range refs {
		r := n.resolve(ctx, i, ref)
		metrics.ScreenshotResolutionsTotal.WithLabelValues(string(r.Source)).Inc()
		if !r.Persisted() {
			n.logger.Warn("screenshot skipped", "index", i, "reason", r.Reason)
		}
		out = append(out, r)
	}
	return out
}

func (n *Normalizer) resolve(ctx context.Context, idx int, ref any) Resolution {
	s, ok := ref.(string)
	if !ok {
		return Resolution{Index: idx, Source: SourceSkipped, Reason: fmt.Sprintf("unsupported reference type %T", ref)}
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return Resolution{Index: idx, Source: SourceSkipped, Reason: "empty reference"}
	}

	if data, ok := decodeBase64(s); ok {
		return n.store(idx, SourceBase64, func(name string) (string, error) {
			return n.uploader.UploadBytes(ctx, name, "image/png", data)
		}, ".png")
	}

	if fi, err := os.Stat(s); err == nil && fi.Mode().IsRegular() {
		ext := filepath.Ext(s)
		if ext == "" {
			ext = ".png"
		}
		return n.store(idx, SourceFile, func(name string) (string, error) {
			return n.uploader.UploadFile(ctx, name, s)
		}, ext)
	}

	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		data, err := n.download(ctx, s)
		if err != nil {
			return Resolution{Index: idx, Source: SourceSkipped, Reason: err.Error()}
		}
		return n.store(idx, SourceURL, func(name string) (string, error) {
			return n.uploader.UploadBytes(ctx, name, "image/png", data)
		}, ".png")
	}

	return Resolution{Index: idx, Source: SourceSkipped, Reason: "not base64, an existing file, or an http(s) URL"}
}

func (n *Normalizer) store(idx int, src Source, write func(name string) (string, error), ext string) Resolution {
	path, err := write(n.fileName(idx, ext))
	if err != nil {
		return Resolution{Index: idx, Source: SourceSkipped, Reason: err.Error()}
	}
	return Resolution{Index: idx, Source: src, Path: path}
}

// fileName is shot-<unix ms>-<index>-<ulid><ext>; the ulid keeps concurrent
// runs within the same millisecond apart.
func (n *Normalizer) fileName(idx int, ext string) string {
	ts := n.now()
	return fmt.Sprintf("shot-%d-%d-%s%s", ts.UnixMilli(), idx, strings.ToLower(ulid.Make().String()), ext)
}

func (n *Normalizer) download(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := n.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("download %s: status %d", url, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("download " + url + ": empty body")
	}
	return data, nil
}

// decodeBase64 accepts bare base64 or a data:image/...;base64, URL.
func decodeBase64(s string) ([]byte, bool) {
	if strings.HasPrefix(s, "data:image") {
		i := strings.IndexByte(s, ',')
		if i < 0 {
			return nil, false
		}
		s = s[i+1:]
	}
	if s == "" {
		return nil, false
	}
	data, err := base64.StdEncoding.Strict().DecodeString(s)
	if err != nil || len(data) == 0 {
		return nil, false
	}
	return data, true
}
