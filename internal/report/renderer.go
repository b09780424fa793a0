// Package report writes the self-contained HTML document produced for every run.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/osvaldoandrade/uicase/pkg/domain"
)

const NoCriteriaPlaceholder = "(none provided)"

var page = template.Must(template.New("report").Parse(`<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <title>Test case report - {{.Stamp}}</title>
  <style>
    body { font-family: -apple-system, BlinkMacSystemFont, Segoe UI, Roboto, Helvetica, Arial, sans-serif; margin: 24px; }
    .ok { color: #0a7f2e; }
    .fail { color: #b00020; }
    pre { background: #f6f8fa; padding: 12px; border-radius: 6px; overflow: auto; }
    code { white-space: pre-wrap; word-break: break-word; }
  </style>
</head>
<body>
  <h2>Test case report</h2>
  <p><b>Task</b>: {{.Task}}</p>
  <p><b>Result</b>: {{if .OK}}<span class="ok">passed</span>{{else}}<span class="fail">failed</span>{{end}}</p>
  <h3>Success criteria</h3>
  {{- if .Criteria}}
  <ul>
    {{- range .Criteria}}
    <li><b>{{.Type}}</b> {{if .Selector}}[{{.Selector}}] {{end}}{{.Value}}</li>
    {{- end}}
  </ul>
  {{- else}}
  <p>{{.Placeholder}}</p>
  {{- end}}
  {{- if .Screenshots}}
  <h3>Screenshots</h3>
  <ul>
    {{- range .Screenshots}}
    <li><a href="{{.}}"><img src="{{.}}" alt="{{.}}" style="max-width: 320px;" /></a></li>
    {{- end}}
  </ul>
  {{- end}}
  <h3>Raw result</h3>
  <pre><code>{{.Raw}}</code></pre>
</body>
</html>
`))

// Input is what a report shows. Screenshots are persisted paths.
type Input struct {
	Task        string
	Criteria    []domain.SuccessCriterion
	OK          bool
	Raw         map[string]any
	Screenshots []string
}

type Renderer struct {
	dir string
	now func() time.Time
}

func NewRenderer(dir string, now func() time.Time) *Renderer {
	if now == nil {
		now = time.Now
	}
	return &Renderer{dir: dir, now: now}
}

// Render writes report-<unix ms>-<ulid>.html under the reports dir and returns its path.
func (r *Renderer) Render(ctx context.Context, in Input) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	doc, stamp, err := r.build(in)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", fmt.Errorf("create reports dir: %w", err)
	}
	path := filepath.Join(r.dir, fmt.Sprintf("report-%d-%s.html", stamp, strings.ToLower(ulid.Make().String())))
	if err := os.WriteFile(path, doc, 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}

func (r *Renderer) build(in Input) ([]byte, int64, error) {
	stamp := r.now().UnixMilli()
	raw, err := PrettyJSON(in.Raw)
	if err != nil {
		// In-process agents may hand back values JSON cannot carry (NaN, funcs).
		raw = fmt.Sprintf("%+v\n\n(%v)", in.Raw, err)
	}
	shots := make([]string, 0, len(in.Screenshots))
	for _, p := range in.Screenshots {
		shots = append(shots, r.link(p))
	}
	var buf bytes.Buffer
	err = page.Execute(&buf, struct {
		Stamp       int64
		Task        string
		OK          bool
		Criteria    []domain.SuccessCriterion
		Placeholder string
		Screenshots []string
		Raw         string
	}{stamp, in.Task, in.OK, in.Criteria, NoCriteriaPlaceholder, shots, raw})
	if err != nil {
		return nil, 0, fmt.Errorf("render report: %w", err)
	}
	return buf.Bytes(), stamp, nil
}

// link makes a screenshot path relative to the reports dir so the page still
// resolves it when the data dir is moved as a whole.
func (r *Renderer) link(p string) string {
	dir, err := filepath.Abs(r.dir)
	if err != nil {
		return filepath.ToSlash(p)
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return filepath.ToSlash(p)
	}
	rel, err := filepath.Rel(dir, abs)
	if err != nil {
		return filepath.ToSlash(p)
	}
	return filepath.ToSlash(rel)
}

// PrettyJSON indents v with two spaces and leaves non-ASCII and <>& as is;
// the HTML template takes care of escaping.
func PrettyJSON(v any) (string, error) {
	if m, ok := v.(map[string]any); ok && m == nil {
		v = map[string]any{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("encode raw result: %w", err)
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}
