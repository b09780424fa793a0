package artifacts

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/osvaldoandrade/uicase/internal/providers"
)

func onePixelPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func newTestNormalizer(t *testing.T) (*Normalizer, string) {
	t.Helper()
	root := filepath.Join(t.TempDir(), "screenshots")
	fixed := time.UnixMilli(1700000000000)
	return NewNormalizer(providers.NewLocalUploader(root), time.Second, slog.Default(), func() time.Time { return fixed }), root
}

func withShots(refs ...any) map[string]any {
	return map[string]any{"status": "success", "artifacts": map[string]any{"screenshots": refs}}
}

func shotsOf(t *testing.T, raw map[string]any) []any {
	t.Helper()
	return raw["artifacts"].(map[string]any)["screenshots"].([]any)
}

func TestNormalizeBase64RoundTrip(t *testing.T) {
	n, root := newTestNormalizer(t)
	pix := onePixelPNG(t)
	raw := withShots(base64.StdEncoding.EncodeToString(pix))

	res, err := n.Normalize(context.Background(), raw)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	shots := shotsOf(t, raw)
	if len(shots) != 1 || len(res) != 1 || res[0].Source != SourceBase64 {
		t.Fatalf("unexpected result: shots=%v res=%+v", shots, res)
	}
	entries, _ := os.ReadDir(root)
	if len(entries) != 1 {
		t.Fatalf("expected exactly one file, got %d", len(entries))
	}
	got, err := os.ReadFile(shots[0].(string))
	if err != nil {
		t.Fatalf("read persisted file: %v", err)
	}
	if !bytes.Equal(got, pix) {
		t.Fatal("persisted bytes differ from the original PNG")
	}
	if _, err := png.Decode(bytes.NewReader(got)); err != nil {
		t.Fatalf("persisted file is not a PNG: %v", err)
	}
	if !strings.HasPrefix(filepath.Base(shots[0].(string)), "shot-1700000000000-0-") {
		t.Errorf("unexpected file name %s", shots[0])
	}
}

func TestNormalizeDataURLAndMalformed(t *testing.T) {
	n, _ := newTestNormalizer(t)
	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(onePixelPNG(t))
	raw := withShots(dataURL, "not-base64!!")

	res, err := n.Normalize(context.Background(), raw)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if got := shotsOf(t, raw); len(got) != 1 {
		t.Fatalf("expected one persisted path, got %v", got)
	}
	if res[1].Source != SourceSkipped || res[1].Reason == "" {
		t.Errorf("malformed entry should be skipped with a reason: %+v", res[1])
	}
}

func TestNormalizeLocalFileKeepsExtension(t *testing.T) {
	n, root := newTestNormalizer(t)
	dir := t.TempDir()
	jpg := filepath.Join(dir, "capture.jpg")
	noExt := filepath.Join(dir, "capture")
	for _, p := range []string{jpg, noExt} {
		if err := os.WriteFile(p, []byte("img"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	raw := withShots(jpg, noExt)

	if _, err := n.Normalize(context.Background(), raw); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	shots := shotsOf(t, raw)
	if len(shots) != 2 {
		t.Fatalf("expected two paths, got %v", shots)
	}
	if filepath.Ext(shots[0].(string)) != ".jpg" || filepath.Ext(shots[1].(string)) != ".png" {
		t.Errorf("unexpected extensions: %v", shots)
	}
	for _, s := range shots {
		if filepath.Dir(s.(string)) != root {
			t.Errorf("%s not under %s", s, root)
		}
	}
}

func TestNormalizeRemoteURL(t *testing.T) {
	pix := onePixelPNG(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.png" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(pix)
	}))
	defer srv.Close()

	n, _ := newTestNormalizer(t)
	raw := withShots(srv.URL+"/missing.png", srv.URL+"/shot.png")
	res, err := n.Normalize(context.Background(), raw)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	shots := shotsOf(t, raw)
	if len(shots) != 1 {
		t.Fatalf("expected one downloaded path, got %v", shots)
	}
	if res[0].Persisted() || res[1].Source != SourceURL {
		t.Errorf("unexpected resolutions: %+v", res)
	}
	if !strings.Contains(shots[0].(string), "-1-") {
		t.Errorf("file name should carry the input index: %s", shots[0])
	}
	got, _ := os.ReadFile(shots[0].(string))
	if !bytes.Equal(got, pix) {
		t.Error("downloaded bytes differ")
	}
}

func TestNormalizeSkipsUnsupportedEntries(t *testing.T) {
	n, _ := newTestNormalizer(t)
	raw := withShots(42, nil, "", "ftp://example.com/a.png", "relative/missing.png")

	res, err := n.Normalize(context.Background(), raw)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if got := shotsOf(t, raw); len(got) != 0 {
		t.Fatalf("expected no paths, got %v", got)
	}
	for _, r := range res {
		if r.Persisted() {
			t.Errorf("entry %d should have been skipped", r.Index)
		}
	}
}

func TestNormalizeSameMillisecondNamesDoNotCollide(t *testing.T) {
	n, root := newTestNormalizer(t)
	enc := base64.StdEncoding.EncodeToString(onePixelPNG(t))
	for i := 0; i < 3; i++ {
		if _, err := n.Normalize(context.Background(), withShots(enc)); err != nil {
			t.Fatal(err)
		}
	}
	entries, _ := os.ReadDir(root)
	if len(entries) != 3 {
		t.Fatalf("expected 3 distinct files, got %d", len(entries))
	}
}

func TestNormalizeLeavesRawWithoutArtifacts(t *testing.T) {
	n, root := newTestNormalizer(t)
	for _, raw := range []map[string]any{
		{"ok": true},
		{"artifacts": "nope"},
		{"artifacts": map[string]any{"screenshots": "single"}},
	} {
		res, err := n.Normalize(context.Background(), raw)
		if err != nil || res != nil {
			t.Errorf("Normalize(%v) = %v, %v", raw, res, err)
		}
	}
	if _, err := os.Stat(root); !os.IsNotExist(err) {
		t.Error("screenshots dir should not be created when there is nothing to persist")
	}
}

func TestNormalizeDirectoryFailureLeavesRawUntouched(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	n := NewNormalizer(providers.NewLocalUploader(filepath.Join(blocker, "shots")), time.Second, nil, nil)
	ref := base64.StdEncoding.EncodeToString(onePixelPNG(t))
	raw := withShots(ref)

	if _, err := n.Normalize(context.Background(), raw); err == nil {
		t.Fatal("expected an error when the screenshots dir cannot be created")
	}
	if got := shotsOf(t, raw); len(got) != 1 || got[0] != ref {
		t.Errorf("raw must be unchanged, got %v", got)
	}
}

func TestNormalizeTypedContainers(t *testing.T) {
	enc := base64.StdEncoding.EncodeToString(onePixelPNG(t))

	t.Run("string slice in generic map", func(t *testing.T) {
		n, root := newTestNormalizer(t)
		raw := map[string]any{"artifacts": map[string]any{"screenshots": []string{enc, "bogus"}}}
		res, err := n.Normalize(context.Background(), raw)
		if err != nil {
			t.Fatalf("Normalize: %v", err)
		}
		shots := shotsOf(t, raw)
		if len(res) != 2 || len(shots) != 1 || !strings.HasPrefix(shots[0].(string), root) {
			t.Fatalf("unexpected result: shots=%v res=%+v", shots, res)
		}
	})

	t.Run("typed map", func(t *testing.T) {
		n, root := newTestNormalizer(t)
		arts := map[string][]string{"screenshots": {enc}}
		raw := map[string]any{"artifacts": arts}
		res, err := n.Normalize(context.Background(), raw)
		if err != nil {
			t.Fatalf("Normalize: %v", err)
		}
		if len(res) != 1 || res[0].Source != SourceBase64 {
			t.Fatalf("unexpected resolutions %+v", res)
		}
		if got := arts["screenshots"]; len(got) != 1 || !strings.HasPrefix(got[0], root) {
			t.Fatalf("typed map not rewritten: %v", got)
		}
	})

	t.Run("typed map without screenshots", func(t *testing.T) {
		n, _ := newTestNormalizer(t)
		res, err := n.Normalize(context.Background(), map[string]any{"artifacts": map[string][]string{"logs": {"x"}}})
		if err != nil || res != nil {
			t.Fatalf("Normalize = %v, %v", res, err)
		}
	})
}
