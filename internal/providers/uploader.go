package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Uploader stores screenshot and report artifacts and returns the stored path.
type Uploader interface {
	UploadBytes(ctx context.Context, objectPath string, contentType string, data []byte) (string, error)
	UploadFile(ctx context.Context, objectPath string, srcPath string) (string, error)
	Root() string
}

var ErrPathEscapesRoot = errors.New("object path escapes artifact root")

// localUploader writes artifacts below a directory. Files appear atomically:
// content goes to a temp file in the target directory and is renamed in place.
type localUploader struct {
	root string
}

func NewLocalUploader(rootDir string) Uploader {
	return &localUploader{root: filepath.Clean(rootDir)}
}

func (u *localUploader) Root() string { return u.root }

func (u *localUploader) UploadBytes(ctx context.Context, objectPath string, contentType string, data []byte) (string, error) {
	return u.put(ctx, objectPath, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

func (u *localUploader) UploadFile(ctx context.Context, objectPath string, srcPath string) (string, error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return "", err
	}
	defer src.Close()
	return u.put(ctx, objectPath, func(w io.Writer) error {
		if _, err := io.Copy(w, src); err != nil {
			return fmt.Errorf("copy %s: %w", srcPath, err)
		}
		return nil
	})
}

func (u *localUploader) put(ctx context.Context, objectPath string, write func(io.Writer) error) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	dst, err := u.resolve(objectPath)
	if err != nil {
		return "", err
	}
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if err := write(tmp); err != nil {
		_ = tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", err
	}
	return dst, nil
}

func (u *localUploader) resolve(objectPath string) (string, error) {
	rel := filepath.Clean(filepath.FromSlash(strings.TrimSpace(objectPath)))
	if rel == "." || filepath.IsAbs(rel) || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrPathEscapesRoot, objectPath)
	}
	return filepath.Join(u.root, rel), nil
}
