package pipeline

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// workspace is the per-message scratch directory.
type workspace struct {
	dir string
}

func newWorkspace(cycleDir string) (*workspace, error) {
	dir := filepath.Join(cycleDir, uuid.NewString())
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	return &workspace{dir: dir}, nil
}

// create writes r to name inside the workspace. Only the base of name is
// used; an existing file is an error.
func (w *workspace) create(name string, r io.Reader) (string, error) {
	base := filepath.Base(name)
	if base == "." || base == string(filepath.Separator) || base == "" {
		return "", fmt.Errorf("unusable attachment filename %q", name)
	}

	path := filepath.Join(w.dir, base)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", base, err)
	}

	_, err = io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("write %s: %w", base, err)
	}
	return path, nil
}

func (w *workspace) remove() error {
	return os.RemoveAll(w.dir)
}

// sidecarPath swaps a trailing .xml for .json, or appends .json.
func sidecarPath(xmlPath string) string {
	ext := filepath.Ext(xmlPath)
	if strings.EqualFold(ext, ".xml") {
		return strings.TrimSuffix(xmlPath, ext) + ".json"
	}
	return xmlPath + ".json"
}
