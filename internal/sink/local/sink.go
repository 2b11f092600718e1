// Package local writes documents below a directory on the local filesystem.
package local

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// Sink writes documents relative to a base directory.
type Sink struct {
	baseDir string
}

// New creates baseDir when missing and checks that it is writable.
func New(baseDir string) (*Sink, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, eris.New("base directory is required")
	}

	info, err := os.Stat(baseDir)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(baseDir, 0o750); mkErr != nil {
			return nil, eris.Wrap(mkErr, "create base directory")
		}
	case err != nil:
		return nil, eris.Wrap(err, "stat base directory")
	case !info.IsDir():
		return nil, eris.Errorf("%s is not a directory", baseDir)
	}

	marker := filepath.Join(baseDir, ".writable_test")
	if err := os.WriteFile(marker, []byte("test"), 0o600); err != nil {
		return nil, eris.Wrap(err, "base directory is not writable")
	}
	if err := os.Remove(marker); err != nil {
		return nil, eris.Wrap(err, "remove marker file")
	}
	return &Sink{baseDir: baseDir}, nil
}

// Put writes data to baseDir/name and returns a file:// URI.
func (s *Sink) Put(_ context.Context, name, _ string, data []byte) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", eris.New("name is required")
	}

	fullPath := filepath.Join(s.baseDir, name)
	cleanBase := filepath.Clean(s.baseDir)
	if !strings.HasPrefix(filepath.Clean(fullPath), cleanBase+string(filepath.Separator)) {
		return "", eris.Errorf("path %q escapes the output directory", name)
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return "", eris.Wrap(err, "create parent directories")
	}
	if err := os.WriteFile(fullPath, data, 0o600); err != nil {
		return "", eris.Wrapf(err, "write %s", fullPath)
	}
	return "file://" + fullPath, nil
}

// Close is a no-op.
func (s *Sink) Close() error { return nil }
