package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DirProvider reads one secret per file, named after the key, as mounted by
// Docker or Kubernetes under /run/secrets.
type DirProvider struct {
	dir string
}

// NewDirProvider checks that dir exists and returns a provider reading from it.
func NewDirProvider(dir string) (*DirProvider, error) {
	if dir == "" {
		return nil, errors.New("secrets dir required")
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}
	return &DirProvider{dir: dir}, nil
}

func (p *DirProvider) Name() string { return ProviderDir }

// Get returns the file content with surrounding whitespace removed.
func (p *DirProvider) Get(ctx context.Context, key Key) (string, error) {
	name := string(key)
	if name == "" || name != filepath.Base(name) {
		return "", fmt.Errorf("invalid secret key %q", key)
	}
	data, err := os.ReadFile(filepath.Join(p.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return "", fmt.Errorf("read secret %s: %w", key, err)
	}
	return strings.TrimSpace(string(data)), nil
}
