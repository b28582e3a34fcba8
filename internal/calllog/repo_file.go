package calllog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileRepo appends one JSON object per line to a file readable only by the
// owner.
type FileRepo struct {
	mu   sync.Mutex
	path string
}

func NewFileRepo(path string) (*FileRepo, error) {
	if path == "" {
		return nil, fmt.Errorf("calllog: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("calllog: create dir: %w", err)
	}
	// OpenFile's mode only applies on create; an existing log keeps whatever
	// it had.
	if fi, err := os.Stat(path); err == nil && fi.Mode().Perm()&0o077 != 0 {
		if err := os.Chmod(path, 0o600); err != nil {
			return nil, fmt.Errorf("calllog: restrict permissions: %w", err)
		}
	}
	return &FileRepo{path: path}, nil
}

func (r *FileRepo) Append(ctx context.Context, s Summary) error {
	line, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("calllog: marshal: %w", err)
	}
	line = append(line, '\n')

	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := os.OpenFile(r.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("calllog: open: %w", err)
	}
	if fi, err := f.Stat(); err == nil && fi.Mode().Perm()&0o077 != 0 {
		if err := f.Chmod(0o600); err != nil {
			_ = f.Close()
			return fmt.Errorf("calllog: restrict permissions: %w", err)
		}
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("calllog: write: %w", err)
	}
	return f.Close()
}
