// Package blob stores message attachments on the local filesystem.
package blob

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Store writes attachment files under a single directory. The returned
// reference is the bare filename, resolvable through the server's static
// uploads route.
type Store struct {
	dir string
}

// New creates the uploads directory if needed and returns a Store over it.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create uploads dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the directory attachments are written to.
func (s *Store) Dir() string {
	return s.dir
}

// Save writes data to a new file and returns its reference. The stored
// name keeps only the original extension; the rest is a timestamp plus a
// random suffix so concurrent uploads of the same name cannot collide.
func (s *Store) Save(name string, data []byte) (string, error) {
	ext := filepath.Ext(filepath.Base(name))
	filename := fmt.Sprintf("%d-%s%s", time.Now().UnixMilli(), uuid.NewString(), ext)

	path := filepath.Join(s.dir, filename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write attachment: %w", err)
	}
	return filename, nil
}
