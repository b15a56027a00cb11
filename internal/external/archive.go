package external

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"inkwell/internal/scheduler"
)

// FSArchiveSink stores purge archives as files under a local directory.
// Deployments that need durable archives mount object storage at the path.
type FSArchiveSink struct {
	dir string
}

// NewFSArchiveSink creates the sink, ensuring the directory exists.
func NewFSArchiveSink(dir string) (*FSArchiveSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating archive directory %s: %w", dir, err)
	}
	return &FSArchiveSink{dir: dir}, nil
}

// Store writes one archive file. The write goes through a temp file and
// rename so a crash never leaves a truncated archive behind.
func (s *FSArchiveSink) Store(ctx context.Context, name string, data []byte) error {
	final := filepath.Join(s.dir, name)
	tmp := final + ".tmp"

	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing archive %s: %w", name, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("finalizing archive %s: %w", name, err)
	}
	return nil
}

var _ scheduler.ArchiveSink = (*FSArchiveSink)(nil)
