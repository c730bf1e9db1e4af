package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Saver persists one encoded detection snapshot and returns where it ended
// up (a filesystem path or an object URL). The core pipeline never persists
// frames; only the snapshot endpoint uses this.
type Saver interface {
	Save(ctx context.Context, jpegData []byte) (string, error)
}

// Local writes snapshots under a single directory.
type Local struct {
	dir string
}

// NewLocal creates the directory if needed.
func NewLocal(dir string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create save dir: %w", err)
	}
	return &Local{dir: dir}, nil
}

// Save writes the snapshot with a timestamped unique name.
func (l *Local) Save(_ context.Context, jpegData []byte) (string, error) {
	path := filepath.Join(l.dir, snapshotName(time.Now()))
	if err := os.WriteFile(path, jpegData, 0o644); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	return path, nil
}

func snapshotName(now time.Time) string {
	return fmt.Sprintf("detection_%s_%s.jpg", now.Format("20060102_150405"), uuid.NewString()[:8])
}

var _ Saver = (*Local)(nil)
