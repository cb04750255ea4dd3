package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/OrlandoBitencourt/pennant/internal/domain"
)

// ErrNoSnapshot is returned when no snapshot has been written yet.
var ErrNoSnapshot = errors.New("snapshot not found")

const snapshotFile = "snapshot.json"

// DiskSnapshot persists the last good flag set so a process can start
// when the flag service is unreachable.
type DiskSnapshot struct {
	dir string
	mu  sync.RWMutex
}

func NewDiskSnapshot(dir string) (*DiskSnapshot, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	return &DiskSnapshot{dir: dir}, nil
}

func (d *DiskSnapshot) path() string {
	return filepath.Join(d.dir, snapshotFile)
}

// Save writes the snapshot through a temp file and rename.
func (d *DiskSnapshot) Save(ctx context.Context, snapshot map[string]domain.Flag) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(d.dir, snapshotFile+".*")
	if err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}

	if err := os.Rename(tmp.Name(), d.path()); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}

	return nil
}

func (d *DiskSnapshot) Load(ctx context.Context) (map[string]domain.Flag, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	data, err := os.ReadFile(d.path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoSnapshot
		}
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var snapshot map[string]domain.Flag
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}

	return snapshot, nil
}
