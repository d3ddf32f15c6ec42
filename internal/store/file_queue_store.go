package store

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/pestroute/layoutsync/internal/model"
)

const queueFileFormat = 1

type queueFile struct {
	Format     int                      `json:"format"`
	Operations []*model.QueuedOperation `json:"operations"`
}

// FileQueueStore persists the queue as a JSON document on local disk.
// Saves write a temp file and rename it over the old one, so a crash
// leaves either the previous or the new queue, never a torn file.
type FileQueueStore struct {
	mu     sync.Mutex
	path   string
	logger *zap.Logger
}

// NewFileQueueStore creates a store at path, creating parent directories
func NewFileQueueStore(path string, logger *zap.Logger) (*FileQueueStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create queue directory: %w", err)
	}
	return &FileQueueStore{path: path, logger: logger}, nil
}

// Load reads the persisted queue. A missing file is an empty queue.
func (s *FileQueueStore) Load(ctx context.Context) ([]*model.QueuedOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read queue file: %w", err)
	}

	var doc queueFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode queue file: %w", err)
	}
	if doc.Format != queueFileFormat {
		return nil, fmt.Errorf("unsupported queue file format %d", doc.Format)
	}
	return doc.Operations, nil
}

// Save replaces the persisted queue
func (s *FileQueueStore) Save(ctx context.Context, ops []*model.QueuedOperation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ops == nil {
		ops = []*model.QueuedOperation{}
	}
	data, err := json.Marshal(queueFile{Format: queueFileFormat, Operations: ops})
	if err != nil {
		return fmt.Errorf("failed to encode queue: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write queue: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync queue: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close queue file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace queue file: %w", err)
	}

	s.logger.Debug("Queue persisted",
		zap.String("path", s.path),
		zap.Int("operations", len(ops)))
	return nil
}
