// Package state persists risk-guard state across restarts. The breaker
// snapshot is the critical piece: a restart must never silently un-trip a
// tripped circuit breaker.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ducminhle1904/crypto-risk-guard/internal/logger"
	"github.com/ducminhle1904/crypto-risk-guard/internal/safety"
)

// FileStore writes snapshots as JSON with an atomic temp-and-rename and keeps
// one backup generation for recovery from a torn write.
type FileStore struct {
	mu   sync.Mutex
	path string
	log  *logrus.Entry
}

// NewFileStore prepares a store at path, creating parent directories.
func NewFileStore(path string, log *logger.Logger) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("state file path is empty")
	}
	if log == nil {
		log = logger.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &FileStore{path: path, log: log.WithComponent("state")}, nil
}

// SaveBreaker persists the breaker snapshot. The previous file becomes the
// backup before the new one moves into place, so at least one readable
// generation survives a crash mid-save.
func (s *FileStore) SaveBreaker(snap safety.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(&snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal breaker snapshot: %w", err)
	}

	if _, err := os.Stat(s.path); err == nil {
		if err := copyFile(s.path, s.backupPath()); err != nil {
			s.log.WithError(err).Warn("failed to refresh snapshot backup")
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to move snapshot into place: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"path":  s.path,
		"state": snap.State.String(),
	}).Debug("breaker snapshot saved")
	return nil
}

// LoadBreaker reads the persisted snapshot. ok is false when no snapshot
// exists yet. A corrupt primary falls back to the backup generation; when
// both are unreadable the error is returned so the caller can refuse to run
// with unknown breaker state.
func (s *FileStore) LoadBreaker() (*safety.Snapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := readSnapshot(s.path)
	if err == nil {
		return snap, true, nil
	}
	if os.IsNotExist(err) {
		return nil, false, nil
	}

	s.log.WithError(err).Warn("breaker snapshot unreadable, trying backup")
	if backup, backupErr := readSnapshot(s.backupPath()); backupErr == nil {
		s.log.WithField("path", s.backupPath()).Warn("recovered breaker snapshot from backup")
		return backup, true, nil
	}
	return nil, false, fmt.Errorf("failed to load breaker snapshot: %w", err)
}

func (s *FileStore) backupPath() string {
	return s.path + ".bak"
}

func readSnapshot(path string) (*safety.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var snap safety.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &snap, nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0644)
}
