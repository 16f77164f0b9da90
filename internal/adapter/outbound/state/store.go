package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/Sentinel-Gate/aipolicy/internal/domain/role"
)

const fileMode fs.FileMode = 0o600

// FileStateStore reads and writes state.json. Writes go through a temp file
// and a rename, keep the previous snapshot in state.json.bak, and hold both
// an in-process mutex and a cross-process lock on state.json.lock.
type FileStateStore struct {
	path   string
	mu     sync.Mutex
	logger *slog.Logger
}

// NewFileStateStore creates a store for the snapshot at path.
func NewFileStateStore(path string, logger *slog.Logger) *FileStateStore {
	return &FileStateStore{path: path, logger: logger}
}

// Load returns the snapshot on disk, or DefaultState when there is none.
func (s *FileStateStore) Load() (*AppState, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Info("no state file, starting uninitialized", "path", s.path)
		return s.DefaultState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}
	s.checkPermissions()

	st := &AppState{}
	if err := json.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("parse state file: %w", err)
	}
	if st.Roles == nil {
		st.Roles = role.Assignments{}
	}
	return st, nil
}

// checkPermissions warns when the snapshot is readable beyond its owner.
// Windows has no permission bits to check.
func (s *FileStateStore) checkPermissions() {
	if runtime.GOOS == "windows" {
		return
	}
	info, err := os.Stat(s.path)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		s.logger.Warn("state.json has too-open permissions, should be 0600",
			"path", s.path, "current_mode", fmt.Sprintf("%04o", perm))
	}
}

// Save stamps st and replaces the snapshot on disk.
func (s *FileStateStore) Save(st *AppState) error {
	data, err := s.encode(st)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withFileLock(func() error {
		s.backup()
		if err := s.replace(data); err != nil {
			return err
		}
		s.logger.Debug("state saved", "path", s.path, "bytes", len(data))
		return nil
	})
}

func (s *FileStateStore) encode(st *AppState) ([]byte, error) {
	st.UpdatedAt = time.Now().UTC()
	if st.CreatedAt.IsZero() {
		st.CreatedAt = st.UpdatedAt
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}
	return append(data, '\n'), nil
}

// withFileLock runs fn while holding the exclusive lock on path.lock.
func (s *FileStateStore) withFileLock(fn func() error) error {
	lf, err := os.OpenFile(s.path+".lock", os.O_CREATE|os.O_RDWR, fileMode)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	defer func() { _ = lf.Close() }()

	if err := lockFile(lf); err != nil {
		return fmt.Errorf("acquire file lock: %w", err)
	}
	defer func() { _ = unlockFile(lf) }()

	return fn()
}

// backup copies the current snapshot to path.bak. A missing snapshot is
// not an error; a failed copy is logged and the save continues.
func (s *FileStateStore) backup() {
	current, err := os.ReadFile(s.path)
	if err != nil {
		return
	}
	if err := os.WriteFile(s.path+".bak", current, fileMode); err != nil {
		s.logger.Warn("failed to back up state file", "error", err)
	}
}

// replace writes data to path.tmp, syncs it and renames it over path.
func (s *FileStateStore) replace(data []byte) (err error) {
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fileMode)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()

	if _, err = f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err = f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("rename temp to state: %w", err)
	}
	// Rename keeps the temp file's mode, but an older snapshot may predate it.
	if chmodErr := os.Chmod(s.path, fileMode); chmodErr != nil {
		s.logger.Warn("failed to set permissions on state file", "error", chmodErr)
	}
	return nil
}

// DefaultState is an uninitialized snapshot: no owner, no roles, and the
// running binary's role table version.
func (s *FileStateStore) DefaultState() *AppState {
	now := time.Now().UTC()
	return &AppState{
		Version:          SchemaVersion,
		RoleTableVersion: role.TagTableVersion,
		Roles:            role.Assignments{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// Exists reports whether a snapshot is on disk.
func (s *FileStateStore) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Remove deletes state.json and its backup. Missing files are not an error.
func (s *FileStateStore) Remove() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range []string{s.path, s.path + ".bak"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", p, err)
		}
	}
	return nil
}

// Path returns the snapshot path.
func (s *FileStateStore) Path() string {
	return s.path
}
