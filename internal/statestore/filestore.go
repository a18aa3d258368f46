package statestore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"tournamesh/internal/domain"
)

const (
	fileSession = "session.json"
	filePending = "pending_match.json"
	fileQueue   = "submission_queue.json"
)

// FileStore keeps each item as one JSON file under a state directory. Saves
// write a temp file and rename it into place so a crash never leaves a
// half-written file behind.
type FileStore struct {
	dir string
	log *zap.Logger
}

func NewFileStore(dir string, logger *zap.Logger) (*FileStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &FileStore{dir: dir, log: logger}, nil
}

func (s *FileStore) SaveSession(_ context.Context, rec *domain.SessionRecord) error {
	return s.write(fileSession, rec)
}

func (s *FileStore) LoadSession(_ context.Context) (*domain.SessionRecord, error) {
	var rec domain.SessionRecord
	if !s.read(fileSession, &rec) || rec.RoomCode == "" {
		return nil, nil
	}
	return &rec, nil
}

func (s *FileStore) ClearSession(_ context.Context) error {
	return s.remove(fileSession)
}

func (s *FileStore) SavePendingMatch(_ context.Context, pm *domain.PendingMatch) error {
	return s.write(filePending, pm)
}

func (s *FileStore) LoadPendingMatch(_ context.Context) (*domain.PendingMatch, error) {
	var pm domain.PendingMatch
	if !s.read(filePending, &pm) || pm.MatchID == "" {
		return nil, nil
	}
	return &pm, nil
}

func (s *FileStore) ClearPendingMatch(_ context.Context) error {
	return s.remove(filePending)
}

func (s *FileStore) SaveQueue(_ context.Context, subs []*domain.Submission) error {
	if subs == nil {
		subs = []*domain.Submission{}
	}
	return s.write(fileQueue, subs)
}

func (s *FileStore) LoadQueue(_ context.Context) ([]*domain.Submission, error) {
	var subs []*domain.Submission
	if !s.read(fileQueue, &subs) {
		return nil, nil
	}
	return subs, nil
}

func (s *FileStore) write(name string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	path := filepath.Join(s.dir, name)
	tmp, err := os.CreateTemp(s.dir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("temp file for %s: %w", name, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", name, err)
	}
	return nil
}

// read reports whether it produced a usable value. Missing and corrupt files
// are both "no state" — the corrupt case is logged and left for the next save
// to overwrite.
func (s *FileStore) read(name string, v any) bool {
	raw, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return false
	}
	if err := json.Unmarshal(raw, v); err != nil {
		s.log.Warn("statestore_corrupt_file", zap.String("file", name), zap.Error(err))
		return false
	}
	return true
}

func (s *FileStore) remove(name string) error {
	err := os.Remove(filepath.Join(s.dir, name))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

var _ Store = (*FileStore)(nil)
