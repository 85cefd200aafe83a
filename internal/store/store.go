// File: internal/store/store.go
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/stallwire/stallwire/api/schemas"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNotFound is returned when no durable state exists for a profile.
// Callers treat it as "needs login", not as a storage failure.
var ErrNotFound = errors.New("session state not found")

// FileStore persists session state as one JSON blob per profile. Writes go
// through a temp file and a rename so a crash never leaves a torn blob.
type FileStore struct {
	dir string
	log *zap.Logger
}

// New creates a file store rooted at dir, creating the directory if needed.
func New(dir string, logger *zap.Logger) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("store directory must not be empty")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, schemas.E(schemas.KindStorageUnavailable, "store.new", err)
	}
	return &FileStore{
		dir: dir,
		log: logger.Named("store"),
	}, nil
}

func (s *FileStore) path(profile string) string {
	return filepath.Join(s.dir, profile+".json")
}

// Load reads the state blob for the named profile. A missing file yields
// ErrNotFound; an unreadable or unparsable one yields a storage error, so
// callers can tell "never logged in" from "storage is broken".
func (s *FileStore) Load(profile string) (*schemas.SessionState, error) {
	raw, err := os.ReadFile(s.path(profile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, schemas.E(schemas.KindStorageUnavailable, "store.load", err)
	}

	var state schemas.SessionState
	if err := json.Unmarshal(raw, &state); err != nil {
		s.log.Warn("Discarding corrupt session blob",
			zap.String("profile", profile), zap.Error(err))
		return nil, schemas.E(schemas.KindStorageUnavailable, "store.load",
			fmt.Errorf("corrupt session blob: %w", err))
	}
	return &state, nil
}

// Save writes the state blob for its profile atomically.
func (s *FileStore) Save(state *schemas.SessionState) error {
	if state == nil || state.ProfileID == "" {
		return fmt.Errorf("session state must carry a profile id")
	}

	raw, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return schemas.E(schemas.KindStorageUnavailable, "store.save", err)
	}

	final := s.path(state.ProfileID)
	tmp, err := os.CreateTemp(s.dir, state.ProfileID+".*.tmp")
	if err != nil {
		return schemas.E(schemas.KindStorageUnavailable, "store.save", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return schemas.E(schemas.KindStorageUnavailable, "store.save", err)
	}
	if err := tmp.Close(); err != nil {
		return schemas.E(schemas.KindStorageUnavailable, "store.save", err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		return schemas.E(schemas.KindStorageUnavailable, "store.save", err)
	}

	s.log.Debug("Persisted session state",
		zap.String("profile", state.ProfileID),
		zap.Int("cookies", len(state.Cookies)),
		zap.Time("last_validated", state.LastValidatedAt))
	return nil
}

// Invalidate marks the stored state invalid without deleting it, keeping
// the blob around for inspection.
func (s *FileStore) Invalidate(profile string) error {
	state, err := s.Load(profile)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	state.Valid = false
	state.LastValidatedAt = time.Now()
	return s.Save(state)
}
