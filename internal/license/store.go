package license

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Artifact is the on-disk document holding one license token.
type Artifact struct {
	License string `json:"license"`
}

// Store reads and writes the artifact at a fixed path. It does no locking;
// Manager serialises writers.
type Store struct {
	path string
}

// NewStore returns a store for the artifact at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the artifact location.
func (s *Store) Path() string {
	return s.path
}

// Exists reports whether an artifact file is present.
func (s *Store) Exists() (bool, error) {
	_, err := os.Stat(s.path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, persistenceError("stat", err)
	}
}

// Load reads and parses the artifact. An absent file yields ErrNoArtifact, bad
// content ErrMalformedArtifact and any I/O failure ErrPersistence.
func (s *Store) Load() (Artifact, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Artifact{}, ErrNoArtifact
		}
		return Artifact{}, persistenceError("read", err)
	}
	return ParseArtifact(data)
}

// ParseArtifact validates the artifact document shape.
func ParseArtifact(data []byte) (Artifact, error) {
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return Artifact{}, fmt.Errorf("%w: %v", ErrMalformedArtifact, err)
	}
	if strings.TrimSpace(a.License) == "" {
		return Artifact{}, fmt.Errorf("%w: missing license token", ErrMalformedArtifact)
	}
	return a, nil
}

// Save writes a as indented JSON.
func (s *Store) Save(a Artifact) error {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal artifact: %w", err)
	}
	return s.WriteRaw(data)
}

// WriteRaw replaces the artifact with data. The write goes through a temporary
// file in the same directory, so readers see either the old or the new file.
func (s *Store) WriteRaw(data []byte) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return persistenceError("mkdir", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return persistenceError("create temp", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return persistenceError("write", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return persistenceError("sync", err)
	}
	if err := tmp.Close(); err != nil {
		return persistenceError("close", err)
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		return persistenceError("chmod", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return persistenceError("rename", err)
	}
	committed = true

	syncDir(dir)
	return nil
}

// Remove deletes the artifact. A missing file is not an error.
func (s *Store) Remove() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return persistenceError("remove", err)
	}
	return nil
}

// syncDir flushes the rename to disk where the platform supports it.
func syncDir(dir string) {
	if runtime.GOOS == "windows" {
		return
	}
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
