// Package storage persists completed runs as JSON files in a directory.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/promptgrid/promptgrid/internal/models"
)

// ErrRunNotFound is returned when a run id does not match any stored run.
var ErrRunNotFound = errors.New("run not found")

// Store provides access to persisted run data.
type Store interface {
	// Save writes a run record.
	Save(run *models.Run) error
	// Load returns a single run by id.
	Load(id string) (*models.Run, error)
	// List returns all runs, newest first.
	List() ([]*models.Run, error)
}

// FileStore keeps one <run-id>.json per run under a directory.
type FileStore struct {
	dir string
}

// NewFileStore creates a FileStore rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("storage: empty directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Save writes the run atomically: temp file then rename.
func (fs *FileStore) Save(run *models.Run) error {
	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: encode run %s: %w", run.ID, err)
	}

	final := filepath.Join(fs.dir, run.ID+".json")
	tmp, err := os.CreateTemp(fs.dir, run.ID+".*.tmp")
	if err != nil {
		return fmt.Errorf("storage: temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("storage: write run %s: %w", run.ID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("storage: close temp: %w", err)
	}
	return os.Rename(tmp.Name(), final)
}

// Load reads one run by id.
func (fs *FileStore) Load(id string) (*models.Run, error) {
	data, err := os.ReadFile(filepath.Join(fs.dir, id+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}

	var run models.Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("storage: decode run %s: %w", id, err)
	}
	return &run, nil
}

// List loads every stored run, sorted by creation time, newest first.
func (fs *FileStore) List() ([]*models.Run, error) {
	entries, err := os.ReadDir(fs.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var runs []*models.Run
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		run, err := fs.Load(strings.TrimSuffix(e.Name(), ".json"))
		if err != nil {
			// Skip unreadable entries rather than failing the listing.
			continue
		}
		runs = append(runs, run)
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
	return runs, nil
}
