package paths

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go-arcenciel-browser/internal/models"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// DefaultFileName is the presets file used when none is configured.
const DefaultFileName = "save_paths.txt"

var (
	ErrUnknownType   = errors.New("unknown model type")
	ErrBadAssignment = errors.New("expected TYPE=DIR")
)

// ParseAssignments turns "TYPE=DIR" arguments into an update map.
func ParseAssignments(args []string) (map[string]string, error) {
	out := make(map[string]string, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("%w: %q", ErrBadAssignment, arg)
		}
		out[key] = value
	}
	return out, nil
}

// Store reads and writes the per-type destination folders kept in a
// line-based KEY=VALUE file.
type Store struct {
	fs   afero.Fs
	path string
	mu   sync.Mutex
}

// NewStore returns a Store backed by the real filesystem.
func NewStore(path string) *Store {
	return NewStoreWithFs(afero.NewOsFs(), path)
}

// NewStoreWithFs returns a Store backed by fs.
func NewStoreWithFs(fs afero.Fs, path string) *Store {
	if path == "" {
		path = DefaultFileName
	}
	return &Store{fs: fs, path: path}
}

// Path returns the presets file location.
func (s *Store) Path() string { return s.path }

// Defaults returns the folder used for every known type when the presets
// file has no entry for it.
func Defaults() map[string]string {
	out := make(map[string]string, len(models.KnownTypes))
	for _, t := range models.KnownTypes {
		out[t] = filepath.Join("models", strings.ToLower(t))
	}
	return out
}

// Load returns the presets. A missing file is created with the defaults.
// Keys are case-insensitive and unknown keys are ignored.
func (s *Store) Load() (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() (map[string]string, error) {
	presets := Defaults()

	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			return presets, fmt.Errorf("reading presets %s: %w", s.path, err)
		}
		log.Infof("Presets file %s not found, creating it with defaults", s.path)
		if err := s.writeLocked(presets); err != nil {
			return presets, err
		}
		return presets, nil
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.ToUpper(strings.TrimSpace(key))
		if _, known := presets[key]; !known {
			log.Debugf("Ignoring unknown preset key %q in %s", key, s.path)
			continue
		}
		presets[key] = strings.TrimSpace(value)
	}
	return presets, scanner.Err()
}

// Set merges updates (keys case-insensitive) into the stored presets and
// writes the result back.
func (s *Store) Set(updates map[string]string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	presets, err := s.loadLocked()
	if err != nil {
		return nil, err
	}
	for k, v := range updates {
		key := strings.ToUpper(strings.TrimSpace(k))
		if _, known := presets[key]; !known {
			return nil, fmt.Errorf("%w: %s", ErrUnknownType, k)
		}
		presets[key] = strings.TrimSpace(v)
	}
	if err := s.writeLocked(presets); err != nil {
		return nil, err
	}
	return presets, nil
}

func (s *Store) writeLocked(presets map[string]string) error {
	var buf bytes.Buffer
	for _, t := range models.KnownTypes {
		fmt.Fprintf(&buf, "%s=%s\n", t, presets[t])
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := s.fs.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating presets directory: %w", err)
		}
	}
	if err := afero.WriteFile(s.fs, s.path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("writing presets %s: %w", s.path, err)
	}
	return nil
}
