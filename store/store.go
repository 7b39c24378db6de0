// Package store persists step trees, run reports and attachments as flat
// files. Report writes are guarded by file locks so readers never observe a
// partially written document.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gofrs/flock"

	"github.com/ethereum-optimism/infra/op-steplog/types"
)

const (
	ReportsDir       = "reports"
	StepsDir         = "steps"
	CombinedFileName = "combined_report.json"
	LockSuffix       = ".lock"
)

// Dirs locates the run-scoped directories
type Dirs struct {
	// TmpDir holds per-worker reports until they are merged
	TmpDir string
	// OutputDir holds the combined report and the step trees
	OutputDir      string
	AttachmentsDir string
}

type Store struct {
	dirs Dirs
	log  log.Logger
}

func New(dirs Dirs, logger log.Logger) *Store {
	if logger == nil {
		logger = log.Root()
	}
	return &Store{dirs: dirs, log: logger}
}

func (s *Store) Dirs() Dirs {
	return s.dirs
}

func (s *Store) ReportsDir() string {
	return filepath.Join(s.dirs.TmpDir, ReportsDir)
}

func (s *Store) StepsDir() string {
	return filepath.Join(s.dirs.OutputDir, StepsDir)
}

func (s *Store) CombinedPath() string {
	return filepath.Join(s.dirs.OutputDir, CombinedFileName)
}

// Init creates every directory the store writes to
func (s *Store) Init() error {
	for _, dir := range []string{s.ReportsDir(), s.StepsDir(), s.dirs.AttachmentsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// WriteJSON encodes v to path while holding an exclusive lock on path.lock.
// The document is written to a temporary file and renamed into place.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	lock := flock.New(path + LockSuffix)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock %s: %w", path, err)
	}
	defer func() { _ = lock.Unlock() }()

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to move %s into place: %w", path, err)
	}
	return nil
}

// ReadJSON decodes path into v while holding a shared lock on path.lock.
// A missing file is reported without creating a lock file. A directory the
// lock file cannot be created in is read without the lock.
func ReadJSON(path string, v any) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	lock := flock.New(path + LockSuffix)
	if err := lock.RLock(); err != nil {
		if !errors.Is(err, fs.ErrPermission) && !errors.Is(err, syscall.EROFS) {
			return fmt.Errorf("failed to lock %s: %w", path, err)
		}
	} else {
		defer func() { _ = lock.Unlock() }()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

// SaveSteps writes a step tree under its own id and returns the file path
func (s *Store) SaveSteps(tree *types.StepTree) (string, error) {
	if tree == nil {
		return "", errors.New("nil step tree")
	}
	path := filepath.Join(s.StepsDir(), tree.ID+".json")
	if err := WriteJSON(path, tree); err != nil {
		return "", err
	}
	return path, nil
}

// LoadSteps reads a step tree by id
func (s *Store) LoadSteps(id string) (*types.StepTree, error) {
	if id == "" || strings.ContainsAny(id, `/\`) {
		return nil, fmt.Errorf("invalid step tree id %q", id)
	}
	var tree types.StepTree
	if err := ReadJSON(filepath.Join(s.StepsDir(), id+".json"), &tree); err != nil {
		return nil, err
	}
	return &tree, nil
}

// SaveReport writes a worker report named after its report id
func (s *Store) SaveReport(r *types.RunReport) (string, error) {
	if r == nil {
		return "", errors.New("nil report")
	}
	path := filepath.Join(s.ReportsDir(), r.ReportID+".json")
	if err := WriteJSON(path, r); err != nil {
		return "", err
	}
	return path, nil
}

// ReportFiles lists the worker report files in name order
func (s *Store) ReportFiles() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.ReportsDir(), types.ReportIDPrefix+"*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	sort.Strings(matches)
	return matches, nil
}

func LoadReport(path string) (*types.RunReport, error) {
	var r types.RunReport
	if err := ReadJSON(path, &r); err != nil {
		return nil, err
	}
	if r.ReportID == "" {
		return nil, fmt.Errorf("report %s has no report id", filepath.Base(path))
	}
	if r.Modules == nil {
		r.Modules = map[string]*types.ModuleReport{}
	}
	if r.ReportIDs == nil {
		r.ReportIDs = map[string]string{}
	}
	return &r, nil
}

func (s *Store) SaveCombined(r *types.RunReport) (string, error) {
	path := s.CombinedPath()
	if err := WriteJSON(path, r); err != nil {
		return "", err
	}
	return path, nil
}

func (s *Store) LoadCombined() (*types.RunReport, error) {
	return LoadReport(s.CombinedPath())
}

// ClearTmp removes the worker reports directory, then the temp directory
// itself when nothing else is left in it
func (s *Store) ClearTmp() error {
	if s.dirs.TmpDir == "" {
		return nil
	}
	if err := os.RemoveAll(s.ReportsDir()); err != nil {
		return fmt.Errorf("failed to remove %s: %w", s.ReportsDir(), err)
	}
	entries, err := os.ReadDir(s.dirs.TmpDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", s.dirs.TmpDir, err)
	}
	if len(entries) > 0 {
		s.log.Debug("Keeping non-empty temp directory", "dir", s.dirs.TmpDir, "entries", len(entries))
		return nil
	}
	if err := os.Remove(s.dirs.TmpDir); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", s.dirs.TmpDir, err)
	}
	return nil
}

// Contains reports whether path is dir or lies below it. Both must be
// absolute or both relative to the same directory.
func Contains(dir, path string) bool {
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// ClearLocks deletes leftover lock files from the report and output
// directories
func (s *Store) ClearLocks() error {
	var errs []error
	for _, dir := range []string{s.ReportsDir(), s.dirs.OutputDir, s.StepsDir()} {
		entries, err := os.ReadDir(dir)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), LockSuffix) {
				continue
			}
			if err := os.Remove(filepath.Join(dir, e.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
