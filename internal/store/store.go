// Package store implements the on-disk layout for a litani run: the cache
// file, per-job descriptor and status files, the artifacts tree, and the
// cache-pointer/latest indirection that lets every subsequent CLI
// invocation find the currently active run. It is grounded on the
// teacher's internal/env root-discovery idiom and its write-then-rename
// publishing convention.
package store

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/xerrors"

	"github.com/litani-build/litani/internal/atomicfile"
)

// CachePointerPath returns the well-known path holding the absolute path of
// the currently active run directory, e.g. <tmp>/litani/cache_pointer.
func CachePointerPath() string {
	return filepath.Join(baseDir(), "cache_pointer")
}

// LatestLinkPath returns the well-known symlink that also resolves to the
// active run directory.
func LatestLinkPath() string {
	return filepath.Join(baseDir(), "latest")
}

// RunsDir is the parent directory of every run directory.
func RunsDir() string {
	return filepath.Join(baseDir(), "runs")
}

func baseDir() string {
	return filepath.Join(os.TempDir(), "litani")
}

// RunDir returns the directory for one run id.
func RunDir(runID string) string {
	return filepath.Join(RunsDir(), runID)
}

// Store is a handle onto one run's directory tree.
type Store struct {
	RunID string
	Dir   string
}

// New allocates the directory tree for a fresh run (init). It does not
// write the cache pointer; callers do that via Publish once the run
// directory is fully scaffolded.
func New(runID string) (*Store, error) {
	dir := RunDir(runID)
	for _, sub := range []string{"jobs", "status", "artifacts"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0755); err != nil {
			return nil, xerrors.Errorf("creating %s: %w", sub, err)
		}
	}
	return &Store{RunID: runID, Dir: dir}, nil
}

// Open resolves the currently active run via the cache pointer.
func Open() (*Store, error) {
	dir, err := ActiveRunDir()
	if err != nil {
		return nil, err
	}
	return &Store{RunID: filepath.Base(dir), Dir: dir}, nil
}

// ActiveRunDir reads the cache pointer and returns the absolute path of the
// active run directory.
func ActiveRunDir() (string, error) {
	b, err := ioutil.ReadFile(CachePointerPath())
	if err != nil {
		return "", xerrors.Errorf("reading cache pointer: %w", err)
	}
	dir := strings.TrimSpace(string(b))
	if dir == "" {
		return "", xerrors.Errorf("cache pointer %s is empty", CachePointerPath())
	}
	if _, err := os.Stat(dir); err != nil {
		return "", xerrors.Errorf("active run directory %s: %w", dir, err)
	}
	return dir, nil
}

// Publish makes s the active run: it atomically writes the cache pointer
// file and atomically swaps the latest symlink, satisfying the invariant
// that the latest-pointer resolves to exactly one run directory at all
// times during a run.
func (s *Store) Publish() error {
	if err := os.MkdirAll(baseDir(), 0755); err != nil {
		return xerrors.Errorf("creating %s: %w", baseDir(), err)
	}
	if err := atomicfile.WriteBytes(CachePointerPath(), []byte(s.Dir)); err != nil {
		return xerrors.Errorf("publishing cache pointer: %w", err)
	}
	if err := atomicfile.Symlink(s.Dir, LatestLinkPath()); err != nil {
		return xerrors.Errorf("publishing latest symlink: %w", err)
	}
	return nil
}

// CachePath is cache.json: the Run record plus the embedded job descriptors.
func (s *Store) CachePath() string {
	return filepath.Join(s.Dir, "cache.json")
}

// RunSnapshotPath is run.json: the latest Run Snapshot.
func (s *Store) RunSnapshotPath() string {
	return filepath.Join(s.Dir, "run.json")
}

// NinjaPath is litani.ninja: the emitted DAG file.
func (s *Store) NinjaPath() string {
	return filepath.Join(s.Dir, "litani.ninja")
}

// JobsDir is the directory holding one descriptor file per job id.
func (s *Store) JobsDir() string {
	return filepath.Join(s.Dir, "jobs")
}

// StatusDir is the directory holding one status file per job id.
func (s *Store) StatusDir() string {
	return filepath.Join(s.Dir, "status")
}

// ArtifactsDir is the root of the copied-output tree.
func (s *Store) ArtifactsDir() string {
	return filepath.Join(s.Dir, "artifacts")
}

// JobDescriptorPath is the path of one job's descriptor file.
func (s *Store) JobDescriptorPath(jobID string) string {
	return filepath.Join(s.JobsDir(), jobID+".json")
}

// JobStatusPath is the path of one job's status file.
func (s *Store) JobStatusPath(jobID string) string {
	return filepath.Join(s.StatusDir(), jobID+".json")
}

// ArtifactDir is the destination directory for one job's declared outputs,
// e.g. artifacts/<pipeline>/<ci_stage>/.
func (s *Store) ArtifactDir(pipeline string, stage string) string {
	return filepath.Join(s.ArtifactsDir(), pipeline, stage)
}

// ListJobDescriptorFiles returns the absolute paths of every file under
// jobs/, sorted for deterministic iteration.
func (s *Store) ListJobDescriptorFiles() ([]string, error) {
	return listJSONFiles(s.JobsDir())
}

// ListJobStatusFiles returns the absolute paths of every file under
// status/, sorted for deterministic iteration.
func (s *Store) ListJobStatusFiles() ([]string, error) {
	return listJSONFiles(s.StatusDir())
}

func listJSONFiles(dir string) ([]string, error) {
	entries, err := ioutil.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, xerrors.Errorf("reading %s: %w", dir, err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	return paths, nil
}
