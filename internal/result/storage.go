package result

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrRunSealed is returned on any write to a finalized run, including a
// second Finalize.
var ErrRunSealed = errors.New("evaluation run is sealed")

const (
	manifestFile = "run.json"
	rowsFile     = "results.jsonl"
)

// Store is the single writer for one run's results. Appends are serialized;
// rows are never rewritten or deleted.
type Store struct {
	meta RunMeta
	dir  string

	mu     sync.Mutex
	sealed bool
	f      *os.File
}

// Create allocates a fresh run directory under baseDir/runs, points the
// "latest" symlink at it, and opens the append-only row file.
func Create(baseDir string) (*Store, error) {
	meta := RunMeta{
		ID:        uuid.NewString()[:8],
		StartedAt: time.Now().UTC(),
		Environment: map[string]string{
			"go":   runtime.Version(),
			"os":   runtime.GOOS,
			"arch": runtime.GOARCH,
		},
	}
	if host, err := os.Hostname(); err == nil {
		meta.Environment["host"] = host
	}

	stamp := meta.StartedAt.Format("2006-01-02T15-04-05")
	runDir := filepath.Join(baseDir, "runs", fmt.Sprintf("%s-%s", stamp, meta.ID))
	runDir, err := filepath.Abs(runDir)
	if err != nil {
		return nil, fmt.Errorf("resolving run dir: %w", err)
	}
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating run dir: %w", err)
	}
	latest := filepath.Join(baseDir, "latest")
	os.Remove(latest)
	if err := os.Symlink(runDir, latest); err != nil {
		return nil, fmt.Errorf("creating latest symlink: %w", err)
	}

	s := &Store{meta: meta, dir: runDir}
	if err := s.writeManifest(); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(runDir, rowsFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening result file: %w", err)
	}
	s.f = f
	return s, nil
}

// Dir returns the run directory.
func (s *Store) Dir() string { return s.dir }

// ID returns the run identifier.
func (s *Store) ID() string { return s.meta.ID }

// Append writes one row. It fails with ErrRunSealed after Finalize.
func (s *Store) Append(row *ScoredResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sealed {
		return ErrRunSealed
	}
	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("marshaling result row: %w", err)
	}
	if _, err := s.f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("appending result row: %w", err)
	}
	// Durability over throughput: a lost append after a successful
	// generation silently drops data, which is run-fatal upstream.
	if err := s.f.Sync(); err != nil {
		return fmt.Errorf("syncing result file: %w", err)
	}
	return nil
}

// Finalize seals the run. A second call returns ErrRunSealed.
func (s *Store) Finalize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sealed {
		return ErrRunSealed
	}
	now := time.Now().UTC()
	s.meta.FinalizedAt = &now
	if err := s.writeManifest(); err != nil {
		return err
	}
	if err := s.f.Close(); err != nil {
		return fmt.Errorf("closing result file: %w", err)
	}
	s.sealed = true
	return nil
}

func (s *Store) writeManifest() error {
	data, err := json.MarshalIndent(&s.meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling run manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, manifestFile), data, 0o644); err != nil {
		return fmt.Errorf("writing run manifest: %w", err)
	}
	return nil
}

// Load reads a run directory back into memory. Rows are returned in
// submission order regardless of the completion order they were appended in.
// Rows superseded by a later append are dropped in favor of the correction.
func Load(runDir string) (*EvaluationRun, error) {
	data, err := os.ReadFile(filepath.Join(runDir, manifestFile))
	if err != nil {
		return nil, fmt.Errorf("reading run manifest: %w", err)
	}
	var run EvaluationRun
	if err := json.Unmarshal(data, &run.Meta); err != nil {
		return nil, fmt.Errorf("parsing run manifest: %w", err)
	}

	f, err := os.Open(filepath.Join(runDir, rowsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return &run, nil
		}
		return nil, fmt.Errorf("opening result file: %w", err)
	}
	defer f.Close()

	superseded := make(map[int]bool)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var row ScoredResult
		if err := json.Unmarshal(line, &row); err != nil {
			return nil, fmt.Errorf("parsing result row: %w", err)
		}
		if row.Supersedes != nil {
			superseded[*row.Supersedes] = true
		}
		run.Results = append(run.Results, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading result rows: %w", err)
	}

	if len(superseded) > 0 {
		kept := run.Results[:0]
		for _, row := range run.Results {
			if row.Supersedes == nil && superseded[row.Index] {
				continue
			}
			kept = append(kept, row)
		}
		run.Results = kept
	}
	sort.SliceStable(run.Results, func(i, j int) bool {
		return run.Results[i].Index < run.Results[j].Index
	})
	return &run, nil
}
