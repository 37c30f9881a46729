// Package store persists jobs on a filesystem, one directory per job:
//
//	{root}/{jobId}/
//	    job-details.json   status history and summary
//	    job-spec.json      spec the job was submitted against
//	    job-inputs.json    input values
//	    stdout, stderr     raw output, append only
//	    outputs/{id}       output payloads
//	    outputs.json       output metadata
//
// Creating the job directory is what makes a job exist. Every read accessor
// reports absence instead of an error when a file is missing, so a directory
// left half written by a crash never blocks listing.
package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/CZERTAINLY/jobber/internal/log"
	"github.com/CZERTAINLY/jobber/internal/model"
)

const (
	jobDetailsFile = "job-details.json"
	jobSpecFile    = "job-spec.json"
	jobInputsFile  = "job-inputs.json"
	stdoutFile     = "stdout"
	stderrFile     = "stderr"
	outputsDir     = "outputs"
	outputsFile    = "outputs.json"

	DefaultIDLength   = 10
	DefaultIDAttempts = 10
)

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

type Config struct {
	Dir        string
	IDLength   int
	IDAttempts int
	// IDGenerator overrides the random base-36 generator.
	IDGenerator func() string
}

// FileSystem is the filesystem job store. It is safe for concurrent use,
// but only one writer may append to a given job's stdout or stderr.
type FileSystem struct {
	root     string
	attempts int
	genID    func() string

	// guards listing and read-modify-write of the JSON files
	mx sync.Mutex
}

func New(cfg Config) (*FileSystem, error) {
	if cfg.Dir == "" {
		return nil, errors.New("jobs directory is empty")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating jobs directory %s: %w", cfg.Dir, err)
	}
	length := cfg.IDLength
	if length <= 0 {
		length = DefaultIDLength
	}
	attempts := cfg.IDAttempts
	if attempts <= 0 {
		attempts = DefaultIDAttempts
	}
	gen := cfg.IDGenerator
	if gen == nil {
		gen = func() string { return RandomBase36(length) }
	}
	return &FileSystem{
		root:     cfg.Dir,
		attempts: attempts,
		genID:    gen,
	}, nil
}

func (s *FileSystem) Root() string {
	return s.root
}

// RandomBase36 returns n random characters of [0-9a-z].
func RandomBase36(n int) string {
	var sb strings.Builder
	sb.Grow(n)
	for range n {
		sb.WriteByte(base36[rand.IntN(len(base36))])
	}
	return sb.String()
}

// validName rejects anything which is not a single path element.
func validName(name string) bool {
	return name != "" && name != "." && name != ".." &&
		!strings.ContainsAny(name, `/\`) && filepath.Base(name) == name
}

func (s *FileSystem) jobDir(id model.JobID) (string, bool) {
	if !validName(string(id)) {
		return "", false
	}
	dir := filepath.Join(s.root, string(id))
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", false
	}
	return dir, true
}

func (s *FileSystem) jobFile(id model.JobID, name string) (string, bool) {
	dir, ok := s.jobDir(id)
	if !ok {
		return "", false
	}
	path := filepath.Join(dir, name)
	if _, err := os.Stat(path); err != nil {
		return "", false
	}
	return path, true
}

func (s *FileSystem) JobExists(id model.JobID) bool {
	_, ok := s.jobDir(id)
	return ok
}

// Persist assigns a new JobID to req and creates its directory.
func (s *FileSystem) Persist(ctx context.Context, req model.ValidJobRequest) (model.PersistedJob, error) {
	id, err := s.uniqueID()
	if err != nil {
		slog.ErrorContext(ctx, "cannot persist job", "error", err)
		return model.PersistedJob{}, err
	}
	job := model.PersistedJob{ID: id, ValidJobRequest: req}
	ctx = log.WithJob(ctx, id.String())

	dir := filepath.Join(s.root, id.String())
	if err := os.Mkdir(dir, 0o755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return model.PersistedJob{}, fmt.Errorf("%s: %w", id, model.ErrJobExists)
		}
		return model.PersistedJob{}, fmt.Errorf("creating job directory: %w", err)
	}
	slog.DebugContext(ctx, "created job dir", "path", dir)

	inputs := job.Inputs
	if inputs == nil {
		inputs = map[string]any{}
	}
	files := []struct {
		name string
		v    any
	}{
		{jobSpecFile, job.Spec},
		{jobDetailsFile, model.NewJobDetails(job)},
		{jobInputsFile, inputs},
	}
	for _, f := range files {
		if err := writeJSON(filepath.Join(dir, f.name), f.v); err != nil {
			slog.ErrorContext(ctx, "could not setup job directory", "error", err)
			if rerr := os.RemoveAll(dir); rerr != nil {
				slog.WarnContext(ctx, "cannot remove half written job dir", "error", rerr)
			}
			return model.PersistedJob{}, fmt.Errorf("writing %s: %w", f.name, err)
		}
	}
	return job, nil
}

func (s *FileSystem) uniqueID() (model.JobID, error) {
	for range s.attempts {
		id := s.genID()
		if !validName(id) {
			continue
		}
		if _, err := os.Lstat(filepath.Join(s.root, id)); errors.Is(err, fs.ErrNotExist) {
			return model.JobID(id), nil
		}
	}
	return "", fmt.Errorf("%w after %d attempts", model.ErrJobIDExhausted, s.attempts)
}

// AddNewJobStatus appends a timestamp to the job's status history.
func (s *FileSystem) AddNewJobStatus(ctx context.Context, id model.JobID, status model.JobStatus, message string) error {
	dir, ok := s.jobDir(id)
	if !ok {
		return fmt.Errorf("%s: cannot add status: %w", id, model.ErrJobNotFound)
	}
	path := filepath.Join(dir, jobDetailsFile)

	s.mx.Lock()
	defer s.mx.Unlock()
	var details model.JobDetails
	if err := readJSON(path, &details); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%s: cannot add status: %s missing: %w", id, jobDetailsFile, model.ErrJobNotFound)
		}
		return err
	}
	details = details.WithStatus(model.JobTimestamp{
		Status:  status,
		Message: message,
		Time:    time.Now().UTC(),
	})
	if err := writeJSON(path, details); err != nil {
		return err
	}
	slog.DebugContext(log.WithJob(ctx, id.String()), "status changed", "status", status.String(), "message", message)
	return nil
}

// GetJobDetails returns the job summary, ok is false if the job or its
// details file does not exist.
func (s *FileSystem) GetJobDetails(id model.JobID) (model.JobDetails, bool, error) {
	path, ok := s.jobFile(id, jobDetailsFile)
	if !ok {
		return model.JobDetails{}, false, nil
	}
	s.mx.Lock()
	defer s.mx.Unlock()
	var details model.JobDetails
	if err := readJSON(path, &details); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return model.JobDetails{}, false, nil
		}
		return model.JobDetails{}, false, err
	}
	return details, true, nil
}

func (s *FileSystem) GetSpecJobWasSubmittedAgainst(id model.JobID) (model.JobSpec, bool, error) {
	var spec model.JobSpec
	ok, err := s.readOptional(id, jobSpecFile, &spec)
	return spec, ok, err
}

func (s *FileSystem) HasJobInputs(id model.JobID) bool {
	_, ok := s.jobFile(id, jobInputsFile)
	return ok
}

func (s *FileSystem) GetJobInputs(id model.JobID) (map[string]any, bool, error) {
	var inputs map[string]any
	ok, err := s.readOptional(id, jobInputsFile, &inputs)
	return inputs, ok, err
}

func (s *FileSystem) readOptional(id model.JobID, name string, v any) (bool, error) {
	path, ok := s.jobFile(id, name)
	if !ok {
		return false, nil
	}
	if err := readJSON(path, v); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Remove deletes the job directory. Failures are logged only.
func (s *FileSystem) Remove(ctx context.Context, id model.JobID) {
	dir, ok := s.jobDir(id)
	if !ok {
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		slog.WarnContext(log.WithJob(ctx, id.String()), "cannot delete job dir", "path", dir, "error", err)
	}
}
