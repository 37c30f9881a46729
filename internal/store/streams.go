package store

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/CZERTAINLY/jobber/internal/model"
)

// AppendStdout appends every chunk received from chunks to the job's stdout
// file. The file is created on the first chunk and closed once chunks is
// closed. The returned channel yields the first write error (or nil) after
// that and is then closed. The channel is always drained, so a failing disk
// never blocks the producer.
func (s *FileSystem) AppendStdout(id model.JobID, chunks <-chan []byte) (<-chan error, error) {
	return s.appendStream(id, stdoutFile, chunks)
}

func (s *FileSystem) AppendStderr(id model.JobID, chunks <-chan []byte) (<-chan error, error) {
	return s.appendStream(id, stderrFile, chunks)
}

func (s *FileSystem) appendStream(id model.JobID, name string, chunks <-chan []byte) (<-chan error, error) {
	dir, ok := s.jobDir(id)
	if !ok {
		return nil, fmt.Errorf("%s: cannot persist %s: %w", id, name, model.ErrJobNotFound)
	}
	path := filepath.Join(dir, name)
	done := make(chan error, 1)
	go func() {
		defer close(done)
		var f *os.File
		var werr error
		for chunk := range chunks {
			if werr != nil {
				continue
			}
			if f == nil {
				f, werr = os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
				if werr != nil {
					slog.Error("cannot open job stream", "job_id", id.String(), "path", path, "error", werr)
					continue
				}
			}
			if _, err := f.Write(chunk); err != nil {
				werr = err
				slog.Error("cannot append to job stream", "job_id", id.String(), "path", path, "error", err)
			}
		}
		if f != nil {
			if err := f.Close(); err != nil && werr == nil {
				werr = err
			}
		}
		done <- werr
	}()
	return done, nil
}

func (s *FileSystem) HasStdout(id model.JobID) bool {
	_, ok := s.jobFile(id, stdoutFile)
	return ok
}

func (s *FileSystem) HasStderr(id model.JobID) bool {
	_, ok := s.jobFile(id, stderrFile)
	return ok
}

func (s *FileSystem) GetStdout(id model.JobID) (model.BinaryData, bool) {
	return s.streamData(id, stdoutFile)
}

func (s *FileSystem) GetStderr(id model.JobID) (model.BinaryData, bool) {
	return s.streamData(id, stderrFile)
}

func (s *FileSystem) streamData(id model.JobID, name string) (model.BinaryData, bool) {
	path, ok := s.jobFile(id, name)
	if !ok {
		return model.BinaryData{}, false
	}
	data, err := model.FileData(path, "")
	if err != nil {
		return model.BinaryData{}, false
	}
	return data, true
}
