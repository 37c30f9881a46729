package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/CZERTAINLY/jobber/internal/log"
	"github.com/CZERTAINLY/jobber/internal/model"
)

// PersistOutput writes the output payload to outputs/{id} and records its
// metadata in outputs.json. Persisting an ID twice overwrites the payload and
// replaces the metadata entry in place, so outputs.json never lists an ID
// twice. The payload is closed in all cases.
func (s *FileSystem) PersistOutput(ctx context.Context, id model.JobID, output model.JobOutput) error {
	if output.Data.Data != nil {
		defer func() {
			_ = output.Data.Data.Close()
		}()
	}
	dir, ok := s.jobDir(id)
	if !ok {
		return fmt.Errorf("%s: cannot persist output %s: %w", id, output.ID, model.ErrJobNotFound)
	}
	if !validName(output.ID) {
		return fmt.Errorf("%s: invalid output id %q", id, output.ID)
	}
	if output.Data.Data == nil {
		return fmt.Errorf("%s: output %s has no data", id, output.ID)
	}

	outDir := filepath.Join(dir, outputsDir)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("creating outputs directory: %w", err)
	}
	size, err := writeOutputFile(filepath.Join(outDir, output.ID), output.Data.Data)
	if err != nil {
		return err
	}

	mimeType := output.Data.MimeType
	if mimeType == "" {
		mimeType = model.DefaultBinaryMimeType
	}
	entry := model.JobOutputDetails{
		ID:          output.ID,
		SizeInBytes: size,
		MimeType:    mimeType,
		Name:        output.Name,
		Description: output.Description,
		Metadata:    output.Metadata,
	}

	s.mx.Lock()
	defer s.mx.Unlock()
	path := filepath.Join(dir, outputsFile)
	var existing []model.JobOutputDetails
	if err := readJSON(path, &existing); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	replaced := false
	for i := range existing {
		if existing[i].ID == entry.ID {
			existing[i] = entry
			replaced = true
		}
	}
	if !replaced {
		existing = append(existing, entry)
	}
	if err := writeJSON(path, existing); err != nil {
		return err
	}
	slog.DebugContext(log.WithJob(ctx, id.String()), "output persisted", "output_id", output.ID, "size", size)
	return nil
}

func writeOutputFile(path string, r io.Reader) (int64, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("%s: cannot create: %w", path, err)
	}
	n, err := io.Copy(f, r)
	if err != nil {
		_ = f.Close()
		return 0, fmt.Errorf("%s: cannot write: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("%s: cannot close: %w", path, err)
	}
	return n, nil
}

// GetJobOutputs lists output metadata, an empty list when there is none.
// Entries are listed even if their payload was deleted.
func (s *FileSystem) GetJobOutputs(id model.JobID) ([]model.JobOutputDetails, error) {
	path, ok := s.jobFile(id, outputsFile)
	if !ok {
		return []model.JobOutputDetails{}, nil
	}
	s.mx.Lock()
	defer s.mx.Unlock()
	var outputs []model.JobOutputDetails
	if err := readJSON(path, &outputs); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []model.JobOutputDetails{}, nil
		}
		return nil, fmt.Errorf("%s: %s: cannot parse as a job outputs metadata file: %w", id, outputsFile, err)
	}
	if outputs == nil {
		outputs = []model.JobOutputDetails{}
	}
	return outputs, nil
}

func (s *FileSystem) HasOutput(id model.JobID, outputID string) bool {
	_, ok := s.outputPath(id, outputID)
	return ok
}

func (s *FileSystem) outputPath(id model.JobID, outputID string) (string, bool) {
	if !validName(outputID) {
		return "", false
	}
	return s.jobFile(id, filepath.Join(outputsDir, outputID))
}

// GetOutput returns the payload of an output. ok is false when the job, its
// metadata entry or the payload file is missing.
func (s *FileSystem) GetOutput(id model.JobID, outputID string) (model.BinaryData, bool, error) {
	outputs, err := s.GetJobOutputs(id)
	if err != nil {
		return model.BinaryData{}, false, err
	}
	var meta *model.JobOutputDetails
	// older directories may list an id more than once, the last one wins
	for i := range outputs {
		if outputs[i].ID == outputID {
			meta = &outputs[i]
		}
	}
	if meta == nil {
		return model.BinaryData{}, false, nil
	}
	path, ok := s.outputPath(id, outputID)
	if !ok {
		return model.BinaryData{}, false, nil
	}
	data, err := model.FileData(path, meta.MimeType)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return model.BinaryData{}, false, nil
		}
		return model.BinaryData{}, false, err
	}
	return data, true, nil
}
