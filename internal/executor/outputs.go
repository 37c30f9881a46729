package executor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/gabriel-vasile/mimetype"

	"github.com/CZERTAINLY/jobber/internal/model"
	"github.com/CZERTAINLY/jobber/internal/tmpl"
)

// resolveOutputs looks up every expected output in the working directory.
// Payloads are opened lazily, so the returned results hold no descriptors.
func resolveOutputs(ctx context.Context, env tmpl.Env, expected []model.ExpectedOutput) ([]model.OutputResult, error) {
	results := make([]model.OutputResult, 0, len(expected))
	for _, e := range expected {
		r, err := resolveOutput(ctx, env, e)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, nil
}

func resolveOutput(ctx context.Context, env tmpl.Env, e model.ExpectedOutput) (model.OutputResult, error) {
	id, err := env.Evaluate(e.ID)
	if err != nil {
		return model.OutputResult{}, fmt.Errorf("output id: %w", err)
	}
	rel, err := env.Evaluate(e.Path)
	if err != nil {
		return model.OutputResult{}, fmt.Errorf("output %s path: %w", id, err)
	}
	path, err := env.Resolve(rel)
	if err != nil {
		return model.OutputResult{}, fmt.Errorf("output %s path: %w", id, err)
	}

	missing := model.OutputResult{Missing: &model.MissingOutput{
		ID:           id,
		Required:     e.Required,
		ExpectedPath: path,
	}}
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return missing, nil
	case err != nil:
		return model.OutputResult{}, fmt.Errorf("output %s: %w", id, err)
	case info.IsDir():
		slog.WarnContext(ctx, "expected output is a directory", "output_id", id, "path", path)
		return missing, nil
	}

	data, err := model.FileData(path, mimeType(ctx, e.MimeType, path))
	if err != nil {
		return model.OutputResult{}, fmt.Errorf("output %s: %w", id, err)
	}
	return model.OutputResult{Output: &model.JobOutput{
		ID:          id,
		Data:        data,
		Name:        e.Name,
		Description: e.Description,
		Metadata:    e.Metadata,
	}}, nil
}

func mimeType(ctx context.Context, explicit, path string) string {
	if explicit != "" {
		return explicit
	}
	m, err := mimetype.DetectFile(path)
	if err != nil {
		slog.DebugContext(ctx, "cannot detect mime type", "path", path, "error", err)
		return model.DefaultBinaryMimeType
	}
	return m.String()
}
