// Package specs loads job specs from {dir}/{specId}/spec.yml.
package specs

import (
	"cmp"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/CZERTAINLY/jobber/internal/model"
)

const specFile = "spec.yml"

type FileSystem struct {
	root string
}

func New(dir string) (*FileSystem, error) {
	if dir == "" {
		return nil, errors.New("specs directory is empty")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("creating specs directory: %w", err)
	}
	return &FileSystem{root: abs}, nil
}

// Get loads spec id. The spec id is the name of its directory, relative
// dependency sources are resolved against that directory.
func (s *FileSystem) Get(id string) (model.JobSpec, error) {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return model.JobSpec{}, fmt.Errorf("%q: %w", id, model.ErrNoSuchSpec)
	}
	dir := filepath.Join(s.root, id)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return model.JobSpec{}, fmt.Errorf("%s: %w", id, model.ErrNoSuchSpec)
	}
	return load(dir)
}

func load(dir string) (model.JobSpec, error) {
	path := filepath.Join(dir, specFile)
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return model.JobSpec{}, fmt.Errorf("%s: %w", path, model.ErrNoSuchSpec)
		}
		return model.JobSpec{}, err
	}
	var spec model.JobSpec
	if err := yaml.Unmarshal(b, &spec); err != nil {
		return model.JobSpec{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	spec.ID = filepath.Base(dir)
	if spec.Name == "" {
		spec.Name = spec.ID
	}
	if spec.Execution.Application == "" {
		return model.JobSpec{}, fmt.Errorf("%s: execution.application is empty", path)
	}
	for i, dep := range spec.Execution.Dependencies {
		if !strings.Contains(dep.Source, "{{") && !filepath.IsAbs(dep.Source) {
			spec.Execution.Dependencies[i].Source = filepath.Join(dir, dep.Source)
		}
	}
	return spec, nil
}

// List returns every loadable spec sorted by name. Broken specs are logged
// and skipped.
func (s *FileSystem) List() ([]model.JobSpec, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("listing specs: %w", err)
	}
	specs := make([]model.JobSpec, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		spec, err := load(filepath.Join(s.root, e.Name()))
		if err != nil {
			slog.Warn("skipping job spec", "spec", e.Name(), "error", err)
			continue
		}
		specs = append(specs, spec)
	}
	slices.SortFunc(specs, func(a, b model.JobSpec) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	return specs, nil
}
