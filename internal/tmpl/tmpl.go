// Package tmpl evaluates the argument and path templates of a job spec.
//
// Templates use text/template syntax. The data is limited to
//
//	.request    the persisted job
//	.inputs     input values keyed by input id
//	.outputDir  the job's working directory
//
// and the functions toJSON, toFile, toDir, join and toString. None of the
// functions touch the filesystem.
package tmpl

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"text/template"

	"github.com/CZERTAINLY/jobber/internal/model"
)

var ErrEscape = errors.New("path escapes the working directory")

// Env is the evaluation context of a single job.
type Env struct {
	Request   model.PersistedJob
	Inputs    map[string]any
	OutputDir string
}

// NewEnv returns the environment of job running in workingDir.
func NewEnv(job model.PersistedJob, workingDir string) Env {
	inputs := job.Inputs
	if inputs == nil {
		inputs = map[string]any{}
	}
	return Env{
		Request:   job,
		Inputs:    inputs,
		OutputDir: workingDir,
	}
}

// Evaluate renders text against env. A text without actions is returned
// unchanged.
func (env Env) Evaluate(text string) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}
	t, err := template.New("arg").
		Option("missingkey=error").
		Funcs(env.funcs()).
		Parse(text)
	if err != nil {
		return "", fmt.Errorf("parsing template %q: %w", text, err)
	}
	var sb strings.Builder
	data := map[string]any{
		"request":   env.Request,
		"inputs":    env.Inputs,
		"outputDir": env.OutputDir,
	}
	if err := t.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("evaluating template %q: %w", text, err)
	}
	return sb.String(), nil
}

// EvaluateAll renders every element of texts.
func (env Env) EvaluateAll(texts []string) ([]string, error) {
	out := make([]string, 0, len(texts))
	for _, text := range texts {
		s, err := env.Evaluate(text)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (env Env) funcs() template.FuncMap {
	return template.FuncMap{
		"toJSON":   toJSON,
		"toFile":   env.toFile,
		"toDir":    env.toDir,
		"join":     join,
		"toString": toString,
	}
}

func toJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// toFile resolves rel as a file under the working directory.
func (env Env) toFile(rel any) (string, error) {
	path, err := env.Resolve(toString(rel))
	if err != nil {
		return "", err
	}
	if path == filepath.Clean(env.OutputDir) {
		return "", fmt.Errorf("toFile %q: resolves to the working directory itself", toString(rel))
	}
	return path, nil
}

// toDir resolves rel as a directory under the working directory, the empty
// path being the working directory itself.
func (env Env) toDir(rel any) (string, error) {
	return env.Resolve(toString(rel))
}

// Resolve joins rel to the working directory. Absolute paths and paths
// leaving the working directory are rejected.
func (env Env) Resolve(rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("%q: %w", rel, ErrEscape)
	}
	base := filepath.Clean(env.OutputDir)
	path := filepath.Join(base, rel)
	r, err := filepath.Rel(base, path)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%q: %w", rel, ErrEscape)
	}
	return path, nil
}

func join(sep string, v any) (string, error) {
	switch xs := v.(type) {
	case []string:
		return strings.Join(xs, sep), nil
	case []any:
		parts := make([]string, len(xs))
		for i, x := range xs {
			parts[i] = toString(x)
		}
		return strings.Join(parts, sep), nil
	case nil:
		return "", nil
	default:
		return "", fmt.Errorf("join: cannot join %T", v)
	}
}

// toString formats scalars the way they appear in JSON input, composite
// values as JSON.
func toString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case json.Number:
		return x.String()
	case fmt.Stringer:
		return x.String()
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(x)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
}
