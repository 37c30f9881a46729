package model

import (
	"fmt"
	"log/slog"
	"strings"

	"cuelang.org/go/cue"
	cueerrors "cuelang.org/go/cue/errors"
)

// CueErrorDetail is one config validation problem.
type CueErrorDetail struct {
	Path    string // execution.max_concurrent_jobs
	Code    string // unknown_field, missing_required, out_of_range, invalid_value
	Message string
	File    string
	Line    int
	Column  int
}

func (c CueErrorDetail) Attr(name string) slog.Attr {
	return slog.GroupAttrs(
		name,
		slog.String("code", c.Code),
		slog.String("path", c.Path),
		slog.String("message", c.Message),
		slog.String("file", c.File),
		slog.Int("line", c.Line),
		slog.Int("column", c.Column),
	)
}

// hints explain the constraints cue reports only as expressions.
var hints = map[string]string{
	"jobs.id_length":                               "must be between 4 and 32",
	"jobs.id_attempts":                              "must be positive",
	"execution.max_concurrent_jobs":                 "must be positive",
	"execution.delay_before_forcibly_killing_jobs": "must be a duration like 10s or PT10S",
	"service.notify_url":                            "must be an http or https URL",
}

func humanize(err error, root cue.Value) []CueErrorDetail {
	var out []CueErrorDetail
	seen := make(map[string]struct{})
	for _, e := range cueerrors.Errors(err) {
		d := CueErrorDetail{Path: configPath(e.Path())}
		for _, p := range cueerrors.Positions(e) {
			if p.Filename() != "" {
				d.File, d.Line, d.Column = p.Filename(), p.Line(), p.Column()
				break
			}
		}
		// the schema side of a conflict has no file
		if d.File == "" {
			continue
		}
		key := fmt.Sprintf("%s:%d:%d", d.File, d.Line, d.Column)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}

		format, args := e.Msg()
		raw := fmt.Sprintf(format, args...)
		d.Code, d.Message = classify(raw, d.Path, root)
		out = append(out, d)
	}
	return out
}

func configPath(p []string) string {
	if len(p) > 0 && strings.HasPrefix(p[0], "#") {
		p = p[1:]
	}
	return strings.Join(p, ".")
}

func classify(raw, path string, root cue.Value) (string, string) {
	field := path
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		field = path[i+1:]
	}
	switch {
	case strings.Contains(raw, "not allowed"):
		return "unknown_field", fmt.Sprintf("field %s is not allowed", field)
	case strings.Contains(raw, "incomplete value"):
		return "missing_required", fmt.Sprintf("field %s is required", field)
	}
	if hint, ok := hints[path]; ok {
		return "out_of_range", fmt.Sprintf("field %s %s", field, hint)
	}
	if path != "" {
		if v := root.LookupPath(cue.ParsePath(path)); v.Exists() {
			return "invalid_value", fmt.Sprintf("field %s must be %s", field, v.IncompleteKind())
		}
	}
	return "invalid_value", raw
}
