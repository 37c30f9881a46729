package tmpl_test

import (
	"path/filepath"
	"testing"

	"github.com/CZERTAINLY/jobber/internal/model"
	"github.com/CZERTAINLY/jobber/internal/tmpl"
	"github.com/stretchr/testify/require"
)

func testEnv(t *testing.T) tmpl.Env {
	t.Helper()
	job := model.PersistedJob{
		ID: "abc123",
		ValidJobRequest: model.ValidJobRequest{
			Owner: "alice",
			Name:  "report",
			Inputs: map[string]any{
				"someString": "hello",
				"someList":   []any{"a", "b", "c", "d"},
				"someNumber": float64(42),
				"someObject": map[string]any{"k": "v"},
			},
		},
	}
	return tmpl.NewEnv(job, filepath.Join(t.TempDir(), "wd"))
}

func TestEvaluate(t *testing.T) {
	t.Parallel()
	env := testEnv(t)

	var testCases = []struct {
		scenario string
		given    string
		then     string
	}{
		{"literal", "--verbose", "--verbose"},
		{"literal with braces", "{not a template}", "{not a template}"},
		{"input", "{{ .inputs.someString }}", "hello"},
		{"request", "{{ .request.ID }}-{{ .request.Owner }}", "abc123-alice"},
		{"toString number", "{{ toString .inputs.someNumber }}", "42"},
		{"toString", "{{ toString .inputs.someString }}", "hello"},
		{"join", "{{ join \",\" .inputs.someList }}", "a,b,c,d"},
		{"toJSON", "{{ toJSON .inputs.someObject }}", `{"k":"v"}`},
		{"outputDir", "{{ .outputDir }}", env.OutputDir},
		{"toFile", "{{ toFile \"out/result.txt\" }}", filepath.Join(env.OutputDir, "out", "result.txt")},
		{"toDir", "{{ toDir \"out\" }}", filepath.Join(env.OutputDir, "out")},
		{"toDir empty", "{{ toDir \"\" }}", env.OutputDir},
	}

	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			got, err := env.Evaluate(tc.given)
			require.NoError(t, err)
			require.Equal(t, tc.then, got)
		})
	}
}

func TestEvaluateErrors(t *testing.T) {
	t.Parallel()
	env := testEnv(t)

	var testCases = []struct {
		scenario string
		given    string
	}{
		{"missing input", "{{ .inputs.nope }}"},
		{"unknown function", "{{ exec \"rm\" }}"},
		{"syntax", "{{ .inputs.someString "},
		{"toFile escape", "{{ toFile \"../../etc/passwd\" }}"},
		{"toFile absolute", "{{ toFile \"/etc/passwd\" }}"},
		{"toFile working dir", "{{ toFile \".\" }}"},
		{"join scalar", "{{ join \",\" .inputs.someString }}"},
	}

	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			_, err := env.Evaluate(tc.given)
			require.Error(t, err)
		})
	}
}

func TestEvaluateAll(t *testing.T) {
	t.Parallel()
	env := testEnv(t)
	got, err := env.EvaluateAll([]string{"-n", "{{ .inputs.someString }}"})
	require.NoError(t, err)
	require.Equal(t, []string{"-n", "hello"}, got)

	_, err = env.EvaluateAll([]string{"{{ .inputs.nope }}"})
	require.Error(t, err)
}

func TestResolve(t *testing.T) {
	t.Parallel()
	env := testEnv(t)
	p, err := env.Resolve("a/../b")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(env.OutputDir, "b"), p)

	_, err = env.Resolve("a/../../b")
	require.ErrorIs(t, err, tmpl.ErrEscape)
	// a file named with leading dots is fine
	_, err = env.Resolve("..hidden")
	require.NoError(t, err)
}
