package specs_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/CZERTAINLY/jobber/internal/model"
	"github.com/CZERTAINLY/jobber/internal/specs"
	"github.com/stretchr/testify/require"
)

const echoSpec = `
name: Echo
description: echoes its input
execution:
  application: echo
  arguments:
    - "{{ .inputs.message }}"
  dependencies:
    - source: data.txt
      target: data.txt
      softLink: true
    - source: "{{ .inputs.path }}"
      target: other.txt
expectedOutputs:
  - id: out
    path: out.txt
    required: true
    mimeType: text/plain
`

func writeSpec(t *testing.T, root, id, content string) {
	t.Helper()
	dir := filepath.Join(root, id)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "spec.yml"), []byte(content), 0o644))
}

func TestGet(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeSpec(t, root, "echo", echoSpec)
	s, err := specs.New(root)
	require.NoError(t, err)

	spec, err := s.Get("echo")
	require.NoError(t, err)
	require.Equal(t, "echo", spec.ID)
	require.Equal(t, "Echo", spec.Name)
	require.Equal(t, "echo", spec.Execution.Application)
	require.Equal(t, []string{"{{ .inputs.message }}"}, spec.Execution.Arguments)
	require.Len(t, spec.Execution.Dependencies, 2)
	require.Equal(t, filepath.Join(root, "echo", "data.txt"), spec.Execution.Dependencies[0].Source)
	require.True(t, spec.Execution.Dependencies[0].SoftLink)
	require.Equal(t, "{{ .inputs.path }}", spec.Execution.Dependencies[1].Source)
	require.Equal(t, []model.ExpectedOutput{{ID: "out", Path: "out.txt", Required: true, MimeType: "text/plain"}}, spec.ExpectedOutputs)

	for _, id := range []string{"nope", "../echo", ""} {
		_, err = s.Get(id)
		require.ErrorIs(t, err, model.ErrNoSuchSpec, id)
	}
}

func TestList(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeSpec(t, root, "echo", echoSpec)
	writeSpec(t, root, "alpha", "execution:\n  application: /bin/true\n")
	writeSpec(t, root, "broken", "execution: [")
	writeSpec(t, root, "noapp", "name: x\n")
	require.NoError(t, os.Mkdir(filepath.Join(root, "empty"), 0o755))

	s, err := specs.New(root)
	require.NoError(t, err)
	list, err := s.List()
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "Echo", list[0].Name)
	require.Equal(t, "alpha", list[1].Name)
}
