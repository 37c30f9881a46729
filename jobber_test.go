package jobber_test

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var (
	//go:embed testing/*
	testingFS  embed.FS
	jobberPath string

	// tmpDir is a function used to create a tempdir
	// -test.keepdir flag says test to use os.MkdirTemp
	// default is t.TempDir, which will be cleaned up
	tmpDir func(t *testing.T) string
)

func TestMain(m *testing.M) {
	var keepTestDir bool
	flag.BoolVar(&keepTestDir, "test.keepdir", false, "use os.TempDir instead of t.TempDir to keep test artifacts")

	flag.Parse()

	if testing.Short() {
		slog.Warn("integration tests with -short are ignored")
		os.Exit(0)
	}

	if !keepTestDir {
		tmpDir = func(t *testing.T) string {
			t.Helper()
			return t.TempDir()
		}
	} else {
		tmpDir = func(t *testing.T) string {
			t.Helper()
			dir, err := os.MkdirTemp("", t.Name()+"*")
			require.NoError(t, err)
			_, err = fmt.Fprintf(t.Output(), "TEMPDIR %s: -test.keepdir used, so it won't be automatically deleted", dir)
			require.NoError(t, err)
			return dir
		}
	}

	if !isExecutable("jobber-ci") {
		slog.Error("cannot locate jobber-ci binary: run go build -race -cover -covermode=atomic -o jobber-ci ./cmd/jobber/ first")
		os.Exit(1)
	}

	var err error
	jobberPath, err = filepath.Abs("jobber-ci")
	if err != nil {
		slog.Error("can't get abspath for jobber-ci", "error", err)
		os.Exit(1)
	}
	coverDir, err := filepath.Abs("coverage")
	if err != nil {
		slog.Error("can't get value for GOCOVERDIR for jobber-ci", "error", err)
		os.Exit(1)
	}
	err = rmRfMkdirp(coverDir)
	if err != nil {
		slog.Error("can't reset GOCOVERDIR for jobber-ci", "error", err, "coverdir", coverDir)
		os.Exit(1)
	}

	err = os.Setenv("GOCOVERDIR", coverDir)
	if err != nil {
		slog.Error("can't set GOCOVERDIR env variable", "error", err)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

const config = `
version: 0
jobs:
    dir: jobs
specs:
    dir: specs
working_dirs:
    dir: wds
    remove_after_execution: true
execution:
    max_concurrent_jobs: 2
    delay_before_forcibly_killing_jobs: 2s
`

type jobDetails struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Owner      string `json:"owner"`
	Timestamps []struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"timestamps"`
}

func TestJobber(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skipf("skipped, binary sh not available: %v", err)
	}
	_ = chDir(t)
	creat(t, "jobber.yaml", []byte(config))
	fixtures(t, "testing/specs", "specs")

	t.Run("echo", func(t *testing.T) {
		stdout, _, err := jobber(t, "run", "echo", "--owner", "alice", "--input", "message=hello jobber")
		require.NoError(t, err)
		require.Equal(t, "hello jobber\n", stdout)
	})

	t.Run("report", func(t *testing.T) {
		_, _, err := jobber(t, "run", "report", "--owner", "bob", "--input", "count=3")
		require.NoError(t, err)
	})

	t.Run("missing output", func(t *testing.T) {
		stdout, stderr, err := jobber(t, "run", "missing", "--owner", "carol")
		require.Error(t, err)
		require.Equal(t, "carol\n", stdout)
		require.Contains(t, stderr, "required outputs are missing")
	})

	t.Run("unknown spec", func(t *testing.T) {
		_, stderr, err := jobber(t, "run", "nope")
		require.Error(t, err)
		require.Contains(t, stderr, "job spec not found")
	})

	t.Run("jobs", func(t *testing.T) {
		stdout, _, err := jobber(t, "jobs")
		require.NoError(t, err)
		// store the $TEST_NAME json
		creat(t, filepath.Base(t.Name())+".json", []byte(stdout))

		var jobs []jobDetails
		require.NoError(t, json.Unmarshal([]byte(stdout), &jobs))
		require.Len(t, jobs, 3)
		// most recent first
		require.Equal(t, "carol", jobs[0].Owner)
		require.Equal(t, "fatal-error", jobs[0].Timestamps[len(jobs[0].Timestamps)-1].Status)
		require.Equal(t, "alice", jobs[2].Owner)
		statuses := make([]string, 0, 3)
		for _, ts := range jobs[2].Timestamps {
			statuses = append(statuses, ts.Status)
		}
		require.Equal(t, []string{"submitted", "running", "finished"}, statuses)

		report := filepath.Join("jobs", jobs[1].ID, "outputs", "report")
		b, err := os.ReadFile(report)
		require.NoError(t, err)
		require.Equal(t, "# jobber report\n{\"count\":3}\n", string(b))

		// working directories are removed after execution
		entries, err := os.ReadDir("wds")
		require.NoError(t, err)
		require.Empty(t, entries)

		stdout, _, err = jobber(t, "jobs", "--query", "ALICE")
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal([]byte(stdout), &jobs))
		require.Len(t, jobs, 1)
	})
}

func jobber(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 60*time.Second)
	t.Cleanup(cancel)
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, jobberPath, append(args, "--config", "jobber.yaml")...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err != nil {
		t.Logf("%s", stderr.String())
	}
	return stdout.String(), stderr.String(), err
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().Perm()&0111 != 0
}

func rmRfMkdirp(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return nil
}

func chDir(t *testing.T) string {
	t.Helper()
	tempdir := tmpDir(t)
	t.Chdir(tempdir)
	return tempdir
}

func creat(t *testing.T, path string, content []byte) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, f.Close())
	}()
	_, err = f.Write(content)
	require.NoError(t, err)
	err = f.Sync()
	require.NoError(t, err)
}

// fixtures copies the embedded tree under inDir to outDir.
func fixtures(t *testing.T, inDir, outDir string) {
	t.Helper()
	sub, err := fs.Sub(testingFS, inDir)
	require.NoError(t, err)
	require.NoError(t, os.CopyFS(outDir, sub))
}
