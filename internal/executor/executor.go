// Package executor runs a single job as an operating system process.
//
// Every job gets a fresh working directory {root}/{jobId}. Dependencies are
// linked or copied into it, the argument templates are evaluated and the
// application is started there with stdin at EOF. Cancelling the context
// passed to Execute aborts the job: the process receives SIGTERM and is
// killed once the kill delay elapses.
//
//	Execute ---> mkdir wd ---> deps ---> args ---> os/exec.Start
//	                                                   |
//	result chan <--- outputs <--- exit status <--- Wait (goroutine)
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/CZERTAINLY/jobber/internal/log"
	"github.com/CZERTAINLY/jobber/internal/model"
	"github.com/CZERTAINLY/jobber/internal/tmpl"
)

type Config struct {
	// WorkingDirs is the parent of job working directories.
	WorkingDirs string
	// KillDelay is the time between SIGTERM and SIGKILL on abort.
	KillDelay               time.Duration
	RemoveAfterExecution    bool
	MaterializeDependencies bool
}

// ConfigFromModel translates the execution part of the service configuration.
func ConfigFromModel(cfg model.Config) (Config, error) {
	d, err := cfg.Execution.KillDelay()
	if err != nil {
		return Config{}, err
	}
	return Config{
		WorkingDirs:             cfg.WorkingDirs.Dir,
		KillDelay:               d,
		RemoveAfterExecution:    cfg.WorkingDirs.RemoveAfterExecution,
		MaterializeDependencies: cfg.Execution.MaterializeDependencies,
	}, nil
}

type Local struct {
	cfg Config
}

func New(cfg Config) (*Local, error) {
	if cfg.WorkingDirs == "" {
		return nil, errors.New("working directories root is empty")
	}
	if cfg.KillDelay < 0 {
		return nil, fmt.Errorf("%s: delay before killing jobs must be positive", cfg.KillDelay)
	}
	abs, err := filepath.Abs(cfg.WorkingDirs)
	if err != nil {
		return nil, err
	}
	cfg.WorkingDirs = abs
	if err := os.MkdirAll(cfg.WorkingDirs, 0o755); err != nil {
		return nil, fmt.Errorf("creating working directories root: %w", err)
	}
	return &Local{cfg: cfg}, nil
}

// WorkingDir is the working directory of job id.
func (l *Local) WorkingDir(id model.JobID) string {
	return filepath.Join(l.cfg.WorkingDirs, id.String())
}

// Execute starts job and returns a channel receiving exactly one result once
// the process exits. stdout and stderr receive the raw output, they are not
// written to after the result is sent. An error means the process was never
// started.
func (l *Local) Execute(ctx context.Context, job model.PersistedJob, stdout, stderr io.Writer) (<-chan model.ExecutionResult, error) {
	ctx = log.WithJob(ctx, job.ID.String())
	wd := l.WorkingDir(job.ID)
	if err := os.Mkdir(wd, 0o755); err != nil {
		return nil, fmt.Errorf("creating working directory: %w", err)
	}
	slog.DebugContext(ctx, "created working directory", "path", wd)

	env := tmpl.NewEnv(job, wd)
	if l.cfg.MaterializeDependencies {
		for _, dep := range job.Spec.Execution.Dependencies {
			if err := materialize(ctx, env, dep); err != nil {
				return nil, err
			}
		}
	}

	slog.DebugContext(ctx, "resolving args")
	args, err := env.EvaluateAll(job.Spec.Execution.Arguments)
	if err != nil {
		return nil, err
	}
	app := job.Spec.Execution.Application
	if app == "" {
		return nil, errors.New("application is empty")
	}

	cmd := exec.CommandContext(ctx, app, args...)
	cmd.Dir = wd
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if l.cfg.KillDelay > 0 {
		cmd.Cancel = func() error {
			return terminate(cmd.Process)
		}
		cmd.WaitDelay = l.cfg.KillDelay
	}

	cmdline := strings.Join(append([]string{app}, args...), " ")
	slog.DebugContext(ctx, "launch subprocess", "cmdline", cmdline)
	if err := cmd.Start(); err != nil {
		slog.ErrorContext(ctx, "cannot start", "cmdline", cmdline, "error", err)
		return nil, err
	}
	slog.InfoContext(ctx, "launched", "cmdline", cmdline, "pid", cmd.Process.Pid)

	results := make(chan model.ExecutionResult, 1)
	go func() {
		defer close(results)
		err := cmd.Wait()
		results <- l.result(ctx, env, job, cmd.ProcessState, err)
	}()
	return results, nil
}

func (l *Local) result(ctx context.Context, env tmpl.Env, job model.PersistedJob, state *os.ProcessState, err error) model.ExecutionResult {
	if ctx.Err() != nil {
		slog.InfoContext(ctx, "aborted", "error", err)
		return model.ExecutionResult{Status: model.StatusAborted, Message: "Aborted"}
	}
	if state == nil || !state.Success() {
		reason := exitReason(state, err)
		slog.InfoContext(ctx, "execution failed", "reason", reason)
		return model.ExecutionResult{Status: model.StatusFatalError, Message: reason}
	}
	if err != nil {
		// exited with 0, but a child kept the output open
		slog.WarnContext(ctx, "process exited with an error", "error", err)
	}

	outputs, err := resolveOutputs(ctx, env, job.Spec.ExpectedOutputs)
	if err != nil {
		slog.ErrorContext(ctx, "cannot resolve outputs", "error", err)
		return model.ExecutionResult{Status: model.StatusFatalError, Message: "cannot resolve outputs: " + err.Error()}
	}
	slog.InfoContext(ctx, "finished", "outputs", len(outputs))
	return model.ExecutionResult{Status: model.StatusFinished, Outputs: outputs}
}

func exitReason(state *os.ProcessState, err error) string {
	switch {
	case state == nil && err != nil:
		return err.Error()
	case state == nil:
		return "process state is nil"
	case state.ExitCode() >= 0:
		return "exit code " + strconv.Itoa(state.ExitCode())
	default:
		if sig, ok := signalOf(state); ok {
			return "terminated by signal " + sig
		}
		return "terminated: " + state.String()
	}
}

// Release removes the working directory of job id if so configured. It must
// be called once the job's outputs were persisted.
func (l *Local) Release(ctx context.Context, id model.JobID) {
	if !l.cfg.RemoveAfterExecution {
		return
	}
	wd := l.WorkingDir(id)
	if err := os.RemoveAll(wd); err != nil {
		slog.WarnContext(log.WithJob(ctx, id.String()), "cannot delete working directory", "path", wd, "error", err)
		return
	}
	slog.DebugContext(log.WithJob(ctx, id.String()), "deleted working directory", "path", wd)
}
