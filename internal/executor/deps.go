package executor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/CZERTAINLY/jobber/internal/model"
	"github.com/CZERTAINLY/jobber/internal/tmpl"
)

// materialize places dep into the working directory. A failing link falls
// back to a copy, a failing copy fails the launch.
func materialize(ctx context.Context, env tmpl.Env, dep model.JobDependency) error {
	source, err := env.Evaluate(dep.Source)
	if err != nil {
		return fmt.Errorf("dependency source: %w", err)
	}
	targetRel, err := env.Evaluate(dep.Target)
	if err != nil {
		return fmt.Errorf("dependency target: %w", err)
	}
	target, err := env.Resolve(targetRel)
	if err != nil {
		return fmt.Errorf("dependency target: %w", err)
	}
	source, err = filepath.Abs(source)
	if err != nil {
		return fmt.Errorf("dependency source %s: %w", source, err)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("dependency target %s: %w", target, err)
	}

	if dep.SoftLink && symlinkSupported {
		slog.DebugContext(ctx, "softlink dependency", "source", source, "target", target)
		err := os.Symlink(source, target)
		if err == nil {
			return nil
		}
		slog.ErrorContext(ctx, "cannot create soft link: copying", "source", source, "error", err)
	}

	slog.DebugContext(ctx, "copy dependency", "source", source, "target", target)
	if err := copyPath(source, target); err != nil {
		slog.ErrorContext(ctx, "cannot copy dependency", "source", source, "error", err)
		return fmt.Errorf("%s: cannot copy: %w", source, err)
	}
	return nil
}

func copyPath(source, target string) error {
	info, err := os.Stat(source)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return os.CopyFS(target, os.DirFS(source))
	}
	return copyFile(source, target, info.Mode().Perm())
}

func copyFile(source, target string, perm os.FileMode) error {
	in, err := os.Open(source)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_EXCL, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
