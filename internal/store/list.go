package store

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/CZERTAINLY/jobber/internal/model"
	"github.com/CZERTAINLY/jobber/internal/parallel"
)

const listParallelism = 8

type listed struct {
	details model.JobDetails
	ok      bool
}

// GetJobs returns one page of job summaries, the most recently updated job
// first. query, if not empty, is matched case-insensitively against the job
// id, name and owner. Directories without a readable details file are
// skipped. Pages are numbered from 0.
func (s *FileSystem) GetJobs(ctx context.Context, pageSize, page int, query string) ([]model.JobDetails, error) {
	if pageSize < 0 || page < 0 {
		return nil, fmt.Errorf("invalid page %d of size %d", page, pageSize)
	}
	all, err := s.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	q := strings.ToLower(strings.TrimSpace(query))
	if q != "" {
		all = slices.DeleteFunc(all, func(d model.JobDetails) bool {
			return !strings.Contains(strings.ToLower(d.ID.String()), q) &&
				!strings.Contains(strings.ToLower(d.Name), q) &&
				!strings.Contains(strings.ToLower(d.Owner), q)
		})
	}

	slices.SortStableFunc(all, func(a, b model.JobDetails) int {
		if c := latestTime(b).Compare(latestTime(a)); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	start := page * pageSize
	if pageSize == 0 || start >= len(all) {
		return []model.JobDetails{}, nil
	}
	end := min(start+pageSize, len(all))
	return all[start:end], nil
}

// GetJobsWithStatus returns every job whose latest status is status.
func (s *FileSystem) GetJobsWithStatus(ctx context.Context, status model.JobStatus) ([]model.JobDetails, error) {
	all, err := s.loadAll(ctx)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(all, func(d model.JobDetails) bool {
		return d.LatestStatus() != status
	}), nil
}

func latestTime(d model.JobDetails) time.Time {
	ts, _ := d.Latest()
	return ts.Time
}

func (s *FileSystem) loadAll(ctx context.Context) ([]model.JobDetails, error) {
	s.mx.Lock()
	defer s.mx.Unlock()

	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("listing jobs directory %s: %w", s.root, err)
	}
	dirs := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		dirs = append(dirs, e.Name())
	}

	loaded, err := parallel.Map(ctx, listParallelism, dirs, func(ctx context.Context, name string) (listed, error) {
		var d model.JobDetails
		path := filepath.Join(s.root, name, jobDetailsFile)
		if err := readJSON(path, &d); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				slog.WarnContext(ctx, "skipping unreadable job", "path", path, "error", err)
			}
			return listed{}, nil
		}
		return listed{details: d, ok: true}, nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]model.JobDetails, 0, len(loaded))
	for _, l := range loaded {
		if l.ok {
			out = append(out, l.details)
		}
	}
	return out, nil
}
