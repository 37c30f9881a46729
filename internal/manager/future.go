package manager

import (
	"context"
	"sync"

	"github.com/CZERTAINLY/jobber/internal/model"
)

// Future resolves once its job reaches a terminal status.
type Future struct {
	id   model.JobID
	once sync.Once
	done chan struct{}
	res  model.FinalizedJob
}

func newFuture(id model.JobID) *Future {
	return &Future{id: id, done: make(chan struct{})}
}

func (f *Future) ID() model.JobID {
	return f.id
}

// Done is closed when the result is available.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the job is finalized or ctx is done.
func (f *Future) Wait(ctx context.Context) (model.FinalizedJob, error) {
	select {
	case <-f.done:
		return f.res, nil
	case <-ctx.Done():
		return model.FinalizedJob{}, ctx.Err()
	}
}

// Result returns the result without blocking.
func (f *Future) Result() (model.FinalizedJob, bool) {
	select {
	case <-f.done:
		return f.res, true
	default:
		return model.FinalizedJob{}, false
	}
}

func (f *Future) resolve(res model.FinalizedJob) {
	f.once.Do(func() {
		f.res = res
		close(f.done)
	})
}
