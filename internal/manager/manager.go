// Package manager schedules jobs under a concurrency ceiling.
//
// Submitted jobs are persisted and queued. A single admission loop, Do, pops
// jobs in FIFO order while fewer than MaxConcurrentJobs are executing and
// hands them to the executor. Completions run on per-job goroutines, they
// persist outputs, record the terminal status, resolve the job's Future and
// wake the loop again.
//
//	Submit --> queue --> Do (admission) --> Executor.Execute
//	                                              |
//	Future <-- terminal status <-- outputs <-- result
//
// Every transition is appended to the store and published to
// AllStatusChanges subscribers.
package manager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/CZERTAINLY/jobber/internal/broadcast"
	"github.com/CZERTAINLY/jobber/internal/log"
	"github.com/CZERTAINLY/jobber/internal/model"
)

var ErrClosed = errors.New("job manager is shut down")

const streamBuffer = 64

// Store is the persistence the manager needs.
type Store interface {
	Persist(ctx context.Context, req model.ValidJobRequest) (model.PersistedJob, error)
	AddNewJobStatus(ctx context.Context, id model.JobID, status model.JobStatus, message string) error
	AppendStdout(id model.JobID, chunks <-chan []byte) (<-chan error, error)
	AppendStderr(id model.JobID, chunks <-chan []byte) (<-chan error, error)
	PersistOutput(ctx context.Context, id model.JobID, output model.JobOutput) error
}

// Executor runs a single job.
type Executor interface {
	Execute(ctx context.Context, job model.PersistedJob, stdout, stderr io.Writer) (<-chan model.ExecutionResult, error)
	Release(ctx context.Context, id model.JobID)
}

type Config struct {
	MaxConcurrentJobs int
}

type queuedJob struct {
	job       model.PersistedJob
	listeners model.Listeners
	future    *Future
}

type executingJob struct {
	queuedJob
	started time.Time
	stdout  *broadcast.Broadcaster[[]byte]
	stderr  *broadcast.Broadcaster[[]byte]
	cancel  context.CancelFunc

	// serializes abort against finalization
	statusMx  sync.Mutex
	aborted   bool
	finalized bool
}

// Stats is a snapshot of the manager's load.
type Stats struct {
	Queued  int
	Running int
}

type Manager struct {
	store Store
	exec  Executor
	max   int

	mx        sync.Mutex
	queue     []*queuedJob
	executing map[model.JobID]*executingJob
	closed    bool

	events *broadcast.Broadcaster[model.JobEvent]
	kick   chan struct{}
	wg     sync.WaitGroup
}

func New(cfg Config, store Store, exec Executor) (*Manager, error) {
	if cfg.MaxConcurrentJobs <= 0 {
		return nil, fmt.Errorf("max concurrent jobs must be positive, got %d", cfg.MaxConcurrentJobs)
	}
	if store == nil || exec == nil {
		return nil, errors.New("store and executor are required")
	}
	return &Manager{
		store:     store,
		exec:      exec,
		max:       cfg.MaxConcurrentJobs,
		executing: make(map[model.JobID]*executingJob),
		events:    broadcast.New[model.JobEvent](),
		kick:      make(chan struct{}, 1),
	}, nil
}

func (m *Manager) wake() {
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

// Submit persists req and queues it. It does not wait for the job to start.
func (m *Manager) Submit(ctx context.Context, req model.ValidJobRequest, listeners model.Listeners) (model.JobID, *Future, error) {
	m.mx.Lock()
	closed := m.closed
	m.mx.Unlock()
	if closed {
		return "", nil, ErrClosed
	}

	job, err := m.store.Persist(ctx, req)
	if err != nil {
		return "", nil, fmt.Errorf("persisting job: %w", err)
	}
	ctx = log.WithJob(ctx, job.ID.String())
	if err := m.setStatus(ctx, job.ID, model.StatusSubmitted, "Queued by job manager"); err != nil {
		return "", nil, err
	}

	qj := &queuedJob{job: job, listeners: listeners, future: newFuture(job.ID)}
	m.mx.Lock()
	if m.closed {
		m.mx.Unlock()
		m.abortQueued(ctx, qj)
		return job.ID, qj.future, nil
	}
	m.queue = append(m.queue, qj)
	m.mx.Unlock()
	slog.DebugContext(ctx, "job queued", "spec", job.Spec.ID)
	m.wake()
	return job.ID, qj.future, nil
}

// TryAbort aborts a queued or executing job. It reports false when the job
// is unknown or already finishing.
func (m *Manager) TryAbort(ctx context.Context, id model.JobID) (bool, error) {
	ctx = log.WithJob(ctx, id.String())
	m.mx.Lock()
	if ej, ok := m.executing[id]; ok {
		m.mx.Unlock()
		slog.DebugContext(ctx, "received cancellation signal for executing job")
		ej.statusMx.Lock()
		defer ej.statusMx.Unlock()
		if ej.aborted || ej.finalized {
			return false, nil
		}
		ej.aborted = true
		ej.cancel()
		return true, m.setStatus(ctx, id, model.StatusAborted, "Aborted")
	}

	i := slices.IndexFunc(m.queue, func(qj *queuedJob) bool { return qj.job.ID == id })
	if i < 0 {
		m.mx.Unlock()
		return false, nil
	}
	qj := m.queue[i]
	m.queue = slices.Delete(m.queue, i, i+1)
	m.mx.Unlock()
	slog.DebugContext(ctx, "removed job from queue")
	return true, m.abortQueued(ctx, qj)
}

func (m *Manager) abortQueued(ctx context.Context, qj *queuedJob) error {
	err := m.setStatus(ctx, qj.job.ID, model.StatusAborted, "Aborted")
	qj.future.resolve(model.FinalizedJob{
		ID:       qj.job.ID,
		Status:   model.StatusAborted,
		Message:  "Aborted",
		Finished: time.Now().UTC(),
	})
	return err
}

// AllStatusChanges subscribes to every status transition from now on.
func (m *Manager) AllStatusChanges() (<-chan model.JobEvent, func()) {
	return m.events.Subscribe()
}

// StdoutUpdates subscribes to the stdout of an executing job. ok is false
// when the job is not executing. The channel is closed when the job ends.
func (m *Manager) StdoutUpdates(id model.JobID) (<-chan []byte, func(), bool) {
	m.mx.Lock()
	defer m.mx.Unlock()
	ej, ok := m.executing[id]
	if !ok {
		return nil, nil, false
	}
	ch, cancel := ej.stdout.Subscribe()
	return ch, cancel, true
}

func (m *Manager) StderrUpdates(id model.JobID) (<-chan []byte, func(), bool) {
	m.mx.Lock()
	defer m.mx.Unlock()
	ej, ok := m.executing[id]
	if !ok {
		return nil, nil, false
	}
	ch, cancel := ej.stderr.Subscribe()
	return ch, cancel, true
}

func (m *Manager) Stats() Stats {
	m.mx.Lock()
	defer m.mx.Unlock()
	return Stats{Queued: len(m.queue), Running: len(m.executing)}
}

// Do runs the admission loop until ctx is done. On return every queued and
// executing job has been aborted and finalized.
func (m *Manager) Do(ctx context.Context) error {
	slog.DebugContext(ctx, "starting a job manager", "max_concurrent_jobs", m.max)
	defer m.shutdown(context.WithoutCancel(ctx))

	m.advance(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-m.kick:
			m.advance(ctx)
		}
	}
}

func (m *Manager) shutdown(ctx context.Context) {
	m.mx.Lock()
	m.closed = true
	queued := m.queue
	m.queue = nil
	executing := make([]model.JobID, 0, len(m.executing))
	for id := range m.executing {
		executing = append(executing, id)
	}
	m.mx.Unlock()

	for _, qj := range queued {
		if err := m.abortQueued(log.WithJob(ctx, qj.job.ID.String()), qj); err != nil {
			slog.ErrorContext(ctx, "cannot abort queued job", "job_id", qj.job.ID.String(), "error", err)
		}
	}
	for _, id := range executing {
		if _, err := m.TryAbort(ctx, id); err != nil {
			slog.ErrorContext(ctx, "cannot abort executing job", "job_id", id.String(), "error", err)
		}
	}
	m.wg.Wait()
	m.events.Close()
	slog.DebugContext(ctx, "job manager stopped")
}

// advance admits queued jobs while there is a free slot. Only the admission
// loop pops the queue and fills the executing set.
func (m *Manager) advance(ctx context.Context) {
	for {
		m.mx.Lock()
		if len(m.queue) == 0 || len(m.executing) >= m.max {
			m.mx.Unlock()
			return
		}
		qj := m.queue[0]
		m.queue = slices.Delete(m.queue, 0, 1)
		m.mx.Unlock()
		m.launch(ctx, qj)
	}
}

func (m *Manager) launch(loopCtx context.Context, qj *queuedJob) {
	id := qj.job.ID
	ctx := log.WithJob(context.WithoutCancel(loopCtx), id.String())

	streams, err := m.openStreams(id)
	if err != nil {
		m.launchFailed(ctx, qj, nil, err)
		return
	}

	jobCtx, cancel := context.WithCancel(ctx)
	ej := &executingJob{
		queuedJob: *qj,
		stdout:    broadcast.New[[]byte](),
		stderr:    broadcast.New[[]byte](),
		cancel:    cancel,
	}
	stdout := streamWriter{store: streams.stdout, live: ej.stdout, listener: qj.listeners.Stdout}
	stderr := streamWriter{store: streams.stderr, live: ej.stderr, listener: qj.listeners.Stderr}

	// TryAbort reaches the job while the executor prepares it
	m.mx.Lock()
	m.executing[id] = ej
	m.mx.Unlock()

	results, err := m.exec.Execute(jobCtx, qj.job, stdout, stderr)
	if err != nil {
		m.abandon(ctx, ej, streams, err)
		return
	}

	ej.started = time.Now().UTC()
	if err := m.markRunning(ctx, ej); err != nil {
		cancel()
		for res := range results {
			res.CloseOutputs()
		}
		m.abandon(ctx, ej, streams, err)
		return
	}
	slog.InfoContext(ctx, "job started", "spec", qj.job.Spec.ID)

	m.wg.Go(func() {
		m.complete(ctx, ej, streams, results)
	})
}

// markRunning records RUNNING unless the job was aborted during launch.
func (m *Manager) markRunning(ctx context.Context, ej *executingJob) error {
	ej.statusMx.Lock()
	defer ej.statusMx.Unlock()
	if ej.aborted {
		return nil
	}
	return m.setStatus(ctx, ej.job.ID, model.StatusRunning, "Submitted to executor")
}

// abandon ends a job which never reached complete. An abort honored during
// launch already recorded ABORTED, anything else is a launch failure.
func (m *Manager) abandon(ctx context.Context, ej *executingJob, streams *streams, err error) {
	id := ej.job.ID
	ej.cancel()
	m.mx.Lock()
	delete(m.executing, id)
	m.mx.Unlock()

	ej.statusMx.Lock()
	ej.finalized = true
	aborted := ej.aborted
	ej.statusMx.Unlock()

	ej.stdout.Close()
	ej.stderr.Close()
	if !aborted {
		m.launchFailed(ctx, &ej.queuedJob, streams, err)
		return
	}
	slog.DebugContext(ctx, "job aborted during launch", "error", err)
	streams.close(ctx)
	m.exec.Release(ctx, id)
	ej.future.resolve(model.FinalizedJob{
		ID:       id,
		Status:   model.StatusAborted,
		Message:  "Aborted",
		Finished: time.Now().UTC(),
	})
}

func (m *Manager) launchFailed(ctx context.Context, qj *queuedJob, streams *streams, err error) {
	slog.ErrorContext(ctx, "error starting job execution", "error", err)
	if streams != nil {
		streams.close(ctx)
	}
	msg := "Error executing job: " + err.Error()
	if serr := m.setStatus(ctx, qj.job.ID, model.StatusFatalError, msg); serr != nil {
		slog.ErrorContext(ctx, "cannot record launch failure", "error", serr)
	}
	m.exec.Release(ctx, qj.job.ID)
	qj.future.resolve(model.FinalizedJob{
		ID:       qj.job.ID,
		Status:   model.StatusFatalError,
		Message:  msg,
		Finished: time.Now().UTC(),
	})
}

func (m *Manager) complete(ctx context.Context, ej *executingJob, streams *streams, results <-chan model.ExecutionResult) {
	id := ej.job.ID
	res, ok := <-results
	if !ok {
		res = model.ExecutionResult{Status: model.StatusFatalError, Message: "executor returned no result"}
	}
	ej.cancel()

	m.mx.Lock()
	delete(m.executing, id)
	m.mx.Unlock()

	ej.statusMx.Lock()
	ej.finalized = true
	aborted := ej.aborted
	ej.statusMx.Unlock()

	final := model.FinalizedJob{
		ID:      id,
		Status:  model.StatusAborted,
		Message: "Aborted",
		Started: ej.started,
	}
	if aborted {
		res.CloseOutputs()
	} else {
		final.Status, final.Message = m.finalize(ctx, id, res)
	}

	streams.close(ctx)
	ej.stdout.Close()
	ej.stderr.Close()

	if !aborted {
		if err := m.setStatus(ctx, id, final.Status, final.Message); err != nil {
			slog.ErrorContext(ctx, "cannot record terminal status", "error", err)
		}
	}
	m.exec.Release(ctx, id)
	final.Finished = time.Now().UTC()
	slog.InfoContext(ctx, "job finalized", "status", final.Status.String(), "message", final.Message)
	ej.future.resolve(final)
	m.wake()
}

// finalize maps the executor result to the job's terminal status. Outputs of
// a finished job are persisted first.
func (m *Manager) finalize(ctx context.Context, id model.JobID, res model.ExecutionResult) (model.JobStatus, string) {
	if res.Status != model.StatusFinished {
		res.CloseOutputs()
		msg := "Execution did not finish successfully"
		if res.Message != "" {
			msg += ": " + res.Message
		}
		return res.Status, msg
	}

	var persistErrs, missing []string
	for _, o := range res.Outputs {
		switch {
		case o.Output != nil:
			if err := m.store.PersistOutput(ctx, id, *o.Output); err != nil {
				slog.ErrorContext(ctx, "cannot persist output", "output_id", o.Output.ID, "error", err)
				persistErrs = append(persistErrs, o.Output.ID+": "+err.Error())
			}
		case o.Missing != nil && o.Missing.Required:
			missing = append(missing, o.Missing.ID+" (expected at "+o.Missing.ExpectedPath+")")
		case o.Missing != nil:
			slog.DebugContext(ctx, "optional output is missing", "output_id", o.Missing.ID)
		}
	}
	switch {
	case len(persistErrs) > 0:
		return model.StatusFatalError, "Job executed successfully, but there was an error persisting the outputs: " + strings.Join(persistErrs, ", ")
	case len(missing) > 0:
		return model.StatusFatalError, "Job executed successfully, but required outputs are missing: " + strings.Join(missing, ", ")
	default:
		return model.StatusFinished, "Execution finished"
	}
}

func (m *Manager) setStatus(ctx context.Context, id model.JobID, status model.JobStatus, message string) error {
	if err := m.store.AddNewJobStatus(ctx, id, status, message); err != nil {
		return fmt.Errorf("recording status %s: %w", status, err)
	}
	m.events.Publish(model.JobEvent{ID: id, Status: status})
	return nil
}

// streams are the channels feeding the store's stdout and stderr appenders.
type streams struct {
	stdout     chan []byte
	stderr     chan []byte
	stdoutDone <-chan error
	stderrDone <-chan error
}

func (m *Manager) openStreams(id model.JobID) (*streams, error) {
	s := &streams{
		stdout: make(chan []byte, streamBuffer),
		stderr: make(chan []byte, streamBuffer),
	}
	var err error
	s.stdoutDone, err = m.store.AppendStdout(id, s.stdout)
	if err != nil {
		return nil, err
	}
	s.stderrDone, err = m.store.AppendStderr(id, s.stderr)
	if err != nil {
		close(s.stdout)
		<-s.stdoutDone
		return nil, err
	}
	return s, nil
}

// close ends both streams and waits until everything is on disk.
func (s *streams) close(ctx context.Context) {
	close(s.stdout)
	close(s.stderr)
	if err := <-s.stdoutDone; err != nil {
		slog.ErrorContext(ctx, "persisting stdout failed", "error", err)
	}
	if err := <-s.stderrDone; err != nil {
		slog.ErrorContext(ctx, "persisting stderr failed", "error", err)
	}
}
