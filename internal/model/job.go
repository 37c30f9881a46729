package model

import (
	"fmt"
	"time"
)

// JobID identifies a job inside a single store. It is assigned by the store
// and never reused.
type JobID string

func (id JobID) String() string {
	return string(id)
}

// JobSpec describes how a job class is executed.
type JobSpec struct {
	ID              string           `json:"id" yaml:"id"`
	Name            string           `json:"name" yaml:"name"`
	Description     string           `json:"description,omitempty" yaml:"description,omitempty"`
	Execution       Execution        `json:"execution" yaml:"execution"`
	ExpectedOutputs []ExpectedOutput `json:"expectedOutputs,omitempty" yaml:"expectedOutputs,omitempty"`
}

// Execution is the templated command line of a JobSpec. Application is used
// verbatim, Arguments are templates.
type Execution struct {
	Application  string          `json:"application" yaml:"application"`
	Arguments    []string        `json:"arguments,omitempty" yaml:"arguments,omitempty"`
	Dependencies []JobDependency `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
}

// JobDependency is a file or directory placed into the working directory
// before the job starts. Source and Target are templates, Target is relative
// to the working directory.
type JobDependency struct {
	Source   string `json:"source" yaml:"source"`
	Target   string `json:"target" yaml:"target"`
	SoftLink bool   `json:"softLink,omitempty" yaml:"softLink,omitempty"`
}

// ExpectedOutput is an artifact the job is expected to leave in its working
// directory. ID and Path are templates.
type ExpectedOutput struct {
	ID          string            `json:"id" yaml:"id"`
	Path        string            `json:"path" yaml:"path"`
	MimeType    string            `json:"mimeType,omitempty" yaml:"mimeType,omitempty"`
	Name        string            `json:"name,omitempty" yaml:"name,omitempty"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	Required    bool              `json:"required,omitempty" yaml:"required,omitempty"`
}

// ValidJobRequest is a request already validated against its spec.
type ValidJobRequest struct {
	Owner    string            `json:"owner"`
	Name     string            `json:"name"`
	Inputs   map[string]any    `json:"inputs,omitempty"`
	Spec     JobSpec           `json:"spec"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// PersistedJob is a ValidJobRequest with its assigned ID.
type PersistedJob struct {
	ID JobID `json:"id"`
	ValidJobRequest
}

// JobStatus is the lifecycle state of a job.
type JobStatus int

const (
	StatusUnknown JobStatus = iota
	StatusSubmitted
	StatusRunning
	StatusFinished
	StatusFatalError
	StatusAborted
)

var statusNames = map[JobStatus]string{
	StatusSubmitted:  "submitted",
	StatusRunning:    "running",
	StatusFinished:   "finished",
	StatusFatalError: "fatal-error",
	StatusAborted:    "aborted",
}

func (s JobStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

// IsTerminal reports whether no transition leaves s.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case StatusFinished, StatusFatalError, StatusAborted:
		return true
	default:
		return false
	}
}

func ParseJobStatus(s string) (JobStatus, error) {
	for status, name := range statusNames {
		if name == s {
			return status, nil
		}
	}
	return StatusUnknown, fmt.Errorf("unknown job status %q", s)
}

func (s JobStatus) MarshalText() ([]byte, error) {
	if _, ok := statusNames[s]; !ok {
		return nil, fmt.Errorf("cannot marshal job status %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *JobStatus) UnmarshalText(text []byte) error {
	status, err := ParseJobStatus(string(text))
	if err != nil {
		return err
	}
	*s = status
	return nil
}

// JobTimestamp is a single entry of a job's status history.
type JobTimestamp struct {
	Status  JobStatus `json:"status"`
	Message string    `json:"message,omitempty"`
	Time    time.Time `json:"time"`
}

// JobDetails is the summary persisted in job-details.json.
type JobDetails struct {
	ID         JobID          `json:"id"`
	Name       string         `json:"name"`
	Owner      string         `json:"owner"`
	Timestamps []JobTimestamp `json:"timestamps"`
}

func NewJobDetails(job PersistedJob) JobDetails {
	return JobDetails{
		ID:         job.ID,
		Name:       job.Name,
		Owner:      job.Owner,
		Timestamps: []JobTimestamp{},
	}
}

// Latest returns the most recent history entry.
func (d JobDetails) Latest() (JobTimestamp, bool) {
	if len(d.Timestamps) == 0 {
		return JobTimestamp{}, false
	}
	return d.Timestamps[len(d.Timestamps)-1], true
}

// LatestStatus is the current status of the job, StatusUnknown for an empty
// history.
func (d JobDetails) LatestStatus() JobStatus {
	ts, ok := d.Latest()
	if !ok {
		return StatusUnknown
	}
	return ts.Status
}

// WithStatus returns a copy of d with ts appended. Entries are never
// rewritten, a clock going backwards is clamped to the previous entry.
func (d JobDetails) WithStatus(ts JobTimestamp) JobDetails {
	if last, ok := d.Latest(); ok && ts.Time.Before(last.Time) {
		ts.Time = last.Time
	}
	timestamps := make([]JobTimestamp, 0, len(d.Timestamps)+1)
	timestamps = append(timestamps, d.Timestamps...)
	d.Timestamps = append(timestamps, ts)
	return d
}

// JobEvent is published on every status transition.
type JobEvent struct {
	ID     JobID     `json:"jobId"`
	Status JobStatus `json:"status"`
}

// FinalizedJob is the result a job's future resolves with.
type FinalizedJob struct {
	ID       JobID
	Status   JobStatus
	Message  string
	Started  time.Time
	Finished time.Time
}

// Listeners receive the raw output chunks of a running job. Nil funcs are
// ignored. The chunk must not be retained after the call returns.
type Listeners struct {
	Stdout func([]byte)
	Stderr func([]byte)
}
