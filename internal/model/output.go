package model

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

const DefaultBinaryMimeType = "application/octet-stream"

// BinaryData is a byte stream with its size and MIME type. Whoever reads Data
// owns it and must close it exactly once.
type BinaryData struct {
	Data     io.ReadCloser
	Size     int64
	MimeType string
}

// FileData returns BinaryData backed by path. The file is opened on the first
// Read, so listing outputs does not hold file descriptors.
func FileData(path, mimeType string) (BinaryData, error) {
	info, err := os.Stat(path)
	if err != nil {
		return BinaryData{}, err
	}
	if info.IsDir() {
		return BinaryData{}, fmt.Errorf("%s: is a directory", path)
	}
	if mimeType == "" {
		mimeType = DefaultBinaryMimeType
	}
	return BinaryData{
		Data:     &lazyFile{path: path},
		Size:     info.Size(),
		MimeType: mimeType,
	}, nil
}

var errClosed = errors.New("read on closed binary data")

type lazyFile struct {
	mx     sync.Mutex
	path   string
	f      *os.File
	closed bool
}

func (l *lazyFile) Read(p []byte) (int, error) {
	l.mx.Lock()
	defer l.mx.Unlock()
	if l.closed {
		return 0, errClosed
	}
	if l.f == nil {
		f, err := os.Open(l.path)
		if err != nil {
			return 0, err
		}
		l.f = f
	}
	return l.f.Read(p)
}

func (l *lazyFile) Close() error {
	l.mx.Lock()
	defer l.mx.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if l.f == nil {
		return nil
	}
	return l.f.Close()
}

// JobOutput is an output produced by a finished job.
type JobOutput struct {
	ID          string
	Data        BinaryData
	Name        string
	Description string
	Metadata    map[string]string
}

// JobOutputDetails is the persisted metadata of an output, without payload.
type JobOutputDetails struct {
	ID          string            `json:"id"`
	SizeInBytes int64             `json:"sizeInBytes"`
	MimeType    string            `json:"mimeType,omitempty"`
	Name        string            `json:"name,omitempty"`
	Description string            `json:"description,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// MissingOutput is an expected output the job did not produce.
type MissingOutput struct {
	ID           string
	Required     bool
	ExpectedPath string
}

// OutputResult holds exactly one of Output or Missing.
type OutputResult struct {
	Output  *JobOutput
	Missing *MissingOutput
}

// ExecutionResult is reported by an executor once the process has exited.
type ExecutionResult struct {
	Status  JobStatus
	Message string
	Outputs []OutputResult
}

// CloseOutputs closes every payload not consumed yet.
func (r ExecutionResult) CloseOutputs() {
	for _, o := range r.Outputs {
		if o.Output != nil && o.Output.Data.Data != nil {
			_ = o.Output.Data.Data.Close()
		}
	}
}
