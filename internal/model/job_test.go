package model_test

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/CZERTAINLY/jobber/internal/model"
	"github.com/stretchr/testify/require"
)

func TestJobStatusJSON(t *testing.T) {
	t.Parallel()
	ts := model.JobTimestamp{
		Status:  model.StatusFatalError,
		Message: "boom",
		Time:    time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
	b, err := json.Marshal(ts)
	require.NoError(t, err)
	require.JSONEq(t, `{"status":"fatal-error","message":"boom","time":"2024-05-01T10:00:00Z"}`, string(b))

	var back model.JobTimestamp
	require.NoError(t, json.Unmarshal(b, &back))
	require.Equal(t, ts, back)

	err = json.Unmarshal([]byte(`{"status":"exploded"}`), &back)
	require.Error(t, err)
}

func TestJobStatusTerminal(t *testing.T) {
	t.Parallel()
	require.False(t, model.StatusSubmitted.IsTerminal())
	require.False(t, model.StatusRunning.IsTerminal())
	require.True(t, model.StatusFinished.IsTerminal())
	require.True(t, model.StatusFatalError.IsTerminal())
	require.True(t, model.StatusAborted.IsTerminal())
}

func TestJobDetailsWithStatus(t *testing.T) {
	t.Parallel()
	now := time.Now().UTC()
	d := model.JobDetails{ID: "abc"}
	require.Equal(t, model.StatusUnknown, d.LatestStatus())

	d1 := d.WithStatus(model.JobTimestamp{Status: model.StatusSubmitted, Time: now})
	d2 := d1.WithStatus(model.JobTimestamp{Status: model.StatusRunning, Time: now.Add(-time.Minute)})
	require.Len(t, d.Timestamps, 0)
	require.Len(t, d1.Timestamps, 1)
	require.Len(t, d2.Timestamps, 2)
	require.Equal(t, model.StatusRunning, d2.LatestStatus())
	// clock went backwards
	require.Equal(t, now, d2.Timestamps[1].Time)
}

func TestFileData(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "out.txt")
	require.NoError(t, os.WriteFile(path, []byte("payload"), 0o644))

	data, err := model.FileData(path, "")
	require.NoError(t, err)
	require.Equal(t, int64(7), data.Size)
	require.Equal(t, model.DefaultBinaryMimeType, data.MimeType)

	b, err := io.ReadAll(data.Data)
	require.NoError(t, err)
	require.Equal(t, "payload", string(b))
	require.NoError(t, data.Data.Close())
	require.NoError(t, data.Data.Close())
	_, err = data.Data.Read(make([]byte, 1))
	require.Error(t, err)

	_, err = model.FileData(filepath.Join(t.TempDir(), "missing"), "")
	require.ErrorIs(t, err, os.ErrNotExist)
}
