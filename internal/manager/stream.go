package manager

import (
	"bytes"

	"github.com/CZERTAINLY/jobber/internal/broadcast"
)

// streamWriter hands every chunk written by the executor to the store,
// the live subscribers and the submitter's listener.
type streamWriter struct {
	store    chan<- []byte
	live     *broadcast.Broadcaster[[]byte]
	listener func([]byte)
}

func (w streamWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	chunk := bytes.Clone(p)
	w.store <- chunk
	w.live.Publish(chunk)
	if w.listener != nil {
		w.listener(chunk)
	}
	return len(p), nil
}
