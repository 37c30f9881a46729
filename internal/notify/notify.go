// Package notify delivers terminal job status changes to a webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/CZERTAINLY/jobber/internal/log"
	"github.com/CZERTAINLY/jobber/internal/model"
)

const (
	contentType    = "application/json"
	deliveryHeader = "X-Jobber-Delivery"
	requestTimeout = 30 * time.Second
)

// Notification is the JSON body POSTed for every terminal status.
type Notification struct {
	DeliveryID string          `json:"deliveryId"`
	JobID      model.JobID     `json:"jobId"`
	Name       string          `json:"name"`
	Owner      string          `json:"owner"`
	Status     model.JobStatus `json:"status"`
	Message    string          `json:"message,omitempty"`
	Time       time.Time       `json:"time"`
}

// DetailsFunc looks up a job's details, usually store.FileSystem.GetJobDetails.
type DetailsFunc func(id model.JobID) (model.JobDetails, bool, error)

type Webhook struct {
	requestURL *url.URL
	client     *http.Client
}

func NewWebhook(target string) (*Webhook, error) {
	parsedURL, err := url.Parse(target)
	if err != nil {
		return nil, err
	}
	if (parsedURL.Scheme != "http" && parsedURL.Scheme != "https") || parsedURL.Host == "" {
		return nil, errors.New("please define the notification url with a http(s) scheme, e.g. `https://some-url.com/hooks/jobs`")
	}
	return &Webhook{
		requestURL: parsedURL,
		client:     &http.Client{Timeout: requestTimeout},
	}, nil
}

// Notify POSTs n. Any non 2xx response is an error.
func (w *Webhook) Notify(ctx context.Context, n Notification) error {
	if n.DeliveryID == "" {
		n.DeliveryID = uuid.NewString()
	}
	raw, err := json.Marshal(n)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.requestURL.String(), bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(deliveryHeader, n.DeliveryID)

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if err := decodeResponse(resp); err != nil {
		return err
	}
	slog.DebugContext(ctx, "notification delivered", "delivery_id", n.DeliveryID, "status", n.Status.String())
	return nil
}

func decodeResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	ct, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if ct == "application/problem+json" {
		var problemDetail struct {
			Detail string `json:"detail"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&problemDetail); err != nil {
			return fmt.Errorf("decoding json response failed: %w", err)
		}
		return fmt.Errorf("status code: %d, detail: %s", resp.StatusCode, problemDetail.Detail)
	}
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return err
	}
	return fmt.Errorf("unknown error, status: %d, body: %s", resp.StatusCode, string(respBody))
}

// Run notifies every terminal event until events is closed or ctx is done.
// Delivery failures are logged.
func (w *Webhook) Run(ctx context.Context, events <-chan model.JobEvent, details DetailsFunc) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if !e.Status.IsTerminal() {
				continue
			}
			jctx := log.WithJob(ctx, e.ID.String())
			n, err := notification(e, details)
			if err != nil {
				slog.ErrorContext(jctx, "cannot build notification", "error", err)
				continue
			}
			if err := w.Notify(jctx, n); err != nil {
				slog.ErrorContext(jctx, "notification failed", "error", err)
			}
		}
	}
}

func notification(e model.JobEvent, details DetailsFunc) (Notification, error) {
	n := Notification{
		DeliveryID: uuid.NewString(),
		JobID:      e.ID,
		Status:     e.Status,
		Time:       time.Now().UTC(),
	}
	d, ok, err := details(e.ID)
	if err != nil {
		return Notification{}, err
	}
	if !ok {
		return n, nil
	}
	n.Name = d.Name
	n.Owner = d.Owner
	if ts, ok := d.Latest(); ok && ts.Status == e.Status {
		n.Message = ts.Message
		n.Time = ts.Time
	}
	return n, nil
}
