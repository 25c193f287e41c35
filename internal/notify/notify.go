// Package notify tells the outside world about finished backup runs.
package notify

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/forest6511/bwbackup/pkg/backup"
)

// Event is the notification payload for one run. It never carries secrets:
// Error is the already redacted failure message.
type Event struct {
	RunID      string        `json:"run_id"`
	Status     string        `json:"status"`
	Mode       string        `json:"mode"`
	Host       string        `json:"host,omitempty"`
	FileName   string        `json:"file_name,omitempty"`
	Size       int64         `json:"size,omitempty"`
	SHA256     string        `json:"sha256,omitempty"`
	Items      int           `json:"items,omitempty"`
	Folders    int           `json:"folders,omitempty"`
	Error      string        `json:"error,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration_ns"`
}

// Failed reports whether the run failed.
func (e Event) Failed() bool {
	return e.Status != "success"
}

// FromResult builds an Event from a backup result.
func FromResult(res *backup.Result) Event {
	host, _ := os.Hostname()
	ev := Event{
		RunID:      res.ID,
		Status:     res.Status,
		Mode:       string(res.Mode),
		Host:       host,
		FileName:   res.FileName,
		Size:       res.Size,
		SHA256:     res.SHA256,
		Error:      res.Error,
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
		Duration:   res.FinishedAt.Sub(res.StartedAt),
	}
	if res.Summary != nil {
		ev.Items = res.Summary.Items
		ev.Folders = res.Summary.Folders
	}
	return ev
}

// Notifier delivers an Event somewhere.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Multi sends to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, ev Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
