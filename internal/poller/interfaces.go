package poller

import (
	"context"
	"time"

	"github.com/JakeFAU/taskshell/internal/task"
)

// StatusFetcher retrieves the current status of a task.
type StatusFetcher interface {
	FetchStatus(ctx context.Context, taskID string) (task.Status, error)
}

// View renders poller progress and runs the interactive terminal steps.
type View interface {
	// Reset clears the progress indicator when the task enters PROGRESS.
	Reset(rec task.Record)
	// Progress renders the current percent.
	Progress(rec task.Record)
	// AwaitDownload renders the download affordance and blocks until the
	// user activates it.
	AwaitDownload(ctx context.Context, rec task.Record) error
	// AwaitAcknowledge shows a blocking error dialog and returns once the
	// user dismisses it.
	AwaitAcknowledge(ctx context.Context, message string) error
	// Revoked reports that the task was revoked.
	Revoked(rec task.Record)
	// Redirect navigates to url.
	Redirect(url string)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
