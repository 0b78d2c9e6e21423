package task

import "time"

// Status is the JSON payload returned by the status endpoint.
type Status struct {
	State       State    `json:"state"`
	Exported    *float64 `json:"exported,omitempty"`
	Total       *float64 `json:"total,omitempty"`
	Filename    string   `json:"filename,omitempty"`
	DownloadURL string   `json:"downloadUrl,omitempty"`
	Message     string   `json:"message,omitempty"`
}

// HasCounters reports whether the payload carries progress counters.
func (s Status) HasCounters() bool {
	return s.Exported != nil && s.Total != nil
}

// Result holds the payload attached to a terminal state.
type Result struct {
	Filename    string `json:"filename,omitempty"`
	DownloadURL string `json:"download_url,omitempty"`
	Message     string `json:"message,omitempty"`
}

// Record is the client-side view of a task, mutated on every poll tick.
type Record struct {
	TaskID    string    `json:"task_id"`
	IndexURL  string    `json:"index_url"`
	State     State     `json:"state"`
	Exported  float64   `json:"exported"`
	Total     float64   `json:"total"`
	Percent   int       `json:"percent"`
	Result    *Result   `json:"result,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewRecord builds the initial PENDING record for a task.
func NewRecord(taskID, indexURL string) Record {
	return Record{
		TaskID:   taskID,
		IndexURL: indexURL,
		State:    StatePending,
	}
}

// Transition describes what a merge changed.
type Transition struct {
	From State
	To   State
	// Reset is set when a PROGRESS payload arrives while the stored state differs.
	Reset bool
}

// Changed reports whether the state moved.
func (t Transition) Changed() bool {
	return t.From != t.To
}

// Merge applies a status payload to the record. It returns false when the
// payload was ignored: the record is already terminal or the state is unknown.
func (r *Record) Merge(status Status, now time.Time) (Transition, bool) {
	if r.State.IsTerminal() || !status.State.IsValid() {
		return Transition{From: r.State, To: r.State}, false
	}
	tr := Transition{From: r.State, To: status.State}

	switch status.State {
	case StateProgress:
		tr.Reset = r.State != StateProgress
		if status.HasCounters() {
			r.Exported = *status.Exported
			r.Total = *status.Total
			r.Percent = Percent(r.Exported, r.Total)
		}
	case StateSuccess:
		r.Percent = 100
		r.Result = &Result{Filename: status.Filename, DownloadURL: status.DownloadURL}
	case StateFailure:
		r.Result = &Result{Message: status.Message}
	}

	r.State = status.State
	r.UpdatedAt = now
	return tr, true
}
