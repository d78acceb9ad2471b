package models

import (
	"encoding/json"
	"math"
	"strings"
)

// TaskStatus is the backend's status vocabulary for a generation task.
//
// Only three classes matter to the client: terminal success, terminal failure and still running.
type TaskStatus string

const (
	StatusUnset      TaskStatus = ""
	StatusPending    TaskStatus = "pending"
	StatusProcessing TaskStatus = "processing"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
	StatusCancelled  TaskStatus = "cancelled"
)

// IsSuccess reports whether s is a terminal success status.
func (s TaskStatus) IsSuccess() bool {
	switch strings.ToLower(string(s)) {
	case "completed", "complete", "succeeded", "success", "done":
		return true
	}
	return false
}

// IsFailure reports whether s is a terminal failure status.
func (s TaskStatus) IsFailure() bool {
	switch strings.ToLower(string(s)) {
	case "failed", "failure", "error", "cancelled", "canceled":
		return true
	}
	return false
}

// IsTerminal reports whether no further snapshots can change the task.
func (s TaskStatus) IsTerminal() bool { return s.IsSuccess() || s.IsFailure() }

// TaskResult is one produced artifact.
type TaskResult struct {
	Key string `json:"key,omitempty"`
	URL string `json:"url,omitempty"`
}

// TaskProgress is a point-in-time snapshot of a backend task.
//
// Total may be 0, meaning the amount of work is unknown. Revision is optional and is 0 when the backend does not send one.
type TaskProgress struct {
	TaskID   string       `json:"task_id"`
	Progress int          `json:"progress"`
	Total    int          `json:"total"`
	Status   TaskStatus   `json:"status"`
	Results  []TaskResult `json:"results,omitempty"`
	Errors   []string     `json:"errors,omitempty"`
	Revision int64        `json:"revision,omitempty"`
}

// Percent returns progress/total as a rounded percentage, or 0 for an indeterminate total.
func (p TaskProgress) Percent() int {
	if p.Total <= 0 {
		return 0
	}
	return int(math.Round(float64(p.Progress) / float64(p.Total) * 100))
}

// Push channel event types.
const (
	EventTaskProgress       = "task_progress"
	EventGenerationComplete = "generation_complete"
	EventQuotaWarning       = "quota_warning"
)

// Envelope is a push channel frame.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// TaskProgress decodes Data as a task snapshot.
func (e Envelope) TaskProgress() (TaskProgress, error) {
	var p TaskProgress
	err := json.Unmarshal(e.Data, &p)
	return p, err
}

// QuotaWarning is the payload of a quota_warning event.
type QuotaWarning struct {
	Remaining int    `json:"remaining"`
	Limit     int    `json:"limit"`
	Message   string `json:"message,omitempty"`
}

// Quota is the caller's remaining generation allowance.
type Quota struct {
	Remaining int `json:"remaining"`
	Limit     int `json:"limit"`
}

// User is the identity behind an access token.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}
