package domain

import (
	"strings"
	"time"
)

// Task represents a single todo item owned by a user.
type Task struct {
	ID        string     `json:"id"`
	Text      string     `json:"text"`
	Completed bool       `json:"completed"`
	DueDate   *time.Time `json:"dueDate,omitempty"`
	Order     int64      `json:"order"`
	CreatedAt time.Time  `json:"createdAt"`
}

// NewTask is the payload used to create a task.
type NewTask struct {
	Text    string     `json:"text"`
	DueDate *time.Time `json:"dueDate,omitempty"`
	Order   int64      `json:"order"`
}

// Normalize trims the text and reports ErrEmptyText when nothing is left.
func (n *NewTask) Normalize() error {
	n.Text = strings.TrimSpace(n.Text)
	if n.Text == "" {
		return ErrEmptyText
	}
	return nil
}

// TaskPatch carries a partial update for a task. Nil fields are left untouched.
type TaskPatch struct {
	Text         *string    `json:"text,omitempty"`
	Completed    *bool      `json:"completed,omitempty"`
	DueDate      *time.Time `json:"dueDate,omitempty"`
	ClearDueDate bool       `json:"clearDueDate,omitempty"`
	Order        *int64     `json:"order,omitempty"`
}

// OrderPatch builds a patch that only moves a task.
func OrderPatch(order int64) TaskPatch {
	return TaskPatch{Order: &order}
}

// CompletedPatch builds a patch that only sets the completion flag.
func CompletedPatch(completed bool) TaskPatch {
	return TaskPatch{Completed: &completed}
}

// Empty reports whether the patch changes nothing.
func (p TaskPatch) Empty() bool {
	return p.Text == nil && p.Completed == nil && p.DueDate == nil && !p.ClearDueDate && p.Order == nil
}

// Normalize trims the text field and validates the patch.
func (p *TaskPatch) Normalize() error {
	if p.Empty() {
		return ErrInvalidPatch
	}
	if p.DueDate != nil && p.ClearDueDate {
		return ErrInvalidPatch
	}
	if p.Text != nil {
		txt := strings.TrimSpace(*p.Text)
		if txt == "" {
			return ErrEmptyText
		}
		p.Text = &txt
	}
	return nil
}

// Apply returns a copy of t with the patch applied.
func (p TaskPatch) Apply(t Task) Task {
	if p.Text != nil {
		t.Text = *p.Text
	}
	if p.Completed != nil {
		t.Completed = *p.Completed
	}
	if p.ClearDueDate {
		t.DueDate = nil
	} else if p.DueDate != nil {
		d := *p.DueDate
		t.DueDate = &d
	}
	if p.Order != nil {
		t.Order = *p.Order
	}
	return t
}

// ChangeKind names what happened to a task.
type ChangeKind string

const (
	ChangeCreated ChangeKind = "created"
	ChangeUpdated ChangeKind = "updated"
	ChangeDeleted ChangeKind = "deleted"
)

// Change notifies that a user's task set was modified. Subscribers treat it
// as a hint to refetch; it carries no task state.
type Change struct {
	UserID string     `json:"userId"`
	TaskID string     `json:"taskId"`
	Kind   ChangeKind `json:"kind"`
	Time   time.Time  `json:"time"`
}
