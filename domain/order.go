package domain

import (
	"cmp"
	"slices"
)

// OrderUpdate is a single order write produced by Canonicalize.
type OrderUpdate struct {
	ID    string
	Order int64
}

// SortByOrder sorts tasks ascending by Order. Ties are broken by ID so the
// result is deterministic.
func SortByOrder(tasks []Task) {
	slices.SortStableFunc(tasks, func(a, b Task) int {
		if c := cmp.Compare(a.Order, b.Order); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

// IndexOf returns the position of the task with the given id or -1.
func IndexOf(tasks []Task, id string) int {
	return slices.IndexFunc(tasks, func(t Task) bool { return t.ID == id })
}

// MinOrder returns the smallest order in tasks. ok is false for an empty slice.
func MinOrder(tasks []Task) (min int64, ok bool) {
	for i, t := range tasks {
		if i == 0 || t.Order < min {
			min = t.Order
		}
	}
	return min, len(tasks) > 0
}

// Move returns a new slice with the source task removed and reinserted at the
// target's original index. When the source was above the target it lands
// directly after it, otherwise directly before. moved is false, and tasks is
// returned unchanged, when either id is unknown or both are equal.
func Move(tasks []Task, sourceID, targetID string) (out []Task, moved bool) {
	if sourceID == "" || targetID == "" || sourceID == targetID {
		return tasks, false
	}
	si := IndexOf(tasks, sourceID)
	ti := IndexOf(tasks, targetID)
	if si < 0 || ti < 0 {
		return tasks, false
	}
	out = make([]Task, 0, len(tasks))
	out = append(out, tasks[:si]...)
	out = append(out, tasks[si+1:]...)
	out = slices.Insert(out, ti, tasks[si])
	return out, true
}

// Canonicalize rewrites Order to each task's index in place and returns the
// writes needed to persist the tasks whose order actually changed.
func Canonicalize(tasks []Task) []OrderUpdate {
	var updates []OrderUpdate
	for i := range tasks {
		want := int64(i)
		if tasks[i].Order == want {
			continue
		}
		tasks[i].Order = want
		updates = append(updates, OrderUpdate{ID: tasks[i].ID, Order: want})
	}
	return updates
}

// InsertOrder is the order for a task added at the top of a list whose
// current minimum is min.
func InsertOrder(min int64, exists bool) int64 {
	if !exists {
		return 0
	}
	return min - 1
}
