package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"github.com/simonbegg/todo/domain"
)

const edmInt64 = "Edm.Int64"

// Storage persists tasks and accounts in Azure Table Storage. Tasks are
// partitioned by user id with the task id as row key.
type Storage struct {
	taskTable entityTable
	userTable entityTable
	now       func() time.Time
}

// New creates a Storage instance from the given connection string.
func New(connStr, tasksTable, usersTable string) (*Storage, error) {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, tableClientOptions())
	if err != nil {
		return nil, err
	}
	return newStorage(
		azureTable{client: svc.NewClient(tasksTable)},
		azureTable{client: svc.NewClient(usersTable)},
	), nil
}

func newStorage(tasks, users entityTable) *Storage {
	return &Storage{taskTable: tasks, userTable: users, now: time.Now}
}

type entityKeys struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

type taskEntity struct {
	entityKeys
	Text      string `json:"Text"`
	Completed bool   `json:"Completed"`
	DueDate   string `json:"DueDate"`
	Order     int64  `json:"Order,string"`
	OrderType string `json:"Order@odata.type"`
	CreatedAt string `json:"CreatedAt"`
}

type taskUpdate struct {
	entityKeys
	Text      *string `json:"Text,omitempty"`
	Completed *bool   `json:"Completed,omitempty"`
	DueDate   *string `json:"DueDate,omitempty"`
	Order     *int64  `json:"Order,omitempty,string"`
	OrderType *string `json:"Order@odata.type,omitempty"`
}

func (e taskEntity) toTask() domain.Task {
	t := domain.Task{
		ID:        e.RowKey,
		Text:      e.Text,
		Completed: e.Completed,
		Order:     e.Order,
		DueDate:   parseTime(e.DueDate),
	}
	if created := parseTime(e.CreatedAt); created != nil {
		t.CreatedAt = *created
	}
	return t
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(v string) *time.Time {
	if v == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil
	}
	return &t
}

// FetchTasks retrieves all tasks for the provided user sorted by order.
func (s *Storage) FetchTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	rows, err := s.taskTable.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	tasks := make([]domain.Task, 0, len(rows))
	for _, row := range rows {
		var ent taskEntity
		if err := sonic.Unmarshal(row, &ent); err != nil {
			return nil, fmt.Errorf("decode task: %w", err)
		}
		tasks = append(tasks, ent.toTask())
	}
	domain.SortByOrder(tasks)
	return tasks, nil
}

// MinOrder returns the smallest order among the user's tasks, reading only
// the order column. ok is false when the user has no tasks.
func (s *Storage) MinOrder(ctx context.Context, userID string) (min int64, ok bool, err error) {
	rows, err := s.taskTable.List(ctx, userID, "RowKey", "Order")
	if err != nil {
		return 0, false, err
	}
	for _, row := range rows {
		var ent struct {
			Order int64 `json:"Order,string"`
		}
		if err := sonic.Unmarshal(row, &ent); err != nil {
			return 0, false, fmt.Errorf("decode task order: %w", err)
		}
		if !ok || ent.Order < min {
			min = ent.Order
			ok = true
		}
	}
	return min, ok, nil
}

// InsertTask stores a new task and returns it with its generated id.
func (s *Storage) InsertTask(ctx context.Context, userID string, n domain.NewTask) (domain.Task, error) {
	if err := n.Normalize(); err != nil {
		return domain.Task{}, err
	}
	task := domain.Task{
		ID:        uuid.NewString(),
		Text:      n.Text,
		DueDate:   n.DueDate,
		Order:     n.Order,
		CreatedAt: s.now().UTC(),
	}
	ent := taskEntity{
		entityKeys: entityKeys{PartitionKey: userID, RowKey: task.ID},
		Text:       task.Text,
		DueDate:    formatTime(task.DueDate),
		Order:      task.Order,
		OrderType:  edmInt64,
		CreatedAt:  formatTime(&task.CreatedAt),
	}
	payload, err := sonic.Marshal(ent)
	if err != nil {
		return domain.Task{}, err
	}
	if err := s.taskTable.Add(ctx, payload); err != nil {
		return domain.Task{}, err
	}
	return task, nil
}

// UpdateTask merges the patch into an existing task.
func (s *Storage) UpdateTask(ctx context.Context, userID, taskID string, patch domain.TaskPatch) error {
	if err := patch.Normalize(); err != nil {
		return err
	}
	upd := taskUpdate{
		entityKeys: entityKeys{PartitionKey: userID, RowKey: taskID},
		Text:       patch.Text,
		Completed:  patch.Completed,
	}
	switch {
	case patch.ClearDueDate:
		empty := ""
		upd.DueDate = &empty
	case patch.DueDate != nil:
		due := formatTime(patch.DueDate)
		upd.DueDate = &due
	}
	if patch.Order != nil {
		t := edmInt64
		upd.Order = patch.Order
		upd.OrderType = &t
	}
	payload, err := sonic.Marshal(upd)
	if err != nil {
		return err
	}
	return notFoundAsTask(s.taskTable.Merge(ctx, payload))
}

// DeleteTask removes a task.
func (s *Storage) DeleteTask(ctx context.Context, userID, taskID string) error {
	return notFoundAsTask(s.taskTable.Delete(ctx, userID, taskID))
}

func notFoundAsTask(err error) error {
	if errors.Is(err, errEntityNotFound) {
		return fmt.Errorf("%w: %v", domain.ErrTaskNotFound, err)
	}
	return err
}
