package board

import (
	"context"

	"github.com/simonbegg/todo/domain"
)

// RowStore is the backend holding the signed-in user's tasks.
type RowStore interface {
	// ListTasks returns every task ordered by Order ascending.
	ListTasks(ctx context.Context) ([]domain.Task, error)
	// MinOrder reads the smallest Order from the backend. ok is false for an empty list.
	MinOrder(ctx context.Context) (min int64, ok bool, err error)
	InsertTask(ctx context.Context, n domain.NewTask) (domain.Task, error)
	UpdateTask(ctx context.Context, id string, patch domain.TaskPatch) error
	DeleteTask(ctx context.Context, id string) error
}

// Subscription is a handle on an active change subscription.
type Subscription interface {
	Unsubscribe() error
}

// ChangeNotifier invokes onChange whenever any of the user's tasks change.
// The subscription lasts until Unsubscribe is called or ctx is done.
type ChangeNotifier interface {
	Subscribe(ctx context.Context, onChange func()) (Subscription, error)
}

// Session reports the signed-in user. It returns domain.ErrAuthRequired when
// nobody is signed in.
type Session interface {
	CurrentUser(ctx context.Context) (string, error)
}

// Reporter surfaces errors to the user.
type Reporter interface {
	Report(err error)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(error)

func (f ReporterFunc) Report(err error) { f(err) }
