package api

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/simonbegg/todo/domain"
)

// TaskStore abstracts task persistence for handlers.
type TaskStore interface {
	FetchTasks(ctx context.Context, userID string) ([]domain.Task, error)
	MinOrder(ctx context.Context, userID string) (int64, bool, error)
	InsertTask(ctx context.Context, userID string, n domain.NewTask) (domain.Task, error)
	UpdateTask(ctx context.Context, userID, taskID string, patch domain.TaskPatch) error
	DeleteTask(ctx context.Context, userID, taskID string) error
}

// AccountStore persists locally registered users.
type AccountStore interface {
	CreateUser(ctx context.Context, email string, passwordHash []byte) (domain.User, error)
	UserByEmail(ctx context.Context, email string) (domain.User, error)
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// TokenIssuer signs session tokens for authenticated users.
type TokenIssuer interface {
	IssueToken(userID string) (string, time.Time, error)
}

// ChangePublisher announces that a user's tasks changed.
type ChangePublisher interface {
	Publish(ctx context.Context, change domain.Change) error
}

// Deduper prevents processing of duplicate create requests.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, userID, key string) (bool, error)
	// Remove deletes a previously added key, used when downstream processing fails.
	Remove(ctx context.Context, userID, key string) error
}

// Deps groups everything Register needs. Accounts and Issuer are optional;
// together they enable the sign-up and sign-in routes. Deduper is optional.
type Deps struct {
	Tasks    TaskStore
	Accounts AccountStore
	Auth     Authenticator
	Issuer   TokenIssuer
	Changes  ChangePublisher
	Hub      *Hub
	Deduper  Deduper
	Logger   *log.Logger
}
