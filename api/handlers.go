package api

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/simonbegg/todo/domain"
)

const (
	maxBodySize         = 16 << 10
	userIDKey           = "userID"
	headerIdempotentKey = "Idempotency-Key"
	publishTimeout      = 5 * time.Second
)

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, d Deps) {
	if d.Logger == nil {
		d.Logger = log.StandardLogger()
	}
	if d.Hub == nil {
		d.Hub = NewHub()
	}

	g := e.Group("/api", observe(d.Logger))
	if d.Accounts != nil && d.Issuer != nil {
		g.POST("/auth/signup", signUp(d.Accounts, d.Logger))
		g.POST("/auth/signin", signIn(d.Accounts, d.Issuer, d.Logger))
	}

	authn := requireUser(d.Auth, false)
	g.GET("/me", getMe, authn)
	g.GET("/tasks", getTasks(d.Tasks), authn)
	g.GET("/tasks/min-order", getMinOrder(d.Tasks), authn)
	g.POST("/tasks", postTask(d.Tasks, d.Deduper, d.Changes, d.Logger), authn)
	g.PATCH("/tasks/:id", patchTask(d.Tasks, d.Changes, d.Logger), authn)
	g.DELETE("/tasks/:id", deleteTask(d.Tasks, d.Changes, d.Logger), authn)

	g.GET("/stream", streamChanges(d.Hub, d.Logger), requireUser(d.Auth, true))

	e.GET("/healthz", healthz)
}

type tasksResponse struct {
	Tasks []domain.Task `json:"tasks"`
}

type minOrderResponse struct {
	Order  int64 `json:"order"`
	Exists bool  `json:"exists"`
}

type meResponse struct {
	UserID string `json:"userId"`
}

func healthz(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

// requireUser authenticates the request and stores the user id on the context.
func requireUser(auth Authenticator, allowQuery bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			userID, err := auth.UserIDFromAuthHeader(authorizationHeader(c, allowQuery))
			metricsFrom(c).ObserveAuth(time.Since(start))
			if err != nil {
				metricsFrom(c).SetErrorStage("auth")
				return c.String(http.StatusUnauthorized, err.Error())
			}
			c.Set(userIDKey, userID)
			return next(c)
		}
	}
}

func currentUser(c echo.Context) string {
	id, _ := c.Get(userIDKey).(string)
	return id
}

func decodeBody(c echo.Context, v any) error {
	lr := io.LimitReader(c.Request().Body, maxBodySize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func fail(c echo.Context, stage string, err error) error {
	metricsFrom(c).SetErrorStage(stage)
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		c.Logger().Error(err)
	}
	return c.String(status, errorMessage(err))
}

func getMe(c echo.Context) error {
	return c.JSON(http.StatusOK, meResponse{UserID: currentUser(c)})
}

func getTasks(store TaskStore) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		tasks, err := store.FetchTasks(c.Request().Context(), currentUser(c))
		metricsFrom(c).ObserveStore(time.Since(start))
		if err != nil {
			return fail(c, "storage", err)
		}
		if tasks == nil {
			tasks = []domain.Task{}
		}
		metricsFrom(c).SetTasks(len(tasks))
		return c.JSON(http.StatusOK, tasksResponse{Tasks: tasks})
	}
}

func getMinOrder(store TaskStore) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		min, ok, err := store.MinOrder(c.Request().Context(), currentUser(c))
		metricsFrom(c).ObserveStore(time.Since(start))
		if err != nil {
			return fail(c, "storage", err)
		}
		return c.JSON(http.StatusOK, minOrderResponse{Order: min, Exists: ok})
	}
}

func postTask(store TaskStore, deduper Deduper, changes ChangePublisher, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID := currentUser(c)

		var n domain.NewTask
		if err := decodeBody(c, &n); err != nil {
			metricsFrom(c).SetErrorStage("decode")
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if err := n.Normalize(); err != nil {
			return fail(c, "validate", err)
		}

		key := strings.TrimSpace(c.Request().Header.Get(headerIdempotentKey))
		if deduper != nil && key != "" {
			added, err := deduper.Add(ctx, userID, key)
			if err != nil {
				return fail(c, "dedupe", err)
			}
			if !added {
				metricsFrom(c).SetErrorStage("duplicate")
				return c.String(http.StatusConflict, "duplicate request")
			}
		}

		start := time.Now()
		task, err := store.InsertTask(ctx, userID, n)
		metricsFrom(c).ObserveStore(time.Since(start))
		if err != nil {
			if deduper != nil && key != "" {
				if rerr := deduper.Remove(context.WithoutCancel(ctx), userID, key); rerr != nil {
					logger.WithError(rerr).WithField("user_id", userID).Warn("unable to release idempotency key")
				}
			}
			return fail(c, "storage", err)
		}

		publish(ctx, changes, logger, domain.Change{UserID: userID, TaskID: task.ID, Kind: domain.ChangeCreated})
		return c.JSON(http.StatusCreated, task)
	}
}

func patchTask(store TaskStore, changes ChangePublisher, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID := currentUser(c)
		taskID := c.Param("id")

		var patch domain.TaskPatch
		if err := decodeBody(c, &patch); err != nil {
			metricsFrom(c).SetErrorStage("decode")
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if err := patch.Normalize(); err != nil {
			return fail(c, "validate", err)
		}

		start := time.Now()
		err := store.UpdateTask(ctx, userID, taskID, patch)
		metricsFrom(c).ObserveStore(time.Since(start))
		if err != nil {
			return fail(c, "storage", err)
		}

		publish(ctx, changes, logger, domain.Change{UserID: userID, TaskID: taskID, Kind: domain.ChangeUpdated})
		return c.NoContent(http.StatusNoContent)
	}
}

func deleteTask(store TaskStore, changes ChangePublisher, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID := currentUser(c)
		taskID := c.Param("id")

		start := time.Now()
		err := store.DeleteTask(ctx, userID, taskID)
		metricsFrom(c).ObserveStore(time.Since(start))
		if err != nil {
			return fail(c, "storage", err)
		}

		publish(ctx, changes, logger, domain.Change{UserID: userID, TaskID: taskID, Kind: domain.ChangeDeleted})
		return c.NoContent(http.StatusNoContent)
	}
}

// publish announces a committed write. Failures only delay other sessions
// until their next refresh, so they are logged rather than returned.
func publish(ctx context.Context, changes ChangePublisher, logger *log.Logger, change domain.Change) {
	if changes == nil {
		return
	}
	change.Time = time.Now().UTC()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := changes.Publish(ctx, change); err != nil {
		logger.WithError(err).WithFields(log.Fields{
			"user_id": change.UserID,
			"task_id": change.TaskID,
			"kind":    change.Kind,
		}).Error("unable to publish change")
	}
}
