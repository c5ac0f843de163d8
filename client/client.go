// Package client talks to the todo API over HTTP. A Client satisfies the
// store, session and change notifier interfaces of package board.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/simonbegg/todo/domain"
)

const maxErrorBody = 4 << 10

// StatusError is returned for non-2xx responses that do not map to a
// domain error.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api returned %d: %s", e.Code, e.Message)
}

// Client wraps http.Client with helpers for the todo API.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
	Logger  *log.Logger

	// Stream uses its own client; long-lived responses must not hit HTTP.Timeout.
	Stream *http.Client
}

// New creates a new Client.
func New(baseURL, token string, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: 15 * time.Second},
		Stream:  &http.Client{},
		Logger:  logger,
	}
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

type signUpResponse struct {
	UserID string `json:"userId"`
}

// SignInResult is the token issued by a successful sign-in.
type SignInResult struct {
	Token     string    `json:"token"`
	UserID    string    `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ListTasks returns the user's tasks.
func (c *Client) ListTasks(ctx context.Context) ([]domain.Task, error) {
	var out tasksResponse
	if err := c.do(ctx, http.MethodGet, "/api/tasks", nil, nil, &out); err != nil {
		return nil, err
	}
	domain.SortByOrder(out.Tasks)
	return out.Tasks, nil
}

// MinOrder asks the API for the smallest order among the user's tasks.
func (c *Client) MinOrder(ctx context.Context) (int64, bool, error) {
	var out minOrderResponse
	if err := c.do(ctx, http.MethodGet, "/api/tasks/min-order", nil, nil, &out); err != nil {
		return 0, false, err
	}
	return out.Order, out.Exists, nil
}

// InsertTask creates a task. Each call carries a fresh idempotency key.
func (c *Client) InsertTask(ctx context.Context, n domain.NewTask) (domain.Task, error) {
	var out domain.Task
	header := http.Header{"Idempotency-Key": []string{uuid.NewString()}}
	if err := c.do(ctx, http.MethodPost, "/api/tasks", header, n, &out); err != nil {
		return domain.Task{}, err
	}
	return out, nil
}

// UpdateTask applies patch to task id.
func (c *Client) UpdateTask(ctx context.Context, id string, patch domain.TaskPatch) error {
	return c.do(ctx, http.MethodPatch, "/api/tasks/"+url.PathEscape(id), nil, patch, nil)
}

// DeleteTask removes task id.
func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/tasks/"+url.PathEscape(id), nil, nil, nil)
}

// CurrentUser returns the user the token belongs to.
func (c *Client) CurrentUser(ctx context.Context) (string, error) {
	if c.Token == "" {
		return "", domain.ErrAuthRequired
	}
	var out meResponse
	if err := c.do(ctx, http.MethodGet, "/api/me", nil, nil, &out); err != nil {
		return "", err
	}
	if out.UserID == "" {
		return "", domain.ErrAuthRequired
	}
	return out.UserID, nil
}

// SignUp registers a new account and returns its user id.
func (c *Client) SignUp(ctx context.Context, creds domain.Credentials) (string, error) {
	var out signUpResponse
	if err := c.do(ctx, http.MethodPost, "/api/auth/signup", nil, creds, &out); err != nil {
		return "", err
	}
	return out.UserID, nil
}

// SignIn exchanges credentials for a token. The token is kept on the client.
func (c *Client) SignIn(ctx context.Context, creds domain.Credentials) (SignInResult, error) {
	var out SignInResult
	err := c.do(ctx, http.MethodPost, "/api/auth/signin", nil, creds, &out)
	if errors.Is(err, domain.ErrAuthRequired) {
		err = domain.ErrBadCredentials
	}
	if err != nil {
		return SignInResult{}, err
	}
	c.Token = out.Token
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, header http.Header, body, out any) error {
	var payload io.Reader
	if body != nil {
		buf, err := sonic.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, payload)
	if err != nil {
		return err
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)

	start := time.Now()
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	c.Logger.WithFields(log.Fields{
		"method":   method,
		"path":     path,
		"status":   resp.StatusCode,
		"duration": time.Since(start),
	}).Debug("api call")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errorFromResponse(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return sonic.ConfigStd.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) authorize(req *http.Request) {
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
}

var knownErrors = []error{
	domain.ErrTaskNotFound,
	domain.ErrEmptyText,
	domain.ErrInvalidPatch,
	domain.ErrInvalidEmail,
	domain.ErrPasswordTooWeak,
	domain.ErrUserExists,
	domain.ErrBadCredentials,
	domain.ErrAuthRequired,
}

// errorFromResponse maps the API's plain-text error bodies back to domain
// errors.
func errorFromResponse(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(raw))
	for _, known := range knownErrors {
		if msg == known.Error() {
			return known
		}
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return domain.ErrAuthRequired
	case http.StatusNotFound:
		return domain.ErrTaskNotFound
	}
	return &StatusError{Code: resp.StatusCode, Message: msg}
}
