package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"github.com/simonbegg/todo/domain"
)

// sseServer sends one data frame per value pushed on frames and ends the
// stream when a connection's budget is used up.
type sseServer struct {
	frames      chan string
	connections atomic.Int32
	perConn     int
}

func (s *sseServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer tok" {
		http.Error(w, "missing authorization header", http.StatusUnauthorized)
		return
	}
	s.connections.Add(1)
	flusher := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()
	sent := 0
	for {
		select {
		case <-r.Context().Done():
			return
		case f := <-s.frames:
			fmt.Fprintf(w, ": ping\n\ndata: %s\n\n", f)
			flusher.Flush()
			sent++
			if s.perConn > 0 && sent >= s.perConn {
				return
			}
		}
	}
}

func newStreamClient(t *testing.T, s *sseServer, token string) *Client {
	t.Helper()
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)
	logger, _ := test.NewNullLogger()
	return New(srv.URL, token, logger)
}

func waitSignal(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestSubscribeCallsOnChangePerFrame(t *testing.T) {
	s := &sseServer{frames: make(chan string)}
	c := newStreamClient(t, s, "tok")

	changes := make(chan struct{}, 8)
	sub, err := c.Subscribe(context.Background(), func() { changes <- struct{}{} })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	s.frames <- `{"taskId":"a"}`
	waitSignal(t, changes, "first change")
	s.frames <- `{"taskId":"b"}`
	waitSignal(t, changes, "second change")

	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	select {
	case <-changes:
		t.Fatal("comment lines must not trigger changes")
	default:
	}
	// Unsubscribe is idempotent.
	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("second unsubscribe: %v", err)
	}
}

func TestSubscribeRejectsBadToken(t *testing.T) {
	s := &sseServer{frames: make(chan string)}
	c := newStreamClient(t, s, "other")
	if _, err := c.Subscribe(context.Background(), func() {}); !errors.Is(err, domain.ErrAuthRequired) {
		t.Fatalf("expected ErrAuthRequired got %v", err)
	}
}

func TestSubscribeReconnects(t *testing.T) {
	s := &sseServer{frames: make(chan string), perConn: 1}
	c := newStreamClient(t, s, "tok")

	changes := make(chan struct{}, 8)
	sub, err := c.Subscribe(context.Background(), func() { changes <- struct{}{} })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	s.frames <- `{}`
	waitSignal(t, changes, "frame")
	// The server hangs up after one frame; the reconnect itself reports a change.
	waitSignal(t, changes, "reconnect")
	if s.connections.Load() < 2 {
		t.Fatalf("expected a second connection, got %d", s.connections.Load())
	}
}
