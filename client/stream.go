package client

import (
	"bufio"
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/simonbegg/todo/board"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 5 * time.Second
)

type streamSub struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (s *streamSub) Unsubscribe() error {
	s.once.Do(func() {
		s.cancel()
		<-s.done
	})
	return nil
}

// Subscribe opens the change stream and calls onChange for every frame. The
// first connection is made before returning so auth failures surface here.
// Dropped streams are reopened with backoff, and onChange fires once after
// each reconnect since frames may have been missed.
func (c *Client) Subscribe(ctx context.Context, onChange func()) (board.Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	resp, err := c.openStream(ctx)
	if err != nil {
		cancel()
		return nil, err
	}
	sub := &streamSub{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(sub.done)
		c.follow(ctx, resp, onChange)
	}()
	return sub, nil
}

func (c *Client) openStream(ctx context.Context) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/api/stream", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	c.authorize(req)
	resp, err := c.Stream.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, errorFromResponse(resp)
	}
	return resp, nil
}

func (c *Client) follow(ctx context.Context, resp *http.Response, onChange func()) {
	backoff := initialBackoff
	for {
		c.read(ctx, resp, onChange)
		if ctx.Err() != nil {
			return
		}
		c.Logger.Warn("change stream closed, reconnecting")
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			var err error
			resp, err = c.openStream(ctx)
			if err == nil {
				break
			}
			if ctx.Err() != nil {
				return
			}
			c.Logger.WithError(err).Warn("unable to reopen change stream")
			backoff = min(backoff*2, maxBackoff)
		}
		backoff = initialBackoff
		onChange()
	}
}

func (c *Client) read(ctx context.Context, resp *http.Response, onChange func()) {
	defer resp.Body.Close()
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		if strings.HasPrefix(scanner.Text(), "data:") {
			onChange()
		}
	}
}
