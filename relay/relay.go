// Package relay moves task changes from the durable queue onto the Redis
// pub/sub channel that API instances listen on.
package relay

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"github.com/simonbegg/todo/domain"
	"github.com/simonbegg/todo/storage"
)

// DefaultPollInterval is how long the relay sleeps when the queue is empty.
const DefaultPollInterval = time.Second

// Source yields queued changes.
type Source interface {
	Dequeue(ctx context.Context) (*storage.QueueMessage, error)
	Delete(ctx context.Context, msg *storage.QueueMessage) error
}

// Sink broadcasts an encoded change.
type Sink interface {
	PublishPayload(ctx context.Context, payload string) error
}

type Relay struct {
	source       Source
	sink         Sink
	logger       *log.Logger
	pollInterval time.Duration
}

func New(source Source, sink Sink, logger *log.Logger, pollInterval time.Duration) *Relay {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Relay{source: source, sink: sink, logger: logger, pollInterval: pollInterval}
}

// Run relays messages until ctx is done.
func (r *Relay) Run(ctx context.Context) {
	r.logger.Info("change relay starting")
	for {
		if ctx.Err() != nil {
			return
		}
		if r.step(ctx) {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(r.pollInterval):
		}
	}
}

// step handles at most one message and reports whether one was consumed.
// A message is deleted only once it has been published or found unusable;
// otherwise the queue redelivers it after its visibility timeout.
func (r *Relay) step(ctx context.Context) bool {
	msg, err := r.source.Dequeue(ctx)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.WithError(err).Error("receive")
		}
		return false
	}
	if msg == nil {
		return false
	}

	entry := r.logger.WithField("message_id", msg.ID)
	var change domain.Change
	if err := sonic.UnmarshalString(msg.Text, &change); err != nil || change.UserID == "" {
		entry.WithError(err).Warn("dropping malformed change")
		r.ack(ctx, entry, msg)
		return true
	}

	entry = entry.WithFields(log.Fields{"user_id": change.UserID, "task_id": change.TaskID, "kind": change.Kind})
	if err := r.sink.PublishPayload(ctx, msg.Text); err != nil {
		entry.WithError(err).Error("unable to publish change")
		return false
	}
	entry.Debug("change relayed")
	r.ack(ctx, entry, msg)
	return true
}

func (r *Relay) ack(ctx context.Context, entry *log.Entry, msg *storage.QueueMessage) {
	if err := r.source.Delete(ctx, msg); err != nil {
		entry.WithError(err).Warn("unable to delete message")
	}
}
