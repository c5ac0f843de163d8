package storage

import (
	"context"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/simonbegg/todo/domain"
)

const defaultResubscribeDelay = time.Second

// RedisFeed fans task changes out over a Redis pub/sub channel.
type RedisFeed struct {
	client  *redis.Client
	channel string
	logger  *log.Logger

	resubscribeDelay time.Duration
}

// NewRedisFeed creates a feed bound to channel.
func NewRedisFeed(client *redis.Client, channel string, logger *log.Logger) *RedisFeed {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &RedisFeed{client: client, channel: channel, logger: logger, resubscribeDelay: defaultResubscribeDelay}
}

// Publish announces a change to every listener.
func (f *RedisFeed) Publish(ctx context.Context, change domain.Change) error {
	payload, err := sonic.MarshalString(change)
	if err != nil {
		return err
	}
	return f.PublishPayload(ctx, payload)
}

// PublishPayload forwards an already encoded change.
func (f *RedisFeed) PublishPayload(ctx context.Context, payload string) error {
	return f.client.Publish(ctx, f.channel, payload).Err()
}

// Listen delivers decoded changes to handle until ctx is done. When the
// subscription drops it is re-established after a short delay.
func (f *RedisFeed) Listen(ctx context.Context, handle func(domain.Change)) {
	for {
		sub := f.client.Subscribe(ctx, f.channel)
		f.drain(ctx, sub, handle)
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		f.logger.WithField("channel", f.channel).Error("pubsub channel closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(f.resubscribeDelay):
		}
	}
}

func (f *RedisFeed) drain(ctx context.Context, sub *redis.PubSub, handle func(domain.Change)) {
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var change domain.Change
			if err := sonic.UnmarshalString(msg.Payload, &change); err != nil {
				f.logger.WithError(err).Warn("unable to parse change")
				continue
			}
			handle(change)
		}
	}
}

// QueueMessage is a dequeued change awaiting acknowledgement.
type QueueMessage struct {
	ID         string
	PopReceipt string
	Text       string
}

// QueueFeed writes changes to a durable Azure Storage queue. A relay drains
// the queue into the Redis feed.
type QueueFeed struct {
	queue *azqueue.QueueClient
}

// NewQueueFeed creates a queue-backed feed from the given connection string.
func NewQueueFeed(connStr, queueName string) (*QueueFeed, error) {
	opts := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, queueName, &opts)
	if err != nil {
		return nil, err
	}
	return &QueueFeed{queue: q}, nil
}

// Publish enqueues a change.
func (q *QueueFeed) Publish(ctx context.Context, change domain.Change) error {
	payload, err := sonic.MarshalString(change)
	if err != nil {
		return err
	}
	_, err = q.queue.EnqueueMessage(ctx, payload, nil)
	return err
}

// Dequeue retrieves a single message. It returns nil when the queue is empty.
func (q *QueueFeed) Dequeue(ctx context.Context) (*QueueMessage, error) {
	resp, err := q.queue.DequeueMessage(ctx, nil)
	if err != nil {
		return nil, err
	}
	if len(resp.Messages) == 0 {
		return nil, nil
	}
	m := resp.Messages[0]
	msg := &QueueMessage{}
	if m.MessageID != nil {
		msg.ID = *m.MessageID
	}
	if m.PopReceipt != nil {
		msg.PopReceipt = *m.PopReceipt
	}
	if m.MessageText != nil {
		msg.Text = *m.MessageText
	}
	return msg, nil
}

// Delete acknowledges a processed message.
func (q *QueueFeed) Delete(ctx context.Context, msg *QueueMessage) error {
	_, err := q.queue.DeleteMessage(ctx, msg.ID, msg.PopReceipt, nil)
	return err
}
