package storage

import (
	"context"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"kanban-board/domain"
)

// Notifier broadcasts collection changes over a Redis pub/sub channel.
type Notifier struct {
	rc      *redis.Client
	channel string
	logger  *log.Logger
	backoff time.Duration
}

// NewNotifier creates a Notifier publishing on channel.
func NewNotifier(rc *redis.Client, channel string, logger *log.Logger) *Notifier {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Notifier{rc: rc, channel: channel, logger: logger, backoff: time.Second}
}

// Publish sends c to every subscriber.
func (n *Notifier) Publish(ctx context.Context, c domain.Change) error {
	payload, err := sonic.Marshal(c)
	if err != nil {
		return err
	}
	return n.rc.Publish(ctx, n.channel, payload).Err()
}

// Subscribe calls onChange for every change of collection. An empty collection
// matches all of them.
func (n *Notifier) Subscribe(ctx context.Context, collection string, onChange func()) (func(), error) {
	return n.Listen(ctx, func(c domain.Change) {
		if collection == "" || c.Collection == collection {
			onChange()
		}
	})
}

// Listen delivers every decoded change to fn on a dedicated goroutine until the
// returned stop function is called or ctx ends. The subscription is confirmed
// before Listen returns.
func (n *Notifier) Listen(ctx context.Context, fn func(domain.Change)) (func(), error) {
	ctx, cancel := context.WithCancel(ctx)
	sub := n.rc.Subscribe(ctx, n.channel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		cancel()
		return nil, classify(err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			n.consume(ctx, sub, fn)
			sub.Close()
			if ctx.Err() != nil {
				return
			}
			n.logger.Error("pubsub channel closed, reconnecting")
			select {
			case <-ctx.Done():
				return
			case <-time.After(n.backoff):
			}
			sub = n.rc.Subscribe(ctx, n.channel)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}, nil
}

func (n *Notifier) consume(ctx context.Context, sub *redis.PubSub, fn func(domain.Change)) {
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var c domain.Change
			if err := sonic.Unmarshal([]byte(msg.Payload), &c); err != nil {
				n.logger.WithError(err).Error("unable to parse change")
				continue
			}
			fn(c)
		}
	}
}
