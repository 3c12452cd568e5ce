package notify

import (
	"context"
	"encoding/json"
	"fmt"

	goRedis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"taskhub/internal/domain"
)

// Envelope is the relayed form of an event. Origin identifies the bus that
// published it so a bus can skip its own echoes.
type Envelope struct {
	Origin string           `json:"origin"`
	Event  domain.TaskEvent `json:"event"`
}

// Relay carries events between backend instances so every instance can fan
// them out to its own connections.
type Relay interface {
	Publish(ctx context.Context, env Envelope) error
	// Listen subscribes, calls ready once the subscription is live and then
	// hands each relayed envelope to handle until ctx is done.
	Listen(ctx context.Context, ready func(), handle func(Envelope)) error
	Close() error
}

// RedisRelay implements Relay with Redis PUBLISH/SUBSCRIBE.
type RedisRelay struct {
	client  *goRedis.Client
	channel string
	logger  *logrus.Logger
}

func NewRedisRelay(client *goRedis.Client, channel string, logger *logrus.Logger) *RedisRelay {
	if channel == "" {
		channel = "taskhub:" + Topic
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &RedisRelay{client: client, channel: channel, logger: logger}
}

func (r *RedisRelay) Publish(ctx context.Context, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

func (r *RedisRelay) Listen(ctx context.Context, ready func(), handle func(Envelope)) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe %s: %w", r.channel, err)
	}
	ready()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if env, ok := r.decode(msg.Payload); ok {
				handle(env)
			}
		}
	}
}

func (r *RedisRelay) decode(payload string) (Envelope, bool) {
	var env Envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		r.logger.WithField("channel", r.channel).Warnf("dropping undecodable relay payload: %v", err)
		return env, false
	}
	return env, true
}

func (r *RedisRelay) Close() error {
	return r.client.Close()
}

// NewRedisClient creates a Redis client from a URL and performs a health check.
func NewRedisClient(ctx context.Context, url, password string, db int) (*goRedis.Client, error) {
	opts, err := goRedis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if password != "" {
		opts.Password = password
	}
	if db != 0 {
		opts.DB = db
	}

	client := goRedis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

var _ Relay = (*RedisRelay)(nil)
