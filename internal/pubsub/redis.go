package pubsub

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisPubSub relays messages through Redis so that several dev server
// processes watching the same project see each other's builds.
type RedisPubSub struct {
	client *redis.Client
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRedisPubSub connects to url (redis://[password@]host:port[/db]).
func NewRedisPubSub(url string) (*RedisPubSub, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	log.Info().Str("addr", opts.Addr).Msg("Connected to Redis for build notifications")

	ctx, cancel := context.WithCancel(context.Background())
	return &RedisPubSub{client: client, ctx: ctx, cancel: cancel}, nil
}

// Publish sends payload on channel.
func (r *RedisPubSub) Publish(ctx context.Context, channel string, payload []byte) error {
	return r.client.Publish(ctx, channel, payload).Err()
}

// Subscribe opens a Redis subscription that lives until ctx is cancelled
// or the backend is closed.
func (r *RedisPubSub) Subscribe(ctx context.Context, channel string) (<-chan Message, error) {
	sub := r.client.Subscribe(r.ctx, channel)
	if _, err := sub.Receive(r.ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}

	ch := make(chan Message, subscriberBuffer)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(ch)
		defer func() { _ = sub.Close() }()

		in := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case ch <- Message{Channel: msg.Channel, Payload: []byte(msg.Payload)}:
				default:
					log.Warn().Str("channel", channel).Msg("Notification subscriber full, dropping message")
				}
			}
		}
	}()

	return ch, nil
}

// Close ends every subscription and closes the client.
func (r *RedisPubSub) Close() error {
	r.cancel()
	r.wg.Wait()

	err := r.client.Close()
	log.Info().Msg("Redis notifications closed")
	return err
}
