// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ManuGH/timetrack/internal/domain/session/model"
	"github.com/ManuGH/timetrack/internal/metrics"
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces the pub/sub channels.
	Prefix string
	Buffer int
}

// RedisBus fans events out through Redis pub/sub so several authority
// instances can serve the same owners.
type RedisBus struct {
	client *redis.Client
	prefix string
	buffer int
	logger zerolog.Logger
}

// NewRedisBus connects and pings the server.
func NewRedisBus(ctx context.Context, cfg RedisConfig, logger zerolog.Logger) (*RedisBus, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info().Str("addr", cfg.Addr).Int("db", cfg.DB).Msg("connected to Redis event bus")
	return newRedisBus(client, cfg, logger), nil
}

func newRedisBus(client *redis.Client, cfg RedisConfig, logger zerolog.Logger) *RedisBus {
	if cfg.Prefix == "" {
		cfg.Prefix = "timetrack:events:"
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = defaultBuffer
	}
	return &RedisBus{client: client, prefix: cfg.Prefix, buffer: cfg.Buffer, logger: logger}
}

func (b *RedisBus) Publish(ctx context.Context, topic string, ev model.Event) error {
	buf, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := b.client.Publish(ctx, b.prefix+topic, buf).Err(); err != nil {
		metrics.IncBusDrop("redis", "publish_error")
		return model.Transport("bus publish", err)
	}
	metrics.IncBusPublished("redis")
	return nil
}

// Subscribe returns once Redis has confirmed the subscription.
func (b *RedisBus) Subscribe(ctx context.Context, topic string) (Subscriber, error) {
	ps := b.client.Subscribe(ctx, b.prefix+topic)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, model.Transport("bus subscribe", err)
	}
	s := &redisSub{
		ps:   ps,
		ch:   make(chan model.Event, b.buffer),
		done: make(chan struct{}),
	}
	in := ps.Channel()
	s.wg.Add(1)
	go s.pump(in, b.logger.With().Str("topic", topic).Logger())
	return s, nil
}

// Close releases the client.
func (b *RedisBus) Close() error {
	return b.client.Close()
}

type redisSub struct {
	ps   *redis.PubSub
	ch   chan model.Event
	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func (s *redisSub) pump(in <-chan *redis.Message, logger zerolog.Logger) {
	defer s.wg.Done()
	defer close(s.ch)
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			var ev model.Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				logger.Warn().Err(err).Msg("dropping undecodable bus payload")
				metrics.IncBusDrop("redis", "decode")
				continue
			}
			select {
			case s.ch <- ev:
			default:
				metrics.IncBusDrop("redis", "full")
			}
		}
	}
}

func (s *redisSub) C() <-chan model.Event { return s.ch }

func (s *redisSub) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
		s.wg.Wait()
	})
	return err
}

var _ Bus = (*RedisBus)(nil)
