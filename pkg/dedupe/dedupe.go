// Package dedupe suppresses repeated external sends of the same node visit.
// Each send carries a dedupe key; the first send claims it in Redis and later
// sends with the same key are answered from the stored message id.
package dedupe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/courier/pkg/protocol"
	backend "github.com/redis/go-redis/v9"
)

const (
	// inFlight marks a key claimed by a send that has not reported back yet.
	inFlight = "\x00in-flight"

	DefaultTTL    = 7 * 24 * time.Hour
	DefaultPrefix = "courier:dedupe:"
)

// Store remembers which dedupe keys were already sent.
type Store interface {
	// Claim reserves key. It returns false and the stored value when the key was
	// already claimed.
	Claim(ctx context.Context, key string) (bool, string, error)
	Complete(ctx context.Context, key, messageID string) error
	Release(ctx context.Context, key string) error
}

type RedisStore struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

func NewRedisStore(client *backend.Client, prefix string, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

// NewRedisStoreFromURL connects to the redis:// url.
func NewRedisStoreFromURL(ctx context.Context, url string) (*RedisStore, error) {
	options, err := backend.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := backend.NewClient(options)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisStore(client, DefaultPrefix, DefaultTTL), nil
}

func (s *RedisStore) Claim(ctx context.Context, key string) (bool, string, error) {
	claimed, err := s.client.SetNX(ctx, s.prefix+key, inFlight, s.ttl).Result()
	if err != nil {
		return false, "", fmt.Errorf("redis error claiming dedupe key: %w", err)
	}

	if claimed {
		return true, "", nil
	}

	value, err := s.client.Get(ctx, s.prefix+key).Result()
	if errors.Is(err, backend.Nil) {
		// Expired or released between the two calls.
		return s.Claim(ctx, key)
	}

	if err != nil {
		return false, "", fmt.Errorf("redis error reading dedupe key: %w", err)
	}

	return false, value, nil
}

func (s *RedisStore) Complete(ctx context.Context, key, messageID string) error {
	if err := s.client.Set(ctx, s.prefix+key, messageID, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis error completing dedupe key: %w", err)
	}

	return nil
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis error releasing dedupe key: %w", err)
	}

	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Messenger sends through next at most once per dedupe key.
type Messenger struct {
	logger *slog.Logger
	next   protocol.Messenger
	store  Store
}

func NewMessenger(logger *slog.Logger, next protocol.Messenger, store Store) *Messenger {
	return &Messenger{
		logger: logger.With("module", "dedupe"),
		next:   next,
		store:  store,
	}
}

func (m *Messenger) Send(ctx context.Context, message protocol.OutboundMessage) (string, error) {
	if message.DedupeKey == "" {
		return m.next.Send(ctx, message)
	}

	logger := m.logger.With("dedupe_key", message.DedupeKey, "contact_id", message.ContactID)

	claimed, existing, err := m.store.Claim(ctx, message.DedupeKey)
	if err != nil {
		return "", err
	}

	if !claimed {
		if existing == inFlight {
			// A previous attempt died between sending and recording; the message may
			// have gone out, so it is not sent again.
			logger.WarnContext(ctx, "send outcome unknown, suppressing duplicate")

			return "", nil
		}

		logger.DebugContext(ctx, "duplicate send suppressed", "message_id", existing)

		return existing, nil
	}

	messageID, err := m.next.Send(ctx, message)
	if err != nil {
		if releaseErr := m.store.Release(ctx, message.DedupeKey); releaseErr != nil {
			logger.ErrorContext(ctx, "failed to release dedupe key", "error", releaseErr)
		}

		return "", err
	}

	if err := m.store.Complete(ctx, message.DedupeKey, messageID); err != nil {
		logger.ErrorContext(ctx, "failed to record sent message", "error", err)
	}

	return messageID, nil
}
