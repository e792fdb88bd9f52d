package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goodtune/mindful/internal/config"
	"github.com/goodtune/mindful/internal/storage"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Store implements the storage.Store interface using Redis. Change
// notifications travel over a pub/sub channel, so writes made by another
// process (the CLI, a second daemon) reach this process's subscribers too.
// Writes made through this Store are delivered to local subscribers before
// the write call returns; the pub/sub echo of them is dropped by origin.
type Store struct {
	storage.Broadcaster

	client     *redis.Client
	prefix     string
	origin     string
	pubsub     *redis.PubSub
	limitStore *limitStore
	quoteStore *quoteStore
	logger     zerolog.Logger
	wg         sync.WaitGroup
}

// Open creates a new Redis-backed storage instance
func Open(cfg config.RedisConfig, logger zerolog.Logger) (*Store, error) {
	// Parse timeouts
	dialTimeout, err := time.ParseDuration(cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid dial_timeout: %w", err)
	}

	readTimeout, err := time.ParseDuration(cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid read_timeout: %w", err)
	}

	writeTimeout, err := time.ParseDuration(cfg.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid write_timeout: %w", err)
	}

	// Determine address
	addr := cfg.Host
	if cfg.Port > 0 {
		addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "mindful"
	}

	// Create Redis client
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	// Ping to verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	s := &Store{
		client: client,
		prefix: prefix,
		origin: uuid.NewString(),
		logger: logger.With().Str("component", "redis-store").Logger(),
	}
	s.limitStore = &limitStore{s: s}
	s.quoteStore = &quoteStore{s: s}

	// Subscribe before returning so no change published after Open is missed
	s.pubsub = client.Subscribe(ctx, s.changeChannel())
	if _, err := s.pubsub.Receive(ctx); err != nil {
		_ = s.pubsub.Close()
		_ = client.Close()
		return nil, fmt.Errorf("failed to subscribe to change channel: %w", err)
	}

	s.wg.Add(1)
	go s.forwardChanges()

	return s, nil
}

// Close closes the subscription and the Redis connection
func (s *Store) Close() error {
	err := s.pubsub.Close()
	s.wg.Wait()
	return errors.Join(err, s.client.Close())
}

// Limits returns the LimitStore implementation
func (s *Store) Limits() storage.LimitStore {
	return s.limitStore
}

// Quotes returns the QuoteStore implementation
func (s *Store) Quotes() storage.QuoteStore {
	return s.quoteStore
}

func (s *Store) key(name string) string {
	return s.prefix + ":" + name
}

func (s *Store) changeChannel() string {
	return s.key("changes")
}

// publish announces a committed write, first to local subscribers and then
// to other processes. A failed remote publish leaves them stale until the
// next write; it does not fail the write.
func (s *Store) publish(ctx context.Context, change storage.Change, value []byte) {
	s.Publish(change)

	key := change.Key
	payload, err := json.Marshal(changeMessage{Key: key, Origin: s.origin, Value: value})
	if err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to encode change message")
		return
	}
	if err := s.client.Publish(ctx, s.changeChannel(), payload).Err(); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to publish change")
	}
}

// forwardChanges relays pub/sub messages to local subscribers
func (s *Store) forwardChanges() {
	defer s.wg.Done()

	for msg := range s.pubsub.Channel() {
		change, origin, err := parseChange(msg.Payload)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Ignoring malformed change message")
			continue
		}
		if origin == s.origin {
			continue
		}
		s.Publish(change)
	}
}

type limitStore struct {
	s *Store
}

// Get reads the whole limits hash
func (ls *limitStore) Get(ctx context.Context) (storage.Limits, error) {
	data, err := ls.s.client.HGetAll(ctx, ls.s.key(storage.KeyLimits)).Result()
	if err != nil {
		return nil, err
	}
	return parseLimits(data)
}

// Set replaces the limits hash and publishes the change
func (ls *limitStore) Set(ctx context.Context, limits storage.Limits) error {
	args, err := limitArgs(limits)
	if err != nil {
		return err
	}

	script := redis.NewScript(replaceLimitsScript)
	keys := []string{ls.s.key(storage.KeyLimits)}
	if err := script.Run(ctx, ls.s.client, keys, args...).Err(); err != nil {
		return fmt.Errorf("failed to replace limits: %w", err)
	}

	return ls.announce(ctx, limits)
}

// Update applies fn under WATCH so a write by another client between the
// read and the EXEC aborts the transaction and fn runs again on fresh data
func (ls *limitStore) Update(ctx context.Context, fn storage.UpdateFunc) (storage.Limits, error) {
	key := ls.s.key(storage.KeyLimits)

	for attempt := 0; attempt < storage.MaxUpdateAttempts; attempt++ {
		var next storage.Limits
		err := ls.s.client.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.HGetAll(ctx, key).Result()
			if err != nil {
				return err
			}
			current, err := parseLimits(data)
			if err != nil {
				return err
			}
			next, err = fn(current)
			if err != nil {
				return err
			}
			args, err := limitArgs(next)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				if len(args) > 0 {
					pipe.HSet(ctx, key, args...)
				}
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			ls.s.logger.Debug().Int("attempt", attempt+1).Msg("Limits changed during update, retrying")
			continue
		}
		if err != nil {
			return nil, err
		}
		if err := ls.announce(ctx, next); err != nil {
			return nil, err
		}
		return next.Clone(), nil
	}

	return nil, storage.ErrConflict
}

func (ls *limitStore) announce(ctx context.Context, limits storage.Limits) error {
	value, err := storage.MarshalLimits(limits)
	if err != nil {
		return err
	}
	ls.s.publish(ctx, storage.Change{Key: storage.KeyLimits, Limits: limits.Clone()}, value)
	return nil
}

type quoteStore struct {
	s *Store
}

// Get reads the quotes document
func (qs *quoteStore) Get(ctx context.Context) ([]storage.Quote, error) {
	raw, err := qs.s.client.Get(ctx, qs.s.key(storage.KeyQuotes)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return storage.UnmarshalQuotes(raw)
}

// Set replaces the quotes document and publishes the change
func (qs *quoteStore) Set(ctx context.Context, quotes []storage.Quote) error {
	value, err := storage.MarshalQuotes(quotes)
	if err != nil {
		return err
	}

	if err := qs.s.client.Set(ctx, qs.s.key(storage.KeyQuotes), value, 0).Err(); err != nil {
		return fmt.Errorf("failed to replace quotes: %w", err)
	}

	qs.s.publish(ctx, storage.Change{Key: storage.KeyQuotes, Quotes: append([]storage.Quote{}, quotes...)}, value)
	return nil
}
