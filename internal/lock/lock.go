package lock

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/watchlistpro/cardstore/internal/config"
)

// Locker serialises work on a key across goroutines (and processes, for Redis).
type Locker interface {
	// Lock blocks until key is held or ctx is done. The returned func releases the lock.
	Lock(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// New returns a Redis locker when an address is configured, otherwise an in-process locker.
// The returned close func releases the Redis client.
func New(ctx context.Context, cfg config.RedisConfig) (Locker, func() error, error) {
	if cfg.Addr == "" {
		return NewLocalLocker(), func() error { return nil }, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return NewRedisLocker(client, "cardstore:lock:"), client.Close, nil
}

// LocalLocker is an in-process keyed mutex.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

// NewLocalLocker creates an empty LocalLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]chan struct{})}
}

// Lock acquires key. ttl is ignored; the lock lives until released.
func (l *LocalLocker) Lock(ctx context.Context, key string, _ time.Duration) (func(), error) {
	for {
		l.mu.Lock()
		wait, busy := l.held[key]
		if !busy {
			done := make(chan struct{})
			l.held[key] = done
			l.mu.Unlock()
			var once sync.Once
			return func() {
				once.Do(func() {
					l.mu.Lock()
					delete(l.held, key)
					l.mu.Unlock()
					close(done)
				})
			}, nil
		}
		l.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
