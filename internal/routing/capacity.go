package routing

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"voice-bridge/internal/config"
	"voice-bridge/pkg/utils"
)

// Capacity gates the number of simultaneous calls. Every successful Acquire
// must be paired with exactly one Release.
type Capacity interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// LocalCapacity counts this process's non-terminal calls. Release is a no-op
// because the count comes from the ledger itself.
type LocalCapacity struct {
	Active func() int
	Limit  int
}

func (l LocalCapacity) Acquire(context.Context) (bool, error) {
	if l.Limit <= 0 || l.Active == nil {
		return true, nil
	}
	return l.Active() < l.Limit, nil
}

func (LocalCapacity) Release(context.Context) error { return nil }

const DefaultCapacityKey = config.DefaultCapacityKey

// RedisCapacity shares one counter between instances. The TTL bounds slots
// leaked by a crashed process; it should exceed the maximum call duration.
type RedisCapacity struct {
	Client *redis.Client
	Key    string
	Limit  int
	TTL    time.Duration
}

func (r RedisCapacity) key() string {
	if r.Key == "" {
		return DefaultCapacityKey
	}
	return r.Key
}

func (r RedisCapacity) Acquire(ctx context.Context) (bool, error) {
	return utils.AcquireConcurrencyCap(ctx, r.Client, r.key(), r.Limit, r.TTL)
}

func (r RedisCapacity) Release(ctx context.Context) error {
	return utils.ReleaseConcurrencyCap(ctx, r.Client, r.key())
}

// Chain acquires from every member in order. A refusal or error releases the
// members already acquired.
type Chain []Capacity

func (c Chain) Acquire(ctx context.Context) (bool, error) {
	for i, m := range c {
		ok, err := m.Acquire(ctx)
		if err != nil || !ok {
			for _, prev := range c[:i] {
				_ = prev.Release(ctx)
			}
			return false, err
		}
	}
	return true, nil
}

func (c Chain) Release(ctx context.Context) error {
	var errs []error
	for _, m := range c {
		if err := m.Release(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
