package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// ErrBookingLocked is returned when another confirm or cancel holds the
// booking lock
var ErrBookingLocked = errors.New("booking is being processed by another request")

// BookingLocker serializes confirm/cancel runs for one booking ref
type BookingLocker interface {
	Lock(ctx context.Context, bookingRef string) (unlock func(), err error)
}

// RedisBookingLocker is a redsync mutex per booking ref
type RedisBookingLocker struct {
	rs     *redsync.Redsync
	ttl    time.Duration
	logger *logrus.Logger
}

// NewRedisBookingLocker creates a locker on the given redis client
func NewRedisBookingLocker(client redis.UniversalClient, ttl time.Duration, logger *logrus.Logger) *RedisBookingLocker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisBookingLocker{
		rs:     redsync.New(goredis.NewPool(client)),
		ttl:    ttl,
		logger: logger,
	}
}

// Lock acquires the mutex for the ref. It tries briefly; a held lock means
// a concurrent run is already in flight.
func (l *RedisBookingLocker) Lock(ctx context.Context, bookingRef string) (func(), error) {
	mutex := l.rs.NewMutex("booking-lock:"+bookingRef,
		redsync.WithExpiry(l.ttl),
		redsync.WithTries(3),
		redsync.WithRetryDelay(200*time.Millisecond),
	)

	if err := mutex.LockContext(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("failed to acquire booking lock: %w", ctx.Err())
		}
		l.logger.WithField("booking_ref", bookingRef).WithError(err).Warn("Booking lock not acquired")
		return nil, ErrBookingLocked
	}

	return func() {
		// Unlock on a fresh context so a cancelled request still releases
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if ok, err := mutex.UnlockContext(unlockCtx); err != nil || !ok {
			l.logger.WithField("booking_ref", bookingRef).WithError(err).Warn("Failed to release booking lock")
		}
	}, nil
}
