package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/finledger/internal/config"
)

const (
	keyImportLedgerLock = "finledger:import:ledger"
	keyImportUpload     = "finledger:import:upload:%s"
)

var ErrLockHeld = errors.New("lock held by another process")

// ImportLimiter guards the import pipeline across replicas. A nil or disabled
// limiter allows everything.
type ImportLimiter struct {
	bucket *TokenBucket
	locker *Locker

	uploadRate  float64
	uploadBurst int
	lockTTL     time.Duration
}

func NewImportLimiter(cfg config.Config, client *redis.Client) *ImportLimiter {
	if client == nil {
		return nil
	}
	return newImportLimiter(client, cfg.Import)
}

func newImportLimiter(client redis.Cmdable, cfg config.ImportConfig) *ImportLimiter {
	lockTTL := cfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = 5 * time.Minute
	}
	return &ImportLimiter{
		bucket:      NewTokenBucket(client),
		locker:      NewLocker(client),
		uploadRate:  cfg.UploadRate,
		uploadBurst: cfg.UploadBurst,
		lockTTL:     lockTTL,
	}
}

func (l *ImportLimiter) Enabled() bool {
	return l != nil && l.locker != nil
}

// AcquireImport takes the ledger-wide import lock and keeps extending it every
// third of its TTL until release is called, so a long import stays exclusive.
// The returned release func is always safe to call. ErrLockHeld means another
// replica is importing.
func (l *ImportLimiter) AcquireImport(ctx context.Context) (func(context.Context), error) {
	if !l.Enabled() {
		return func(context.Context) {}, nil
	}
	token, ok, err := l.locker.TryLock(ctx, keyImportLedgerLock, l.lockTTL)
	if err != nil {
		return func(context.Context) {}, fmt.Errorf("acquire import lock: %w", err)
	}
	if !ok {
		return func(context.Context) {}, ErrLockHeld
	}

	stop := keepAlive(l.lockTTL/3, func(extendCtx context.Context) (bool, error) {
		return l.locker.Extend(extendCtx, keyImportLedgerLock, token, l.lockTTL)
	})
	return func(releaseCtx context.Context) {
		stop()
		_ = l.locker.Release(releaseCtx, keyImportLedgerLock, token)
	}, nil
}

// keepAlive calls extend on every tick until stop is called or extend reports the
// lock lost. Transient errors are retried on the next tick.
func keepAlive(every time.Duration, extend func(context.Context) (bool, error)) (stop func()) {
	if every <= 0 {
		every = time.Second
	}
	done := make(chan struct{})
	exited := make(chan struct{})

	go func() {
		defer close(exited)
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), every)
				held, err := extend(ctx)
				cancel()
				if err == nil && !held {
					return
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			<-exited
		})
	}
}

// AllowUpload spends one upload token for client. Limits that are not configured allow.
func (l *ImportLimiter) AllowUpload(ctx context.Context, client string) (*RateLimitResult, error) {
	if !l.Enabled() || l.uploadRate <= 0 || l.uploadBurst <= 0 {
		return &RateLimitResult{Allowed: true}, nil
	}
	client = strings.TrimSpace(client)
	if client == "" {
		client = "anonymous"
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyImportUpload, client), l.uploadRate, l.uploadBurst)
}
