// Package leaselock provides expiring, renewable locks stored in the
// job_locks table. Worker replicas sharing one postgres database use it to
// run pipeline writes one at a time.
package leaselock

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

var (
	ErrBusy = errors.New("lease lock busy")
	ErrLost = errors.New("lease lock lost")
)

// DB is satisfied by *pgxpool.Pool and *pgx.Conn.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Options struct {
	TTL        time.Duration
	RenewEvery time.Duration

	// Wait polls until the lock is free instead of failing with ErrBusy.
	Wait         bool
	WaitInterval time.Duration
	WaitJitter   time.Duration

	TokenPrefix string
}

func DefaultOptions() Options {
	return Options{
		TTL:          2 * time.Minute,
		Wait:         true,
		WaitInterval: 500 * time.Millisecond,
		WaitJitter:   250 * time.Millisecond,
	}
}

func (o Options) normalized() Options {
	if o.TTL <= 0 {
		o.TTL = 2 * time.Minute
	}
	if o.RenewEvery <= 0 || o.RenewEvery >= o.TTL {
		o.RenewEvery = max(o.TTL/2, time.Second)
	}
	if o.WaitInterval <= 0 {
		o.WaitInterval = 250 * time.Millisecond
	}
	if o.WaitJitter < 0 {
		o.WaitJitter = 0
	}
	return o
}

type Locker struct {
	db   DB
	opts Options
}

func New(db DB, opts Options) *Locker {
	return &Locker{db: db, opts: opts.normalized()}
}

// Lease is a held lock. Context is cancelled with ErrLost as cause when a
// renewal finds the lock taken over.
type Lease struct {
	Key     string
	Token   string
	Context context.Context

	locker   *Locker
	cancel   context.CancelCauseFunc
	stopOnce sync.Once
	stopCh   chan struct{}
}

// WithLease runs fn while holding key. fn receives the lease context.
func (l *Locker) WithLease(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	lease, err := l.Acquire(ctx, key)
	if err != nil {
		return err
	}
	defer func() {
		_ = lease.Release(context.Background())
	}()
	return fn(lease.Context)
}

func (l *Locker) Acquire(ctx context.Context, key string) (*Lease, error) {
	if key == "" {
		return nil, errors.New("lease lock key is empty")
	}
	tok, err := gonanoid.New()
	if err != nil {
		return nil, err
	}
	token := l.opts.TokenPrefix + tok
	ttlMs := l.opts.TTL.Milliseconds()

	for {
		ok, err := l.tryAcquire(ctx, key, token, ttlMs)
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		if !l.opts.Wait {
			return nil, ErrBusy
		}
		if err := sleepWithJitter(ctx, l.opts.WaitInterval, l.opts.WaitJitter); err != nil {
			return nil, err
		}
	}

	leaseCtx, cancel := context.WithCancelCause(ctx)
	lease := &Lease{
		Key:     key,
		Token:   token,
		Context: leaseCtx,
		locker:  l,
		cancel:  cancel,
		stopCh:  make(chan struct{}),
	}
	go lease.renewLoop(ttlMs)
	return lease, nil
}

func (l *Locker) tryAcquire(ctx context.Context, key, token string, ttlMs int64) (bool, error) {
	var returned string
	err := l.db.QueryRow(ctx, tryAcquireSQL, key, token, ttlMs).Scan(&returned)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return returned != "", nil
}

func (s *Lease) Release(ctx context.Context) error {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.cancel(context.Canceled)
	})
	_, err := s.locker.db.Exec(ctx, releaseSQL, s.Key, s.Token)
	return err
}

func (s *Lease) renewLoop(ttlMs int64) {
	t := time.NewTicker(s.locker.opts.RenewEvery)
	defer t.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-s.Context.Done():
			return
		case <-t.C:
			if err := s.renew(ttlMs); err != nil {
				s.cancel(err)
				return
			}
		}
	}
}

func (s *Lease) renew(ttlMs int64) error {
	var err error
	for attempt := range 3 {
		if attempt > 0 {
			if werr := sleepWithJitter(s.Context, 200*time.Millisecond, 0); werr != nil {
				return werr
			}
		}
		renewCtx, cancel := context.WithTimeout(s.Context, 15*time.Second)
		var returned string
		err = s.locker.db.QueryRow(renewCtx, renewSQL, s.Key, s.Token, ttlMs).Scan(&returned)
		cancel()
		if err == nil {
			return nil
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrLost
		}
	}
	return err
}

func sleepWithJitter(ctx context.Context, base, jitter time.Duration) error {
	d := base
	if jitter > 0 {
		d += time.Duration(rand.Int64N(int64(jitter) + 1))
	}
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

const tryAcquireSQL = `
INSERT INTO job_locks (lock_key, locked_by, expires_at)
VALUES ($1, $2, now() + ($3::bigint * interval '1 millisecond'))
ON CONFLICT (lock_key) DO UPDATE
SET locked_by  = EXCLUDED.locked_by,
    expires_at = EXCLUDED.expires_at
WHERE job_locks.expires_at < now()
   OR job_locks.locked_by = EXCLUDED.locked_by
RETURNING lock_key;
`

const renewSQL = `
UPDATE job_locks
SET expires_at = now() + ($3::bigint * interval '1 millisecond')
WHERE lock_key = $1 AND locked_by = $2
RETURNING lock_key;
`

const releaseSQL = `
DELETE FROM job_locks
WHERE lock_key = $1 AND locked_by = $2;
`
