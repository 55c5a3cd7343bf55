package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Locker serialises work on one client id. Distinct ids never block each other.
type Locker interface {
	Lock(ctx context.Context, clientID string) (unlock func(), err error)
}

type refMutex struct {
	mu   sync.Mutex
	refs int
}

// LocalLocker is an in-process Locker holding one mutex per active client id.
// An entry is dropped once no goroutine holds or waits for it.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*refMutex)}
}

// Lock blocks until clientID is free. The context is not consulted: waiting
// on a local holder is bounded by that holder's own timeouts.
func (l *LocalLocker) Lock(_ context.Context, clientID string) (func(), error) {
	l.mu.Lock()
	rm, ok := l.locks[clientID]
	if !ok {
		rm = &refMutex{}
		l.locks[clientID] = rm
	}
	rm.refs++
	l.mu.Unlock()

	rm.mu.Lock()
	var once sync.Once
	return func() {
		once.Do(func() {
			rm.mu.Unlock()
			l.mu.Lock()
			rm.refs--
			if rm.refs == 0 {
				delete(l.locks, clientID)
			}
			l.mu.Unlock()
		})
	}, nil
}

func (l *LocalLocker) active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

const (
	lockPrefix           = "nfrag:lock:"
	DefaultLockTTL       = 3 * time.Minute
	defaultLockPollEvery = 25 * time.Millisecond
	lockReleaseTimeout   = 5 * time.Second
)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// RedisLocker excludes a client id across service instances with SETNX and a
// TTL. Goroutines of the same instance queue on a LocalLocker first.
type RedisLocker struct {
	client    *redis.Client
	local     *LocalLocker
	ownerID   string
	ttl       time.Duration
	pollEvery time.Duration
}

// NewRedisLocker creates a Locker whose keys expire after ttl, which must
// outlast one exchange.
func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &RedisLocker{
		client:    client,
		local:     NewLocalLocker(),
		ownerID:   newOwnerID(),
		ttl:       ttl,
		pollEvery: defaultLockPollEvery,
	}
}

// newOwnerID identifies this instance as hostname:pid:random.
func newOwnerID() string {
	hostname, _ := os.Hostname()
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return fmt.Sprintf("%s:%d:%s", hostname, os.Getpid(), hex.EncodeToString(b))
}

// Lock polls until the key is acquired or ctx is done.
func (r *RedisLocker) Lock(ctx context.Context, clientID string) (func(), error) {
	unlockLocal, _ := r.local.Lock(ctx, clientID)
	key := lockPrefix + clientID

	ticker := time.NewTicker(r.pollEvery)
	defer ticker.Stop()
	for {
		ok, err := r.client.SetNX(ctx, key, r.ownerID, r.ttl).Result()
		if err != nil {
			unlockLocal()
			return nil, fmt.Errorf("acquire lock %s: %w", clientID, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			unlockLocal()
			return nil, fmt.Errorf("acquire lock %s: %w", clientID, ctx.Err())
		case <-ticker.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// Released even when the request context is already cancelled.
			rctx, cancel := context.WithTimeout(context.Background(), lockReleaseTimeout)
			defer cancel()
			_ = releaseScript.Run(rctx, r.client, []string{key}, r.ownerID).Err()
			unlockLocal()
		})
	}, nil
}
