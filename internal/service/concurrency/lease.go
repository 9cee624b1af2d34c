package concurrency

import (
	"context"
	"fmt"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Leases guarantee that a campaign is hosted by one session at a time.
type Leases interface {
	// Acquire takes the campaign lease for owner. It reports false when
	// another owner holds it.
	Acquire(ctx context.Context, campaignID, owner string) (bool, error)
	// Refresh extends a lease held by owner.
	Refresh(ctx context.Context, campaignID, owner string) (bool, error)
	// Release drops the lease if owner still holds it.
	Release(ctx context.Context, campaignID, owner string) error
	// TTL is how long a lease lives without a refresh.
	TTL() time.Duration
}

var (
	refreshScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)
	releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)
)

// RedisLeases stores campaign leases in Redis so several API instances
// can share one backend.
type RedisLeases struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisLeases constructs Redis-backed leases.
func NewRedisLeases(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisLeases {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if prefix == "" {
		prefix = "dialer"
	}
	return &RedisLeases{client: client, prefix: prefix, ttl: ttl}
}

// Acquire implements Leases. Re-acquiring an owned lease refreshes it.
func (l *RedisLeases) Acquire(ctx context.Context, campaignID, owner string) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key(campaignID), owner, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("lease acquire: %w", err)
	}
	if ok {
		return true, nil
	}
	return l.Refresh(ctx, campaignID, owner)
}

// Refresh implements Leases.
func (l *RedisLeases) Refresh(ctx context.Context, campaignID, owner string) (bool, error) {
	res, err := refreshScript.Run(ctx, l.client, []string{l.key(campaignID)}, owner, l.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("lease refresh: %w", err)
	}
	return res == 1, nil
}

// Release implements Leases.
func (l *RedisLeases) Release(ctx context.Context, campaignID, owner string) error {
	if _, err := releaseScript.Run(ctx, l.client, []string{l.key(campaignID)}, owner).Int(); err != nil {
		return fmt.Errorf("lease release: %w", err)
	}
	return nil
}

// TTL implements Leases.
func (l *RedisLeases) TTL() time.Duration {
	return l.ttl
}

func (l *RedisLeases) key(campaignID string) string {
	return fmt.Sprintf("%s:campaign:%s:lease", l.prefix, campaignID)
}

// LocalLeases keeps leases in process memory for single-instance setups.
type LocalLeases struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	owners map[string]localLease
}

type localLease struct {
	owner   string
	expires time.Time
}

// NewLocalLeases constructs in-memory leases.
func NewLocalLeases(ttl time.Duration) *LocalLeases {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &LocalLeases{ttl: ttl, now: time.Now, owners: make(map[string]localLease)}
}

// Acquire implements Leases.
func (l *LocalLeases) Acquire(ctx context.Context, campaignID, owner string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cur, ok := l.owners[campaignID]
	if ok && cur.owner != owner && l.now().Before(cur.expires) {
		return false, nil
	}
	l.owners[campaignID] = localLease{owner: owner, expires: l.now().Add(l.ttl)}
	return true, nil
}

// Refresh implements Leases.
func (l *LocalLeases) Refresh(ctx context.Context, campaignID, owner string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cur, ok := l.owners[campaignID]
	if !ok || cur.owner != owner {
		return false, nil
	}
	cur.expires = l.now().Add(l.ttl)
	l.owners[campaignID] = cur
	return true, nil
}

// Release implements Leases.
func (l *LocalLeases) Release(ctx context.Context, campaignID, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.owners[campaignID]; ok && cur.owner == owner {
		delete(l.owners, campaignID)
	}
	return nil
}

// TTL implements Leases.
func (l *LocalLeases) TTL() time.Duration {
	return l.ttl
}
