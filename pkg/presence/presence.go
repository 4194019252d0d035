package presence

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// TTL is how long a connection stays present without a heartbeat. Gateways
// refresh their connections every TTL/3, so a crashed gateway's entries age
// out on their own.
const TTL = 2 * time.Minute

// HeartbeatInterval is how often a gateway should call Refresh.
const HeartbeatInterval = TTL / 3

func Key(negotiationID string) string {
	return "negotiation:" + negotiationID + ":users"
}

// member ties a user to one connection so gateways sharing the key never
// remove each other's entries. Connection ids are base 36, so the user id is
// everything before the last separator.
func member(userID, connID string) string {
	return userID + "/" + connID
}

// Presence mirrors which users are joined to each negotiation room into a
// Redis sorted set scored by last heartbeat. A user with connections on
// several gateways stays present until the last one leaves.
type Presence struct {
	rdb *redis.Client
	now func() time.Time
}

func New(rdb *redis.Client) *Presence {
	return &Presence{rdb: rdb, now: time.Now}
}

// NewClient builds the Redis client the way every service in this repo does.
func NewClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr})
}

func (p *Presence) score() float64 {
	return float64(p.now().Unix())
}

func (p *Presence) Add(ctx context.Context, negotiationID, userID, connID string) error {
	key := Key(negotiationID)
	pipe := p.rdb.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: p.score(), Member: member(userID, connID)})
	pipe.Expire(ctx, key, TTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (p *Presence) Remove(ctx context.Context, negotiationID, userID, connID string) error {
	return p.rdb.ZRem(ctx, Key(negotiationID), member(userID, connID)).Err()
}

// Refresh extends a live connection's entry. It never re-adds an entry that
// was already removed.
func (p *Presence) Refresh(ctx context.Context, negotiationID, userID, connID string) error {
	key := Key(negotiationID)
	pipe := p.rdb.TxPipeline()
	pipe.ZAddXX(ctx, key, redis.Z{Score: p.score(), Member: member(userID, connID)})
	pipe.Expire(ctx, key, TTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Members lists user ids present in the room, sorted and deduplicated.
// Entries older than TTL are pruned first.
func (p *Presence) Members(ctx context.Context, negotiationID string) ([]string, error) {
	key := Key(negotiationID)
	cutoff := strconv.FormatInt(p.now().Add(-TTL).Unix(), 10)
	if err := p.rdb.ZRemRangeByScore(ctx, key, "-inf", "("+cutoff).Err(); err != nil {
		return nil, err
	}

	entries, err := p.rdb.ZRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(entries))
	users := make([]string, 0, len(entries))
	for _, e := range entries {
		userID := e
		if i := strings.LastIndex(e, "/"); i >= 0 {
			userID = e[:i]
		}
		if !seen[userID] {
			seen[userID] = true
			users = append(users, userID)
		}
	}
	sort.Strings(users)
	return users, nil
}

func (p *Presence) Close() error {
	return p.rdb.Close()
}
