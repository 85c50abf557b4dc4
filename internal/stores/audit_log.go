package stores

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrAuditLogBackend = errors.New("audit log backend unavailable")

// AuditEntry is one append-only row of the login trail.
type AuditEntry struct {
	ID            string    `json:"id"`
	Identity      string    `json:"identity"`
	Action        string    `json:"action"`
	SourceAddress string    `json:"ip_address"`
	Timestamp     time.Time `json:"created_at"`
}

// AuditLogStore keeps entries in one sorted set scored by timestamp (ms), so
// retention is a range walk, plus one sorted set per identity holding the same
// members for paged lookups. Both keys share the prefix hash tag.
type AuditLogStore struct {
	redis  redis.UniversalClient
	prefix string
}

const auditPurgeBatch = 256

func NewAuditLogStore(redisClient redis.UniversalClient, prefix string) *AuditLogStore {
	if prefix == "" {
		prefix = "m2f"
	}
	return &AuditLogStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *AuditLogStore) key() string {
	return "{" + s.prefix + "}:log"
}

func (s *AuditLogStore) identityKey(identity string) string {
	return "{" + s.prefix + "}:log:id:" + identity
}

func (s *AuditLogStore) Append(ctx context.Context, entry AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.Timestamp = entry.Timestamp.UTC()

	member, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	z := redis.Z{
		Score:  float64(entry.Timestamp.UnixMilli()),
		Member: string(member),
	}
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, s.key(), z)
		pipe.ZAdd(ctx, s.identityKey(entry.Identity), z)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuditLogBackend, err)
	}
	return nil
}

// PurgeOlderThan deletes entries strictly older than cutoff, in batches, from
// the global set and the matching identity sets.
func (s *AuditLogStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	upper := "(" + strconv.FormatInt(cutoff.UnixMilli(), 10)

	var total int64
	for {
		members, err := s.redis.ZRangeByScore(ctx, s.key(), &redis.ZRangeBy{
			Min:   "-inf",
			Max:   upper,
			Count: auditPurgeBatch,
		}).Result()
		if err != nil {
			return total, fmt.Errorf("%w: %v", ErrAuditLogBackend, err)
		}
		if len(members) == 0 {
			return total, nil
		}

		byIdentity := make(map[string][]any)
		all := make([]any, 0, len(members))
		for _, member := range members {
			all = append(all, member)
			var entry AuditEntry
			if err := json.Unmarshal([]byte(member), &entry); err != nil {
				continue
			}
			byIdentity[entry.Identity] = append(byIdentity[entry.Identity], member)
		}

		var removed *redis.IntCmd
		_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for identity, own := range byIdentity {
				pipe.ZRem(ctx, s.identityKey(identity), own...)
			}
			removed = pipe.ZRem(ctx, s.key(), all...)
			return nil
		})
		if err != nil {
			return total, fmt.Errorf("%w: %v", ErrAuditLogBackend, err)
		}
		total += removed.Val()

		if len(members) < auditPurgeBatch {
			return total, nil
		}
	}
}

// Entries lists the newest entries, for one identity or for everyone when
// identity is empty. limit <= 0 lists all. Operator tooling only; no
// verification decision reads the trail.
func (s *AuditLogStore) Entries(ctx context.Context, identity string, limit int) ([]AuditEntry, error) {
	key := s.key()
	if identity != "" {
		key = s.identityKey(identity)
	}
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}

	members, err := s.redis.ZRevRange(ctx, key, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuditLogBackend, err)
	}

	out := make([]AuditEntry, 0, len(members))
	for _, member := range members {
		var entry AuditEntry
		if err := json.Unmarshal([]byte(member), &entry); err != nil {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}
