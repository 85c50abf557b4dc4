package stores

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const purgeBatchSize = 256

var (
	ErrCodeNotFound  = errors.New("verification code not found")
	ErrCodeExpired   = errors.New("verification code expired")
	ErrCodeExhausted = errors.New("verification code attempts exhausted")
	ErrCodeBackend   = errors.New("verification code backend unavailable")
)

// CodeRecord is one issued code. ID changes on every issuance, so an ID names
// a single generation of the identity's record.
type CodeRecord struct {
	ID        string
	Identity  string
	Hash      string
	Attempts  int
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Live reports whether the record can still be guessed against at now.
func (r *CodeRecord) Live(maxAttempts int, now time.Time) bool {
	return r != nil && r.ExpiresAt.After(now) && r.Attempts < maxAttempts
}

// issueCodeLua replaces the identity's record in one step.
// KEYS[1] = record key, KEYS[2] = expiry index
// ARGV = identity, id, hash, created ms, expires ms
var issueCodeLua = redis.NewScript(`
redis.call('DEL', KEYS[1])
redis.call('HSET', KEYS[1],
  'id', ARGV[2],
  'identity', ARGV[1],
  'hash', ARGV[3],
  'attempts', 0,
  'created', ARGV[4],
  'expires', ARGV[5])
redis.call('ZADD', KEYS[2], ARGV[5], ARGV[1])
return 1
`)

// recordAttemptLua grants one guess against a specific generation.
// KEYS[1] = record key
// ARGV = id, now ms, max attempts
// Returns the post-increment attempt count or an error string:
// "not_found", "expired", "exhausted".
var recordAttemptLua = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'id') ~= ARGV[1] then
  return {err='not_found'}
end
local expires = tonumber(redis.call('HGET', KEYS[1], 'expires'))
if expires <= tonumber(ARGV[2]) then
  return {err='expired'}
end
local attempts = tonumber(redis.call('HGET', KEYS[1], 'attempts'))
if attempts >= tonumber(ARGV[3]) then
  return {err='exhausted'}
end
return redis.call('HINCRBY', KEYS[1], 'attempts', 1)
`)

// consumeCodeLua deletes the record only if it is still the same generation.
// KEYS[1] = record key, KEYS[2] = expiry index
// ARGV = id, identity
var consumeCodeLua = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'id') == ARGV[1] then
  redis.call('DEL', KEYS[1])
  redis.call('ZREM', KEYS[2], ARGV[2])
  return 1
end
return 0
`)

// purgeCodeLua deletes the record if it expired before the cutoff.
// KEYS[1] = record key, KEYS[2] = expiry index
// ARGV = identity, cutoff ms
var purgeCodeLua = redis.NewScript(`
local expires = redis.call('HGET', KEYS[1], 'expires')
if not expires then
  redis.call('ZREM', KEYS[2], ARGV[1])
  return 0
end
if tonumber(expires) < tonumber(ARGV[2]) then
  redis.call('DEL', KEYS[1])
  redis.call('ZREM', KEYS[2], ARGV[1])
  return 1
end
return 0
`)

type CodeStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewCodeStore(redisClient redis.UniversalClient, prefix string) *CodeStore {
	if prefix == "" {
		prefix = "m2f"
	}
	return &CodeStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *CodeStore) key(identity string) string {
	return "{" + s.prefix + "}:c:" + identity
}

func (s *CodeStore) indexKey() string {
	return "{" + s.prefix + "}:cx"
}

// Issue deletes any record for identity and stores a fresh one with zero attempts.
func (s *CodeStore) Issue(
	ctx context.Context,
	identity, hash string,
	ttl time.Duration,
	now time.Time,
) (*CodeRecord, error) {
	record := &CodeRecord{
		ID:        uuid.NewString(),
		Identity:  identity,
		Hash:      hash,
		Attempts:  0,
		CreatedAt: now.UTC(),
		ExpiresAt: now.Add(ttl).UTC(),
	}

	err := issueCodeLua.Run(ctx, s.redis,
		[]string{s.key(identity), s.indexKey()},
		identity,
		record.ID,
		hash,
		record.CreatedAt.UnixMilli(),
		record.ExpiresAt.UnixMilli(),
	).Err()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCodeBackend, err)
	}
	return record, nil
}

// FindLive returns the identity's record if it is unexpired and under budget.
func (s *CodeStore) FindLive(
	ctx context.Context,
	identity string,
	maxAttempts int,
	now time.Time,
) (*CodeRecord, error) {
	fields, err := s.redis.HGetAll(ctx, s.key(identity)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCodeBackend, err)
	}
	if len(fields) == 0 {
		return nil, ErrCodeNotFound
	}

	record, err := decodeCodeRecord(fields)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCodeBackend, err)
	}
	if !record.Live(maxAttempts, now) {
		return nil, ErrCodeNotFound
	}
	return record, nil
}

// RecordAttempt atomically spends one attempt of record's budget and returns the
// new count. It refuses once the generation is gone, expired or already spent.
func (s *CodeStore) RecordAttempt(
	ctx context.Context,
	record *CodeRecord,
	maxAttempts int,
	now time.Time,
) (int, error) {
	n, err := recordAttemptLua.Run(ctx, s.redis,
		[]string{s.key(record.Identity)},
		record.ID,
		now.UnixMilli(),
		maxAttempts,
	).Int()
	if err != nil {
		switch err.Error() {
		case "not_found":
			return 0, ErrCodeNotFound
		case "expired":
			return 0, ErrCodeExpired
		case "exhausted":
			return 0, ErrCodeExhausted
		default:
			return 0, fmt.Errorf("%w: %v", ErrCodeBackend, err)
		}
	}
	return n, nil
}

// Consume deletes record's generation and reports whether it was still present.
func (s *CodeStore) Consume(ctx context.Context, record *CodeRecord) (bool, error) {
	n, err := consumeCodeLua.Run(ctx, s.redis,
		[]string{s.key(record.Identity), s.indexKey()},
		record.ID,
		record.Identity,
	).Int()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrCodeBackend, err)
	}
	return n == 1, nil
}

// PurgeExpired deletes records whose expiry is older than now-grace. An empty
// identity sweeps every identity through the expiry index in batches.
func (s *CodeStore) PurgeExpired(
	ctx context.Context,
	identity string,
	grace time.Duration,
	now time.Time,
) (int64, error) {
	cutoff := now.Add(-grace).UnixMilli()

	if identity != "" {
		return s.purgeOne(ctx, identity, cutoff)
	}

	var (
		purged int64
		offset int64
	)
	for {
		members, err := s.redis.ZRangeByScore(ctx, s.indexKey(), &redis.ZRangeBy{
			Min:    "-inf",
			Max:    "(" + strconv.FormatInt(cutoff, 10),
			Offset: offset,
			Count:  purgeBatchSize,
		}).Result()
		if err != nil {
			return purged, fmt.Errorf("%w: %v", ErrCodeBackend, err)
		}

		var removed int64
		for _, member := range members {
			n, err := s.purgeOne(ctx, member, cutoff)
			if err != nil {
				return purged, err
			}
			removed += n
		}
		purged += removed

		if len(members) < purgeBatchSize {
			return purged, nil
		}
		// Entries that survived (reissued between the range read and the script)
		// stay in the window; step over them.
		offset += int64(len(members)) - removed
	}
}

func (s *CodeStore) purgeOne(ctx context.Context, identity string, cutoff int64) (int64, error) {
	n, err := purgeCodeLua.Run(ctx, s.redis,
		[]string{s.key(identity), s.indexKey()},
		identity,
		cutoff,
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCodeBackend, err)
	}
	return n, nil
}

func decodeCodeRecord(fields map[string]string) (*CodeRecord, error) {
	attempts, err := strconv.Atoi(fields["attempts"])
	if err != nil {
		return nil, fmt.Errorf("invalid attempts field: %w", err)
	}
	created, err := strconv.ParseInt(fields["created"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid created field: %w", err)
	}
	expires, err := strconv.ParseInt(fields["expires"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid expires field: %w", err)
	}
	if fields["id"] == "" || fields["hash"] == "" {
		return nil, errors.New("incomplete code record")
	}

	return &CodeRecord{
		ID:        fields["id"],
		Identity:  fields["identity"],
		Hash:      fields["hash"],
		Attempts:  attempts,
		CreatedAt: time.UnixMilli(created).UTC(),
		ExpiresAt: time.UnixMilli(expires).UTC(),
	}, nil
}
