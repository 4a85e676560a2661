package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"webpanel-gate/internal/mfa/domain"
)

// createVerificationLua stores a record hash and its (username, code) index atomically.
// KEYS[1] = record key, KEYS[2] = code index key
// ARGV[1] = retention ms, ARGV[2] = token, ARGV[3] = username, ARGV[4] = code hash,
// ARGV[5] = status, ARGV[6] = client ip, ARGV[7] = created_at unix ms
//
// Returns 1 on success, 0 if the record key already exists.
var createVerificationLua = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1],
  'token', ARGV[2],
  'username', ARGV[3],
  'code_hash', ARGV[4],
  'status', ARGV[5],
  'client_ip', ARGV[6],
  'created_at', ARGV[7])
redis.call('PEXPIRE', KEYS[1], ARGV[1])
redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[1])
return 1
`)

// casVerificationLua performs a status compare-and-set on a record hash.
// KEYS[1] = record key
// ARGV[1] = expected status, ARGV[2] = new status, ARGV[3] = not-before unix ms (0 disables),
// ARGV[4] = actor (empty keeps resolved fields), ARGV[5] = resolved_at unix ms
//
// Returns 1 if the status was changed, 0 otherwise.
var casVerificationLua = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if not status then
  return 0
end
if status ~= ARGV[1] then
  return 0
end
local notBefore = tonumber(ARGV[3])
if notBefore > 0 then
  local created = tonumber(redis.call('HGET', KEYS[1], 'created_at'))
  if created == nil or created < notBefore then
    return 0
  end
end
redis.call('HSET', KEYS[1], 'status', ARGV[2])
if ARGV[4] ~= '' then
  redis.call('HSET', KEYS[1], 'resolved_by', ARGV[4], 'resolved_at', ARGV[5])
end
return 1
`)

// incrAttemptsLua bumps the failed-code counter of an existing record hash.
// KEYS[1] = record key
//
// Returns the new counter, or 0 if the record does not exist.
var incrAttemptsLua = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
return redis.call('HINCRBY', KEYS[1], 'attempts', 1)
`)

// RedisRepository is a Repository backed by Redis hashes. Status transitions run as Lua scripts so
// they are atomic across the web and bot processes; key expiry implements retention.
type RedisRepository struct {
	redis  redis.UniversalClient
	prefix string
}

var _ Repository = (*RedisRepository)(nil)

// NewRedisRepository returns a verification store using redisClient. prefix namespaces keys (default "wpv").
func NewRedisRepository(redisClient redis.UniversalClient, prefix string) *RedisRepository {
	if prefix == "" {
		prefix = "wpv"
	}
	return &RedisRepository{redis: redisClient, prefix: prefix}
}

func (s *RedisRepository) recordKey(token string) string {
	return s.prefix + ":rec:" + token
}

func (s *RedisRepository) codeKey(username, codeHash string) string {
	return s.prefix + ":code:" + username + ":" + codeHash
}

// Create stores r for retention.
func (s *RedisRepository) Create(ctx context.Context, r *domain.Record, retention time.Duration) error {
	if retention <= 0 {
		return errors.New("verification: retention must be positive")
	}
	n, err := createVerificationLua.Run(ctx, s.redis,
		[]string{s.recordKey(r.Token), s.codeKey(r.Username, r.CodeHash)},
		retention.Milliseconds(),
		r.Token,
		r.Username,
		r.CodeHash,
		string(r.Status),
		r.ClientIP,
		r.CreatedAt.UnixMilli(),
	).Int()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if n == 0 {
		return ErrDuplicateToken
	}
	return nil
}

// GetByToken returns the record for token, or nil if the key does not exist.
func (s *RedisRepository) GetByToken(ctx context.Context, token string) (*domain.Record, error) {
	fields, err := s.redis.HGetAll(ctx, s.recordKey(token)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return decodeRedisRecord(fields)
}

// FindPending resolves the (username, code) index and rechecks every condition on the record itself.
func (s *RedisRepository) FindPending(ctx context.Context, username, codeHash string, notBefore time.Time) (*domain.Record, error) {
	token, err := s.redis.Get(ctx, s.codeKey(username, codeHash)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	rec, err := s.GetByToken(ctx, token)
	if err != nil || rec == nil {
		return nil, err
	}
	if rec.Username != username || rec.CodeHash != codeHash || rec.Status != domain.StatusPending {
		return nil, nil
	}
	if rec.CreatedAt.Before(notBefore) {
		return nil, nil
	}
	return rec, nil
}

// CompareAndSwap runs the CAS script.
func (s *RedisRepository) CompareAndSwap(ctx context.Context, token string, t Transition) (bool, error) {
	var notBefore int64
	if !t.NotBefore.IsZero() {
		notBefore = t.NotBefore.UnixMilli()
	}
	n, err := casVerificationLua.Run(ctx, s.redis,
		[]string{s.recordKey(token)},
		string(t.From),
		string(t.To),
		notBefore,
		t.Actor,
		t.At.UnixMilli(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n == 1, nil
}

// IncrementAttempts runs the counter script; HINCRBY never creates a key for a missing record.
func (s *RedisRepository) IncrementAttempts(ctx context.Context, token string) (int, error) {
	n, err := incrAttemptsLua.Run(ctx, s.redis, []string{s.recordKey(token)}).Int()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n, nil
}

// Sweep is a no-op: Redis expires keys when retention elapses.
func (s *RedisRepository) Sweep(ctx context.Context, before time.Time) (int, error) {
	return 0, nil
}

// Ping checks the Redis connection.
func (s *RedisRepository) Ping(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func decodeRedisRecord(f map[string]string) (*domain.Record, error) {
	created, err := strconv.ParseInt(f["created_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("verification: bad created_at %q: %w", f["created_at"], err)
	}
	rec := &domain.Record{
		Token:      f["token"],
		Username:   f["username"],
		CodeHash:   f["code_hash"],
		Status:     domain.Status(f["status"]),
		ClientIP:   f["client_ip"],
		CreatedAt:  time.UnixMilli(created).UTC(),
		ResolvedBy: f["resolved_by"],
	}
	if v := f["attempts"]; v != "" {
		rec.Attempts, _ = strconv.Atoi(v)
	}
	if v := f["resolved_at"]; v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err == nil {
			at := time.UnixMilli(ms).UTC()
			rec.ResolvedAt = &at
		}
	}
	return rec, nil
}
