package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"webpanel-gate/internal/session/domain"
)

// revokeSessionLua sets revoked_at only on an existing, unrevoked session.
// KEYS[1] = session key; ARGV[1] = revoked_at unix ms
var revokeSessionLua = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
if redis.call('HEXISTS', KEYS[1], 'revoked_at') == 1 then
  return 0
end
redis.call('HSET', KEYS[1], 'revoked_at', ARGV[1])
return 1
`)

// RedisRepository stores each session as a hash that expires with the session, plus a per-user set
// of session hashes.
type RedisRepository struct {
	redis  redis.UniversalClient
	prefix string
	nowF   func() time.Time
}

var _ Repository = (*RedisRepository)(nil)

// NewRedisRepository returns a session store using redisClient. prefix namespaces keys (default "wps").
func NewRedisRepository(redisClient redis.UniversalClient, prefix string) *RedisRepository {
	if prefix == "" {
		prefix = "wps"
	}
	return &RedisRepository{
		redis:  redisClient,
		prefix: prefix,
		nowF:   func() time.Time { return time.Now().UTC() },
	}
}

func (r *RedisRepository) sessionKey(idHash string) string {
	return r.prefix + ":sess:" + idHash
}

func (r *RedisRepository) userKey(username string) string {
	return r.prefix + ":user:" + username
}

func (r *RedisRepository) Create(ctx context.Context, s *domain.Session) error {
	ttl := s.ExpiresAt.Sub(r.nowF())
	if ttl <= 0 {
		return errors.New("session: already expired")
	}
	fields := map[string]any{
		"username":   s.Username,
		"client_ip":  s.ClientIP,
		"created_at": s.CreatedAt.UnixMilli(),
		"expires_at": s.ExpiresAt.UnixMilli(),
	}
	_, err := r.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		key := r.sessionKey(s.IDHash)
		p.HSet(ctx, key, fields)
		p.PExpire(ctx, key, ttl)
		p.SAdd(ctx, r.userKey(s.Username), s.IDHash)
		p.PExpire(ctx, r.userKey(s.Username), ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (r *RedisRepository) GetByHash(ctx context.Context, idHash string) (*domain.Session, error) {
	fields, err := r.redis.HGetAll(ctx, r.sessionKey(idHash)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return decodeRedisSession(idHash, fields)
}

func (r *RedisRepository) Revoke(ctx context.Context, idHash string, at time.Time) error {
	if err := revokeSessionLua.Run(ctx, r.redis, []string{r.sessionKey(idHash)}, at.UnixMilli()).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// ListByUsername returns the user's sessions, newest first. Members whose session key expired are
// removed from the index.
func (r *RedisRepository) ListByUsername(ctx context.Context, username string) ([]*domain.Session, error) {
	hashes, err := r.redis.SMembers(ctx, r.userKey(username)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	var out []*domain.Session
	for _, h := range hashes {
		s, err := r.GetByHash(ctx, h)
		if err != nil {
			return nil, err
		}
		if s == nil {
			r.redis.SRem(ctx, r.userKey(username), h)
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func decodeRedisSession(idHash string, f map[string]string) (*domain.Session, error) {
	created, err := strconv.ParseInt(f["created_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("session: bad created_at %q: %w", f["created_at"], err)
	}
	expires, err := strconv.ParseInt(f["expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("session: bad expires_at %q: %w", f["expires_at"], err)
	}
	s := &domain.Session{
		IDHash:    idHash,
		Username:  f["username"],
		ClientIP:  f["client_ip"],
		CreatedAt: time.UnixMilli(created).UTC(),
		ExpiresAt: time.UnixMilli(expires).UTC(),
	}
	if v := f["revoked_at"]; v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			at := time.UnixMilli(ms).UTC()
			s.RevokedAt = &at
		}
	}
	return s, nil
}
