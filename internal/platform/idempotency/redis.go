package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "acai:idempotency:"

// saveScript replaces the record only while the caller still owns the reservation.
var saveScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if not current then return 0 end
local record = cjson.decode(current)
if record.owner ~= ARGV[1] then return 0 end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

var releaseScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if not current then return 0 end
local record = cjson.decode(current)
if record.owner ~= ARGV[1] or record.status ~= 'pending' then return 0 end
return redis.call('DEL', KEYS[1])
`)

// RedisStore keeps reservations as JSON strings with native key expiry.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

var _ Store = (*RedisStore)(nil)

// RedisOption customises the RedisStore.
type RedisOption func(*RedisStore)

// WithKeyPrefix overrides the namespace used for keys.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// NewRedisStore wraps an existing client; the caller owns its lifecycle.
func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	store := &RedisStore{client: client, prefix: defaultRedisPrefix}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store
}

func (s *RedisStore) key(key string) string {
	return s.prefix + documentID(key)
}

func (s *RedisStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, pendingTTL time.Duration) (Reservation, error) {
	now = now.UTC()
	redisKey := s.key(key)
	// A record can expire between SETNX and GET; retry a few times before giving up.
	for attempt := 0; attempt < 3; attempt++ {
		owner := uuid.NewString()
		record := pendingRecord(key, fingerprint, owner, now, pendingTTL)
		payload, err := json.Marshal(toRedisRecord(record))
		if err != nil {
			return Reservation{}, fmt.Errorf("idempotency: encode record: %w", err)
		}
		ok, err := s.client.SetNX(ctx, redisKey, payload, record.ExpiresAt.Sub(now)).Result()
		if err != nil {
			return Reservation{}, fmt.Errorf("idempotency: reserve: %w", err)
		}
		if ok {
			return Reservation{State: ReservationStateNew, Owner: owner, Record: record}, nil
		}

		raw, err := s.client.Get(ctx, redisKey).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return Reservation{}, fmt.Errorf("idempotency: load: %w", err)
		}
		var stored redisRecord
		if err := json.Unmarshal(raw, &stored); err != nil {
			return Reservation{}, fmt.Errorf("idempotency: decode record: %w", err)
		}
		return classify(stored.toRecord(), fingerprint)
	}
	return Reservation{}, errors.New("idempotency: reservation kept expiring")
}

func (s *RedisStore) SaveResponse(ctx context.Context, key, owner string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	redisKey := s.key(key)
	raw, err := s.client.Get(ctx, redisKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotOwner
	}
	if err != nil {
		return fmt.Errorf("idempotency: load: %w", err)
	}
	var stored redisRecord
	if err := json.Unmarshal(raw, &stored); err != nil {
		return fmt.Errorf("idempotency: decode record: %w", err)
	}
	record := completeRecord(stored.toRecord(), resp, now, ttl)
	payload, err := json.Marshal(toRedisRecord(record))
	if err != nil {
		return fmt.Errorf("idempotency: encode record: %w", err)
	}
	saved, err := saveScript.Run(ctx, s.client, []string{redisKey}, owner, payload, record.ExpiresAt.Sub(now).Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("idempotency: save: %w", err)
	}
	if saved == 0 {
		return ErrNotOwner
	}
	return nil
}

func (s *RedisStore) Release(ctx context.Context, key, owner string) error {
	if err := releaseScript.Run(ctx, s.client, []string{s.key(key)}, owner).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("idempotency: release: %w", err)
	}
	return nil
}

type redisRecord struct {
	Key             string              `json:"key"`
	Fingerprint     string              `json:"fingerprint"`
	Owner           string              `json:"owner"`
	Status          string              `json:"status"`
	ResponseStatus  int                 `json:"responseStatus,omitempty"`
	ResponseHeaders map[string][]string `json:"responseHeaders,omitempty"`
	ResponseBody    []byte              `json:"responseBody,omitempty"`
	CreatedAt       time.Time           `json:"createdAt"`
	UpdatedAt       time.Time           `json:"updatedAt"`
	ExpiresAt       time.Time           `json:"expiresAt"`
}

func toRedisRecord(r Record) redisRecord {
	return redisRecord{
		Key:             r.Key,
		Fingerprint:     r.Fingerprint,
		Owner:           r.Owner,
		Status:          string(r.Status),
		ResponseStatus:  r.ResponseStatus,
		ResponseHeaders: r.ResponseHeaders,
		ResponseBody:    r.ResponseBody,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		ExpiresAt:       r.ExpiresAt,
	}
}

func (r redisRecord) toRecord() Record {
	return Record{
		Key:             r.Key,
		Fingerprint:     r.Fingerprint,
		Owner:           r.Owner,
		Status:          Status(r.Status),
		ResponseStatus:  r.ResponseStatus,
		ResponseHeaders: r.ResponseHeaders,
		ResponseBody:    r.ResponseBody,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		ExpiresAt:       r.ExpiresAt,
	}
}
