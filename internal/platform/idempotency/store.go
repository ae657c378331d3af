// Package idempotency makes retried order submissions safe: the first request for an
// Idempotency-Key runs, later requests with the same key and body replay its stored response.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
)

// Status represents the lifecycle state of an idempotency record.
type Status string

const (
	// DefaultTTL is how long a completed checkout response stays replayable.
	DefaultTTL = 24 * time.Hour
	// DefaultPendingTTL bounds how long a crashed request can hold a key.
	DefaultPendingTTL = 2 * time.Minute

	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

// ReservationState describes the outcome of attempting to reserve an idempotency key.
type ReservationState int

const (
	// ReservationStateNew means the caller owns the key and must run the request.
	ReservationStateNew ReservationState = iota
	// ReservationStateCompleted means a stored response should be replayed.
	ReservationStateCompleted
	// ReservationStatePending means another request is still processing this key.
	ReservationStatePending
)

// Reservation is the result of Reserve. Owner is set for new reservations and must be passed back
// to SaveResponse and Release.
type Reservation struct {
	State  ReservationState
	Owner  string
	Record Record
}

// Record captures the persisted state for one key.
type Record struct {
	Key             string
	Fingerprint     string
	Owner           string
	Status          Status
	ResponseStatus  int
	ResponseHeaders map[string][]string
	ResponseBody    []byte
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ExpiresAt       time.Time
}

func (r Record) expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// Response represents the HTTP response that should be stored for future replays.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// Store persists idempotency reservations and responses.
type Store interface {
	Reserve(ctx context.Context, key, fingerprint string, now time.Time, pendingTTL time.Duration) (Reservation, error)
	SaveResponse(ctx context.Context, key, owner string, resp Response, now time.Time, ttl time.Duration) error
	Release(ctx context.Context, key, owner string) error
}

// Sweeper is implemented by stores without native expiry.
type Sweeper interface {
	CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

var (
	// ErrFingerprintMismatch is returned when a key is reused for a different request.
	ErrFingerprintMismatch = errors.New("idempotency: key reserved for different request fingerprint")
	// ErrNotOwner is returned when a response is saved by a request that no longer owns the key.
	ErrNotOwner = errors.New("idempotency: reservation is owned by another request")
)

func documentID(key string) string {
	return sha256Hex([]byte(strings.TrimSpace(key)))
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func completeRecord(record Record, resp Response, now time.Time, ttl time.Duration) Record {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	record.Status = StatusCompleted
	record.ResponseStatus = resp.Status
	record.ResponseHeaders = sanitizeHeaders(resp.Headers)
	record.ResponseBody = nil
	if len(resp.Body) > 0 {
		record.ResponseBody = append([]byte(nil), resp.Body...)
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	record.ExpiresAt = now.Add(ttl)
	return record
}

func pendingRecord(key, fingerprint, owner string, now time.Time, ttl time.Duration) Record {
	if ttl <= 0 {
		ttl = DefaultPendingTTL
	}
	return Record{
		Key:         key,
		Fingerprint: fingerprint,
		Owner:       owner,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
}

func classify(record Record, fingerprint string) (Reservation, error) {
	if record.Fingerprint != fingerprint {
		return Reservation{}, ErrFingerprintMismatch
	}
	if record.Status == StatusCompleted {
		return Reservation{State: ReservationStateCompleted, Record: record}, nil
	}
	return Reservation{State: ReservationStatePending, Record: record}, nil
}

func sanitizeHeaders(header http.Header) map[string][]string {
	if len(header) == 0 {
		return nil
	}
	filtered := make(map[string][]string, len(header))
	for name, values := range header {
		canonical := http.CanonicalHeaderKey(name)
		if shouldOmitHeader(canonical) {
			continue
		}
		filtered[canonical] = append([]string(nil), values...)
	}
	if len(filtered) == 0 {
		return nil
	}
	return filtered
}

func shouldOmitHeader(name string) bool {
	switch strings.ToLower(name) {
	case "content-length", "date", "connection", "keep-alive", "set-cookie", "te", "trailers", "transfer-encoding", "upgrade", "x-request-id":
		return true
	default:
		return false
	}
}

func headersFromRecord(values map[string][]string) http.Header {
	header := make(http.Header, len(values))
	for name, vals := range values {
		header[name] = append([]string(nil), vals...)
	}
	return header
}
