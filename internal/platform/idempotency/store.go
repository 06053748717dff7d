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

// DefaultTTL bounds how long a stored checkout response stays replayable.
// Stripe keeps its own idempotency records for 24h, so matching that window
// keeps client retries consistent across both layers.
const DefaultTTL = 24 * time.Hour

// Status is the lifecycle state of a stored record.
type Status string

const (
	// StatusPending marks a key that is reserved while the first attempt is
	// still executing.
	StatusPending Status = "pending"
	// StatusCompleted marks a key whose response has been captured and can be
	// replayed verbatim.
	StatusCompleted Status = "completed"
)

// ReservationState is the verdict of a Reserve call.
type ReservationState int

const (
	// ReservationStateNew lets the caller run the request for the first time.
	ReservationStateNew ReservationState = iota
	// ReservationStateCompleted means a prior response exists and must be
	// replayed instead of re-running the request.
	ReservationStateCompleted
	// ReservationStatePending means a concurrent attempt holds the key.
	ReservationStatePending
)

// Reservation pairs the verdict with the stored record, when one exists.
type Reservation struct {
	State  ReservationState
	Record Record
}

// Record is the persisted form of one idempotency key: the fingerprint that
// bound it and the response captured for replay.
type Record struct {
	Key             string
	Fingerprint     string
	Status          Status
	ResponseStatus  int
	ResponseHeaders map[string][]string
	ResponseBody    []byte
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ExpiresAt       time.Time
}

// expiredAt reports whether the record is past its retention window.
func (r Record) expiredAt(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// Response is the subset of an HTTP response worth replaying.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// Store is the persistence contract behind the middleware. Implementations
// must treat Reserve as an atomic compare-and-set on the key.
type Store interface {
	Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error)
	SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error
	Release(ctx context.Context, key, fingerprint string) error
	CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

// ErrFingerprintMismatch signals that a key was reused for a materially
// different request, which is a client bug rather than a retry.
var ErrFingerprintMismatch = errors.New("idempotency: key reserved for different request fingerprint")

// compositeKey derives the storage id from the scoped key. The key already
// carries the requester scope (see scopedKey in the middleware), so hashing
// it alone keeps ids opaque and fixed-length without leaking the raw header.
func compositeKey(key, _ string) string {
	return sha256Hex([]byte(strings.TrimSpace(key)))
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// hop-by-hop and per-response headers that must not be replayed.
var nonReplayableHeaders = map[string]struct{}{
	"content-length":      {},
	"date":                {},
	"connection":          {},
	"keep-alive":          {},
	"proxy-authenticate":  {},
	"proxy-authorization": {},
	"te":                  {},
	"trailers":            {},
	"transfer-encoding":   {},
	"upgrade":             {},
}

func sanitizeHeaders(header http.Header) map[string][]string {
	if len(header) == 0 {
		return nil
	}

	stored := make(map[string][]string, len(header))
	for name, values := range header {
		canonical := http.CanonicalHeaderKey(name)
		if _, omit := nonReplayableHeaders[strings.ToLower(canonical)]; omit {
			continue
		}
		stored[canonical] = append([]string(nil), values...)
	}
	if len(stored) == 0 {
		return nil
	}
	return stored
}

func headersFromRecord(values map[string][]string) http.Header {
	header := make(http.Header, len(values))
	for name, vals := range values {
		header[name] = append([]string(nil), vals...)
	}
	return header
}
