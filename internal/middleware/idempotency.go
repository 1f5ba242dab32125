package middleware

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/cassiomorais/onramp/internal/repository/postgres"
	"github.com/rs/zerolog"
)

const (
	maxIdempotencyBodySize = 1 << 20

	// claimTTL bounds how long a crashed request can hold its key.
	claimTTL             = 2 * time.Minute
	storeTimeout         = 5 * time.Second
	IdempotencyKeyHeader = "Idempotency-Key"
	ReplayedHeader       = "X-Idempotency-Replayed"
)

// IdempotencyStore keeps the first response per key. Claim reserves a key
// before the request runs; Set completes the claim and Release abandons it.
type IdempotencyStore interface {
	Claim(ctx context.Context, entry *postgres.IdempotencyEntry) (bool, error)
	Get(ctx context.Context, key string) (*postgres.IdempotencyEntry, error)
	Set(ctx context.Context, entry *postgres.IdempotencyEntry) error
	Release(ctx context.Context, key string) error
}

// Idempotency replays the stored response for a repeated Idempotency-Key.
// Reusing a key with a different request body is rejected with 422, and a
// repeat that arrives while the first request is still running gets 409.
// Responses with status 500 and above are not stored so the client may retry.
func Idempotency(store IdempotencyStore, ttl time.Duration, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(IdempotencyKeyHeader)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxIdempotencyBodySize+1))
			if err != nil {
				writeError(w, http.StatusBadRequest, "validation_error", "could not read request body")
				return
			}
			if len(body) > maxIdempotencyBodySize {
				writeError(w, http.StatusRequestEntityTooLarge, "validation_error", "request body too large")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			hash := requestHash(r, body)

			now := time.Now()
			claimed, err := store.Claim(r.Context(), &postgres.IdempotencyEntry{
				Key:         key,
				RequestHash: hash,
				CreatedAt:   now,
				ExpiresAt:   now.Add(min(claimTTL, ttl)),
			})
			if err != nil {
				logger.Warn().Err(err).Str("idempotency_key", key).Msg("Idempotency claim failed, processing request")
			}
			if err == nil && !claimed {
				entry, err := store.Get(r.Context(), key)
				if err != nil {
					logger.Warn().Err(err).Str("idempotency_key", key).Msg("Idempotency lookup failed, processing request")
				}
				if entry != nil {
					replay(w, entry, hash)
					return
				}
			}

			rec := &responseRecorder{ResponseWriter: w, body: &bytes.Buffer{}, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r)

			// The response is already sent; bookkeeping must not follow a canceled client.
			ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), storeTimeout)
			defer cancel()

			if rec.statusCode >= 200 && rec.statusCode < 500 && !rec.bodyTruncated {
				now := time.Now()
				if err := store.Set(ctx, &postgres.IdempotencyEntry{
					Key:            key,
					RequestHash:    hash,
					ResponseBody:   rec.body.String(),
					ResponseStatus: rec.statusCode,
					CreatedAt:      now,
					ExpiresAt:      now.Add(ttl),
				}); err != nil {
					logger.Error().Err(err).Str("idempotency_key", key).Msg("Failed to store idempotent response")
				}
				return
			}
			if claimed {
				if err := store.Release(ctx, key); err != nil {
					logger.Error().Err(err).Str("idempotency_key", key).Msg("Failed to release idempotency key")
				}
			}
		})
	}
}

func replay(w http.ResponseWriter, entry *postgres.IdempotencyEntry, hash string) {
	if entry.RequestHash != "" && entry.RequestHash != hash {
		writeError(w, http.StatusUnprocessableEntity, "idempotency_conflict",
			"Idempotency-Key was already used with a different request")
		return
	}
	if entry.ResponseStatus == 0 {
		writeError(w, http.StatusConflict, "request_in_progress",
			"A request with this Idempotency-Key is still being processed")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(ReplayedHeader, "true")
	w.WriteHeader(entry.ResponseStatus)
	w.Write([]byte(entry.ResponseBody))
}

func requestHash(r *http.Request, body []byte) string {
	h := sha256.New()
	h.Write([]byte(r.Method))
	h.Write([]byte{0})
	h.Write([]byte(r.URL.Path))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

type responseRecorder struct {
	http.ResponseWriter
	statusCode    int
	body          *bytes.Buffer
	bodyTruncated bool
}

func (r *responseRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	if !r.bodyTruncated {
		if r.body.Len()+len(b) > maxIdempotencyBodySize {
			r.bodyTruncated = true
		} else {
			r.body.Write(b)
		}
	}
	return r.ResponseWriter.Write(b)
}

func (r *responseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return hijack(r.ResponseWriter)
}

func (r *responseRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
