package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/yashasviy/guarded-transfers-api/models"
)

const (
	// IdempotencyHeader is the standard HTTP header for idempotency keys
	IdempotencyHeader = "Idempotency-Key"

	// ReplayHeader marks a response served from the cache
	ReplayHeader = "X-Idempotency-Hit"

	// DefaultCacheTTL defines how long responses are cached in Redis
	DefaultCacheTTL = 24 * time.Hour

	// LockTimeout prevents indefinite locks if a request crashes
	LockTimeout = 10 * time.Second

	// RedisKeyPrefix for namespacing idempotency keys
	RedisKeyPrefix = "idempotency:"

	// LockKeyPrefix for namespacing distributed locks
	LockKeyPrefix = "lock:"
)

// cachedResponse is stored under an idempotency key. BodyHash ties the key to
// the request that produced Body.
type cachedResponse struct {
	BodyHash string `json:"body_hash"`
	Body     string `json:"body"`
}

func hashBody(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// responseRecorder captures HTTP responses for caching.
type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
}

func (rw *responseRecorder) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseRecorder) Write(b []byte) (int, error) {
	rw.body.Write(b)
	return rw.ResponseWriter.Write(b)
}

// Idempotency replays the stored response of a request that carried the same
// Idempotency-Key header and succeeded before. Requests without the header
// pass straight through to the transfer fingerprint window.
//
// Flow:
//  1. Look up a cached 2xx response for the key
//  2. Refuse with 422 if it was cached for a different request body
//  3. Take a short-lived lock so concurrent duplicates get 409
//  4. Run the handler and cache its body if it succeeded
func Idempotency(rdb redis.Cmdable, ttl time.Duration, logger *zap.Logger) func(http.Handler) http.Handler {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(IdempotencyHeader)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			// writes after the handler must outlive a disconnected client
			bg := context.WithoutCancel(ctx)
			cacheKey := RedisKeyPrefix + key
			lockKey := LockKeyPrefix + key
			log := logger.With(zap.String("idempotency_key", key))

			payload, err := io.ReadAll(r.Body)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_input", "Request body could not be read")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(payload))
			bodyHash := hashBody(payload)

			cached, err := rdb.Get(ctx, cacheKey).Result()
			switch {
			case err == nil:
				var entry cachedResponse
				if err := json.Unmarshal([]byte(cached), &entry); err != nil {
					log.Error("corrupt idempotency cache entry", zap.Error(err))
					writeError(w, http.StatusServiceUnavailable, "unavailable", "Idempotency store unavailable")
					return
				}
				if entry.BodyHash != bodyHash {
					log.Info("idempotency key reused with a different body")
					writeError(w, http.StatusUnprocessableEntity, "idempotency_mismatch", "This idempotency key was used for a different request")
					return
				}
				log.Debug("idempotency cache hit")
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set(ReplayHeader, "true")
				w.Write([]byte(entry.Body))
				return
			case !errors.Is(err, redis.Nil):
				log.Error("idempotency cache lookup failed", zap.Error(err))
				writeError(w, http.StatusServiceUnavailable, "unavailable", "Idempotency store unavailable")
				return
			}

			acquired, err := rdb.SetNX(ctx, lockKey, "processing", LockTimeout).Result()
			if err != nil {
				log.Error("idempotency lock acquisition failed", zap.Error(err))
				writeError(w, http.StatusServiceUnavailable, "unavailable", "Idempotency store unavailable")
				return
			}
			if !acquired {
				log.Info("concurrent request with same idempotency key")
				writeError(w, http.StatusConflict, "conflict", "A request with this idempotency key is currently being processed")
				return
			}
			defer func() {
				if err := rdb.Del(bg, lockKey).Err(); err != nil {
					log.Warn("failed to release idempotency lock", zap.Error(err))
				}
			}()

			rec := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r)

			if rec.statusCode < 200 || rec.statusCode >= 300 {
				return
			}
			entry, err := json.Marshal(cachedResponse{BodyHash: bodyHash, Body: rec.body.String()})
			if err != nil {
				log.Warn("failed to encode cached response", zap.Error(err))
				return
			}
			if err := rdb.Set(bg, cacheKey, entry, ttl).Err(); err != nil {
				log.Warn("failed to cache response", zap.Error(err))
				return
			}
			log.Debug("cached response", zap.Duration("ttl", ttl))
		})
	}
}

func writeError(w http.ResponseWriter, code int, kind, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(models.ErrorResponse{Error: kind, Message: msg})
}
