package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

// countingHandler answers with status and counts invocations.
func countingHandler(calls *int32, status int, body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	})
}

func post(h http.Handler, key string) *httptest.ResponseRecorder {
	return postBody(h, key, `{}`)
}

func postBody(h http.Handler, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/transfer", strings.NewReader(body))
	if key != "" {
		req.Header.Set(IdempotencyHeader, key)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestIdempotencyPassThroughWithoutKey(t *testing.T) {
	_, rdb := newRedis(t)
	var calls int32
	h := Idempotency(rdb, time.Hour, zap.NewNop())(countingHandler(&calls, http.StatusOK, `{"id":"1"}`))

	post(h, "")
	post(h, "")
	assert.Equal(t, int32(2), calls)
}

func TestIdempotencyReplaysSuccess(t *testing.T) {
	mr, rdb := newRedis(t)
	var calls int32
	h := Idempotency(rdb, time.Hour, zap.NewNop())(countingHandler(&calls, http.StatusOK, `{"id":"1"}`))

	first := post(h, "k1")
	require.Equal(t, http.StatusOK, first.Code)
	assert.Empty(t, first.Header().Get(ReplayHeader))

	second := post(h, "k1")
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "true", second.Header().Get(ReplayHeader))
	assert.Equal(t, `{"id":"1"}`, second.Body.String())
	assert.Equal(t, int32(1), calls)

	assert.True(t, mr.Exists(RedisKeyPrefix+"k1"))
	assert.Equal(t, time.Hour, mr.TTL(RedisKeyPrefix+"k1"))
	assert.False(t, mr.Exists(LockKeyPrefix+"k1"), "lock released")
}

func TestIdempotencyKeyReusedWithDifferentBody(t *testing.T) {
	_, rdb := newRedis(t)
	var calls int32
	h := Idempotency(rdb, time.Hour, zap.NewNop())(countingHandler(&calls, http.StatusOK, `{"id":"1"}`))

	first := postBody(h, "k5", `{"from":"A","to":"B","amount":30}`)
	require.Equal(t, http.StatusOK, first.Code)

	rr := postBody(h, "k5", `{"from":"A","to":"C","amount":30}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Contains(t, rr.Body.String(), `"error":"idempotency_mismatch"`)
	assert.Empty(t, rr.Header().Get(ReplayHeader))
	assert.Equal(t, int32(1), calls)

	same := postBody(h, "k5", `{"from":"A","to":"B","amount":30}`)
	assert.Equal(t, "true", same.Header().Get(ReplayHeader))
	assert.Equal(t, `{"id":"1"}`, same.Body.String())
}

func TestIdempotencyHandlerSeesFullBody(t *testing.T) {
	_, rdb := newRedis(t)
	var got string
	h := Idempotency(rdb, time.Hour, zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		got = string(b)
	}))

	postBody(h, "k6", `{"from":"A"}`)
	assert.Equal(t, `{"from":"A"}`, got)
}

func TestIdempotencyDoesNotCacheFailures(t *testing.T) {
	mr, rdb := newRedis(t)
	var calls int32
	h := Idempotency(rdb, time.Hour, zap.NewNop())(countingHandler(&calls, http.StatusUnprocessableEntity, `{"error":"insufficient_balance"}`))

	post(h, "k2")
	rr := post(h, "k2")
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Equal(t, int32(2), calls)
	assert.False(t, mr.Exists(RedisKeyPrefix+"k2"))
}

func TestIdempotencyConflictWhileLocked(t *testing.T) {
	mr, rdb := newRedis(t)
	require.NoError(t, mr.Set(LockKeyPrefix+"k3", "processing"))

	var calls int32
	h := Idempotency(rdb, time.Hour, zap.NewNop())(countingHandler(&calls, http.StatusOK, `{}`))

	rr := post(h, "k3")
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Contains(t, rr.Body.String(), `"error":"conflict"`)
	assert.Equal(t, int32(0), calls)
}

func TestIdempotencyRedisDown(t *testing.T) {
	mr, rdb := newRedis(t)
	mr.Close()

	core, logs := observer.New(zapcore.ErrorLevel)
	var calls int32
	h := Idempotency(rdb, time.Hour, zap.New(core))(countingHandler(&calls, http.StatusOK, `{}`))

	rr := post(h, "k4")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, int32(0), calls)
	assert.Equal(t, 1, logs.Len())
}

func TestRequestLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	var calls int32
	h := RequestLogger(zap.New(core))(countingHandler(&calls, http.StatusTeapot, `{}`))

	post(h, "")

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "http request", entry.Message)
	assert.Equal(t, int64(http.StatusTeapot), entry.ContextMap()["status"])
	assert.Equal(t, "/transfer", entry.ContextMap()["path"])
}
