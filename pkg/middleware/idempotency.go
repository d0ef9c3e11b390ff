package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	apperrors "appointments/pkg/errors"
	"appointments/pkg/keys"
	"appointments/pkg/logger"

	"github.com/go-redis/redis/v8"
)

const IdempotencyHeader = "Idempotency-Key"

var ErrRequestInFlight = errors.New("request with this idempotency key is in progress")

type IdempotencyStore interface {
	// Begin claims key for a new request. It returns the stored response when
	// the key already completed, or ErrRequestInFlight while another request
	// holds the claim.
	Begin(ctx context.Context, key string) (*CachedResponse, error)
	Complete(ctx context.Context, key string, response *CachedResponse) error
	// Abandon drops the claim so the client may retry with the same key.
	Abandon(ctx context.Context, key string) error
}

type CachedResponse struct {
	StatusCode int         `json:"status_code"`
	Headers    http.Header `json:"headers"`
	Body       []byte      `json:"body"`
	CreatedAt  time.Time   `json:"created_at"`
}

type idempotencyEntry struct {
	Done     bool            `json:"done"`
	Response *CachedResponse `json:"response,omitempty"`
}

// RedisIdempotencyStore keeps entries under idempotency:<key>. Claims expire
// after inFlightTTL so a crashed request does not block the key forever.
type RedisIdempotencyStore struct {
	client      redis.Cmdable
	ttl         time.Duration
	inFlightTTL time.Duration
}

func NewRedisIdempotencyStore(client redis.Cmdable, ttl, inFlightTTL time.Duration) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client, ttl: ttl, inFlightTTL: inFlightTTL}
}

func (s *RedisIdempotencyStore) Begin(ctx context.Context, key string) (*CachedResponse, error) {
	claim, err := json.Marshal(idempotencyEntry{})
	if err != nil {
		return nil, err
	}

	ok, err := s.client.SetNX(ctx, keys.Idempotency(key), claim, s.inFlightTTL).Result()
	if err != nil {
		return nil, err
	}
	if ok {
		return nil, nil
	}

	raw, err := s.client.Get(ctx, keys.Idempotency(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrRequestInFlight
		}
		return nil, err
	}
	var entry idempotencyEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, err
	}
	if !entry.Done || entry.Response == nil {
		return nil, ErrRequestInFlight
	}
	return entry.Response, nil
}

func (s *RedisIdempotencyStore) Complete(ctx context.Context, key string, response *CachedResponse) error {
	response.CreatedAt = time.Now().UTC()
	raw, err := json.Marshal(idempotencyEntry{Done: true, Response: response})
	if err != nil {
		return err
	}
	return s.client.Set(ctx, keys.Idempotency(key), raw, s.ttl).Err()
}

func (s *RedisIdempotencyStore) Abandon(ctx context.Context, key string) error {
	return s.client.Del(ctx, keys.Idempotency(key)).Err()
}

type responseCapture struct {
	http.ResponseWriter
	statusCode int
	body       *bytes.Buffer
}

func (rc *responseCapture) WriteHeader(statusCode int) {
	rc.statusCode = statusCode
	rc.ResponseWriter.WriteHeader(statusCode)
}

func (rc *responseCapture) Write(b []byte) (int, error) {
	rc.body.Write(b)
	return rc.ResponseWriter.Write(b)
}

// Idempotency replays the stored 2xx response for a repeated key on the same
// method and path. A repeat that arrives while the first request is still
// running gets 409. Store errors let the request through unprotected.
func Idempotency(store IdempotencyStore, headerName string, log *logger.Logger) func(http.Handler) http.Handler {
	if headerName == "" {
		headerName = IdempotencyHeader
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientKey := r.Header.Get(headerName)
			if clientKey == "" || r.Method == http.MethodGet {
				next.ServeHTTP(w, r)
				return
			}
			key := r.Method + ":" + r.URL.Path + ":" + clientKey

			cached, err := store.Begin(r.Context(), key)
			switch {
			case errors.Is(err, ErrRequestInFlight):
				_ = apperrors.WriteError(w, apperrors.Conflict("A request with this idempotency key is already in progress"))
				return
			case err != nil:
				log.Warn("Idempotency store unavailable, processing request", "request_id", RequestID(r), "error", err)
				next.ServeHTTP(w, r)
				return
			case cached != nil:
				log.Debug("Replaying idempotent response", "request_id", RequestID(r), "status", cached.StatusCode)
				replayCachedResponse(w, cached)
				return
			}

			capture := captureResponse(w)
			next.ServeHTTP(capture, r)

			storeCtx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 2*time.Second)
			defer cancel()
			if shouldCacheResponse(capture.statusCode) {
				cachedResp := &CachedResponse{
					StatusCode: capture.statusCode,
					Headers:    w.Header().Clone(),
					Body:       capture.body.Bytes(),
				}
				cachedResp.Headers.Del(RequestIDHeader)
				if err := store.Complete(storeCtx, key, cachedResp); err != nil {
					log.Warn("Failed to store idempotent response", "request_id", RequestID(r), "error", err)
				}
				return
			}
			if err := store.Abandon(storeCtx, key); err != nil {
				log.Warn("Failed to release idempotency key", "request_id", RequestID(r), "error", err)
			}
		})
	}
}

func replayCachedResponse(w http.ResponseWriter, cached *CachedResponse) {
	for key, values := range cached.Headers {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	w.Header().Set("Idempotent-Replayed", "true")
	w.WriteHeader(cached.StatusCode)
	_, _ = w.Write(cached.Body)
}

func captureResponse(w http.ResponseWriter) *responseCapture {
	return &responseCapture{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
		body:           &bytes.Buffer{},
	}
}

func shouldCacheResponse(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}
