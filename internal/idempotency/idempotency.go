// Package idempotency makes ride-request and payment-capture retries safe.
// Records live in Redis under (endpoint, subject, client key); a request
// first claims an in-flight placeholder, then swaps in the stored response
// once the handler commits. Concurrent duplicates wait on the placeholder
// instead of executing twice.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/veloride/veloride/internal/apperr"
)

// completeScript replaces the placeholder with the final record only if the
// placeholder still belongs to this request. A placeholder that expired and
// was re-claimed by a retry is left alone.
var completeScript = redis.NewScript(`
local cur = redis.call("GET", KEYS[1])
if cur and cjson.decode(cur)["token"] == ARGV[2] then
	redis.call("SET", KEYS[1], ARGV[1], "EX", ARGV[3])
	return 1
end
return 0
`)

// abortScript drops the placeholder so a retry can execute fresh after a
// failure that stored nothing.
var abortScript = redis.NewScript(`
local cur = redis.call("GET", KEYS[1])
if cur and cjson.decode(cur)["token"] == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type recordState string

const (
	stateInflight recordState = "inflight"
	stateDone     recordState = "done"
)

type record struct {
	State       recordState     `json:"state"`
	Token       string          `json:"token,omitempty"`
	Fingerprint string          `json:"fingerprint"`
	StatusCode  int             `json:"status_code,omitempty"`
	Body        json.RawMessage `json:"body,omitempty"`
}

// Stored is a replayed response for a key that already completed.
type Stored struct {
	StatusCode int
	Body       json.RawMessage
}

// storage is the record store underneath Store. claim atomically creates an
// in-flight placeholder, load reads the current record (found=false when the
// key is absent or expired), and complete/abort swap or drop the record only
// while the token still matches the placeholder.
type storage interface {
	claim(ctx context.Context, key string, placeholder []byte, ttl time.Duration) (bool, error)
	load(ctx context.Context, key string) (data []byte, found bool, err error)
	complete(ctx context.Context, key, token string, final []byte, ttl time.Duration) error
	abort(ctx context.Context, key, token string) error
}

type redisStorage struct {
	rdb *redis.Client
}

func (r redisStorage) claim(ctx context.Context, key string, placeholder []byte, ttl time.Duration) (bool, error) {
	return r.rdb.SetNX(ctx, key, placeholder, ttl).Result()
}

func (r redisStorage) load(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := r.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

func (r redisStorage) complete(ctx context.Context, key, token string, final []byte, ttl time.Duration) error {
	return completeScript.Run(ctx, r.rdb, []string{key}, final, token, int(ttl.Seconds())).Err()
}

func (r redisStorage) abort(ctx context.Context, key, token string) error {
	return abortScript.Run(ctx, r.rdb, []string{key}, token).Err()
}

// Store persists idempotency records in Redis.
type Store struct {
	store        storage
	ttl          time.Duration
	inflightWait time.Duration
	timeout      time.Duration
	pollEvery    time.Duration
}

func NewStore(rdb *redis.Client, ttl, inflightWait, timeout time.Duration) *Store {
	return &Store{
		store:        redisStorage{rdb: rdb},
		ttl:          ttl,
		inflightWait: inflightWait,
		timeout:      timeout,
		pollEvery:    100 * time.Millisecond,
	}
}

func recordKey(endpoint, subject, clientKey string) string {
	return fmt.Sprintf("idem:%s:%s:%s", endpoint, subject, clientKey)
}

// Fingerprint hashes the semantically relevant request fields. Fields are
// serialized in sorted-key order so two JSON bodies that mean the same
// thing hash the same.
func Fingerprint(fields map[string]any) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		b, _ := json.Marshal(fields[k])
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write(b)
		h.Write([]byte{';'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Begin claims the key for this request. The return values are mutually
// exclusive: a non-empty token means the caller owns the key and must call
// Complete or Abort; a non-nil Stored is the replayed earlier response.
//
// A duplicate whose fingerprint differs from the original request is
// rejected, whether the original is still running or already done.
func (s *Store) Begin(ctx context.Context, endpoint, subject, clientKey, fingerprint string) (token string, replay *Stored, err error) {
	key := recordKey(endpoint, subject, clientKey)
	token = uuid.NewString()

	placeholder, _ := json.Marshal(record{
		State:       stateInflight,
		Token:       token,
		Fingerprint: fingerprint,
	})

	deadline := time.Now().Add(s.inflightWait)
	for {
		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		ok, serr := s.store.claim(callCtx, key, placeholder, s.inflightWait)
		cancel()
		if serr != nil {
			return "", nil, apperr.Unavailable("idempotency_store", "idempotency store unreachable").Wrap(serr)
		}
		if ok {
			return token, nil, nil
		}

		callCtx, cancel = context.WithTimeout(ctx, s.timeout)
		data, found, gerr := s.store.load(callCtx, key)
		cancel()
		if gerr != nil {
			return "", nil, apperr.Unavailable("idempotency_store", "idempotency store unreachable").Wrap(gerr)
		}
		if !found {
			// Placeholder expired between the claim and the read; retry.
			continue
		}

		var rec record
		if uerr := json.Unmarshal(data, &rec); uerr != nil {
			return "", nil, fmt.Errorf("decode idempotency record: %w", uerr)
		}
		if rec.Fingerprint != fingerprint {
			return "", nil, apperr.Conflict("idempotency_key_reuse",
				"idempotency key was already used with a different request")
		}
		if rec.State == stateDone {
			return "", &Stored{StatusCode: rec.StatusCode, Body: rec.Body}, nil
		}

		// Original is still executing; wait for it to finish.
		if time.Now().After(deadline) {
			return "", nil, apperr.Conflict("request_in_flight",
				"an identical request is still being processed")
		}
		select {
		case <-ctx.Done():
			return "", nil, ctx.Err()
		case <-time.After(s.pollEvery):
		}
	}
}

// Complete stores the final response under the key for the retention TTL.
func (s *Store) Complete(ctx context.Context, endpoint, subject, clientKey, token, fingerprint string, statusCode int, body []byte) error {
	final, _ := json.Marshal(record{
		State:       stateDone,
		Fingerprint: fingerprint,
		StatusCode:  statusCode,
		Body:        body,
	})

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	key := recordKey(endpoint, subject, clientKey)
	if err := s.store.complete(ctx, key, token, final, s.ttl); err != nil {
		return fmt.Errorf("complete idempotency record: %w", err)
	}
	return nil
}

// Abort releases the claim after a failure so the client can retry.
func (s *Store) Abort(ctx context.Context, endpoint, subject, clientKey, token string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	key := recordKey(endpoint, subject, clientKey)
	if err := s.store.abort(ctx, key, token); err != nil {
		return fmt.Errorf("abort idempotency record: %w", err)
	}
	return nil
}
