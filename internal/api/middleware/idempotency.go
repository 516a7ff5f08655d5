package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/dvloznov/ledger-core/internal/domain"
	"github.com/dvloznov/ledger-core/internal/logger"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// HeaderIdempotencyKey names the client-chosen key of a retried request.
const HeaderIdempotencyKey = "Idempotency-Key"

// HeaderIdempotencyHit is set on replayed responses.
const HeaderIdempotencyHit = "X-Idempotency-Hit"

// StoredResponse is a captured reply to a keyed request.
type StoredResponse struct {
	Status int    `json:"status"`
	Body   []byte `json:"body"`
}

// IdempotencyStore remembers responses by key. Reserve claims a key before
// the handler runs so a concurrent duplicate cannot execute it again; Put
// replaces the reservation with the response and Release drops a
// reservation that produced nothing worth replaying.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) (*StoredResponse, error)
	Reserve(ctx context.Context, key string) (bool, error)
	Put(ctx context.Context, key string, resp StoredResponse) error
	Release(ctx context.Context, key string) error
}

// ReservationTTL bounds how long a crashed request can hold a key.
const ReservationTTL = time.Minute

// Idempotency replays the stored response when a request repeats an
// Idempotency-Key. A repeat that arrives while the first request is still
// running gets 409. Only 2xx responses are stored, so a rejected request can
// be retried under the same key.
func Idempotency(store IdempotencyStore) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := c.Get(HeaderIdempotencyKey)
		if key == "" {
			return c.Next()
		}
		scoped := c.Method() + " " + c.Path() + " " + key
		ctx := c.UserContext()
		log := logger.FromContext(ctx)

		if cached := lookup(c, store, scoped, key); cached != nil {
			return replay(c, cached, key)
		}

		reserved, rerr := store.Reserve(ctx, scoped)
		if rerr != nil {
			// Fail open.
			log.Error().Err(rerr).Str("key", key).Msg("Idempotency reservation failed")
			return c.Next()
		}
		if !reserved {
			if cached := lookup(c, store, scoped, key); cached != nil {
				return replay(c, cached, key)
			}
			log.Warn().Str("key", key).Msg("Idempotency key already in flight")
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(1))
			return WriteJSON(c, http.StatusConflict, ErrorResponse{
				Error: "a request with this Idempotency-Key is still in progress",
				Kind:  domain.KindStateConflict,
			})
		}

		stored := false
		defer func() {
			if stored {
				return
			}
			if relErr := store.Release(context.WithoutCancel(ctx), scoped); relErr != nil {
				log.Error().Err(relErr).Str("key", key).Msg("Failed to release idempotency key")
			}
		}()

		if err := c.Next(); err != nil {
			return err
		}

		status := c.Response().StatusCode()
		if status < 200 || status > 299 {
			return nil
		}
		body := append([]byte(nil), c.Response().Body()...)
		if perr := store.Put(ctx, scoped, StoredResponse{Status: status, Body: body}); perr != nil {
			log.Error().Err(perr).Str("key", key).Msg("Failed to save idempotency key")
			return nil
		}
		stored = true
		return nil
	}
}

func lookup(c *fiber.Ctx, store IdempotencyStore, scoped, key string) *StoredResponse {
	cached, err := store.Get(c.UserContext(), scoped)
	if err != nil {
		log := logger.FromContext(c.UserContext())
		log.Error().Err(err).Str("key", key).Msg("Idempotency lookup failed")
		return nil
	}
	return cached
}

func replay(c *fiber.Ctx, cached *StoredResponse, key string) error {
	log := logger.FromContext(c.UserContext())
	log.Info().Str("key", key).Msg("Idempotency hit, replaying response")
	c.Set(HeaderIdempotencyHit, "true")
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Status(cached.Status).Send(cached.Body)
}

// MemoryIdempotencyStore keeps responses in process for ttl.
type MemoryIdempotencyStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]memoryEntry
}

// memoryEntry with a nil resp is a reservation.
type memoryEntry struct {
	resp    *StoredResponse
	expires time.Time
}

func NewMemoryIdempotencyStore(ttl time.Duration) *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{ttl: ttl, now: time.Now, entries: make(map[string]memoryEntry)}
}

// live returns the unexpired entry for key. Callers hold mu.
func (s *MemoryIdempotencyStore) live(key string) (memoryEntry, bool) {
	e, ok := s.entries[key]
	if ok && s.now().After(e.expires) {
		delete(s.entries, key)
		return memoryEntry{}, false
	}
	return e, ok
}

func (s *MemoryIdempotencyStore) Get(_ context.Context, key string) (*StoredResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(key)
	if !ok || e.resp == nil {
		return nil, nil
	}
	resp := *e.resp
	return &resp, nil
}

func (s *MemoryIdempotencyStore) Reserve(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.live(key); ok {
		return false, nil
	}
	s.entries[key] = memoryEntry{expires: s.now().Add(ReservationTTL)}
	return true, nil
}

func (s *MemoryIdempotencyStore) Put(_ context.Context, key string, resp StoredResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.live(key); ok && e.resp != nil {
		return nil
	}
	s.entries[key] = memoryEntry{resp: &resp, expires: s.now().Add(s.ttl)}
	return nil
}

func (s *MemoryIdempotencyStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok && e.resp == nil {
		delete(s.entries, key)
	}
	return nil
}

// RedisIdempotencyStore shares responses between API replicas. A
// reservation is stored as a response with status 0.
type RedisIdempotencyStore struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
}

func NewRedisIdempotencyStore(client redis.UniversalClient, ttl time.Duration) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client, ttl: ttl, prefix: "idempotency:"}
}

var reservationMarker = []byte(`{"status":0}`)

// releaseScript deletes the key only while it still holds the reservation.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (s *RedisIdempotencyStore) Get(ctx context.Context, key string) (*StoredResponse, error) {
	raw, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("RedisIdempotencyStore.Get: %w", err)
	}
	var resp StoredResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("RedisIdempotencyStore.Get: decode: %w", err)
	}
	if resp.Status == 0 {
		return nil, nil
	}
	return &resp, nil
}

func (s *RedisIdempotencyStore) Reserve(ctx context.Context, key string) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.prefix+key, reservationMarker, ReservationTTL).Result()
	if err != nil {
		return false, fmt.Errorf("RedisIdempotencyStore.Reserve: %w", err)
	}
	return ok, nil
}

func (s *RedisIdempotencyStore) Put(ctx context.Context, key string, resp StoredResponse) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("RedisIdempotencyStore.Put: encode: %w", err)
	}
	if err := s.client.Set(ctx, s.prefix+key, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("RedisIdempotencyStore.Put: %w", err)
	}
	return nil
}

func (s *RedisIdempotencyStore) Release(ctx context.Context, key string) error {
	if err := releaseScript.Run(ctx, s.client, []string{s.prefix + key}, reservationMarker).Err(); err != nil {
		return fmt.Errorf("RedisIdempotencyStore.Release: %w", err)
	}
	return nil
}
