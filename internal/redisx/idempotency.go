package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const pendingMarker = "pending"

// StoredResponse is the first response given for an idempotency key.
type StoredResponse struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// Claim is the outcome of trying to take an idempotency key.
type Claim struct {
	Acquired bool
	// Replay is set when an earlier request with the same key completed.
	Replay *StoredResponse
}

// InFlight reports that another request holds the key and has not finished.
func (c Claim) InFlight() bool { return !c.Acquired && c.Replay == nil }

type Idempotency struct {
	rdb *redis.Client
}

func NewIdempotency(rdb *redis.Client) *Idempotency { return &Idempotency{rdb: rdb} }

// Claim takes the key with a short-lived pending marker (SETNX). A stale
// marker expires on its own if the holder dies.
func (s *Idempotency) Claim(ctx context.Context, userID, key string) (Claim, error) {
	k := fmt.Sprintf(KeyIdemOrderCreate, userID, key)
	ok, err := s.rdb.SetNX(ctx, k, pendingMarker, TTLIdemPending).Result()
	if err != nil {
		return Claim{}, err
	}
	if ok {
		return Claim{Acquired: true}, nil
	}

	v, err := s.rdb.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		// expired antara SETNX dan GET, coba sekali lagi
		return s.Claim(ctx, userID, key)
	}
	if err != nil {
		return Claim{}, err
	}
	if v == pendingMarker {
		return Claim{}, nil
	}
	var resp StoredResponse
	if err := json.Unmarshal([]byte(v), &resp); err != nil {
		return Claim{}, fmt.Errorf("decode stored response: %w", err)
	}
	return Claim{Replay: &resp}, nil
}

// Complete stores the final response for replays.
func (s *Idempotency) Complete(ctx context.Context, userID, key string, resp StoredResponse) error {
	b, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, fmt.Sprintf(KeyIdemOrderCreate, userID, key), b, TTLIdempotency).Err()
}

// Release drops the claim so the same key can be retried, used after
// failures the client is expected to retry.
func (s *Idempotency) Release(ctx context.Context, userID, key string) error {
	return s.rdb.Del(ctx, fmt.Sprintf(KeyIdemOrderCreate, userID, key)).Err()
}
