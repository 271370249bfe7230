// Package redisstate persists workflow snapshots in Redis.
package redisstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nathantilsley/machine-sentry/internal/visualize/domain"
)

const (
	keyWorkflow = "workflow:"
	keyActive   = "workflows:active"
	keyLease    = "lease:"
)

// acquireLease sets the lease when it is free or already held by ARGV[1].
var acquireLease = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur == false or cur == ARGV[1] then
  redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
  return 1
end
return 0
`)

// releaseLease deletes the lease only when ARGV[1] holds it.
var releaseLease = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// Store implements ports.StateStorePort. Each snapshot lives under its own
// key; the IDs of non-terminal runs are kept in a set for start-up resumes.
type Store struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewStoreFromURL connects to redisURL and checks the connection. Terminal
// snapshots expire after ttl; zero keeps them forever.
func NewStoreFromURL(ctx context.Context, redisURL, prefix string, ttl time.Duration) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", opts.Addr, err)
	}

	return NewStoreFromClient(client, prefix, ttl), nil
}

// NewStoreFromClient wraps an existing client.
func NewStoreFromClient(client *redis.Client, prefix string, ttl time.Duration) *Store {
	return &Store{client: client, prefix: prefix, ttl: ttl}
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) workflowKey(id string) string {
	return s.prefix + keyWorkflow + id
}

// Save writes the snapshot and updates the active set in one transaction.
func (s *Store) Save(ctx context.Context, snap domain.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	pipe := s.client.TxPipeline()
	if snap.State.Terminal() {
		pipe.Set(ctx, s.workflowKey(snap.ID), data, s.ttl)
		pipe.SRem(ctx, s.prefix+keyActive, snap.ID)
	} else {
		pipe.Set(ctx, s.workflowKey(snap.ID), data, 0)
		pipe.SAdd(ctx, s.prefix+keyActive, snap.ID)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Load reads the snapshot stored under id.
func (s *Store) Load(ctx context.Context, id string) (domain.Snapshot, error) {
	data, err := s.client.Get(ctx, s.workflowKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Snapshot{}, domain.NewNotFoundError("workflow "+id, "")
	}
	if err != nil {
		return domain.Snapshot{}, err
	}

	var snap domain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.Snapshot{}, fmt.Errorf("decoding snapshot %s: %w", id, err)
	}
	return snap, nil
}

// ListActive returns the sorted IDs of non-terminal runs.
func (s *Store) ListActive(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.prefix+keyActive).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

// AcquireLease claims id for owner. The lease key expires on its own, so a
// crashed runner frees the run after ttl.
func (s *Store) AcquireLease(ctx context.Context, id, owner string, ttl time.Duration) (bool, error) {
	n, err := acquireLease.Run(ctx, s.client, []string{s.prefix + keyLease + id}, owner, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("acquiring lease on %s: %w", id, err)
	}
	return n == 1, nil
}

// ReleaseLease drops owner's claim on id.
func (s *Store) ReleaseLease(ctx context.Context, id, owner string) error {
	if err := releaseLease.Run(ctx, s.client, []string{s.prefix + keyLease + id}, owner).Err(); err != nil {
		return fmt.Errorf("releasing lease on %s: %w", id, err)
	}
	return nil
}
