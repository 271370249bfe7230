// Package memorystate keeps workflow snapshots in process memory. Snapshots
// are stored in their JSON form so nothing outlives a transition except
// serializable data, the same as with the durable stores.
package memorystate

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nathantilsley/machine-sentry/internal/visualize/domain"
)

// Store implements ports.StateStorePort.
type Store struct {
	mu     sync.Mutex
	data   map[string][]byte
	leases map[string]lease
	now    func() time.Time
}

type lease struct {
	owner   string
	expires time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{
		data:   make(map[string][]byte),
		leases: make(map[string]lease),
		now:    time.Now,
	}
}

// Save stores snap under its ID.
func (s *Store) Save(_ context.Context, snap domain.Snapshot) error {
	b, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[snap.ID] = b
	return nil
}

// Load returns the snapshot stored under id.
func (s *Store) Load(_ context.Context, id string) (domain.Snapshot, error) {
	s.mu.Lock()
	b, ok := s.data[id]
	s.mu.Unlock()
	if !ok {
		return domain.Snapshot{}, domain.NewNotFoundError("workflow "+id, "")
	}
	var snap domain.Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return domain.Snapshot{}, fmt.Errorf("decoding snapshot %s: %w", id, err)
	}
	return snap, nil
}

// ListActive returns the sorted IDs of non-terminal snapshots.
func (s *Store) ListActive(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.data))
	for id := range s.data {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	var active []string
	for _, id := range ids {
		snap, err := s.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		if !snap.State.Terminal() {
			active = append(active, id)
		}
	}
	sort.Strings(active)
	return active, nil
}

// AcquireLease claims id for owner until ttl elapses.
func (s *Store) AcquireLease(_ context.Context, id, owner string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if l, ok := s.leases[id]; ok && l.owner != owner && now.Before(l.expires) {
		return false, nil
	}
	s.leases[id] = lease{owner: owner, expires: now.Add(ttl)}
	return true, nil
}

// ReleaseLease drops owner's claim on id.
func (s *Store) ReleaseLease(_ context.Context, id, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l, ok := s.leases[id]; ok && l.owner == owner {
		delete(s.leases, id)
	}
	return nil
}
