package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultStateTTL bounds the external-login redirect round trip.
const DefaultStateTTL = 10 * time.Minute

const stateBytes = 24

// StateStore keeps single-use anti-forgery tokens for the external login
// redirect.
type StateStore interface {
	Create() (string, error)
	Register(ctx context.Context, state string) error
	// Consume removes state and reports whether it was registered and
	// unexpired. At most one caller observes true per registration.
	Consume(ctx context.Context, state string) bool
}

// NewState returns a random hex-encoded state token.
func NewState() (string, error) {
	buf := make([]byte, stateBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// MemoryStateStore is a process-local StateStore. Expired entries that are
// never consumed are removed by Sweep.
type MemoryStateStore struct {
	entries sync.Map // state -> time.Time expiry
	ttl     time.Duration
	clock   clockwork.Clock
}

// NewMemoryStateStore builds an empty store.
func NewMemoryStateStore(ttl time.Duration, clock clockwork.Clock) *MemoryStateStore {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryStateStore{ttl: ttl, clock: clock}
}

// Create generates a new state token.
func (s *MemoryStateStore) Create() (string, error) {
	return NewState()
}

// Register records state with an absolute expiry of now+ttl.
func (s *MemoryStateStore) Register(_ context.Context, state string) error {
	if _, loaded := s.entries.LoadOrStore(state, s.clock.Now().Add(s.ttl)); loaded {
		return ErrStateExists
	}
	return nil
}

// Consume deletes state and reports whether it was still valid. The
// delete happens before the expiry check so a late consumer can never
// revive an entry the sweeper is about to drop.
func (s *MemoryStateStore) Consume(_ context.Context, state string) bool {
	if state == "" {
		return false
	}
	value, loaded := s.entries.LoadAndDelete(state)
	if !loaded {
		return false
	}
	expiresAt := value.(time.Time)
	return !s.clock.Now().After(expiresAt)
}

// Sweep removes expired entries and returns how many were dropped.
func (s *MemoryStateStore) Sweep() int {
	now := s.clock.Now()
	removed := 0
	s.entries.Range(func(key, value any) bool {
		if now.After(value.(time.Time)) && s.entries.CompareAndDelete(key, value) {
			removed++
		}
		return true
	})
	return removed
}

// Len returns the number of pending states.
func (s *MemoryStateStore) Len() int {
	n := 0
	s.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
