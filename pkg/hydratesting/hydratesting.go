// Package hydratesting provides deterministic stand-ins for the clock, the block id
// generator and the token issuer.
package hydratesting

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hydranotes/hydra/pkg/identity"
	"github.com/hydranotes/hydra/pkg/models"
)

// TestSecret is the JWT secret used by MintToken.
const TestSecret = "hydra-test-secret"

// DefaultTime is the instant a new StubClock starts at.
var DefaultTime = time.Date(2024, time.January, 15, 10, 30, 0, 0, time.UTC)

// StubClock is a manually advanced clock.
type StubClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewStubClock returns a clock fixed at DefaultTime.
func NewStubClock() *StubClock {
	return &StubClock{now: DefaultTime}
}

func (c *StubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *StubClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// SequentialIDs generates predictable block ids: 00000000-0000-0000-0000-000000000001,
// then ...0002 and so on.
type SequentialIDs struct {
	mu   sync.Mutex
	next uint64
}

func (g *SequentialIDs) NewID() models.BlockID {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return SeqID(g.next)
}

// SeqID returns the n-th id SequentialIDs generates.
func SeqID(n uint64) models.BlockID {
	return models.NewBlockIDFromUUID(uuid.MustParse(fmt.Sprintf("00000000-0000-0000-0000-%012d", n)))
}

// MintToken issues an HS256 token for user signed with TestSecret.
func MintToken(t testing.TB, user models.UserID) string {
	t.Helper()
	issuer, err := identity.NewIssuer(TestSecret, "HS256", time.Hour)
	if err != nil {
		t.Fatalf("create issuer: %v", err)
	}
	token, err := issuer.Issue(identity.User{ID: user, Email: user.String() + "@example.com"})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}
