// Package identity carries the actor, host and clock that stamp audit
// entries and timeline events. Nothing below the CLI reads the ambient
// environment directly; callers pass a Context instead.
package identity

import (
	"os"
	"os/user"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Clock abstracts time so tests can pin it.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock returns a pinned time until moved.
type FixedClock struct {
	mu      sync.Mutex
	current time.Time
}

// NewFixedClock creates a FixedClock at t.
func NewFixedClock(t time.Time) *FixedClock {
	return &FixedClock{current: t.UTC()}
}

// Now returns the pinned time.
func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Advance moves the pinned time forward by d.
func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

// Context identifies who is acting, from where, and when.
type Context struct {
	Actor string
	Host  string
	Clock Clock
}

// Now returns the context clock's time, falling back to the system clock.
func (c Context) Now() time.Time {
	if c.Clock == nil {
		return SystemClock{}.Now()
	}
	return c.Clock.Now().UTC()
}

// FromEnvironment builds a Context from the current OS user and hostname.
// Only the CLI should call this.
func FromEnvironment() Context {
	actor := "unknown"
	if u, err := user.Current(); err == nil && u.Username != "" {
		actor = u.Username
	} else if v := os.Getenv("USER"); v != "" {
		actor = v
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return Context{Actor: actor, Host: host, Clock: SystemClock{}}
}

// NewID returns a random identifier with the given prefix, e.g. "run-<uuid>".
func NewID(prefix string) string {
	id := uuid.NewString()
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), "-")
	if prefix == "" {
		return id
	}
	return prefix + "-" + id
}
