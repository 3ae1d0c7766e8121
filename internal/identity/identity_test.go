package identity

import (
	"strings"
	"testing"
	"time"
)

func TestFixedClockAdvance(t *testing.T) {
	start := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	c := NewFixedClock(start)
	if !c.Now().Equal(start) {
		t.Fatalf("expected %v, got %v", start, c.Now())
	}
	c.Advance(time.Minute)
	if !c.Now().Equal(start.Add(time.Minute)) {
		t.Fatalf("expected advanced clock, got %v", c.Now())
	}
}

func TestContextNowFallsBackToSystemClock(t *testing.T) {
	before := time.Now().UTC()
	got := Context{}.Now()
	after := time.Now().UTC()
	if got.Before(before) || got.After(after) {
		t.Errorf("now %v not between %v and %v", got, before, after)
	}
}

func TestFromEnvironmentFillsFields(t *testing.T) {
	ctx := FromEnvironment()
	if ctx.Actor == "" || ctx.Host == "" {
		t.Fatalf("expected actor and host, got %+v", ctx)
	}
	if ctx.Clock == nil {
		t.Fatal("expected clock")
	}
}

func TestNewIDPrefix(t *testing.T) {
	id := NewID("run")
	if !strings.HasPrefix(id, "run-") {
		t.Errorf("expected run- prefix, got %q", id)
	}
	if NewID("run") == id {
		t.Error("expected unique ids")
	}
	if !strings.Contains(NewID(""), "-") {
		t.Error("expected bare uuid to contain dashes")
	}
}
