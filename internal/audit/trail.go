// Package audit maintains a tamper-evident, hash-chained record of material
// actions. Every entry hashes its own content together with the previous
// entry's hash, so editing, deleting or inserting an entry breaks the chain.
package audit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ppiankov/missionctl/internal/identity"
)

// Trail records and verifies entries over a Store.
type Trail struct {
	store Store
	id    identity.Context
	mu    sync.Mutex
}

// NewTrail returns a trail writing to store and stamping entries from id.
func NewTrail(store Store, id identity.Context) *Trail {
	return &Trail{store: store, id: id}
}

// Record links e to the current tail and appends it. Missing actor, host
// and timestamp are filled from the trail's identity. Writers are
// serialized so the chain cannot fork within one process.
func (t *Trail) Record(ctx context.Context, e AuditEntry) (AuditEntry, error) {
	if strings.TrimSpace(e.Action) == "" {
		return AuditEntry{}, fmt.Errorf("audit: action is required")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if e.Actor == "" {
		e.Actor = orUnknown(t.id.Actor)
	}
	if e.Host == "" {
		e.Host = orUnknown(t.id.Host)
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = t.id.Now()
	}
	e.Timestamp = e.Timestamp.UTC().Truncate(time.Millisecond)

	last, ok, err := t.store.LastAudit(ctx)
	if err != nil {
		return AuditEntry{}, fmt.Errorf("audit: read tail: %w", err)
	}
	e.PreviousHash = GenesisHash
	if ok {
		e.PreviousHash = last.EntryHash
	}
	e.EntryHash = ComputeHash(e)

	stored, err := t.store.AppendAudit(ctx, e)
	if err != nil {
		return AuditEntry{}, fmt.Errorf("audit: append: %w", err)
	}
	return stored, nil
}

// VerifyResult holds the outcome of a hash chain verification.
type VerifyResult struct {
	Valid   bool `json:"valid"`
	Entries int  `json:"entries"`
	// BrokenAt is the zero-based index of the first bad entry, -1 if none.
	BrokenAt int    `json:"broken_at"`
	Error    string `json:"error,omitempty"`
}

// VerifyIntegrity walks the trail oldest to newest, recomputing every hash
// and link. It never returns an error: storage failures yield Valid=false.
func (t *Trail) VerifyIntegrity(ctx context.Context) VerifyResult {
	entries, err := t.store.ListAudit(ctx)
	if err != nil {
		return VerifyResult{BrokenAt: -1, Error: fmt.Sprintf("read: %v", err)}
	}
	return VerifyEntries(entries)
}

// VerifyEntries validates an oldest-first slice of entries.
func VerifyEntries(entries []AuditEntry) VerifyResult {
	prevHash := GenesisHash
	var prevID int64
	for i, e := range entries {
		if e.PreviousHash != prevHash {
			return VerifyResult{
				Entries:  len(entries),
				BrokenAt: i,
				Error:    fmt.Sprintf("entry %d: previous hash is %s, expected %s", i, e.PreviousHash, prevHash),
			}
		}
		if i > 0 && e.ID <= prevID {
			return VerifyResult{
				Entries:  len(entries),
				BrokenAt: i,
				Error:    fmt.Sprintf("entry %d: id %d does not follow %d", i, e.ID, prevID),
			}
		}
		if got := ComputeHash(e); got != e.EntryHash {
			return VerifyResult{
				Entries:  len(entries),
				BrokenAt: i,
				Error:    fmt.Sprintf("entry %d: hash mismatch: computed %s, stored %s", i, got, e.EntryHash),
			}
		}
		prevHash = e.EntryHash
		prevID = e.ID
	}
	return VerifyResult{Valid: true, Entries: len(entries), BrokenAt: -1}
}

// Filter selects entries for Query. Zero fields do not filter.
type Filter struct {
	Action string
	// Target matches as a substring.
	Target string
	From   time.Time
	To     time.Time
	Limit  int
}

// Match reports whether e passes the filter (ignoring Limit).
func (f Filter) Match(e AuditEntry) bool {
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.Target != "" && !strings.Contains(e.Target, f.Target) {
		return false
	}
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.Timestamp.After(f.To) {
		return false
	}
	return true
}

// Query returns matching entries, newest first.
func (t *Trail) Query(ctx context.Context, f Filter) ([]AuditEntry, error) {
	entries, err := t.store.ListAudit(ctx)
	if err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	out := []AuditEntry{}
	for i := len(entries) - 1; i >= 0; i-- {
		if !f.Match(entries[i]) {
			continue
		}
		out = append(out, entries[i])
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "unknown"
	}
	return s
}
