// Package breakglass gates high-risk mission flags behind an explicit
// acknowledgment and a written justification.
package breakglass

import (
	"fmt"
	"sort"
	"strings"
)

// Flag names one high-risk bypass.
type Flag string

const (
	// FlagSkipSnapshot skips the pre-change system snapshot.
	FlagSkipSnapshot Flag = "skip-snapshot"
	// FlagSkipVerify skips both verification tools.
	FlagSkipVerify Flag = "skip-verify"
)

// Request carries the bypass flags of one mission and the operator's
// acknowledgment.
type Request struct {
	SkipSnapshot bool
	SkipVerify   bool
	Acknowledge  bool
	Reason       string
}

// Flags returns the high-risk flags set on r, sorted.
func (r Request) Flags() []Flag {
	var flags []Flag
	if r.SkipSnapshot {
		flags = append(flags, FlagSkipSnapshot)
	}
	if r.SkipVerify {
		flags = append(flags, FlagSkipVerify)
	}
	sort.Slice(flags, func(i, j int) bool { return flags[i] < flags[j] })
	return flags
}

// Active reports whether any high-risk flag is set.
func (r Request) Active() bool {
	return len(r.Flags()) > 0
}

// Error is returned when high-risk flags are set without acknowledgment or
// without a reason.
type Error struct {
	Flags   []Flag
	Missing []string
}

func (e *Error) Error() string {
	names := make([]string, len(e.Flags))
	for i, f := range e.Flags {
		names[i] = string(f)
	}
	return fmt.Sprintf("break-glass: %s requires %s",
		strings.Join(names, ", "), strings.Join(e.Missing, " and "))
}

// Check returns nil when no high-risk flag is set or the request is
// acknowledged with a non-empty reason, and *Error otherwise.
func Check(r Request) error {
	flags := r.Flags()
	if len(flags) == 0 {
		return nil
	}
	var missing []string
	if !r.Acknowledge {
		missing = append(missing, "--acknowledge")
	}
	if strings.TrimSpace(r.Reason) == "" {
		missing = append(missing, "a non-empty --reason")
	}
	if len(missing) > 0 {
		return &Error{Flags: flags, Missing: missing}
	}
	return nil
}

// Detail renders the audit detail for an acknowledged bypass.
func Detail(r Request) string {
	names := make([]string, 0, 2)
	for _, f := range r.Flags() {
		names = append(names, string(f))
	}
	return fmt.Sprintf("reason=%s; flags=%s", strings.TrimSpace(r.Reason), strings.Join(names, ","))
}
