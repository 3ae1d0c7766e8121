// Package bundle builds the self-contained, hash-manifested directory that
// a compliance mission runs against.
package bundle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ppiankov/missionctl/internal/classify"
	"github.com/ppiankov/missionctl/internal/identity"
	"github.com/ppiankov/missionctl/internal/integrity"
	"github.com/ppiankov/missionctl/internal/model"
	"github.com/ppiankov/missionctl/internal/overlay"
	"github.com/ppiankov/missionctl/internal/policy"
	"github.com/ppiankov/missionctl/internal/profile"
)

var (
	// ErrInvalidRequest wraps every request validation failure.
	ErrInvalidRequest = errors.New("bundle: invalid build request")
	// ErrBundleExists is returned when the target already holds a completed
	// bundle and Overwrite is not set.
	ErrBundleExists = errors.New("bundle: bundle already exists")
)

// BlockingConflictError aborts a build when overlays disagree on a final
// status and auto-apply was not forced.
type BlockingConflictError struct {
	Conflicts []policy.BlockingConflict
}

func (e *BlockingConflictError) Error() string {
	parts := make([]string, len(e.Conflicts))
	for i, c := range e.Conflicts {
		parts[i] = c.String()
	}
	return fmt.Sprintf("bundle: %d blocking overlay conflict(s): %s", len(e.Conflicts), strings.Join(parts, "; "))
}

// BuildRequest describes one bundle build.
type BuildRequest struct {
	// BundleID names the bundle directory under OutputRoot. Generated when
	// empty.
	BundleID       string
	OutputRoot     string
	Profile        *profile.Profile
	Pack           model.ContentPack
	Controls       []model.ControlRecord
	Overlays       []model.Overlay
	ForceAutoApply bool
	// Overwrite replaces an existing completed bundle with the same id.
	Overwrite   bool
	ToolVersion string
}

// BuildResult summarises a completed build.
type BuildResult struct {
	BundleID          string
	Root              string
	Manifest          model.BundleManifest
	Merge             overlay.MergeResult
	ReviewQueue       []policy.ReviewItem
	Gate              policy.GateDecision
	BlockingConflicts []policy.BlockingConflict
	Hashes            []model.FileHashEntry
}

// Builder produces bundles.
//
// A Builder holds no per-build state, so builds of different bundle ids may
// run concurrently. It takes no lock on the bundle directory: callers must
// not build the same bundle id into the same output root concurrently.
type Builder struct {
	Compiler classify.Compiler
	Hasher   integrity.Hasher
	Clock    identity.Clock
	Gate     policy.AgeGate
	// GateConfigHash is recorded in automation_gate.json.
	GateConfigHash string
	Logger         *log.Logger
}

// NewBuilder returns a builder with the default profile compiler and
// SHA-256 hasher.
func NewBuilder(clock identity.Clock, gate policy.AgeGate) *Builder {
	return &Builder{
		Compiler: classify.ProfileCompiler{},
		Hasher:   integrity.SHA256Hasher{},
		Clock:    clock,
		Gate:     gate,
	}
}

// Build compiles, merges and writes a bundle, finishing with the hash
// manifest. A blocking conflict leaves the bundle root and its empty
// layout in place but writes no manifest.
func (b *Builder) Build(ctx context.Context, req BuildRequest) (*BuildResult, error) {
	if err := b.validate(&req); err != nil {
		return nil, err
	}
	logger := b.logger()
	root := filepath.Join(req.OutputRoot, req.BundleID)

	if _, err := os.Stat(filepath.Join(root, filepath.FromSlash(HashManifestPath))); err == nil {
		if !req.Overwrite {
			return nil, fmt.Errorf("%w: %s", ErrBundleExists, root)
		}
		logger.Printf("bundle: overwriting %s", root)
		if err := os.RemoveAll(root); err != nil {
			return nil, fmt.Errorf("bundle: remove existing bundle: %w", err)
		}
	}
	if err := createLayout(root); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	compiled, err := b.Compiler.Compile(req.Profile, req.Controls)
	if err != nil {
		return nil, fmt.Errorf("bundle: compile controls: %w", err)
	}

	merge := overlay.Merge(compiled.Applicable, req.Overlays)

	now := b.now()
	gate := b.Gate.Evaluate(req.Pack, now, req.ForceAutoApply)
	gate.ConfigHash = b.GateConfigHash
	var widen func(model.ControlRecord) bool
	if gate.ReviewWidened {
		widen = func(c model.ControlRecord) bool { return b.Gate.IsRecent(c, now) }
		for _, c := range merge.Controls {
			if widen(c.Control) {
				gate.NewRules = append(gate.NewRules, c.Control.PrimaryKey())
			}
		}
		sort.Strings(gate.NewRules)
	}
	review := policy.BuildReviewQueue(merge.Controls, widen)

	blocking := policy.DetectBlockingConflicts(req.Overlays)
	if len(blocking) > 0 && !req.ForceAutoApply {
		logger.Printf("bundle: %s aborted with %d blocking conflict(s)", req.BundleID, len(blocking))
		return nil, &BlockingConflictError{Conflicts: blocking}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := writeReports(root, compiled, merge, review, blocking, gate); err != nil {
		return nil, err
	}

	manifest := model.BundleManifest{
		BundleID:    req.BundleID,
		ProfileID:   req.Profile.ID,
		ProfileName: req.Profile.DisplayName(),
		Pack:        req.Pack,
		CreatedAt:   now,
		ToolVersion: req.ToolVersion,
		Totals: model.ManifestTotals{
			Controls:         len(req.Controls),
			Applicable:       len(compiled.Applicable),
			OutOfScope:       len(compiled.OutOfScope),
			Overlays:         len(req.Overlays),
			Decisions:        len(merge.Decisions),
			Conflicts:        len(merge.Conflicts),
			BlockingConflict: len(blocking),
			ReviewQueue:      len(review),
			NotApplicable:    countNotApplicable(compiled, merge),
		},
	}
	if err := writeManifestFiles(root, manifest, req.Controls, req.Overlays, compiled.OutOfScope); err != nil {
		return nil, err
	}

	hashes, err := integrity.WriteManifest(root, HashManifestPath, b.Hasher)
	if err != nil {
		return nil, fmt.Errorf("bundle: write hash manifest: %w", err)
	}
	logger.Printf("bundle: built %s (%d applicable, %d review, %d files)",
		req.BundleID, len(compiled.Applicable), len(review), len(hashes))

	return &BuildResult{
		BundleID:          req.BundleID,
		Root:              root,
		Manifest:          manifest,
		Merge:             merge,
		ReviewQueue:       review,
		Gate:              gate,
		BlockingConflicts: blocking,
		Hashes:            hashes,
	}, nil
}

func (b *Builder) validate(req *BuildRequest) error {
	if strings.TrimSpace(req.OutputRoot) == "" {
		return fmt.Errorf("%w: output root is required", ErrInvalidRequest)
	}
	if info, err := os.Stat(req.OutputRoot); err == nil && !info.IsDir() {
		return fmt.Errorf("%w: output root %s is not a directory", ErrInvalidRequest, req.OutputRoot)
	}
	if req.BundleID == "" {
		req.BundleID = identity.NewID("bundle")
	}
	if req.BundleID == "." || req.BundleID == ".." || strings.ContainsAny(req.BundleID, `/\`) {
		return fmt.Errorf("%w: bundle id %q must be a single path element", ErrInvalidRequest, req.BundleID)
	}
	if req.Profile == nil || strings.TrimSpace(req.Profile.ID) == "" {
		return fmt.Errorf("%w: profile id is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(req.Pack.ID) == "" {
		return fmt.Errorf("%w: pack id is required", ErrInvalidRequest)
	}
	seen := make(map[string]bool, len(req.Overlays))
	for _, ov := range req.Overlays {
		if err := ov.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		if seen[ov.ID] {
			return fmt.Errorf("%w: duplicate overlay id %s", ErrInvalidRequest, ov.ID)
		}
		seen[ov.ID] = true
	}
	if b.Compiler == nil || b.Hasher == nil {
		return fmt.Errorf("%w: builder needs a compiler and a hasher", ErrInvalidRequest)
	}
	return nil
}

func (b *Builder) now() time.Time {
	if b.Clock == nil {
		return identity.SystemClock{}.Now()
	}
	return b.Clock.Now().UTC()
}

func (b *Builder) logger() *log.Logger {
	if b.Logger == nil {
		return log.New(io.Discard, "", 0)
	}
	return b.Logger
}

func countNotApplicable(compiled model.CompiledControls, merge overlay.MergeResult) int {
	n := len(compiled.OutOfScope)
	for _, c := range merge.Controls {
		if policy.IsNotApplicable(c) {
			n++
		}
	}
	return n
}
