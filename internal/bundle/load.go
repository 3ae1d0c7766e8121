package bundle

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ppiankov/missionctl/internal/integrity"
	"github.com/ppiankov/missionctl/internal/model"
)

// LoadManifest reads Manifest/manifest.json.
func LoadManifest(root string) (model.BundleManifest, error) {
	var m model.BundleManifest
	err := readJSON(root, ManifestPath, &m)
	return m, err
}

// LoadDecisions reads the overlay decisions a build recorded.
func LoadDecisions(root string) ([]model.OverlayAppliedDecision, error) {
	var ds []model.OverlayAppliedDecision
	err := readJSON(root, OverlayDecisionsPath, &ds)
	return ds, err
}

// LoadControls reads the pack controls a build was made from.
func LoadControls(root string) ([]model.ControlRecord, error) {
	var cs []model.ControlRecord
	err := readJSON(root, PackControlsPath, &cs)
	return cs, err
}

// LoadOutOfScope reads the controls the profile excluded from a build.
func LoadOutOfScope(root string) ([]OutOfScopeEntry, error) {
	var es []OutOfScopeEntry
	err := readJSON(root, OutOfScopePath, &es)
	return es, err
}

// LoadOverlays reads the overlays a build was made from.
func LoadOverlays(root string) ([]model.Overlay, error) {
	var ovs []model.Overlay
	err := readJSON(root, OverlaysPath, &ovs)
	return ovs, err
}

// Verify re-hashes a bundle against its hash manifest. Files added after
// the build under Apply/, Verify/ or Evidence/ are mission outputs and are
// reported as extras without failing verification.
func Verify(root string, h integrity.Hasher) (*integrity.VerifyReport, error) {
	if h == nil {
		h = integrity.SHA256Hasher{}
	}
	return integrity.VerifyBundle(root, HashManifestPath, h, isMissionOutput)
}

func isMissionOutput(rel string) bool {
	for _, dir := range []string{DirApply, DirVerify, DirEvidence} {
		if strings.HasPrefix(rel, dir+"/") {
			return true
		}
	}
	return false
}

// IsComplete reports whether root holds a bundle with a hash manifest.
func IsComplete(root string) bool {
	_, err := os.Stat(filepath.Join(root, filepath.FromSlash(HashManifestPath)))
	return err == nil
}

func readJSON(root, rel string, v any) error {
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		return fmt.Errorf("bundle: read %s: %w", rel, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("bundle: parse %s: %w", rel, err)
	}
	return nil
}
