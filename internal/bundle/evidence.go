package bundle

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/ppiankov/missionctl/internal/identity"
	"github.com/ppiankov/missionctl/internal/integrity"
)

// EvidenceFile is one hashed artifact in the evidence index.
type EvidenceFile struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
}

// EvidenceIndex is written to Evidence/evidence_index.json.
type EvidenceIndex struct {
	BundleID    string         `json:"bundle_id"`
	CollectedAt time.Time      `json:"collected_at"`
	Files       []EvidenceFile `json:"files"`
}

// EvidenceCollector hashes mission outputs (verification results and
// apply logs) into the evidence index.
type EvidenceCollector struct {
	Hasher integrity.Hasher
	Clock  identity.Clock
}

// Collect walks Verify/ and Apply/ and writes the evidence index. It
// returns the index it wrote.
func (c EvidenceCollector) Collect(ctx context.Context, bundleRoot string) (*EvidenceIndex, error) {
	hasher := c.Hasher
	if hasher == nil {
		hasher = integrity.SHA256Hasher{}
	}
	clock := c.Clock
	if clock == nil {
		clock = identity.SystemClock{}
	}

	index := &EvidenceIndex{
		BundleID:    filepath.Base(bundleRoot),
		CollectedAt: clock.Now().UTC(),
		Files:       []EvidenceFile{},
	}
	for _, dir := range []string{DirVerify, DirApply} {
		base := filepath.Join(bundleRoot, dir)
		err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if os.IsNotExist(err) && path == base {
					return filepath.SkipDir
				}
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if !d.Type().IsRegular() {
				return nil
			}
			rel, err := filepath.Rel(bundleRoot, path)
			if err != nil {
				return err
			}
			sum, err := hasher.HashFile(path)
			if err != nil {
				return err
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			index.Files = append(index.Files, EvidenceFile{Path: filepath.ToSlash(rel), SHA256: sum, Size: info.Size()})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("bundle: collect evidence from %s: %w", dir, err)
		}
	}
	sort.Slice(index.Files, func(i, j int) bool { return index.Files[i].Path < index.Files[j].Path })

	data, err := marshalJSON(index)
	if err != nil {
		return nil, fmt.Errorf("bundle: render evidence index: %w", err)
	}
	if err := writeFile(bundleRoot, EvidenceIndexPath, data); err != nil {
		return nil, err
	}
	return index, nil
}
