package integrity

import (
	"bufio"
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ppiankov/missionctl/internal/model"
)

// CollectEntries hashes every regular file under root except the paths in
// skip (slash-separated, relative to root). Entries are sorted by path so
// the result does not depend on directory iteration order.
func CollectEntries(root string, h Hasher, skip ...string) ([]model.FileHashEntry, error) {
	skipped := make(map[string]bool, len(skip))
	for _, s := range skip {
		skipped[filepath.ToSlash(s)] = true
	}

	var rels []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if skipped[rel] {
			return nil
		}
		rels = append(rels, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("integrity: walk %s: %w", root, err)
	}
	sort.Strings(rels)

	entries := make([]model.FileHashEntry, 0, len(rels))
	for _, rel := range rels {
		sum, err := h.HashFile(filepath.Join(root, filepath.FromSlash(rel)))
		if err != nil {
			return nil, err
		}
		entries = append(entries, model.FileHashEntry{SHA256: sum, Path: rel})
	}
	return entries, nil
}

// WriteManifest hashes the bundle at root and writes the manifest to
// manifestRel, which is excluded from its own listing.
func WriteManifest(root, manifestRel string, h Hasher) ([]model.FileHashEntry, error) {
	entries, err := CollectEntries(root, h, manifestRel)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(root, filepath.FromSlash(manifestRel))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("integrity: create manifest dir: %w", err)
	}
	if err := os.WriteFile(path, FormatManifest(entries), 0644); err != nil {
		return nil, fmt.Errorf("integrity: write manifest: %w", err)
	}
	return entries, nil
}

// FormatManifest renders entries as "<sha256>  <path>" lines.
func FormatManifest(entries []model.FileHashEntry) []byte {
	var b bytes.Buffer
	for _, e := range entries {
		b.WriteString(e.SHA256)
		b.WriteString("  ")
		b.WriteString(e.Path)
		b.WriteByte('\n')
	}
	return b.Bytes()
}

// ParseManifest parses "<sha256>  <path>" lines. Blank lines are ignored.
func ParseManifest(data []byte) ([]model.FileHashEntry, error) {
	var entries []model.FileHashEntry
	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		// Format: "hash  path" (two spaces)
		parts := strings.SplitN(line, "  ", 2)
		if len(parts) != 2 || parts[1] == "" {
			return nil, fmt.Errorf("integrity: manifest line %d: invalid format", lineNum)
		}
		if !IsHexDigest(parts[0]) {
			return nil, fmt.Errorf("integrity: manifest line %d: invalid digest %q", lineNum, parts[0])
		}
		entries = append(entries, model.FileHashEntry{SHA256: strings.ToLower(parts[0]), Path: parts[1]})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("integrity: scan manifest: %w", err)
	}
	return entries, nil
}

// VerifyReport is the outcome of re-hashing a bundle against its manifest.
type VerifyReport struct {
	Valid    bool     `json:"valid"`
	Checked  int      `json:"checked"`
	Missing  []string `json:"missing,omitempty"`
	Modified []string `json:"modified,omitempty"`
	// Extra lists files present on disk but absent from the manifest.
	// They do not invalidate the bundle when allowExtra accepts them.
	Extra      []string `json:"extra,omitempty"`
	Unexpected []string `json:"unexpected,omitempty"`
}

// VerifyBundle re-hashes root and compares it with the manifest at
// manifestRel. Files missing or modified since the build invalidate the
// bundle; files not listed invalidate it unless allowExtra accepts them.
func VerifyBundle(root, manifestRel string, h Hasher, allowExtra func(rel string) bool) (*VerifyReport, error) {
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(manifestRel)))
	if err != nil {
		return nil, fmt.Errorf("integrity: read manifest: %w", err)
	}
	expected, err := ParseManifest(data)
	if err != nil {
		return nil, err
	}
	actual, err := CollectEntries(root, h, manifestRel)
	if err != nil {
		return nil, err
	}

	computed := make(map[string]string, len(actual))
	for _, e := range actual {
		computed[e.Path] = e.SHA256
	}

	report := &VerifyReport{}
	listed := make(map[string]bool, len(expected))
	for _, exp := range expected {
		listed[exp.Path] = true
		report.Checked++
		sum, ok := computed[exp.Path]
		switch {
		case !ok:
			report.Missing = append(report.Missing, exp.Path)
		case sum != exp.SHA256:
			report.Modified = append(report.Modified, exp.Path)
		}
	}
	for _, e := range actual {
		if listed[e.Path] {
			continue
		}
		if allowExtra != nil && allowExtra(e.Path) {
			report.Extra = append(report.Extra, e.Path)
		} else {
			report.Unexpected = append(report.Unexpected, e.Path)
		}
	}

	report.Valid = len(report.Missing) == 0 && len(report.Modified) == 0 && len(report.Unexpected) == 0
	return report, nil
}
