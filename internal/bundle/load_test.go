package bundle

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ppiankov/missionctl/internal/identity"
	"github.com/ppiankov/missionctl/internal/integrity"
	"github.com/ppiankov/missionctl/internal/model"
)

func buildTestBundle(t *testing.T) string {
	t.Helper()
	res, err := testBuilder().Build(context.Background(), testRequest(t.TempDir()))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return res.Root
}

func TestLoadRoundTrip(t *testing.T) {
	root := buildTestBundle(t)

	m, err := LoadManifest(root)
	if err != nil {
		t.Fatal(err)
	}
	if m.BundleID != "b-1" || m.ProfileID != "server" || m.Pack.ID != "rhel9" || !m.CreatedAt.Equal(buildTime) {
		t.Fatalf("unexpected manifest %+v", m)
	}
	if m.Totals.Controls != 4 || m.Totals.OutOfScope != 1 || m.Totals.Applicable != 3 {
		t.Errorf("unexpected totals %+v", m.Totals)
	}

	controls, err := LoadControls(root)
	if err != nil || len(controls) != 4 {
		t.Fatalf("LoadControls: %d controls, err %v", len(controls), err)
	}

	decisions, err := LoadDecisions(root)
	if err != nil {
		t.Fatal(err)
	}
	var sawNA bool
	for _, d := range decisions {
		if d.Outcome.Status.Is(model.StatusNotApplicable) {
			sawNA = true
		}
	}
	if !sawNA {
		t.Errorf("NotApplicable status override lost in round trip: %+v", decisions)
	}

	overlays, err := LoadOverlays(root)
	if err != nil || len(overlays) != 2 || overlays[0].ID != "site" {
		t.Fatalf("LoadOverlays: %+v, err %v", overlays, err)
	}
}

func TestLoadMissingBundle(t *testing.T) {
	if _, err := LoadDecisions(t.TempDir()); err == nil {
		t.Fatal("expected error for missing decisions")
	}
}

func TestVerifyBundle(t *testing.T) {
	root := buildTestBundle(t)

	report, err := Verify(root, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !report.Valid {
		t.Fatalf("fresh bundle should verify: %+v", report)
	}

	os.WriteFile(filepath.Join(root, DirVerify, "scap.xml"), []byte("<results/>"), 0644)
	report, _ = Verify(root, nil)
	if !report.Valid || len(report.Extra) != 1 {
		t.Fatalf("mission output should be an extra, not a failure: %+v", report)
	}

	os.WriteFile(filepath.Join(root, filepath.FromSlash(ReviewRequiredPath)), []byte("key\n"), 0644)
	report, _ = Verify(root, nil)
	if report.Valid || len(report.Modified) != 1 || report.Modified[0] != ReviewRequiredPath {
		t.Fatalf("tampered report not detected: %+v", report)
	}

	os.WriteFile(filepath.Join(root, DirReports, "injected.csv"), []byte("x"), 0644)
	report, _ = Verify(root, nil)
	if len(report.Unexpected) != 1 {
		t.Fatalf("file added under Reports/ should be unexpected: %+v", report)
	}
}

func TestEvidenceCollector(t *testing.T) {
	root := buildTestBundle(t)
	os.MkdirAll(filepath.Join(root, DirVerify, "scap"), 0755)
	os.WriteFile(filepath.Join(root, DirVerify, "scap", "results.xml"), []byte("<r/>"), 0644)
	os.WriteFile(filepath.Join(root, DirApply, "apply.log"), []byte("ok\n"), 0644)

	c := EvidenceCollector{Hasher: integrity.SHA256Hasher{}, Clock: identity.NewFixedClock(buildTime)}
	index, err := c.Collect(context.Background(), root)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(index.Files) != 2 || index.Files[0].Path != "Apply/apply.log" || index.Files[1].Path != "Verify/scap/results.xml" {
		t.Fatalf("unexpected evidence files %+v", index.Files)
	}
	if index.Files[0].Size != 3 || !integrity.IsHexDigest(index.Files[0].SHA256) {
		t.Errorf("unexpected evidence entry %+v", index.Files[0])
	}
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(EvidenceIndexPath)))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"bundle_id": "b-1"`) {
		t.Errorf("unexpected index:\n%s", data)
	}
}

func TestEvidenceCollectorCancelled(t *testing.T) {
	root := buildTestBundle(t)
	os.WriteFile(filepath.Join(root, DirVerify, "out.txt"), []byte("x"), 0644)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := (EvidenceCollector{}).Collect(ctx, root); err == nil {
		t.Fatal("expected cancellation error")
	}
}

func TestLoadPackAndOverlayFiles(t *testing.T) {
	dir := t.TempDir()
	pack := filepath.Join(dir, "pack.yaml")
	os.WriteFile(pack, []byte(`pack:
  id: rhel9
  name: RHEL 9
  version: v2r1
  released_at: 2025-05-01T00:00:00Z
controls:
  - rule_id: SV-1r1
    vuln_id: V-1
    title: First
    severity: high
    tags: [ssh]
`), 0644)
	ov := filepath.Join(dir, "site.yaml")
	os.WriteFile(ov, []byte(`id: site
overrides:
  - vuln_id: V-1
    status: not_applicable
    reason: no sshd
  - vuln_id: V-2
    notes: commentary only
`), 0644)

	pf, err := LoadPackFile(pack)
	if err != nil {
		t.Fatalf("LoadPackFile: %v", err)
	}
	if pf.Pack.ID != "rhel9" || pf.Pack.ReleasedAt.IsZero() || len(pf.Controls) != 1 {
		t.Fatalf("unexpected pack %+v", pf)
	}

	overlays, err := LoadOverlayFiles([]string{ov})
	if err != nil {
		t.Fatalf("LoadOverlayFiles: %v", err)
	}
	if !overlays[0].Overrides[0].Status.Is(model.StatusNotApplicable) {
		t.Errorf("status alias not parsed: %+v", overlays[0].Overrides[0])
	}
	if overlays[0].Overrides[1].Status.IsSet() {
		t.Error("absent status must be NoOverride")
	}

	bad := filepath.Join(dir, "bad.yaml")
	os.WriteFile(bad, []byte("id: bad\noverrides:\n  - vuln_id: V-1\n  - vuln_id: v-1\n"), 0644)
	if _, err := LoadOverlayFile(bad); err == nil {
		t.Error("expected duplicate key error")
	}
}
