package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/ppiankov/missionctl/internal/bundle"
	"github.com/ppiankov/missionctl/internal/config"
)

// setupEnv points config, state and home at a temp dir and returns it.
func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("MISSIONCTL_STATE_DIR", filepath.Join(dir, "state"))
	configPath = filepath.Join(dir, "missing-config.yaml")
	logOutput = io.Discard
	t.Cleanup(func() {
		configPath = ""
		logOutput = os.Stderr
	})
	return dir
}

func writeInputs(t *testing.T, dir string) (profilePath, packPath, overlayPath string) {
	t.Helper()
	profilePath = filepath.Join(dir, "profile.yaml")
	packPath = filepath.Join(dir, "pack.yaml")
	overlayPath = filepath.Join(dir, "site.yaml")
	files := map[string]string{
		profilePath: "id: srv\nname: Server\n",
		packPath: `pack:
  id: rhel9
  name: RHEL 9
  version: v2r1
  released_at: 2024-01-01T00:00:00Z
controls:
  - rule_id: SV-1r1
    vuln_id: V-1
    title: SSH protocol
    severity: high
  - rule_id: SV-2r1
    vuln_id: V-2
    title: Audit rules
    severity: medium
`,
		overlayPath: `id: site
overrides:
  - vuln_id: V-2
    status: not_applicable
    reason: handled centrally
`,
	}
	for path, content := range files {
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return profilePath, packPath, overlayPath
}

func newTestCmd() (*cobra.Command, *bytes.Buffer) {
	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)
	return cmd, &buf
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"generic", errors.New("boom"), 1},
		{"config", fmt.Errorf("load: %w", config.ErrInvalidConfig), 78},
		{"tampered", errAuditTampered, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Errorf("exitCode = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestInvalidConfigSurfacesSentinel(t *testing.T) {
	setupEnv(t)
	t.Setenv("MISSIONCTL_AUDIT_BACKEND", "postgres")
	cmd, _ := newTestCmd()
	err := runMissionList(cmd, nil)
	if !errors.Is(err, config.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestBuildMissionAudit(t *testing.T) {
	dir := setupEnv(t)
	profilePath, packPath, overlayPath := writeInputs(t, dir)
	outputRoot := filepath.Join(dir, "bundles")

	buildOpts = buildFlags{
		profile:    profilePath,
		pack:       packPath,
		overlays:   []string{overlayPath},
		outputRoot: outputRoot,
		bundleID:   "b1",
	}
	t.Cleanup(func() { buildOpts = buildFlags{} })

	cmd, out := newTestCmd()
	if err := runBuild(cmd, nil); err != nil {
		t.Fatalf("build: %v\n%s", err, out)
	}
	root := filepath.Join(outputRoot, "b1")
	if !strings.Contains(out.String(), "Not applicable: 1") {
		t.Errorf("build summary missing NA count:\n%s", out)
	}
	if !bundle.IsComplete(root) {
		t.Fatal("bundle has no hash manifest")
	}

	// Building the same id again needs --overwrite.
	if err := runBuild(cmd, nil); !errors.Is(err, bundle.ErrBundleExists) {
		t.Fatalf("expected ErrBundleExists, got %v", err)
	}

	cmd, out = newTestCmd()
	if err := runBundleVerify(cmd, []string{root}); err != nil {
		t.Fatalf("bundle verify: %v\n%s", err, out)
	}

	missionRunID = "run-1"
	t.Cleanup(func() { missionRunID = "" })
	cmd, out = newTestCmd()
	if err := runMission(cmd, []string{root}); err != nil {
		t.Fatalf("mission run: %v\n%s", err, out)
	}
	if !strings.Contains(out.String(), "Completed") {
		t.Errorf("expected completed run:\n%s", out)
	}
	if _, err := os.Stat(filepath.Join(root, filepath.FromSlash(bundle.EvidenceIndexPath))); err != nil {
		t.Errorf("evidence index not written: %v", err)
	}

	cmd, out = newTestCmd()
	timelineJSON = true
	t.Cleanup(func() { timelineJSON = false })
	if err := runMissionTimeline(cmd, []string{"run-1"}); err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if !strings.Contains(out.String(), `"status": "Completed"`) {
		t.Errorf("unexpected timeline JSON:\n%s", out)
	}

	cmd, out = newTestCmd()
	if err := runAuditVerify(cmd, nil); err != nil {
		t.Fatalf("audit verify: %v\n%s", err, out)
	}
	if !strings.Contains(out.String(), "valid") {
		t.Errorf("unexpected verify output: %s", out)
	}

	queryAction = "bundle-build"
	t.Cleanup(func() { queryAction = "" })
	cmd, out = newTestCmd()
	if err := runAuditQuery(cmd, nil); err != nil {
		t.Fatalf("audit query: %v", err)
	}
	// One success and one ErrBundleExists failure.
	if got := strings.Count(out.String(), "bundle-build"); got != 2 {
		t.Errorf("expected 2 bundle-build entries, got %d:\n%s", got, out)
	}
}

func TestBundleVerifyDetectsTamper(t *testing.T) {
	dir := setupEnv(t)
	profilePath, packPath, _ := writeInputs(t, dir)
	buildOpts = buildFlags{profile: profilePath, pack: packPath, outputRoot: filepath.Join(dir, "out"), bundleID: "b2"}
	t.Cleanup(func() { buildOpts = buildFlags{} })

	cmd, _ := newTestCmd()
	if err := runBuild(cmd, nil); err != nil {
		t.Fatal(err)
	}
	root := filepath.Join(dir, "out", "b2")
	if err := os.WriteFile(filepath.Join(root, filepath.FromSlash(bundle.ManifestPath)), []byte("{}"), 0644); err != nil {
		t.Fatal(err)
	}

	cmd, out := newTestCmd()
	err := runBundleVerify(cmd, []string{root})
	if !errors.Is(err, errBundleInvalid) {
		t.Fatalf("expected errBundleInvalid, got %v", err)
	}
	if !strings.Contains(out.String(), "MODIFIED   "+bundle.ManifestPath) {
		t.Errorf("expected modified manifest line:\n%s", out)
	}
}

func TestAuditVerifyCorruptLogIsInvalid(t *testing.T) {
	tests := []struct {
		name string
		use  func(t *testing.T, path string)
	}{
		{"file flag", func(t *testing.T, path string) {
			auditVerifyFile = path
			t.Cleanup(func() { auditVerifyFile = "" })
		}},
		{"jsonl backend", func(t *testing.T, path string) {
			t.Setenv("MISSIONCTL_AUDIT_BACKEND", "jsonl")
			t.Setenv("MISSIONCTL_AUDIT_LOG", path)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := setupEnv(t)
			path := filepath.Join(dir, "audit.jsonl")
			if err := os.WriteFile(path, []byte("not json\n"), 0600); err != nil {
				t.Fatal(err)
			}
			tt.use(t, path)

			cmd, out := newTestCmd()
			err := runAuditVerify(cmd, nil)
			if !errors.Is(err, errAuditTampered) {
				t.Fatalf("expected errAuditTampered, got %v", err)
			}
			if !strings.Contains(out.String(), "BROKEN at entry 0") {
				t.Errorf("expected broken chain report:\n%s", out)
			}
		})
	}
}

func TestMissionBreakGlassRejected(t *testing.T) {
	dir := setupEnv(t)
	profilePath, packPath, _ := writeInputs(t, dir)
	buildOpts = buildFlags{profile: profilePath, pack: packPath, outputRoot: filepath.Join(dir, "out"), bundleID: "b3"}
	missionSkipVerify = true
	t.Cleanup(func() {
		buildOpts = buildFlags{}
		missionSkipVerify = false
	})

	cmd, _ := newTestCmd()
	if err := runBuild(cmd, nil); err != nil {
		t.Fatal(err)
	}
	cmd, _ = newTestCmd()
	err := runMission(cmd, []string{filepath.Join(dir, "out", "b3")})
	if err == nil {
		t.Fatal("expected break-glass error without acknowledgment")
	}

	cmd, out := newTestCmd()
	if err := runMissionList(cmd, nil); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "No mission runs recorded.") {
		t.Errorf("rejected mission must not create a run:\n%s", out)
	}
}

func TestProfileInitAndShow(t *testing.T) {
	dir := setupEnv(t)
	initOutput = filepath.Join(dir, "custom.yaml")
	t.Cleanup(func() { initOutput = "" })

	cmd, out := newTestCmd()
	if err := runProfileInit(cmd, []string{"custom"}); err != nil {
		t.Fatal(err)
	}
	if err := runProfileInit(cmd, []string{"custom"}); err == nil {
		t.Fatal("expected refusal to overwrite")
	}

	cmd, out = newTestCmd()
	if err := runProfileShow(cmd, []string{initOutput}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "tag desktop") {
		t.Errorf("expected scope rule in output:\n%s", out)
	}
}
