package extrafiles

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	initDir := t.TempDir()
	scratch := filepath.Join(initDir, ".snapcd-scratch")
	return NewManager(initDir, scratch, zerolog.Nop()), initDir
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	return string(raw)
}

func TestApplyCreatesAndOverwrites(t *testing.T) {
	mgr, initDir := newTestManager(t)

	// A module-owned file that injection will overwrite.
	existing := filepath.Join(initDir, "provider.tf")
	if err := os.WriteFile(existing, []byte("original provider"), 0o644); err != nil {
		t.Fatal(err)
	}

	err := mgr.Apply(map[string][]byte{
		"provider.tf":      []byte("injected provider"),
		"creds/token.json": []byte(`{"token":"abc"}`),
	})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	if got := readFile(t, existing); got != "injected provider" {
		t.Errorf("provider.tf = %q, want injected content", got)
	}
	if got := readFile(t, filepath.Join(initDir, "creds", "token.json")); got != `{"token":"abc"}` {
		t.Errorf("token.json = %q", got)
	}

	manifest, err := mgr.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(manifest.Created) != 1 || manifest.Created[0] != "creds/token.json" {
		t.Errorf("Created = %v, want [creds/token.json]", manifest.Created)
	}
	if len(manifest.Overwritten) != 1 || manifest.Overwritten[0] != "provider.tf" {
		t.Errorf("Overwritten = %v, want [provider.tf]", manifest.Overwritten)
	}

	backup := filepath.Join(initDir, ".snapcd-scratch", backupDirName, "provider.tf")
	if got := readFile(t, backup); got != "original provider" {
		t.Errorf("backup = %q, want original content", got)
	}
}

func TestRemoveRestoresAndCleansUp(t *testing.T) {
	mgr, initDir := newTestManager(t)

	existing := filepath.Join(initDir, "backend.tf")
	if err := os.WriteFile(existing, []byte("module backend"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := mgr.Apply(map[string][]byte{
		"backend.tf": []byte("injected backend"),
		"extra.tf":   []byte("injected extra"),
	}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	if err := mgr.Remove(); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}

	// Overwritten file restored, created file gone.
	if got := readFile(t, existing); got != "module backend" {
		t.Errorf("backend.tf = %q, want restored original", got)
	}
	if _, err := os.Stat(filepath.Join(initDir, "extra.tf")); !os.IsNotExist(err) {
		t.Errorf("extra.tf still exists after Remove()")
	}

	// Manifest and backups cleaned up.
	if _, err := os.Stat(filepath.Join(initDir, ".snapcd-scratch", manifestFileName)); !os.IsNotExist(err) {
		t.Error("manifest still exists after Remove()")
	}
	if _, err := os.Stat(filepath.Join(initDir, ".snapcd-scratch", backupDirName)); !os.IsNotExist(err) {
		t.Error("backup directory still exists after Remove()")
	}
}

func TestReapplyKeepsOriginalBackup(t *testing.T) {
	mgr, initDir := newTestManager(t)

	existing := filepath.Join(initDir, "provider.tf")
	if err := os.WriteFile(existing, []byte("original"), 0o644); err != nil {
		t.Fatal(err)
	}

	// Two injections of the same path; the second must not back up the
	// first injection's content.
	if err := mgr.Apply(map[string][]byte{"provider.tf": []byte("first injection")}); err != nil {
		t.Fatal(err)
	}
	if err := mgr.Apply(map[string][]byte{"provider.tf": []byte("second injection")}); err != nil {
		t.Fatal(err)
	}

	if err := mgr.Remove(); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if got := readFile(t, existing); got != "original" {
		t.Errorf("provider.tf = %q, want the pre-injection original", got)
	}

	manifest, err := mgr.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(manifest.Overwritten) != 0 {
		t.Errorf("manifest not cleared: %+v", manifest)
	}
}

func TestRemoveWithoutManifestIsNoOp(t *testing.T) {
	mgr, _ := newTestManager(t)
	if err := mgr.Remove(); err != nil {
		t.Fatalf("Remove() error = %v, want no-op", err)
	}
}

func TestApplyRejectsEscapingPaths(t *testing.T) {
	mgr, _ := newTestManager(t)

	for _, path := range []string{"../outside.tf", "/etc/passwd"} {
		if err := mgr.Apply(map[string][]byte{path: []byte("x")}); err == nil {
			t.Errorf("Apply(%q) error = nil, want path rejection", path)
		}
	}
}
