package engine

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestEnvironmentFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	env := map[string]string{
		"TF_TOKEN":   "s3cr3t",
		"QUOTED":     `va"lu'e`,
		"MULTILINE":  "line1\nline2",
		"EMPTY":      "",
		"WITH_EQUAL": "a=b=c",
	}

	if err := SaveEnvironmentFile(dir, env); err != nil {
		t.Fatalf("SaveEnvironmentFile() error = %v", err)
	}
	got, err := LoadEnvironmentFile(dir)
	if err != nil {
		t.Fatalf("LoadEnvironmentFile() error = %v", err)
	}

	if diff := cmp.Diff(env, got); diff != "" {
		t.Errorf("environment mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadEnvironmentFileMissing(t *testing.T) {
	_, err := LoadEnvironmentFile(t.TempDir())
	if !errors.Is(err, ErrEnvFileNotFound) {
		t.Fatalf("LoadEnvironmentFile() error = %v, want ErrEnvFileNotFound", err)
	}
}

func TestLoadEnvironmentFileSkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	content := strings.Join([]string{
		`export GOOD="value"`,
		`not an export line`,
		`export BROKEN=unquoted`,
		`export ="no key"`,
		`export ALSO_GOOD="second"`,
	}, "\n")
	if err := os.WriteFile(filepath.Join(dir, envFileName), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := LoadEnvironmentFile(dir)
	if err != nil {
		t.Fatalf("LoadEnvironmentFile() error = %v", err)
	}

	want := map[string]string{"GOOD": "value", "ALSO_GOOD": "second"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("environment mismatch (-want +got):\n%s", diff)
	}
}

func TestSaveEnvironmentFilePermissions(t *testing.T) {
	dir := t.TempDir()
	if err := SaveEnvironmentFile(dir, map[string]string{"K": "v"}); err != nil {
		t.Fatalf("SaveEnvironmentFile() error = %v", err)
	}

	info, err := os.Stat(filepath.Join(dir, envFileName))
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("environment file mode = %o, want 600", perm)
	}
}
