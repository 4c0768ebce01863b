package engine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewDispatchesBackends(t *testing.T) {
	opts := Options{WorkspaceRoot: t.TempDir(), Logger: zerolog.Nop()}
	job := JobMetadata{StackName: "s", NamespaceName: "n", ModuleName: "m", ModuleID: "id"}

	for _, backend := range []string{BackendTerraform, BackendOpenTofu, BackendPulumi} {
		eng, err := New(backend, job, opts)
		if err != nil {
			t.Errorf("New(%q) error = %v", backend, err)
			continue
		}
		if eng == nil {
			t.Errorf("New(%q) = nil engine", backend)
		}
	}
}

func TestNewUnknownBackend(t *testing.T) {
	_, err := New("cloudformation", JobMetadata{}, Options{Logger: zerolog.Nop()})
	if err == nil {
		t.Fatal("New() error = nil, want unknown backend failure")
	}
}

func TestResolveModuleDirs(t *testing.T) {
	tests := []struct {
		name string
		job  JobMetadata
		want ModuleDirs
	}{
		{
			name: "no subdirectory",
			job:  JobMetadata{StackName: "prod", NamespaceName: "core", ModuleName: "network"},
			want: ModuleDirs{
				Root:       filepath.Join("/ws", "prod", "core", "network"),
				InitDir:    filepath.Join("/ws", "prod", "core", "network"),
				ScratchDir: filepath.Join("/ws", "prod", "core", "network", ScratchDirName),
			},
		},
		{
			name: "with subdirectory",
			job:  JobMetadata{StackName: "prod", NamespaceName: "core", ModuleName: "network", SourceSubdirectory: "envs/eu"},
			want: ModuleDirs{
				Root:       filepath.Join("/ws", "prod", "core", "network"),
				InitDir:    filepath.Join("/ws", "prod", "core", "network", "envs", "eu"),
				ScratchDir: filepath.Join("/ws", "prod", "core", "network", "envs", "eu", ScratchDirName),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveModuleDirs("/ws", tt.job)
			if got != tt.want {
				t.Errorf("ResolveModuleDirs() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestLifecycleBeforeInitFails(t *testing.T) {
	eng := newTestEngine(t, BackendTerraform)

	_, err := eng.Plan(context.Background(), nil, Hooks{})
	var initErr *InitRequiredError
	if !errors.As(err, &initErr) {
		t.Fatalf("Plan() before Init error = %v, want InitRequiredError", err)
	}
	if initErr.ScratchDir != eng.Dirs().ScratchDir {
		t.Errorf("InitRequiredError.ScratchDir = %q, want %q", initErr.ScratchDir, eng.Dirs().ScratchDir)
	}
}

func TestInitPersistsEnvironmentForLaterEngines(t *testing.T) {
	opts := Options{WorkspaceRoot: t.TempDir(), Binary: "echo", Logger: zerolog.Nop()}
	job := JobMetadata{StackName: "s", NamespaceName: "n", ModuleName: "m", ModuleID: "id"}

	first, err := New(BackendTerraform, job, opts)
	if err != nil {
		t.Fatal(err)
	}
	initTestEngine(t, first)

	// A separate engine instance for the same module must pick the
	// persisted environment up from disk.
	second, err := New(BackendTerraform, job, opts)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := second.Plan(context.Background(), nil, Hooks{}); err != nil {
		t.Fatalf("Plan() on fresh engine error = %v, want persisted environment to load", err)
	}
}
