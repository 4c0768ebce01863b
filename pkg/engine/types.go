package engine

import (
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/snapcd/agent/pkg/runner"
)

// Backend names accepted by the factory.
const (
	BackendTerraform = "terraform"
	BackendOpenTofu  = "opentofu"
	BackendPulumi    = "pulumi"
)

// ScratchDirName is the hidden per-module subdirectory holding engine
// internal files. It lives inside the module init directory and is not part
// of the tracked module source.
const ScratchDirName = ".snapcd-scratch"

// JobMetadata identifies the module a lifecycle request targets. The engine
// only uses it to resolve working-directory paths; the names carry no other
// meaning here.
type JobMetadata struct {
	// StackName is the stack the module belongs to.
	StackName string `json:"stack_name"`

	// NamespaceName is the namespace within the stack.
	NamespaceName string `json:"namespace_name"`

	// ModuleName is the module's own name.
	ModuleName string `json:"module_name"`

	// ModuleID is the orchestrator-assigned module identifier.
	ModuleID string `json:"module_id"`

	// SourceSubdirectory is an optional path inside the fetched module
	// source where the tool should run.
	SourceSubdirectory string `json:"source_subdirectory,omitempty"`
}

// ModuleDirs resolves the three working-directory paths for one module. Root
// is where the module source was fetched; InitDir is where the tool runs;
// ScratchDir holds engine-internal files.
type ModuleDirs struct {
	Root       string
	InitDir    string
	ScratchDir string
}

// ResolveModuleDirs derives the module's directories from a workspace root
// and job metadata.
func ResolveModuleDirs(workspaceRoot string, job JobMetadata) ModuleDirs {
	root := filepath.Join(workspaceRoot, job.StackName, job.NamespaceName, job.ModuleName)
	initDir := root
	if job.SourceSubdirectory != "" {
		initDir = filepath.Join(root, job.SourceSubdirectory)
	}
	return ModuleDirs{
		Root:       root,
		InitDir:    initDir,
		ScratchDir: filepath.Join(initDir, ScratchDirName),
	}
}

// Flags are the boolean toggles controlling init behavior. Immutable,
// constructed per Init call.
type Flags struct {
	// Upgrade allows the tool to upgrade modules and plugins during init.
	Upgrade bool `json:"upgrade"`

	// Reconfigure reconfigures the backend, ignoring any saved
	// configuration.
	Reconfigure bool `json:"reconfigure"`

	// MigrateState migrates existing state to a changed backend.
	MigrateState bool `json:"migrate_state"`
}

// KeyValue is one ordered configuration override.
type KeyValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// PulumiLoginMode selects how the Pulumi engine logs in during Init.
type PulumiLoginMode string

const (
	// PulumiLoginCloud logs in to the Pulumi Cloud service.
	PulumiLoginCloud PulumiLoginMode = "pulumi_cloud"

	// PulumiLoginLocal uses local file-backed state.
	PulumiLoginLocal PulumiLoginMode = "local"

	// PulumiLoginCustom logs in to a custom backend URL.
	PulumiLoginCustom PulumiLoginMode = "custom"

	// PulumiLoginNone skips login entirely.
	PulumiLoginNone PulumiLoginMode = "none"
)

// BackendConfiguration is the backend-specific configuration union. For
// Terraform-family backends the ordered key/value overrides apply; for
// Pulumi the login fields apply. Built once per lifecycle request and never
// mutated afterwards.
type BackendConfiguration struct {
	// NamespaceOverrides are namespace-level backend-config overrides,
	// applied first unless IgnoreNamespaceOverrides is set.
	NamespaceOverrides []KeyValue `json:"namespace_overrides,omitempty"`

	// ModuleOverrides are module-level overrides, always applied and
	// always winning over namespace-level entries on key collision.
	ModuleOverrides []KeyValue `json:"module_overrides,omitempty"`

	// IgnoreNamespaceOverrides drops the namespace-level entries from
	// argument assembly entirely.
	IgnoreNamespaceOverrides bool `json:"ignore_namespace_overrides,omitempty"`

	// LoginMode selects the Pulumi login command.
	LoginMode PulumiLoginMode `json:"login_mode,omitempty"`

	// StackName is the Pulumi stack to select (created when absent).
	StackName string `json:"stack_name,omitempty"`

	// LoginURL is the custom backend URL for PulumiLoginCustom.
	LoginURL string `json:"login_url,omitempty"`
}

// Hooks are opaque before/after shell fragments wrapped around one lifecycle
// step's base command. They arrive already validated against the external
// pre-approval allow-list.
type Hooks struct {
	Before string `json:"before,omitempty"`
	After  string `json:"after,omitempty"`
}

// Options carries the collaborators and policies an engine needs beyond job
// metadata.
type Options struct {
	// WorkspaceRoot is the agent's module workspace; module directories
	// are resolved beneath it.
	WorkspaceRoot string

	// Binary overrides the backend binary name (e.g. a pinned tofu
	// path). Empty means the backend's default.
	Binary string

	// ExtraPaths are binary search paths prepended to PATH for every
	// subprocess.
	ExtraPaths []string

	// Sink receives subprocess stdout lines as they arrive.
	Sink runner.LogSink

	// Signals are the cancellation paths shared by every subprocess this
	// engine starts. The caller-side cancellation registry owns them.
	Signals runner.Signals

	// Logger is the engine's structured logger.
	Logger zerolog.Logger
}
