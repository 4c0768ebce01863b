// Package extrafiles injects caller-supplied files into a module directory
// and tracks them in a manifest so they can be cleanly removed again. Files
// that overwrote module-owned content are backed up first and restored on
// removal; files created fresh are simply deleted.
package extrafiles

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog"
)

// Well-known names under the module scratch directory.
const (
	manifestFileName = "extra_files.json"
	backupDirName    = "extra_file_backups"
)

// Manifest records which injected files were created fresh and which
// overwrote existing module content. Paths are relative to the module init
// directory.
type Manifest struct {
	// Created lists files that did not exist before injection.
	Created []string `json:"created"`

	// Overwritten lists files whose prior content sits in the backup
	// directory.
	Overwritten []string `json:"overwritten"`
}

func (m *Manifest) tracked(path string) bool {
	for _, p := range m.Created {
		if p == path {
			return true
		}
	}
	for _, p := range m.Overwritten {
		if p == path {
			return true
		}
	}
	return false
}

// Manager applies and removes extra files for one module.
type Manager struct {
	initDir    string
	scratchDir string
	logger     zerolog.Logger
}

// NewManager creates a manager for the module rooted at initDir whose
// scratch directory is scratchDir.
func NewManager(initDir, scratchDir string, logger zerolog.Logger) *Manager {
	return &Manager{
		initDir:    initDir,
		scratchDir: scratchDir,
		logger:     logger.With().Str("component", "extra-files").Logger(),
	}
}

func (m *Manager) manifestPath() string {
	return filepath.Join(m.scratchDir, manifestFileName)
}

func (m *Manager) backupDir() string {
	return filepath.Join(m.scratchDir, backupDirName)
}

// Load reads the current manifest. A missing manifest returns an empty one.
func (m *Manager) Load() (*Manifest, error) {
	raw, err := os.ReadFile(m.manifestPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Manifest{}, nil
		}
		return nil, fmt.Errorf("reading extra-files manifest: %w", err)
	}
	var manifest Manifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return nil, fmt.Errorf("parsing extra-files manifest: %w", err)
	}
	return &manifest, nil
}

// Apply writes the given files into the module directory, backing up any
// existing content the first time it is overwritten. Keys are paths relative
// to the module init directory; applying is idempotent per path, so
// re-injecting a tracked file never clobbers its original backup.
func (m *Manager) Apply(files map[string][]byte) error {
	if len(files) == 0 {
		return nil
	}

	manifest, err := m.Load()
	if err != nil {
		return err
	}

	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, rel := range paths {
		if filepath.IsAbs(rel) || !filepath.IsLocal(rel) {
			return fmt.Errorf("extra file path %q escapes the module directory", rel)
		}
		target := filepath.Join(m.initDir, rel)

		if !manifest.tracked(rel) {
			switch _, err := os.Stat(target); {
			case err == nil:
				if err := m.backup(rel, target); err != nil {
					return err
				}
				manifest.Overwritten = append(manifest.Overwritten, rel)
			case errors.Is(err, fs.ErrNotExist):
				manifest.Created = append(manifest.Created, rel)
			default:
				return fmt.Errorf("checking extra file target %s: %w", target, err)
			}
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("creating extra file directory: %w", err)
		}
		if err := os.WriteFile(target, files[rel], 0o644); err != nil {
			return fmt.Errorf("writing extra file %s: %w", rel, err)
		}
		m.logger.Debug().Str("path", rel).Msg("extra file applied")
	}

	return m.save(manifest)
}

// Remove undoes Apply: created files are deleted, overwritten files are
// restored from backup, then the manifest and backup directory are cleaned
// up. Removing with no manifest is a no-op.
func (m *Manager) Remove() error {
	manifest, err := m.Load()
	if err != nil {
		return err
	}
	if len(manifest.Created) == 0 && len(manifest.Overwritten) == 0 {
		return nil
	}

	for _, rel := range manifest.Created {
		target := filepath.Join(m.initDir, rel)
		if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("removing extra file %s: %w", rel, err)
		}
		m.logger.Debug().Str("path", rel).Msg("extra file removed")
	}

	for _, rel := range manifest.Overwritten {
		backup := filepath.Join(m.backupDir(), rel)
		target := filepath.Join(m.initDir, rel)
		original, err := os.ReadFile(backup)
		if err != nil {
			return fmt.Errorf("reading backup of %s: %w", rel, err)
		}
		if err := os.WriteFile(target, original, 0o644); err != nil {
			return fmt.Errorf("restoring %s: %w", rel, err)
		}
		m.logger.Debug().Str("path", rel).Msg("original file restored")
	}

	if err := os.RemoveAll(m.backupDir()); err != nil {
		return fmt.Errorf("removing backup directory: %w", err)
	}
	if err := os.Remove(m.manifestPath()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing extra-files manifest: %w", err)
	}
	return nil
}

// backup copies the target's current content into the backup directory,
// preserving the relative path.
func (m *Manager) backup(rel, target string) error {
	content, err := os.ReadFile(target)
	if err != nil {
		return fmt.Errorf("reading %s for backup: %w", rel, err)
	}
	backupPath := filepath.Join(m.backupDir(), rel)
	if err := os.MkdirAll(filepath.Dir(backupPath), 0o755); err != nil {
		return fmt.Errorf("creating backup directory: %w", err)
	}
	if err := os.WriteFile(backupPath, content, 0o600); err != nil {
		return fmt.Errorf("backing up %s: %w", rel, err)
	}
	return nil
}

func (m *Manager) save(manifest *Manifest) error {
	if err := os.MkdirAll(m.scratchDir, 0o755); err != nil {
		return fmt.Errorf("creating scratch directory: %w", err)
	}
	raw, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding extra-files manifest: %w", err)
	}
	if err := os.WriteFile(m.manifestPath(), raw, 0o600); err != nil {
		return fmt.Errorf("writing extra-files manifest: %w", err)
	}
	return nil
}
