package engine

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// envFileName is the well-known environment file under the module scratch
// directory. Every lifecycle call after Init reloads exactly what Init
// resolved from this file.
const envFileName = "env.sh"

// ErrEnvFileNotFound reports that no environment has been persisted yet.
var ErrEnvFileNotFound = errors.New("environment file not found")

// SaveEnvironmentFile writes the resolved environment map as shell export
// lines, one per key. Values are JSON-encoded rather than shell-quoted so
// quotes, newlines and shell metacharacters round-trip without injection
// risk if the file is ever sourced.
func SaveEnvironmentFile(scratchDir string, env map[string]string) error {
	if err := os.MkdirAll(scratchDir, 0o755); err != nil {
		return fmt.Errorf("creating scratch directory: %w", err)
	}

	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, key := range keys {
		encoded, err := json.Marshal(env[key])
		if err != nil {
			return fmt.Errorf("encoding value for %s: %w", key, err)
		}
		fmt.Fprintf(&b, "export %s=%s\n", key, encoded)
	}

	path := filepath.Join(scratchDir, envFileName)
	if err := os.WriteFile(path, []byte(b.String()), 0o600); err != nil {
		return fmt.Errorf("writing environment file: %w", err)
	}
	return nil
}

// LoadEnvironmentFile parses the persisted environment back into a map. A
// missing file returns ErrEnvFileNotFound rather than a generic I/O error;
// malformed individual lines are skipped.
func LoadEnvironmentFile(scratchDir string) (map[string]string, error) {
	path := filepath.Join(scratchDir, envFileName)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrEnvFileNotFound
		}
		return nil, fmt.Errorf("opening environment file: %w", err)
	}
	defer f.Close()

	env := make(map[string]string)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		rest, ok := strings.CutPrefix(line, "export ")
		if !ok {
			continue
		}
		key, encoded, ok := strings.Cut(rest, "=")
		if !ok || key == "" {
			continue
		}
		var value string
		if err := json.Unmarshal([]byte(encoded), &value); err != nil {
			continue
		}
		env[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading environment file: %w", err)
	}
	return env, nil
}
