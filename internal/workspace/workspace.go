// Package workspace owns the per-worker directories that deployments are
// materialized into. Every deployment starts from an empty directory.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// ErrWorkspace is wrapped by every error this package returns.
var ErrWorkspace = errors.New("workspace error")

// EnvFile is the name of the environment file written into each workspace.
const EnvFile = ".env"

var (
	idPattern  = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
	keyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// Manager owns worker directories under a common root.
type Manager struct {
	root string
}

// New ensures the workspace root exists and is accessible.
func New(root string) (*Manager, error) {
	if root == "" {
		return nil, fmt.Errorf("workspace: %w: root cannot be empty", ErrWorkspace)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("workspace: %w: resolve root: %v", ErrWorkspace, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("workspace: %w: create root: %v", ErrWorkspace, err)
	}
	return &Manager{root: abs}, nil
}

// Root returns the absolute workspace root.
func (m *Manager) Root() string { return m.root }

// ValidID reports whether id is usable as a workspace directory name.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// Path returns the directory used for workerID without touching the disk.
func (m *Manager) Path(workerID string) string {
	return filepath.Join(m.root, workerID)
}

// Prepare destroys any existing directory for workerID and recreates it
// empty.
func (m *Manager) Prepare(workerID string) (string, error) {
	if !ValidID(workerID) {
		return "", fmt.Errorf("workspace: %w: invalid worker id %q", ErrWorkspace, workerID)
	}
	dir := m.Path(workerID)
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("workspace: %w: cleanup %s: %v", ErrWorkspace, workerID, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("workspace: %w: create %s: %v", ErrWorkspace, workerID, err)
	}
	return dir, nil
}

// ValidateEnv checks that env can be written as KEY=VALUE lines without
// corrupting the file.
func ValidateEnv(env map[string]string) error {
	var errs []string
	for k, v := range env {
		if !keyPattern.MatchString(k) {
			errs = append(errs, fmt.Sprintf("invalid key %q", k))
			continue
		}
		if strings.ContainsAny(v, "\r\n") {
			errs = append(errs, fmt.Sprintf("value of %s contains a line break", k))
		}
	}
	if len(errs) > 0 {
		sort.Strings(errs)
		return fmt.Errorf("workspace: %w: env: %s", ErrWorkspace, strings.Join(errs, "; "))
	}
	return nil
}

// FormatEnv renders env as sorted KEY=VALUE lines.
func FormatEnv(env map[string]string) string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(env[k])
		b.WriteByte('\n')
	}
	return b.String()
}

// WriteEnv writes env into dir/.env.
func (m *Manager) WriteEnv(dir string, env map[string]string) error {
	if err := m.within(dir); err != nil {
		return err
	}
	if err := ValidateEnv(env); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, EnvFile), []byte(FormatEnv(env)), 0o600); err != nil {
		return fmt.Errorf("workspace: %w: write env: %v", ErrWorkspace, err)
	}
	return nil
}

// ResolveEntry returns the absolute path of entry inside dir, rejecting
// paths that would escape it.
func ResolveEntry(dir, entry string) (string, error) {
	if entry == "" {
		return "", fmt.Errorf("workspace: %w: entry file is required", ErrWorkspace)
	}
	if filepath.IsAbs(entry) {
		return "", fmt.Errorf("workspace: %w: entry %q must be relative", ErrWorkspace, entry)
	}
	clean := filepath.Clean(entry)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("workspace: %w: entry %q escapes the workspace", ErrWorkspace, entry)
	}
	return filepath.Join(dir, clean), nil
}

// WriteSource writes inline program text to entry inside dir.
func (m *Manager) WriteSource(dir, entry, content string) error {
	if err := m.within(dir); err != nil {
		return err
	}
	path, err := ResolveEntry(dir, entry)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("workspace: %w: create %s: %v", ErrWorkspace, filepath.Dir(entry), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("workspace: %w: write %s: %v", ErrWorkspace, entry, err)
	}
	return nil
}

// removeDir removes a workspace directory. Paths outside the root are refused.
func (m *Manager) removeDir(path string) error {
	if path == "" {
		return nil
	}
	if err := m.within(path); err != nil {
		return err
	}
	return os.RemoveAll(path)
}

// Remove deletes the workspace associated with workerID.
func (m *Manager) Remove(workerID string) error {
	if !ValidID(workerID) {
		return fmt.Errorf("workspace: %w: invalid worker id %q", ErrWorkspace, workerID)
	}
	return m.removeDir(m.Path(workerID))
}

// within reports an error unless path is a strict descendant of the root.
func (m *Manager) within(path string) error {
	rel, err := filepath.Rel(m.root, path)
	if err != nil || rel == "." || rel == "" || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("workspace: %w: refusing path outside workspace root: %s", ErrWorkspace, path)
	}
	return nil
}
