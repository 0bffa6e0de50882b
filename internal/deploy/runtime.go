package deploy

import (
	"fmt"
	"sort"
)

// Runtime describes how a kind of worker program is installed and launched.
type Runtime struct {
	Name         string            `yaml:"name"`
	Command      []string          `yaml:"command"`       // argv prefix; the entry file is appended
	DefaultEntry string            `yaml:"default_entry"` // used when a worker names no entry file
	Manifest     string            `yaml:"manifest"`      // dependency manifest, optional
	Install      []string          `yaml:"install"`       // run in the workspace when Manifest exists
	Env          map[string]string `yaml:"env"`
}

// DefaultRuntimes returns the built-in runtime kinds.
func DefaultRuntimes() Runtimes {
	return Runtimes{
		"node": {
			Name:         "node",
			Command:      []string{"node"},
			DefaultEntry: "index.js",
			Manifest:     "package.json",
			Install:      []string{"npm", "install", "--omit=dev", "--no-audit", "--no-fund"},
		},
		"python": {
			Name:         "python",
			Command:      []string{"python3", "-u"},
			DefaultEntry: "main.py",
			Manifest:     "requirements.txt",
			Install:      []string{"python3", "-m", "pip", "install", "--disable-pip-version-check", "-r", "requirements.txt", "--target", ".packages"},
			Env:          map[string]string{"PYTHONPATH": ".packages"},
		},
		"shell": {
			Name:         "shell",
			Command:      []string{"sh"},
			DefaultEntry: "main.sh",
		},
	}
}

// Runtimes maps runtime kind names to their definitions.
type Runtimes map[string]Runtime

// Merge returns a copy of r with overrides applied on top.
func (r Runtimes) Merge(overrides ...Runtime) Runtimes {
	out := make(Runtimes, len(r)+len(overrides))
	for k, v := range r {
		out[k] = v
	}
	for _, o := range overrides {
		out[o.Name] = o
	}
	return out
}

// Lookup returns the runtime called name.
func (r Runtimes) Lookup(name string) (Runtime, error) {
	rt, ok := r[name]
	if !ok {
		return Runtime{}, fmt.Errorf("deploy: %w: unknown runtime %q (known: %v)", ErrInvalidWorker, name, r.Names())
	}
	if len(rt.Command) == 0 {
		return Runtime{}, fmt.Errorf("deploy: %w: runtime %q has no command", ErrInvalidWorker, name)
	}
	return rt, nil
}

// Names lists the known runtime kinds, sorted.
func (r Runtimes) Names() []string {
	names := make([]string, 0, len(r))
	for k := range r {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
