// Package deploy implements the ordered, short-circuiting pipeline that
// turns a worker definition into a launched process.
package deploy

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/zulandar/hangar/internal/source"
	"github.com/zulandar/hangar/internal/workspace"
)

// Error taxonomy. Pipeline errors wrap exactly one of these (fetch errors
// also match ErrWorkspace).
var (
	ErrInvalidWorker     = errors.New("invalid worker")
	ErrWorkspace         = workspace.ErrWorkspace
	ErrFetchFailed       = source.ErrFetchFailed
	ErrDependencyInstall = errors.New("dependency install failed")
	ErrLaunchFailed      = errors.New("launch failed")
)

// Worker describes one supervisable program.
type Worker struct {
	ID        string            `json:"id"`
	Runtime   string            `json:"runtime"`
	EntryFile string            `json:"entry,omitempty"`
	Source    string            `json:"source,omitempty"`     // inline program text
	SourceURL string            `json:"source_url,omitempty"` // remote location
	Env       map[string]string `json:"env,omitempty"`
}

// Validate checks the fields that do not depend on runtime configuration.
func (w Worker) Validate() error {
	var errs []string
	if !workspace.ValidID(w.ID) {
		errs = append(errs, fmt.Sprintf("id %q must match [A-Za-z0-9_-]{1,64}", w.ID))
	}
	if w.Runtime == "" {
		errs = append(errs, "runtime is required")
	}
	switch {
	case w.Source == "" && w.SourceURL == "":
		errs = append(errs, "one of source or source_url is required")
	case w.Source != "" && w.SourceURL != "":
		errs = append(errs, "source and source_url are mutually exclusive")
	}
	if err := workspace.ValidateEnv(w.Env); err != nil {
		errs = append(errs, err.Error())
	}
	if len(errs) > 0 {
		return fmt.Errorf("deploy: %w: %s", ErrInvalidWorker, strings.Join(errs, "; "))
	}
	return nil
}

// Target is a worker resolved against its runtime and workspace. It is
// filled in as pipeline steps run.
type Target struct {
	Worker  Worker
	Runtime Runtime
	Entry   string // workspace-relative entry file
	Dir     string // absolute workspace directory, set by the workspace step
}

// Argv returns the launch command line.
func (t *Target) Argv() []string {
	argv := make([]string, 0, len(t.Runtime.Command)+1)
	argv = append(argv, t.Runtime.Command...)
	return append(argv, t.Entry)
}

// Environ returns the process environment: the supervisor's own
// environment, then runtime variables, then worker variables. Later
// entries win.
func (t *Target) Environ() []string {
	return MergeEnv(os.Environ(), t.Runtime.Env, t.Worker.Env)
}

// MergeEnv appends sorted KEY=VALUE pairs from each map to base, replacing
// any earlier definition of the same key.
func MergeEnv(base []string, overlays ...map[string]string) []string {
	index := make(map[string]int, len(base))
	out := make([]string, 0, len(base))
	for _, kv := range base {
		k, _, _ := strings.Cut(kv, "=")
		if i, ok := index[k]; ok {
			out[i] = kv
			continue
		}
		index[k] = len(out)
		out = append(out, kv)
	}
	for _, m := range overlays {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			kv := k + "=" + m[k]
			if i, ok := index[k]; ok {
				out[i] = kv
				continue
			}
			index[k] = len(out)
			out = append(out, kv)
		}
	}
	return out
}
