package source

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Git clones repositories with the git CLI.
type Git struct {
	Binary string
}

// Fetch shallow-clones location into dest, which must be empty.
func (g *Git) Fetch(ctx context.Context, location, dest, _ string) error {
	if dest == "" {
		return fmt.Errorf("source: %w: destination cannot be empty", ErrFetchFailed)
	}
	bin := g.Binary
	if bin == "" {
		bin = "git"
	}
	repoURL := strings.TrimPrefix(location, "git+")

	cmd := exec.CommandContext(ctx, bin, "clone", "--depth", "1", repoURL, ".")
	cmd.Dir = dest
	// Never prompt for credentials; a daemon has no terminal.
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("source: %w: git clone %s: %v: %s", ErrFetchFailed, repoURL, err, strings.TrimSpace(string(output)))
	}
	return nil
}
