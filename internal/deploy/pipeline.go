package deploy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/zulandar/hangar/internal/logbuf"
	"github.com/zulandar/hangar/internal/registry"
	"github.com/zulandar/hangar/internal/source"
)

// Step names, in execution order.
const (
	StepTerminate = "terminate"
	StepWorkspace = "workspace"
	StepFetch     = "fetch"
	StepEnv       = "env"
	StepInstall   = "install"
	StepLaunch    = "launch"
)

// DefaultInstallTimeout bounds the dependency install step.
const DefaultInstallTimeout = 5 * time.Minute

// installWaitDelay bounds output copying after the installer is killed.
const installWaitDelay = 10 * time.Second

// StepFunc runs one pipeline step against t.
type StepFunc func(ctx context.Context, t *Target) error

// Step is a named pipeline stage.
type Step struct {
	Name string
	Run  StepFunc
}

// Workspace is the subset of workspace.Manager the pipeline needs.
type Workspace interface {
	Prepare(workerID string) (string, error)
	WriteEnv(dir string, env map[string]string) error
	WriteSource(dir, entry, content string) error
	Remove(workerID string) error
}

// Opts configures a Pipeline.
type Opts struct {
	Workspace      Workspace
	Fetcher        source.Fetcher
	Logs           *logbuf.Store
	Runtimes       Runtimes
	InstallTimeout time.Duration
	Logger         *slog.Logger
}

// Pipeline prepares and launches workers. The terminate and launch steps
// belong to the caller, which owns the process registry.
type Pipeline struct {
	ws             Workspace
	fetcher        source.Fetcher
	logs           *logbuf.Store
	runtimes       Runtimes
	installTimeout time.Duration
	logger         *slog.Logger
}

// New creates a Pipeline.
func New(opts Opts) (*Pipeline, error) {
	if opts.Workspace == nil {
		return nil, fmt.Errorf("deploy: workspace is required")
	}
	if opts.Logs == nil {
		return nil, fmt.Errorf("deploy: log store is required")
	}
	if opts.Runtimes == nil {
		opts.Runtimes = DefaultRuntimes()
	}
	if opts.InstallTimeout <= 0 {
		opts.InstallTimeout = DefaultInstallTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Pipeline{
		ws:             opts.Workspace,
		fetcher:        opts.Fetcher,
		logs:           opts.Logs,
		runtimes:       opts.Runtimes,
		installTimeout: opts.InstallTimeout,
		logger:         opts.Logger,
	}, nil
}

// Resolve validates w and binds it to its runtime.
func (p *Pipeline) Resolve(w Worker) (*Target, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	rt, err := p.runtimes.Lookup(w.Runtime)
	if err != nil {
		return nil, err
	}
	entry := w.EntryFile
	if entry == "" {
		entry = rt.DefaultEntry
	}
	if entry == "" {
		return nil, fmt.Errorf("deploy: %w: no entry file for runtime %q", ErrInvalidWorker, rt.Name)
	}
	return &Target{Worker: w, Runtime: rt, Entry: entry}, nil
}

// RemoveWorkspace deletes the workspace of workerID.
func (p *Pipeline) RemoveWorkspace(workerID string) error {
	return p.ws.Remove(workerID)
}

// Steps returns the pipeline stages in execution order.
func (p *Pipeline) Steps(terminate, launch StepFunc) []Step {
	return []Step{
		{Name: StepTerminate, Run: terminate},
		{Name: StepWorkspace, Run: p.prepareWorkspace},
		{Name: StepFetch, Run: p.fetchSource},
		{Name: StepEnv, Run: p.writeEnv},
		{Name: StepInstall, Run: p.installDeps},
		{Name: StepLaunch, Run: launch},
	}
}

// Run executes every step for w in order and stops at the first failure.
// Each step is bracketed by progress lines in the worker's log buffer.
func (p *Pipeline) Run(ctx context.Context, w Worker, terminate, launch StepFunc) (*Target, error) {
	t, err := p.Resolve(w)
	if err != nil {
		p.logs.Append(w.ID, logbuf.StreamSystem, "deploy rejected: "+err.Error())
		return nil, err
	}

	p.logs.Append(w.ID, logbuf.StreamSystem, fmt.Sprintf("deploy: runtime=%s entry=%s", t.Runtime.Name, t.Entry))
	for _, step := range p.Steps(terminate, launch) {
		if step.Run == nil {
			continue
		}
		p.logs.Append(w.ID, logbuf.StreamSystem, step.Name+": starting")
		start := time.Now()
		if err := step.Run(ctx, t); err != nil {
			p.logs.Append(w.ID, logbuf.StreamSystem, fmt.Sprintf("%s: failed: %v", step.Name, err))
			p.logger.Warn("deploy step failed",
				slog.String("worker", w.ID),
				slog.String("step", step.Name),
				slog.String("error", err.Error()))
			return t, fmt.Errorf("deploy: %s: %w", step.Name, err)
		}
		p.logs.Append(w.ID, logbuf.StreamSystem, step.Name+": ok")
		p.logger.Debug("deploy step ok",
			slog.String("worker", w.ID),
			slog.String("step", step.Name),
			slog.Duration("took", time.Since(start)))
	}
	return t, nil
}

func (p *Pipeline) prepareWorkspace(_ context.Context, t *Target) error {
	dir, err := p.ws.Prepare(t.Worker.ID)
	if err != nil {
		return err
	}
	t.Dir = dir
	return nil
}

// fetchSource writes inline source or fetches the remote location, then
// checks that the entry file exists.
func (p *Pipeline) fetchSource(ctx context.Context, t *Target) error {
	if t.Worker.SourceURL == "" {
		return p.ws.WriteSource(t.Dir, t.Entry, t.Worker.Source)
	}
	if p.fetcher == nil {
		return fmt.Errorf("%w: %w: no fetcher configured", ErrWorkspace, ErrFetchFailed)
	}
	if err := p.fetcher.Fetch(ctx, t.Worker.SourceURL, t.Dir, t.Entry); err != nil {
		return fmt.Errorf("%w: %w", ErrWorkspace, err)
	}
	if _, err := os.Stat(filepath.Join(t.Dir, t.Entry)); err != nil {
		return fmt.Errorf("%w: %w: entry %s not found after fetch", ErrWorkspace, ErrFetchFailed, t.Entry)
	}
	return nil
}

func (p *Pipeline) writeEnv(_ context.Context, t *Target) error {
	return p.ws.WriteEnv(t.Dir, t.Worker.Env)
}

// installDeps runs the runtime's install command when its manifest is
// present. Output is captured into the worker's log buffer.
func (p *Pipeline) installDeps(ctx context.Context, t *Target) error {
	rt := t.Runtime
	if rt.Manifest == "" || len(rt.Install) == 0 {
		return nil
	}
	if _, err := os.Stat(filepath.Join(t.Dir, rt.Manifest)); err != nil {
		p.logs.Append(t.Worker.ID, logbuf.StreamSystem, fmt.Sprintf("install: no %s, skipping", rt.Manifest))
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.installTimeout)
	defer cancel()

	// The installer runs in its own process group so a timeout also ends
	// the children it spawned (npm -> node-gyp, pip -> build backends).
	cmd := exec.CommandContext(ctx, rt.Install[0], rt.Install[1:]...)
	cmd.Dir = t.Dir
	cmd.Env = t.Environ()
	cmd.SysProcAttr = registry.SysProcAttr()
	cmd.Cancel = func() error {
		return registry.KillGroup(cmd.Process)
	}
	cmd.WaitDelay = installWaitDelay

	stdout := p.logs.NewWriter(t.Worker.ID, logbuf.StreamStdout)
	stderr := p.logs.NewWriter(t.Worker.ID, logbuf.StreamStderr)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	err := cmd.Run()
	stdout.Close()
	stderr.Close()

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s timed out after %s", ErrDependencyInstall, rt.Install[0], p.installTimeout)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("%w: %s exited with code %d", ErrDependencyInstall, rt.Install[0], exitErr.ExitCode())
		}
		return fmt.Errorf("%w: %v", ErrDependencyInstall, err)
	}
	return nil
}
