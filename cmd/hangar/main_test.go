package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zulandar/hangar/internal/config"
	"github.com/zulandar/hangar/internal/db"
	"github.com/zulandar/hangar/internal/logbuf"
	"github.com/zulandar/hangar/internal/logging"
	"github.com/zulandar/hangar/internal/status"
)

func TestVersionCmd(t *testing.T) {
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"version"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("version command failed: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "hangar dev") {
		t.Errorf("expected output to contain 'hangar dev', got: %s", out)
	}
	if !strings.Contains(out, "commit: none") {
		t.Errorf("expected output to contain 'commit: none', got: %s", out)
	}
}

func TestVersionCmdWithCustomValues(t *testing.T) {
	origVersion, origCommit, origDate := Version, Commit, Date
	Version, Commit, Date = "1.0.0", "abc123", "2026-01-01"
	defer func() { Version, Commit, Date = origVersion, origCommit, origDate }()

	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"version"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("version command failed: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "hangar 1.0.0") {
		t.Errorf("expected output to contain 'hangar 1.0.0', got: %s", out)
	}
	if !strings.Contains(out, "built: 2026-01-01") {
		t.Errorf("expected output to contain 'built: 2026-01-01', got: %s", out)
	}
}

func TestRootCmdHelp(t *testing.T) {
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--help"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("help command failed: %v", err)
	}

	out := buf.String()
	for _, sub := range []string{"run", "status", "logs", "db", "version"} {
		if !strings.Contains(out, sub) {
			t.Errorf("expected help output to list %q subcommand, got: %s", sub, out)
		}
	}
}

func TestSubcommandFlags(t *testing.T) {
	root := newRootCmd()
	for _, path := range [][]string{{"run"}, {"status"}, {"logs"}, {"db", "migrate"}} {
		cmd, _, err := root.Find(path)
		if err != nil {
			t.Fatalf("find %v: %v", path, err)
		}
		f := cmd.Flags().Lookup("config")
		if f == nil {
			t.Errorf("%v: missing --config flag", path)
			continue
		}
		if f.Shorthand != "c" {
			t.Errorf("%v: config shorthand = %q, want %q", path, f.Shorthand, "c")
		}
		if f.DefValue != defaultConfigPath {
			t.Errorf("%v: config default = %q, want %q", path, f.DefValue, defaultConfigPath)
		}
	}
}

func TestLogsCmd_RequiresWorker(t *testing.T) {
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"logs"})

	if err := cmd.Execute(); err == nil {
		t.Fatal("expected error without worker argument")
	}
}

func TestExecute_MissingConfig(t *testing.T) {
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"status", "-c", filepath.Join(t.TempDir(), "nope.yaml")})

	if code := execute(cmd); code != 1 {
		t.Errorf("execute = %d, want 1", code)
	}
	if !strings.Contains(buf.String(), "load config") {
		t.Errorf("expected load config error, got: %s", buf.String())
	}
}

// writeConfig writes a config backed by a sqlite file in a temp dir.
func writeConfig(t *testing.T, workers string) string {
	t.Helper()
	dir := t.TempDir()
	yaml := "workspace_root: " + filepath.Join(dir, "ws") + "\n" +
		"stop_timeout: 2s\n" +
		"log:\n  level: warn\n" +
		"database:\n  driver: sqlite\n  path: " + filepath.Join(dir, "hangar.db") + "\n" +
		"workers:\n" + workers
	path := filepath.Join(dir, "hangar.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const twoWorkers = `  - id: alpha
    runtime: shell
    source: "echo alpha"
  - id: beta
    runtime: shell
    source: "echo beta"
`

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// openStore opens the status store named by the config at path.
func openStore(t *testing.T, path string) *status.GormStore {
	t.Helper()
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { db.Close(gormDB) })
	if err := db.AutoMigrate(gormDB); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return status.NewGormStore(gormDB, cfg.SnapshotLines)
}

func TestDBMigrateCmd(t *testing.T) {
	path := writeConfig(t, twoWorkers)

	out, err := runCmd(t, "db", "migrate", "-c", path)
	if err != nil {
		t.Fatalf("db migrate: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Seeded 2 workers") {
		t.Errorf("output = %q, want seed count", out)
	}

	records, err := openStore(t, path).List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	for _, r := range records {
		if r.Status != status.Stopped {
			t.Errorf("%s status = %q, want %q", r.WorkerID, r.Status, status.Stopped)
		}
	}
}

func TestStatusCmd_Table(t *testing.T) {
	path := writeConfig(t, twoWorkers)
	store := openStore(t, path)
	ctx := context.Background()
	started := time.Now()
	if err := store.Record(ctx, status.Update{
		WorkerID:  "alpha",
		Status:    status.Running,
		PID:       4242,
		StartedAt: &started,
		Message:   "deployed alpha (pid 4242)",
	}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	out, err := runCmd(t, "status", "-c", path)
	if err != nil {
		t.Fatalf("status: %v\n%s", err, out)
	}
	if !strings.Contains(out, "WORKER") {
		t.Errorf("missing header: %s", out)
	}
	if !strings.Contains(out, "4242") {
		t.Errorf("missing alpha pid: %s", out)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d:\n%s", len(lines), out)
	}
	if !strings.Contains(lines[2], "beta") || !strings.Contains(lines[2], status.Stopped) {
		t.Errorf("unrecorded worker should show as stopped: %q", lines[2])
	}
}

func TestStatusCmd_Detail(t *testing.T) {
	path := writeConfig(t, twoWorkers)
	store := openStore(t, path)
	ctx := context.Background()
	started := time.Now()
	stopped := started.Add(time.Second)
	if err := store.Record(ctx, status.Update{WorkerID: "alpha", Status: status.Running, PID: 7, StartedAt: &started, Message: "started alpha (pid 7)"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := store.Record(ctx, status.Update{WorkerID: "alpha", Status: status.Stopped, StoppedAt: &stopped, ExitCode: status.Ptr(0), Message: "stopped alpha"}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	out, err := runCmd(t, "status", "alpha", "-c", path)
	if err != nil {
		t.Fatalf("status alpha: %v\n%s", err, out)
	}
	for _, want := range []string{"Worker:", "alpha", "Last exit:", "Recent transitions:", "started alpha (pid 7)", "stopped alpha"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestLogsCmd(t *testing.T) {
	path := writeConfig(t, twoWorkers)
	store := openStore(t, path)
	now := time.Now()
	logs := []logbuf.Line{
		{Time: now, Stream: logbuf.StreamStdout, Text: "ready"},
		{Time: now, Stream: logbuf.StreamStderr, Text: "warning: slow"},
		{Time: now, Stream: logbuf.StreamSystem, Text: "process exited with code 0"},
	}
	if err := store.Record(context.Background(), status.Update{WorkerID: "alpha", Status: status.Stopped, Logs: logs}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	out, err := runCmd(t, "logs", "alpha", "-c", path)
	if err != nil {
		t.Fatalf("logs: %v\n%s", err, out)
	}
	want := "ready\n[stderr] warning: slow\n[hangar] process exited with code 0\n"
	if out != want {
		t.Errorf("logs output = %q, want %q", out, want)
	}

	out, err = runCmd(t, "logs", "alpha", "-n", "1", "-c", path)
	if err != nil {
		t.Fatalf("logs -n: %v", err)
	}
	if out != "[hangar] process exited with code 0\n" {
		t.Errorf("logs -n 1 = %q", out)
	}

	out, err = runCmd(t, "logs", "beta", "-c", path)
	if err != nil {
		t.Fatalf("logs beta: %v", err)
	}
	if !strings.Contains(out, "No logs recorded for beta") {
		t.Errorf("logs beta = %q", out)
	}
}

func TestRunCmd_AutostartAndShutdown(t *testing.T) {
	path := writeConfig(t, `  - id: sleeper
    runtime: shell
    source: "echo up; exec sleep 30"
  - id: manual
    runtime: shell
    source: "echo never"
    autostart: false
`)

	root := newRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs([]string{"run", "-c", path})

	store := openStore(t, path)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- root.ExecuteContext(ctx) }()

	deadline := time.Now().Add(10 * time.Second)
	for {
		r, err := store.Get(context.Background(), "sleeper")
		if err == nil && r.Status == status.Running {
			break
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("sleeper never reached running; output:\n%s", buf.String())
		}
		time.Sleep(50 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("run did not exit after cancel")
	}

	r, err := store.Get(context.Background(), "sleeper")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if r.Status != status.Stopped {
		t.Errorf("sleeper status after shutdown = %q, want %q", r.Status, status.Stopped)
	}
	if r.LastStarted == nil {
		t.Error("sleeper LastStarted should be set")
	}
	manual, err := store.Get(context.Background(), "manual")
	if err != nil {
		t.Fatalf("Get manual: %v", err)
	}
	if manual.LastStarted != nil {
		t.Error("manual worker should not have been started")
	}
}

func TestBuildScheduler_RejectsBadJob(t *testing.T) {
	cfg := &config.Config{Workers: []config.WorkerConfig{{
		ID:       "alpha",
		Schedule: []config.ScheduleConfig{{Cron: "0 4 * * *", Action: "explode"}},
	}}}
	if _, err := buildScheduler(cfg, nil, logging.Discard()); err == nil {
		t.Error("expected error for unknown action")
	}
}

func TestDaemonReload_AppliesNewConfig(t *testing.T) {
	const alpha = `  - id: alpha
    runtime: shell
    source: "while true; do echo tick; sleep 0.05; done"
`
	const beta = `  - id: beta
    runtime: shell
    source: "exec sleep 30"
`
	path := writeConfig(t, alpha+beta)
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	d, err := buildDaemon(cfg, status.NewMemory(50), logging.Discard())
	if err != nil {
		t.Fatalf("buildDaemon: %v", err)
	}
	ctx := context.Background()
	t.Cleanup(func() { d.sup.Shutdown(ctx) })
	for _, wc := range cfg.Workers {
		if res := d.sup.Deploy(ctx, wc.Worker()); !res.Success {
			t.Fatalf("deploy %s: %s", wc.ID, res.Message)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	head, _, _ := strings.Cut(string(data), "workers:\n")
	if err := os.WriteFile(path, []byte(head+"log_lines: 20\nworkers:\n"+alpha), 0o644); err != nil {
		t.Fatal(err)
	}

	d.reload(ctx, path)

	if d.sup.Running("beta") {
		t.Error("beta should be stopped after it left the config")
	}
	if _, ok := d.sup.Definition("beta"); ok {
		t.Error("beta should no longer be defined")
	}
	if !d.sup.Running("alpha") {
		t.Error("alpha should be running after reload")
	}
	time.Sleep(300 * time.Millisecond)
	if n := len(d.sup.Logs("alpha")); n > 20 {
		t.Errorf("alpha buffer = %d lines, want at most 20 after reload", n)
	}
}

func TestDaemonReload_KeepsFleetOnBadConfig(t *testing.T) {
	path := writeConfig(t, `  - id: alpha
    runtime: shell
    source: "exec sleep 30"
`)
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	d, err := buildDaemon(cfg, status.NewMemory(50), logging.Discard())
	if err != nil {
		t.Fatalf("buildDaemon: %v", err)
	}
	ctx := context.Background()
	t.Cleanup(func() { d.sup.Shutdown(ctx) })
	d.sup.Define(cfg.Workers[0].Worker())
	if res := d.sup.Deploy(ctx, cfg.Workers[0].Worker()); !res.Success {
		t.Fatalf("deploy: %s", res.Message)
	}
	before := d.sup.Logs("alpha")

	if err := os.WriteFile(path, []byte("workers: [unterminated\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	d.reload(ctx, path)

	if !d.sup.Running("alpha") {
		t.Error("alpha should keep running when the new config is invalid")
	}
	if got := d.sup.Logs("alpha"); len(got) != len(before) {
		t.Errorf("alpha logs changed from %d to %d lines; worker was restarted", len(before), len(got))
	}
}
