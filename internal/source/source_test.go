package source

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-github/v68/github"
	"github.com/klauspost/compress/gzip"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		loc  string
		want Kind
	}{
		{"github:acme/bot", KindGitHub},
		{"github:acme/bot@v1.2.0", KindGitHub},
		{"git+https://example.com/acme/bot", KindGit},
		{"git@github.com:acme/bot.git", KindGit},
		{"https://example.com/acme/bot.git", KindGit},
		{"ssh://git@example.com/acme/bot", KindGit},
		{"https://example.com/bot.js", KindHTTP},
		{"http://example.com/bot.py", KindHTTP},
	}
	for _, c := range cases {
		got, err := Classify(c.loc)
		if err != nil {
			t.Errorf("Classify(%q): %v", c.loc, err)
			continue
		}
		if got != c.want {
			t.Errorf("Classify(%q) = %q, want %q", c.loc, got, c.want)
		}
	}
}

func TestClassify_Unsupported(t *testing.T) {
	for _, loc := range []string{"", "ftp://x/y", "/local/path"} {
		if _, err := Classify(loc); !errors.Is(err, ErrFetchFailed) {
			t.Errorf("Classify(%q) err = %v, want ErrFetchFailed", loc, err)
		}
	}
}

func TestParseGitHub(t *testing.T) {
	owner, repo, ref, err := ParseGitHub("github:acme/bot@main")
	if err != nil {
		t.Fatalf("ParseGitHub: %v", err)
	}
	if owner != "acme" || repo != "bot" || ref != "main" {
		t.Errorf("got %s/%s@%s, want acme/bot@main", owner, repo, ref)
	}

	_, _, ref, err = ParseGitHub("github:acme/bot")
	if err != nil || ref != "" {
		t.Errorf("ref = %q err = %v, want empty ref", ref, err)
	}

	for _, bad := range []string{"github:acme", "github:/bot", "github:a/b/c", "acme/bot"} {
		if _, _, _, err := ParseGitHub(bad); err == nil {
			t.Errorf("ParseGitHub(%q) should fail", bad)
		}
	}
}

func TestHTTPFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bot.js" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, "console.log('ready')")
	}))
	defer srv.Close()

	dest := t.TempDir()
	r := New(Opts{HTTPClient: srv.Client()})
	if err := r.Fetch(context.Background(), srv.URL+"/bot.js", dest, "index.js"); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dest, "index.js"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "console.log('ready')" {
		t.Errorf("content = %q", data)
	}
}

func TestHTTPFetch_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	r := New(Opts{HTTPClient: srv.Client()})
	err := r.Fetch(context.Background(), srv.URL+"/missing.js", t.TempDir(), "index.js")
	if !errors.Is(err, ErrFetchFailed) {
		t.Fatalf("err = %v, want ErrFetchFailed", err)
	}
	if !strings.Contains(err.Error(), "404") {
		t.Errorf("err = %q, want status in message", err)
	}
}

func TestHTTPFetch_TooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(bytes.Repeat([]byte("x"), 100))
	}))
	defer srv.Close()

	r := New(Opts{HTTPClient: srv.Client(), MaxBytes: 10})
	err := r.Fetch(context.Background(), srv.URL+"/big.js", t.TempDir(), "index.js")
	if !errors.Is(err, ErrFetchFailed) {
		t.Errorf("err = %v, want ErrFetchFailed", err)
	}
}

// buildTarball returns a gzip-compressed tarball shaped like GitHub's,
// with every file under a single top-level directory.
func buildTarball(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(zw)

	tw.WriteHeader(&tar.Header{Name: "acme-bot-abc123/", Typeflag: tar.TypeDir, Mode: 0o755})
	for name, content := range files {
		hdr := &tar.Header{
			Name:     "acme-bot-abc123/" + name,
			Typeflag: tar.TypeReg,
			Mode:     0o644,
			Size:     int64(len(content)),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		tw.Write([]byte(content))
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func newGitHubTestServer(t *testing.T, tarball []byte) (*httptest.Server, *GitHub) {
	t.Helper()
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	mux.HandleFunc("/repos/acme/bot/tarball/main", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, srv.URL+"/download/acme-bot.tar.gz", http.StatusFound)
	})
	mux.HandleFunc("/download/acme-bot.tar.gz", func(w http.ResponseWriter, r *http.Request) {
		w.Write(tarball)
	})

	client := github.NewClient(srv.Client())
	base, _ := url.Parse(srv.URL + "/")
	client.BaseURL = base
	return srv, NewGitHubWithClient(client, srv.Client(), 0)
}

func TestGitHubFetch(t *testing.T) {
	tarball := buildTarball(t, map[string]string{
		"package.json": `{"name":"bot"}`,
		"src/index.js": "console.log('ready')",
	})
	_, gh := newGitHubTestServer(t, tarball)

	dest := t.TempDir()
	r := New(Opts{GitHub: gh})
	if err := r.Fetch(context.Background(), "github:acme/bot@main", dest, "src/index.js"); err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dest, "src", "index.js"))
	if err != nil {
		t.Fatalf("read entry: %v", err)
	}
	if string(data) != "console.log('ready')" {
		t.Errorf("entry = %q", data)
	}
	if _, err := os.Stat(filepath.Join(dest, "package.json")); err != nil {
		t.Errorf("package.json missing: %v", err)
	}
}

func TestGitHubFetch_MissingRepo(t *testing.T) {
	_, gh := newGitHubTestServer(t, nil)
	err := gh.Fetch(context.Background(), "github:acme/other@main", t.TempDir(), "")
	if !errors.Is(err, ErrFetchFailed) {
		t.Errorf("err = %v, want ErrFetchFailed", err)
	}
}

func TestExtractTarGz_RejectsEscape(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(zw)
	content := "pwned"
	tw.WriteHeader(&tar.Header{Name: "top/../../evil.txt", Typeflag: tar.TypeReg, Mode: 0o644, Size: int64(len(content))})
	tw.Write([]byte(content))
	tw.Close()
	zw.Close()

	dest := t.TempDir()
	if err := extractTarGz(&buf, dest, DefaultMaxBytes); err == nil {
		t.Error("expected escape to be rejected")
	}
}

func TestGitFetch_LocalRepo(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	repo := t.TempDir()
	run := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", args...)
		cmd.Dir = repo
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v: %s", args, err, out)
		}
	}
	run("init", "-q")
	if err := os.WriteFile(filepath.Join(repo, "main.py"), []byte("print('ready')\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	run("add", ".")
	run("-c", "user.name=test", "-c", "user.email=test@example.com", "commit", "-q", "-m", "init")

	dest := t.TempDir()
	r := New(Opts{})
	if err := r.Fetch(context.Background(), "git+file://"+repo, dest, "main.py"); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dest, "main.py")); err != nil {
		t.Errorf("main.py not cloned: %v", err)
	}
}

func TestGitFetch_Failure(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	g := &Git{}
	err := g.Fetch(context.Background(), "git+file:///nonexistent/repo", t.TempDir(), "")
	if !errors.Is(err, ErrFetchFailed) {
		t.Errorf("err = %v, want ErrFetchFailed", err)
	}
}
