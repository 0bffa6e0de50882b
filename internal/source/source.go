// Package source fetches remote bot source code into a workspace.
//
// Locations are dispatched by form:
//
//	github:owner/repo[@ref]      repository tarball via the GitHub API
//	git+https://host/repo.git    shallow git clone (also git+ssh://, git@..., *.git)
//	https://host/path/bot.js     single file download into the entry file
package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrFetchFailed is wrapped by every fetch error.
var ErrFetchFailed = errors.New("fetch failed")

// Fetcher materializes location into dest. entry is the workspace-relative
// entry file, used by fetchers that download a single file.
type Fetcher interface {
	Fetch(ctx context.Context, location, dest, entry string) error
}

// Kind identifies a location form.
type Kind string

const (
	KindGitHub Kind = "github"
	KindGit    Kind = "git"
	KindHTTP   Kind = "http"
)

// Classify reports which fetcher handles location.
func Classify(location string) (Kind, error) {
	switch {
	case location == "":
		return "", fmt.Errorf("source: %w: empty location", ErrFetchFailed)
	case strings.HasPrefix(location, "github:"):
		return KindGitHub, nil
	case strings.HasPrefix(location, "git+"), strings.HasPrefix(location, "git@"),
		strings.HasPrefix(location, "ssh://"), strings.HasSuffix(location, ".git"):
		return KindGit, nil
	case strings.HasPrefix(location, "https://"), strings.HasPrefix(location, "http://"):
		return KindHTTP, nil
	}
	return "", fmt.Errorf("source: %w: unsupported location %q", ErrFetchFailed, location)
}

// Opts configures a Router.
type Opts struct {
	GitHubToken string
	GitBinary   string        // default "git"
	HTTPClient  *http.Client  // used for plain downloads; default has a 60s timeout
	GitHub      *GitHub       // optional override, mainly for tests
	MaxBytes    int64         // download size limit; default 64 MiB
	Timeout     time.Duration // per-fetch timeout; default 5m
}

// Router dispatches a location to the matching fetcher.
type Router struct {
	git     *Git
	github  *GitHub
	http    *HTTP
	timeout time.Duration
}

// DefaultMaxBytes bounds downloaded archives and files.
const DefaultMaxBytes = 64 << 20

// New builds a Router from opts.
func New(opts Opts) *Router {
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Minute
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 60 * time.Second}
	}
	gh := opts.GitHub
	if gh == nil {
		gh = NewGitHub(opts.GitHubToken, opts.MaxBytes)
	}
	return &Router{
		git:     &Git{Binary: opts.GitBinary},
		github:  gh,
		http:    &HTTP{Client: hc, MaxBytes: opts.MaxBytes},
		timeout: opts.Timeout,
	}
}

// Fetch implements Fetcher.
func (r *Router) Fetch(ctx context.Context, location, dest, entry string) error {
	kind, err := Classify(location)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	switch kind {
	case KindGitHub:
		return r.github.Fetch(ctx, location, dest, entry)
	case KindGit:
		return r.git.Fetch(ctx, location, dest, entry)
	default:
		return r.http.Fetch(ctx, location, dest, entry)
	}
}
