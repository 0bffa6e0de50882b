package source

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/go-github/v68/github"
	"github.com/klauspost/compress/gzip"
	"golang.org/x/oauth2"
)

// archiveService is the subset of the GitHub repositories API we use.
type archiveService interface {
	GetArchiveLink(ctx context.Context, owner, repo string, format github.ArchiveFormat, opts *github.RepositoryContentGetOptions, maxRedirects int) (*url.URL, *github.Response, error)
}

// GitHub downloads repository tarballs through the GitHub API.
type GitHub struct {
	repos    archiveService
	http     *http.Client
	maxBytes int64
}

// NewGitHub creates a GitHub fetcher. An empty token uses anonymous access,
// which only works for public repositories.
func NewGitHub(token string, maxBytes int64) *GitHub {
	hc := &http.Client{}
	if token != "" {
		hc = oauth2.NewClient(context.Background(), oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	}
	return NewGitHubWithClient(github.NewClient(hc), hc, maxBytes)
}

// NewGitHubWithClient creates a GitHub fetcher from an existing API client.
// hc is used to download the archive the API redirects to.
func NewGitHubWithClient(client *github.Client, hc *http.Client, maxBytes int64) *GitHub {
	if hc == nil {
		hc = &http.Client{}
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &GitHub{repos: client.Repositories, http: hc, maxBytes: maxBytes}
}

// ParseGitHub splits "github:owner/repo[@ref]".
func ParseGitHub(location string) (owner, repo, ref string, err error) {
	rest, ok := strings.CutPrefix(location, "github:")
	if !ok {
		return "", "", "", fmt.Errorf("source: %w: not a github location: %q", ErrFetchFailed, location)
	}
	rest, ref, _ = strings.Cut(rest, "@")
	owner, repo, ok = strings.Cut(rest, "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", "", fmt.Errorf("source: %w: want github:owner/repo[@ref], got %q", ErrFetchFailed, location)
	}
	return owner, repo, ref, nil
}

// Fetch downloads the repository tarball and unpacks it into dest, dropping
// the top-level directory GitHub adds.
func (g *GitHub) Fetch(ctx context.Context, location, dest, _ string) error {
	owner, repo, ref, err := ParseGitHub(location)
	if err != nil {
		return err
	}

	var opts *github.RepositoryContentGetOptions
	if ref != "" {
		opts = &github.RepositoryContentGetOptions{Ref: ref}
	}
	link, _, err := g.repos.GetArchiveLink(ctx, owner, repo, github.Tarball, opts, 3)
	if err != nil {
		return fmt.Errorf("source: %w: archive link for %s/%s: %v", ErrFetchFailed, owner, repo, err)
	}

	body, err := httpGet(ctx, g.http, link.String())
	if err != nil {
		return err
	}
	defer body.Close()

	if err := extractTarGz(io.LimitReader(body, g.maxBytes), dest, g.maxBytes); err != nil {
		return fmt.Errorf("source: %w: unpack %s/%s: %v", ErrFetchFailed, owner, repo, err)
	}
	return nil
}

// extractTarGz unpacks a gzip-compressed tarball into dest, stripping the
// first path component. Only directories and regular files are created.
func extractTarGz(r io.Reader, dest string, maxBytes int64) error {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("gzip: %w", err)
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	var written int64
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("tar: %w", err)
		}

		name := filepath.ToSlash(hdr.Name)
		_, rel, ok := strings.Cut(name, "/")
		if !ok || rel == "" {
			continue
		}
		target := filepath.Join(dest, filepath.FromSlash(rel))
		if r, err := filepath.Rel(dest, target); err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
			return fmt.Errorf("entry %q escapes destination", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			written += hdr.Size
			if written > maxBytes {
				return fmt.Errorf("archive exceeds %d bytes", maxBytes)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := writeFile(target, tr, os.FileMode(hdr.Mode)&0o755|0o600); err != nil {
				return err
			}
		}
	}
}

func writeFile(path string, r io.Reader, mode os.FileMode) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
