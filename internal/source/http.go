package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/zulandar/hangar/internal/workspace"
)

// HTTP downloads a single program file into the entry path.
type HTTP struct {
	Client   *http.Client
	MaxBytes int64
}

// Fetch downloads location and writes it to dest/entry.
func (h *HTTP) Fetch(ctx context.Context, location, dest, entry string) error {
	path, err := workspace.ResolveEntry(dest, entry)
	if err != nil {
		return fmt.Errorf("source: %w: %v", ErrFetchFailed, err)
	}

	body, err := httpGet(ctx, h.Client, location)
	if err != nil {
		return err
	}
	defer body.Close()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("source: %w: create %s: %v", ErrFetchFailed, filepath.Dir(entry), err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("source: %w: open %s: %v", ErrFetchFailed, entry, err)
	}
	n, copyErr := io.Copy(f, io.LimitReader(body, h.MaxBytes+1))
	closeErr := f.Close()
	if copyErr != nil {
		return fmt.Errorf("source: %w: download %s: %v", ErrFetchFailed, location, copyErr)
	}
	if n > h.MaxBytes {
		return fmt.Errorf("source: %w: %s exceeds %d bytes", ErrFetchFailed, location, h.MaxBytes)
	}
	if closeErr != nil {
		return fmt.Errorf("source: %w: write %s: %v", ErrFetchFailed, entry, closeErr)
	}
	return nil
}

// httpGet issues a GET and returns the body of a 2xx response.
func httpGet(ctx context.Context, client *http.Client, location string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, fmt.Errorf("source: %w: build request: %v", ErrFetchFailed, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("source: %w: get %s: %v", ErrFetchFailed, location, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("source: %w: get %s: %s", ErrFetchFailed, location, resp.Status)
	}
	return resp.Body, nil
}
