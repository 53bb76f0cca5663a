// Package utils provides the HTTP fetch helpers and the on-disk payload cache
// shared by the loaders.
package utils

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

var ErrNotFound = errors.New("file not found on server")

// Logf receives download progress and cleanup errors.
var Logf = log.Printf

const progressEvery = 5 * 1024 * 1024

// progressWriter logs large analysis payload downloads as they arrive.
type progressWriter struct {
	io.Writer
	total uint64
	last  uint64
	label string
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n, err := pw.Writer.Write(p)
	pw.total += uint64(n)
	if pw.total-pw.last > progressEvery {
		Logf("[utils] %s: downloaded %d MB", pw.label, pw.total/1024/1024)
		pw.last = pw.total
	}
	return n, err
}

func get(ctx context.Context, client *http.Client, rawURL string) (*http.Response, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		closeBody(resp)
		if resp.StatusCode == http.StatusNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("bad status: %s", resp.Status)
	}
	return resp, nil
}

func closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		Logf("Error closing response body: %v", err)
	}
}

// Fetch downloads url into memory.
func Fetch(ctx context.Context, client *http.Client, rawURL string) ([]byte, error) {
	resp, err := get(ctx, client, rawURL)
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)
	return io.ReadAll(resp.Body)
}

// DownloadFile downloads a file from a URL to a local path safely.
func DownloadFile(ctx context.Context, client *http.Client, rawURL, path string) error {
	resp, err := get(ctx, client, rawURL)
	if err != nil {
		return err
	}
	defer closeBody(resp)

	// Create a temp file in the same directory to ensure atomic move
	tmpFile, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmpFile.Name()
	defer func() {
		if err := os.Remove(tmpName); err != nil && !os.IsNotExist(err) {
			Logf("Error removing temp file %s: %v", tmpName, err)
		}
	}() // Clean up if we fail

	pw := &progressWriter{Writer: tmpFile, label: filepath.Base(path)}
	if _, err := io.Copy(pw, resp.Body); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}

	// Atomic rename to final path
	return os.Rename(tmpName, path)
}

// CacheFileName returns the local filename for a URL. Every path segment is
// kept so tile URLs that share a last segment do not collide.
func CacheFileName(rawURL, logPrefix string) string {
	name := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		name = u.Host + u.Path
	}
	name = strings.Trim(name, "/")
	name = strings.NewReplacer("/", "_", ":", "_", "?", "_", "&", "_").Replace(name)

	sanitizedPrefix := strings.Trim(logPrefix, "[]")
	sanitizedPrefix = strings.ReplaceAll(sanitizedPrefix, " ", "_")
	if sanitizedPrefix != "" {
		name = sanitizedPrefix + "_" + name
	}
	return name
}

// GetCachedReader returns a reader for the given URL. When cacheDir is set the
// body is downloaded there once and served from disk afterwards.
func GetCachedReader(ctx context.Context, client *http.Client, rawURL, cacheDir, logPrefix string) (io.ReadCloser, error) {
	if cacheDir != "" {
		if err := os.MkdirAll(cacheDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create cache dir: %w", err)
		}
		localPath := filepath.Join(cacheDir, CacheFileName(rawURL, logPrefix))

		if _, err := os.Stat(localPath); os.IsNotExist(err) {
			Logf("%s Downloading %s", logPrefix, rawURL)
			if err := DownloadFile(ctx, client, rawURL, localPath); err != nil {
				return nil, err // Return the error directly so caller can see ErrNotFound
			}
		}
		f, err := os.Open(localPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open cache: %w", err)
		}
		return f, nil
	}

	resp, err := get(ctx, client, rawURL)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}
