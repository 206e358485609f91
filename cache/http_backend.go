package cache

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/thought-machine/forge/rulekey"
)

// HTTPBackend stores tarballs against a remote cache server over plain
// HTTP PUT/GET. The blob format is the same gzipped tarball the dir
// backend uses. Only the blob is sent: Store does not upload the
// Metadata it is given, and Fetch reports Metadata with Origin set to the
// base URL and no ContentHash, so its hits are not integrity-checked.
type HTTPBackend struct {
	baseURL  string
	client   *http.Client
	writable bool
}

// NewHTTPBackend targets baseURL (e.g. "https://cache.example.com/artifacts").
func NewHTTPBackend(baseURL string, writable bool, client *http.Client) *HTTPBackend {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPBackend{baseURL: baseURL, client: client, writable: writable}
}

func (b *HTTPBackend) Name() string { return "http:" + b.baseURL }

func (b *HTTPBackend) url(key rulekey.Key) string {
	return b.baseURL + "/" + key.String()
}

func (b *HTTPBackend) Fetch(ctx context.Context, key rulekey.Key, outs []string, dir string) (Result, Metadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.url(key), nil)
	if err != nil {
		return Error, Metadata{}, err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return Error, Metadata{}, &CacheError{Backend: b.Name(), Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return Miss, Metadata{}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return Error, Metadata{}, &CacheError{Backend: b.Name(), Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
	if err := extractTarGz(resp.Body, dir); err != nil {
		return Error, Metadata{}, &CacheError{Backend: b.Name(), Err: err}
	}
	return Hit, Metadata{Origin: b.baseURL}, nil
}

func (b *HTTPBackend) Store(ctx context.Context, key rulekey.Key, outs []string, dir string, meta Metadata) error {
	if !b.writable {
		return nil
	}
	tmp, err := tarGzToBuffer(dir, outs)
	if err != nil {
		return &CacheError{Backend: b.Name(), Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, b.url(key), bytes.NewReader(tmp))
	if err != nil {
		return &CacheError{Backend: b.Name(), Err: err}
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return &CacheError{Backend: b.Name(), Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(resp.Body)
		return &CacheError{Backend: b.Name(), Err: fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)}
	}
	return nil
}

func tarGzToBuffer(srcDir string, outs []string) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeTarGzTo(&buf, srcDir, outs); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
