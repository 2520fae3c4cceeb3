package applier

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// FilePublisher writes the config where the proxy's file provider watches.
// The write is atomic (tmp+fsync+rename) so the proxy never observes a
// half-written file.
type FilePublisher struct {
	path string
}

// NewFilePublisher creates a FilePublisher targeting path.
func NewFilePublisher(path string) *FilePublisher {
	return &FilePublisher{path: path}
}

// Publish writes data to the configured path.
func (p *FilePublisher) Publish(_ context.Context, data []byte) error {
	return atomicWrite(p.path, data)
}

// HTTPPublisher PUTs the config to a proxy admin endpoint.
type HTTPPublisher struct {
	url    string
	client *http.Client
}

// NewHTTPPublisher creates an HTTPPublisher targeting url.
func NewHTTPPublisher(url string, timeout time.Duration) *HTTPPublisher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPPublisher{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Publish PUTs data to the configured endpoint. Any non-2xx response is a
// failure.
func (p *HTTPPublisher) Publish(ctx context.Context, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, p.url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/yaml")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("proxy config endpoint returned %s", resp.Status)
	}
	return nil
}

// atomicWrite writes data to a file atomically using tmp+fsync+rename.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}

	return os.Rename(tmp, path)
}
