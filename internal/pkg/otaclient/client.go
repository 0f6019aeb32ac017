// Package otaclient talks to the real update server: it replays the
// captured check-version request with a spoofed version to obtain a full
// image descriptor, downloads the image, and rewrites the descriptor so it
// points at the local responder.
package otaclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/endorses/paper/internal/pkg/constants"
	"github.com/endorses/paper/internal/pkg/logger"
	"github.com/endorses/paper/internal/pkg/matcher"
)

// ErrHTTPStatus is wrapped when the server answers with a non-2xx status.
var ErrHTTPStatus = errors.New("unexpected HTTP status")

// Config configures a Client.
type Config struct {
	// Server is the update server base, e.g. "http://iotapi.abupdate.com"
	Server      string
	Version     string
	NetworkType string
	Timeout     time.Duration
}

// DefaultConfig asks the real update server for the newest full image.
func DefaultConfig() Config {
	return Config{
		Server:      "http://" + constants.UpdateServerHost,
		Version:     constants.SpoofedVersion,
		NetworkType: constants.SpoofedNetworkType,
		Timeout:     30 * time.Second,
	}
}

// Client is safe for concurrent use.
type Client struct {
	config Config
	http   *http.Client
}

// New returns a client. Empty config fields take their defaults.
func New(config Config) *Client {
	d := DefaultConfig()
	if config.Server == "" {
		config.Server = d.Server
	}
	if !strings.Contains(config.Server, "://") {
		config.Server = "http://" + config.Server
	}
	config.Server = strings.TrimSuffix(config.Server, "/")
	if config.Version == "" {
		config.Version = d.Version
	}
	if config.NetworkType == "" {
		config.NetworkType = d.NetworkType
	}
	return &Client{
		config: config,
		http:   &http.Client{Timeout: config.Timeout},
	}
}

// RequestBody returns the captured body with version and networkType
// replaced. The captured map is not modified.
func (c *Client) RequestBody(result *matcher.CaptureResult) map[string]any {
	body := make(map[string]any, len(result.RequestBody)+2)
	for k, v := range result.RequestBody {
		body[k] = v
	}
	body["version"] = c.config.Version
	body["networkType"] = c.config.NetworkType
	return body
}

// FetchDescriptor replays the captured request against the update server.
func (c *Client) FetchDescriptor(ctx context.Context, result *matcher.CaptureResult) (*Descriptor, error) {
	if result == nil || result.ProductURL == "" {
		return nil, errors.New("capture result has no product url")
	}

	payload, err := json.Marshal(c.RequestBody(result))
	if err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}

	url := c.config.Server + result.ProductURL
	logger.Debug("Requesting update descriptor", "url", url, "version", c.config.Version, "bytes", len(payload))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build descriptor request: %w", err)
	}
	req.Header.Set("Content-Type", constants.JSONContentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request descriptor: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read descriptor: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s", ErrHTTPStatus, resp.Status)
	}

	d, err := ParseDescriptor(body)
	if err != nil {
		return nil, err
	}
	logger.Debug("Update descriptor received", "status", d.Status(), "msg", d.Message(), "bytes", len(body))
	return d, nil
}

// Progress receives the bytes written so far and the expected total, which
// is -1 when the server sent no Content-Length.
type Progress func(written, total int64)

// Download fetches url into path. Data is written to a temporary file in
// the same directory and renamed into place once complete.
func (c *Client) Download(ctx context.Context, url, path string, progress Progress) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("build download request: %w", err)
	}

	// Image downloads outlive the descriptor timeout.
	client := &http.Client{Transport: c.http.Transport}
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("download %s: %w: %s", url, ErrHTTPStatus, resp.Status)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".part-*")
	if err != nil {
		return 0, fmt.Errorf("create download file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	w := &progressWriter{w: tmp, total: resp.ContentLength, progress: progress}
	buf := make([]byte, constants.HashBlockSize)
	n, err := io.CopyBuffer(w, resp.Body, buf)
	if err != nil {
		return n, fmt.Errorf("download %s: %w", url, err)
	}
	if resp.ContentLength >= 0 && n != resp.ContentLength {
		return n, fmt.Errorf("download %s: got %d of %d bytes", url, n, resp.ContentLength)
	}
	if err := tmp.Sync(); err != nil {
		return n, fmt.Errorf("sync download: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return n, fmt.Errorf("close download: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return n, fmt.Errorf("move download into place: %w", err)
	}
	committed = true

	logger.Info("Image downloaded", "path", path, "bytes", n)
	return n, nil
}

type progressWriter struct {
	w        io.Writer
	written  int64
	total    int64
	progress Progress
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.written += int64(n)
	if p.progress != nil {
		p.progress(p.written, p.total)
	}
	return n, err
}
