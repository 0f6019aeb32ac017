// Package workflow runs the steps of a credential reset: capture the
// device's update check, fetch and download the full image, patch the
// credential hash, rewrite the descriptor, redirect the update host and
// serve the result until interrupted.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/endorses/paper/internal/pkg/capture"
	"github.com/endorses/paper/internal/pkg/config"
	"github.com/endorses/paper/internal/pkg/console"
	"github.com/endorses/paper/internal/pkg/constants"
	"github.com/endorses/paper/internal/pkg/hashpatch"
	"github.com/endorses/paper/internal/pkg/hosts"
	"github.com/endorses/paper/internal/pkg/logger"
	"github.com/endorses/paper/internal/pkg/matcher"
	"github.com/endorses/paper/internal/pkg/otaclient"
	"github.com/endorses/paper/internal/pkg/privilege"
	"github.com/endorses/paper/internal/pkg/responder"
	"github.com/endorses/paper/internal/pkg/session"
)

// Runner carries the configuration, console and session shared by the
// steps. Each step saves the session when it completes.
type Runner struct {
	Config  *config.Config
	Console *console.Console
	State   *session.State
	// Hosts overrides the editor built from Config
	Hosts *hosts.Editor
}

// New loads the session file named in cfg.
func New(cfg *config.Config, con *console.Console) (*Runner, error) {
	state, err := session.Load(cfg.SessionFile)
	if err != nil {
		return nil, err
	}
	return &Runner{Config: cfg, Console: con, State: state}, nil
}

// Open loads the global configuration and returns a runner on the
// process console.
func Open() (*Runner, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return New(cfg, console.New())
}

// RequireAdmin checks for administrator rights, offering to relaunch
// elevated. Declining the relaunch returns console.ErrDeclined.
func (r *Runner) RequireAdmin() error {
	declined := false
	err := privilege.Require(func(question string) bool {
		ok := r.Console.Confirm(question)
		declined = !ok
		return ok
	})
	if declined && errors.Is(err, privilege.ErrNotElevated) {
		return fmt.Errorf("%w: %w", console.ErrDeclined, err)
	}
	return err
}

func (r *Runner) hostsEditor() *hosts.Editor {
	if r.Hosts != nil {
		return r.Hosts
	}
	return r.Config.HostsEditor()
}

// EnableHosts points the update host at the gateway.
func (r *Runner) EnableHosts(ctx context.Context) error {
	editor := r.hostsEditor()
	changed, err := editor.Enable(ctx)
	if err != nil && !changed {
		return err
	}
	if err != nil {
		r.Console.Warn("%v", err)
	}
	if changed {
		r.Console.Success("Added %s to %s", editor.Entry, editor.Path)
	}
	return nil
}

// DisableHosts removes the entry added by EnableHosts.
func (r *Runner) DisableHosts(ctx context.Context) error {
	editor := r.hostsEditor()
	changed, err := editor.Disable(ctx)
	if err != nil && !changed {
		return err
	}
	if err != nil {
		r.Console.Warn("%v", err)
	}
	if changed {
		r.Console.Success("Removed %s from %s", editor.Entry, editor.Path)
	}
	return nil
}

func (r *Runner) save() error {
	return r.State.Save(r.Config.SessionFile)
}

// CaptureOptions selects how the update request is obtained.
type CaptureOptions struct {
	Device    string
	ReadFile  string
	WriteFile string
	// Manual asks the operator for the request instead of capturing
	Manual bool
}

// Capture obtains the device's update-check request and stores it in the
// session.
func (r *Runner) Capture(ctx context.Context, opts CaptureOptions) (*matcher.CaptureResult, error) {
	var (
		result *matcher.CaptureResult
		err    error
	)
	if opts.Manual {
		result, err = r.manualCapture()
	} else {
		result, err = r.liveCapture(ctx, opts)
	}
	if err != nil {
		return nil, err
	}

	r.Console.Info("Product URL: %s", result.ProductURL)
	r.State.Capture = result
	r.State.Descriptor = ""
	r.State.Payload = ""
	if err := r.save(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *Runner) liveCapture(ctx context.Context, opts CaptureOptions) (*matcher.CaptureResult, error) {
	cfg := r.Config.CaptureSession()
	cfg.Device = opts.Device
	cfg.ReadFile = opts.ReadFile
	cfg.WriteFile = opts.WriteFile

	if opts.ReadFile == "" {
		r.Console.Info("Connect the device to the hotspot on %s and check for updates", cfg.Gateway)
	}
	s := capture.NewSession(cfg)
	result, err := s.Run(ctx)
	stats := s.Stats()
	logger.Debug("Capture finished",
		"frames", stats.Frames,
		"rejected", stats.Rejected,
		"unmatched", stats.Unmatched,
		"malformed_body", stats.MalformedBody)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// manualCapture asks for the product URL and the request body, for
// operators who captured the request with another tool.
func (r *Runner) manualCapture() (*matcher.CaptureResult, error) {
	raw, err := r.Console.Input("Product URL (path containing " + r.Config.Capture.Marker + ")")
	if err != nil {
		return nil, err
	}
	path, err := productPath(raw, r.Config.Capture.Marker)
	if err != nil {
		return nil, err
	}

	body, err := r.Console.Input("Request body (JSON)")
	if err != nil {
		return nil, err
	}
	var requestBody map[string]any
	if err := json.Unmarshal([]byte(body), &requestBody); err != nil || requestBody == nil {
		return nil, fmt.Errorf("%w: request body must be a JSON object", matcher.ErrMalformedBody)
	}

	return &matcher.CaptureResult{
		ProductURL:  path,
		Method:      "POST",
		Host:        r.Config.Capture.Host,
		RequestBody: requestBody,
		CapturedAt:  time.Now(),
	}, nil
}

// productPath accepts a bare path or a full URL and returns the path.
func productPath(raw, marker string) (string, error) {
	raw = strings.TrimSpace(raw)
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", fmt.Errorf("invalid product url: %w", err)
		}
		raw = u.Path
	}
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	if !strings.HasPrefix(raw, "/") || !strings.Contains(raw, marker) {
		return "", fmt.Errorf("product url %q must be a path containing %s", raw, marker)
	}
	return raw, nil
}

// Fetch asks the update server for the full image descriptor.
func (r *Runner) Fetch(ctx context.Context) (*otaclient.Descriptor, error) {
	result, err := r.State.RequireCapture()
	if err != nil {
		return nil, err
	}

	r.Console.Info("Requesting update information")
	d, err := r.Config.OTAClient().FetchDescriptor(ctx, result)
	if err != nil {
		return nil, err
	}
	if status := d.Status(); status != otaclient.StatusSuccess {
		logger.Warn("Update server returned unexpected status", "status", status, "msg", d.Message())
	}
	deltaURL, err := d.DeltaURL()
	if err != nil {
		return nil, fmt.Errorf("%w (status %d: %s)", err, d.Status(), d.Message())
	}
	r.Console.Info("Delta URL extracted: %s", deltaURL)
	if name := d.VersionName(); name != "" {
		r.Console.Info("Offered version: %s", name)
	}
	logger.Debug("Descriptor", "json", d.Indent())

	raw, err := d.Bytes()
	if err != nil {
		return nil, err
	}
	r.State.Descriptor = string(raw)
	r.State.DeltaURL = deltaURL
	if err := r.save(); err != nil {
		return nil, err
	}
	return d, nil
}

// Download fetches the image named by the descriptor. When the image file
// already exists the operator may keep it.
func (r *Runner) Download(ctx context.Context) error {
	if r.State.DeltaURL == "" {
		return fmt.Errorf("%w: no delta url, run fetch first", session.ErrIncomplete)
	}
	path := r.Config.Server.Image

	if _, err := os.Stat(path); err == nil && r.Console.Confirm(fmt.Sprintf("%s exists, skip download?", path)) {
		logger.Info("Keeping existing image", "path", path)
		r.State.ImagePath = path
		return r.save()
	}

	r.Console.Info("Downloading image file")
	_, err := r.Config.OTAClient().Download(ctx, r.State.DeltaURL, path, r.Console.Progress)
	r.Console.EndProgress()
	if err != nil {
		return err
	}
	r.State.ImagePath = path
	r.State.Patched = false
	return r.save()
}

// Locate reports the image's marker without changing it.
func (r *Runner) Locate() (hashpatch.Match, error) {
	m, err := r.Config.Patcher().Locate(r.Config.Server.Image)
	if err != nil {
		return hashpatch.Match{}, err
	}
	r.Console.Info("Found %s password hash at offset %d", m.Kind(), m.Offset)
	return m, nil
}

// Patch replaces the credential hash in the image. An empty credential is
// asked for on the console.
func (r *Runner) Patch(credential string) (*hashpatch.Result, error) {
	path := r.Config.Server.Image
	if _, err := r.Locate(); err != nil {
		return nil, err
	}

	for credential == "" {
		var err error
		credential, err = r.Console.Password("Please input new password")
		if err != nil {
			return nil, err
		}
		if credential == "" {
			r.Console.Warn("Password cannot be empty.")
		}
	}

	res, err := r.Config.Patcher().Patch(path, credential)
	if err != nil {
		return nil, err
	}
	r.Console.Success("Password hash replacement completed")
	r.State.ImagePath = path
	r.State.Patched = true
	if err := r.save(); err != nil {
		return nil, err
	}
	return res, nil
}

// Rewrite points the stored descriptor at the local image and refreshes
// its digests. The result is stored as the payload to serve.
func (r *Runner) Rewrite() ([]byte, error) {
	if r.State.Descriptor == "" {
		return nil, fmt.Errorf("%w: no descriptor, run fetch first", session.ErrIncomplete)
	}
	d, err := otaclient.ParseDescriptor([]byte(r.State.Descriptor))
	if err != nil {
		return nil, err
	}
	r.Console.Info("Calculating hash")
	if err := otaclient.Rewrite(d, r.Config.Server.Image, r.Config.ImageURL()); err != nil {
		return nil, err
	}
	payload, err := d.Bytes()
	if err != nil {
		return nil, err
	}
	r.State.Payload = string(payload)
	if err := r.save(); err != nil {
		return nil, err
	}
	return payload, nil
}

// Serve runs the responder until ctx is cancelled. ready, when non-nil,
// receives the server once it is listening.
func (r *Runner) Serve(ctx context.Context, ready func(*responder.Server)) error {
	result, err := r.State.RequireCapture()
	if err != nil {
		return err
	}
	payload, err := r.State.RequirePayload()
	if err != nil {
		return err
	}

	var metrics *responder.Metrics
	if r.Config.MetricsPort > 0 {
		metrics = responder.NewMetrics()
		exporter := responder.NewExporter(r.Config.MetricsPort, metrics)
		if err := exporter.Enable(); err != nil {
			return err
		}
		defer exporter.Disable()
	}

	srv, err := responder.New(r.Config.Responder(result.OTAURL(), payload, metrics))
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return err
	}
	r.Console.Info("Server started on %s, update the device now. Press Ctrl+C to stop", srv.Addr())
	if ready != nil {
		ready(srv)
	}

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.GracefulShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

// RunOptions configures the full workflow.
type RunOptions struct {
	Capture    CaptureOptions
	Credential string
	// NoHosts leaves the hosts file alone
	NoHosts bool
}

// Run performs every step in order. Callers check privileges first with
// RequireAdmin. The hosts entry added before serving
// is removed again when serving stops, including on interrupt.
func (r *Runner) Run(ctx context.Context, opts RunOptions) error {
	return r.run(ctx, opts, nil)
}

func (r *Runner) run(ctx context.Context, opts RunOptions, ready func(*responder.Server)) error {
	if _, err := r.Capture(ctx, opts.Capture); err != nil {
		return err
	}
	if _, err := r.Fetch(ctx); err != nil {
		return err
	}
	if err := r.Download(ctx); err != nil {
		return err
	}
	if _, err := r.Patch(opts.Credential); err != nil {
		return err
	}
	if _, err := r.Rewrite(); err != nil {
		return err
	}

	if !opts.NoHosts {
		if err := r.EnableHosts(ctx); err != nil {
			return err
		}
		defer func() {
			// ctx is already cancelled here.
			if err := r.DisableHosts(context.Background()); err != nil {
				logger.Error("Failed to remove hosts entry", "error", err)
			}
		}()
	}

	return r.Serve(ctx, ready)
}
