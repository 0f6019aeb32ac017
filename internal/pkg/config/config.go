// Package config snapshots viper settings into an immutable Config that is
// passed to the capture, responder, patch and OTA components.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/endorses/paper/internal/pkg/capture"
	"github.com/endorses/paper/internal/pkg/capture/pcaptypes"
	"github.com/endorses/paper/internal/pkg/cmdutil"
	"github.com/endorses/paper/internal/pkg/constants"
	"github.com/endorses/paper/internal/pkg/hashpatch"
	"github.com/endorses/paper/internal/pkg/hosts"
	"github.com/endorses/paper/internal/pkg/matcher"
	"github.com/endorses/paper/internal/pkg/otaclient"
	"github.com/endorses/paper/internal/pkg/responder"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. PAPER_SERVER_PORT.
const EnvPrefix = "PAPER"

// Config is read once at startup and not modified afterwards.
type Config struct {
	Capture     CaptureConfig
	Server      ServerConfig
	Patch       PatchConfig
	OTA         OTAConfig
	SessionFile string
	HostsFile   string
	MetricsPort int
}

type CaptureConfig struct {
	Gateway        string
	Host           string
	Marker         string
	Port           int
	Promiscuous    bool
	PcapTimeout    time.Duration
	PcapBufferSize int
}

type ServerConfig struct {
	// Address overrides Port with a full listen address
	Address        string
	Port           int
	Image          string
	ImageRoute     string
	RegisterRoute  string
	MaxConnections int
	ReadTimeout    time.Duration
}

type PatchConfig struct {
	BlockSize int
	Atomic    bool
}

type OTAConfig struct {
	Server      string
	Version     string
	NetworkType string
}

// SetDefaults registers the default for every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("capture.gateway", constants.HotspotGateway)
	v.SetDefault("capture.host", constants.UpdateServerHost)
	v.SetDefault("capture.marker", constants.UpdateCheckMarker)
	v.SetDefault("capture.port", constants.HTTPPort)
	v.SetDefault("capture.promiscuous", false)
	v.SetDefault("capture.pcap_timeout_ms", int(constants.PcapReadTimeout/time.Millisecond))
	v.SetDefault("capture.pcap_buffer_size", "2M")

	v.SetDefault("server.address", "")
	v.SetDefault("server.port", constants.HTTPPort)
	v.SetDefault("server.image", constants.ImageFileName)
	v.SetDefault("server.image_route", constants.ImageRoute)
	v.SetDefault("server.register_route", constants.RegisterRoute)
	v.SetDefault("server.max_connections", constants.MaxConnections)
	v.SetDefault("server.read_timeout", "0s")

	v.SetDefault("patch.block_size", "1M")
	v.SetDefault("patch.atomic", false)

	v.SetDefault("ota.server", "http://"+constants.UpdateServerHost)
	v.SetDefault("ota.version", constants.SpoofedVersion)
	v.SetDefault("ota.network_type", constants.SpoofedNetworkType)

	v.SetDefault("session.file", "paper-session.yaml")
	v.SetDefault("hosts.file", hosts.DefaultPath())
	v.SetDefault("metrics.port", 0)
}

// Setup points v at the config file and environment. An empty cfgFile
// searches ~/.config/paper/config.yaml, then ~/.config/paper.yaml, then
// ./paper.yaml. A missing file is not an error.
func Setup(v *viper.Viper, cfgFile string) error {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", cfgFile, err)
		}
		return nil
	}

	v.SetConfigType("yaml")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "paper"))
		v.AddConfigPath(filepath.Join(home, ".config"))
	}
	v.AddConfigPath(".")

	for _, name := range []string{"config", "paper"} {
		v.SetConfigName(name)
		err := v.ReadInConfig()
		if err == nil {
			return nil
		}
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

// Load snapshots the global viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom snapshots v and validates the result.
func LoadFrom(v *viper.Viper) (*Config, error) {
	pcapBuffer, err := size(v, "capture.pcap_buffer_size")
	if err != nil {
		return nil, err
	}
	blockSize, err := size(v, "patch.block_size")
	if err != nil {
		return nil, err
	}

	c := &Config{
		Capture: CaptureConfig{
			Gateway:        v.GetString("capture.gateway"),
			Host:           v.GetString("capture.host"),
			Marker:         v.GetString("capture.marker"),
			Port:           v.GetInt("capture.port"),
			Promiscuous:    v.GetBool("capture.promiscuous"),
			PcapTimeout:    time.Duration(v.GetInt("capture.pcap_timeout_ms")) * time.Millisecond,
			PcapBufferSize: int(pcapBuffer),
		},
		Server: ServerConfig{
			Address:        v.GetString("server.address"),
			Port:           v.GetInt("server.port"),
			Image:          v.GetString("server.image"),
			ImageRoute:     v.GetString("server.image_route"),
			RegisterRoute:  v.GetString("server.register_route"),
			MaxConnections: v.GetInt("server.max_connections"),
			ReadTimeout:    v.GetDuration("server.read_timeout"),
		},
		Patch: PatchConfig{
			BlockSize: int(blockSize),
			Atomic:    v.GetBool("patch.atomic"),
		},
		OTA: OTAConfig{
			Server:      v.GetString("ota.server"),
			Version:     v.GetString("ota.version"),
			NetworkType: v.GetString("ota.network_type"),
		},
		SessionFile: v.GetString("session.file"),
		HostsFile:   v.GetString("hosts.file"),
		MetricsPort: v.GetInt("metrics.port"),
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func size(v *viper.Viper, key string) (int64, error) {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return 0, nil
	}
	n, err := cmdutil.ParseSizeString(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func validPort(p int) bool { return p > 0 && p <= 65535 }

// Validate rejects out-of-range ports and empty required values.
func (c *Config) Validate() error {
	var errs []error
	if !validPort(c.Capture.Port) {
		errs = append(errs, fmt.Errorf("capture.port %d out of range", c.Capture.Port))
	}
	if !validPort(c.Server.Port) {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.MetricsPort != 0 && !validPort(c.MetricsPort) {
		errs = append(errs, fmt.Errorf("metrics.port %d out of range", c.MetricsPort))
	}
	if c.Capture.Gateway == "" {
		errs = append(errs, errors.New("capture.gateway is required"))
	}
	if c.Capture.Marker == "" {
		errs = append(errs, errors.New("capture.marker is required"))
	}
	if c.Capture.PcapTimeout <= 0 {
		errs = append(errs, errors.New("capture.pcap_timeout_ms must be positive"))
	}
	if c.Server.Image == "" {
		errs = append(errs, errors.New("server.image is required"))
	}
	if c.Server.ImageRoute == "" || !strings.HasPrefix(c.Server.ImageRoute, "/") {
		errs = append(errs, fmt.Errorf("server.image_route %q must start with /", c.Server.ImageRoute))
	}
	if c.Server.RegisterRoute == "" || !strings.HasPrefix(c.Server.RegisterRoute, "/") {
		errs = append(errs, fmt.Errorf("server.register_route %q must start with /", c.Server.RegisterRoute))
	}
	if c.Server.MaxConnections < 1 {
		errs = append(errs, fmt.Errorf("server.max_connections %d must be at least 1", c.Server.MaxConnections))
	}
	if c.Server.ReadTimeout < 0 {
		errs = append(errs, errors.New("server.read_timeout must not be negative"))
	}
	if c.Patch.BlockSize != 0 && c.Patch.BlockSize <= constants.ScanOverlap {
		errs = append(errs, fmt.Errorf("patch.block_size %d must exceed the %d byte overlap", c.Patch.BlockSize, constants.ScanOverlap))
	}
	if c.SessionFile == "" {
		errs = append(errs, errors.New("session.file is required"))
	}
	return errors.Join(errs...)
}

// CaptureSession builds the capture configuration.
func (c *Config) CaptureSession() capture.Config {
	live := pcaptypes.DefaultLiveOptions()
	live.Promiscuous = c.Capture.Promiscuous
	live.Timeout = c.Capture.PcapTimeout
	if c.Capture.PcapBufferSize > 0 {
		live.BufferSize = c.Capture.PcapBufferSize
	}
	return capture.Config{
		Gateway: c.Capture.Gateway,
		Filter:  capture.FilterConfig{Ports: []int{c.Capture.Port}},
		Live:    live,
		Matcher: matcher.Config{PathMarker: c.Capture.Marker, Host: c.Capture.Host},
	}
}

// Responder builds the responder configuration for a captured OTA URL and
// the descriptor to serve.
func (c *Config) Responder(otaURL string, payload []byte, metrics *responder.Metrics) responder.Config {
	rc := responder.DefaultConfig()
	rc.Address = c.Server.Address
	rc.Port = c.Server.Port
	rc.ImagePath = c.Server.Image
	rc.ImageRoute = c.Server.ImageRoute
	rc.RegisterRoute = c.Server.RegisterRoute
	rc.MaxConnections = c.Server.MaxConnections
	rc.ReadTimeout = c.Server.ReadTimeout
	rc.OTAURL = otaURL
	rc.OTAPayload = payload
	rc.Metrics = metrics
	return rc
}

// Patcher builds a patcher using the configured scan block size.
func (c *Config) Patcher() *hashpatch.Patcher {
	p := hashpatch.NewPatcher(c.Patch.Atomic)
	if c.Patch.BlockSize > 0 {
		p.Locator.BlockSize = c.Patch.BlockSize
	}
	return p
}

// OTAClient builds the update-server client.
func (c *Config) OTAClient() *otaclient.Client {
	return otaclient.New(otaclient.Config{
		Server:      c.OTA.Server,
		Version:     c.OTA.Version,
		NetworkType: c.OTA.NetworkType,
		Timeout:     otaclient.DefaultConfig().Timeout,
	})
}

// HostsEditor builds the hosts-file editor for the gateway entry.
func (c *Config) HostsEditor() *hosts.Editor {
	return hosts.NewEditor(c.HostsFile, hosts.Entry{IP: c.Capture.Gateway, Host: c.Capture.Host})
}

// ImageURL is the deltaUrl advertised to the device.
func (c *Config) ImageURL() string {
	host := c.Capture.Gateway
	if c.Server.Port != constants.HTTPPort {
		host = fmt.Sprintf("%s:%d", host, c.Server.Port)
	}
	return "http://" + host + c.Server.ImageRoute
}
