package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/endorses/paper/internal/pkg/capture/pcaptypes"
	"github.com/endorses/paper/internal/pkg/constants"
	"github.com/endorses/paper/internal/pkg/frame"
	"github.com/endorses/paper/internal/pkg/logger"
	"github.com/endorses/paper/internal/pkg/matcher"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
)

var (
	// ErrCancelled is returned when the context is cancelled before a match
	ErrCancelled = errors.New("capture cancelled")
	// ErrNotFound is returned when an offline capture ends without a match
	ErrNotFound = errors.New("update request not found in capture")
)

// State is a step of the capture session lifecycle.
type State int

const (
	StateIdle State = iota
	StateDeviceSelection
	StateFilterInstalled
	StateCapturing
	StateMatched
	StateCancelled
	StateError
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDeviceSelection:
		return "device_selection"
	case StateFilterInstalled:
		return "filter_installed"
	case StateCapturing:
		return "capturing"
	case StateMatched:
		return "matched"
	case StateCancelled:
		return "cancelled"
	case StateError:
		return "error"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config configures a capture session.
type Config struct {
	// Gateway is the address used to pick the live device
	Gateway string
	// Device overrides gateway-based selection
	Device string
	// ReadFile replays a pcap file instead of capturing live
	ReadFile string
	// WriteFile, when set, receives the matched frame
	WriteFile string
	Filter    FilterConfig
	Live      pcaptypes.LiveOptions
	Matcher   matcher.Config
}

// DefaultConfig captures on the hotspot gateway device.
func DefaultConfig() Config {
	return Config{
		Gateway: constants.HotspotGateway,
		Filter:  FilterConfig{Ports: []int{constants.HTTPPort}},
		Live:    pcaptypes.DefaultLiveOptions(),
		Matcher: matcher.DefaultConfig(),
	}
}

// Stats counts what happened to frames during a session.
type Stats struct {
	Frames        int
	Rejected      map[string]int
	Unmatched     int
	MalformedBody int
	EmptyPayloads int
}

// Session drives one capture: select a device, install the filter, then
// read frames one at a time until the update request is seen.
type Session struct {
	config  Config
	matcher *matcher.Matcher

	mu    sync.Mutex
	state State
	stats Stats
}

// NewSession returns an idle session.
func NewSession(config Config) *Session {
	return &Session{
		config:  config,
		matcher: matcher.New(config.Matcher),
		state:   StateIdle,
		stats:   Stats{Rejected: make(map[string]int)},
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stats returns a copy of the frame counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.stats
	out.Rejected = make(map[string]int, len(s.stats.Rejected))
	for k, v := range s.stats.Rejected {
		out.Rejected[k] = v
	}
	return out
}

func (s *Session) transition(to State) {
	s.mu.Lock()
	from := s.state
	s.state = to
	s.mu.Unlock()
	logger.Debug("Capture state changed", "from", from.String(), "to", to.String())
}

// Run opens the capture source, installs the filter and blocks until the
// request is matched, ctx is cancelled, or a fatal error occurs. The handle
// is always closed before Run returns.
func (s *Session) Run(ctx context.Context) (*matcher.CaptureResult, error) {
	s.transition(StateDeviceSelection)
	iface, err := s.selectInterface()
	if err != nil {
		s.fail()
		return nil, err
	}

	logger.Info("Opening capture handle", "device", iface.Name())
	if err := iface.SetHandle(); err != nil {
		s.fail()
		return nil, fmt.Errorf("open capture handle: %w", err)
	}
	handle, err := iface.Handle()
	if err != nil {
		s.fail()
		return nil, err
	}
	defer func() {
		logger.Debug("Closing packet capture handle", "device", iface.Name())
		handle.Close()
		s.transition(StateClosed)
	}()

	filter := BuildFilter(s.config.Filter)
	logger.Debug("Installing packet filter", "filter", filter)
	if err := handle.SetBPFFilter(filter); err != nil {
		s.transition(StateError)
		return nil, fmt.Errorf("install filter %q: %w", filter, err)
	}
	s.transition(StateFilterInstalled)

	linkType := handle.LinkType()
	if linkType != layers.LinkTypeEthernet {
		logger.Warn("Capture link type is not Ethernet, frames may not decode", "link_type", linkType.String())
	}

	var evidence *EvidenceWriter
	if s.config.WriteFile != "" {
		evidence, err = NewEvidenceWriter(s.config.WriteFile, uint32(handle.SnapLen()), linkType)
		if err != nil {
			s.transition(StateError)
			return nil, err
		}
		defer evidence.Close()
	}

	return s.Consume(ctx, handle, evidence)
}

func (s *Session) fail() {
	s.transition(StateError)
	s.transition(StateClosed)
}

func (s *Session) selectInterface() (pcaptypes.PcapInterface, error) {
	if s.config.ReadFile != "" {
		return pcaptypes.CreateOfflineInterface(s.config.ReadFile), nil
	}

	device := s.config.Device
	if device == "" {
		gateway := s.config.Gateway
		if gateway == "" {
			gateway = constants.HotspotGateway
		}
		logger.Info("Searching for hotspot interface", "gateway", gateway)
		name, err := FindGatewayDevice(gateway)
		if err != nil {
			return nil, err
		}
		device = name
	}
	logger.Info("Found target interface", "device", device)
	return pcaptypes.CreateLiveInterface(device, s.config.Live), nil
}

// Consume reads frames from src until a match, cancellation, or a read
// error. Read timeouts are not errors; they only give the loop a chance to
// observe ctx. evidence may be nil.
func (s *Session) Consume(ctx context.Context, src gopacket.PacketDataSource, evidence *EvidenceWriter) (*matcher.CaptureResult, error) {
	s.transition(StateCapturing)
	logger.Info("Waiting for update request")

	for {
		if ctx.Err() != nil {
			s.transition(StateCancelled)
			return nil, ErrCancelled
		}

		data, ci, err := src.ReadPacketData()
		switch {
		case err == nil:
		case errors.Is(err, pcap.NextErrorTimeoutExpired):
			continue
		case errors.Is(err, io.EOF):
			s.transition(StateError)
			return nil, ErrNotFound
		default:
			s.transition(StateError)
			return nil, fmt.Errorf("read packet: %w", err)
		}

		result := s.handleFrame(data, ci)
		if result == nil {
			continue
		}

		if evidence != nil {
			if err := evidence.WritePacket(ci, data); err != nil {
				logger.Warn("Failed to record matched frame", "error", err, "file", evidence.FilePath())
			}
		}
		s.transition(StateMatched)
		logger.Info("Captured update request", "product_url", result.ProductURL, "source", result.Source)
		return result, nil
	}
}

// handleFrame decodes and matches one frame. Every failure is local: the
// frame is counted and dropped.
func (s *Session) handleFrame(data []byte, ci gopacket.CaptureInfo) *matcher.CaptureResult {
	s.mu.Lock()
	s.stats.Frames++
	s.mu.Unlock()

	pkt, err := frame.Decode(data, ci)
	if err != nil {
		s.count(func(st *Stats) { st.Rejected[frame.Reason(err)]++ })
		return nil
	}
	if len(pkt.Payload) == 0 {
		s.count(func(st *Stats) { st.EmptyPayloads++ })
		return nil
	}

	result, err := s.matcher.Match(pkt.Payload)
	switch {
	case err == nil:
	case errors.Is(err, matcher.ErrMalformedBody):
		logger.Debug("Update request pattern matched but body is incomplete", "error", err, "source", pkt.Source.String())
		s.count(func(st *Stats) { st.MalformedBody++ })
		return nil
	default:
		s.count(func(st *Stats) { st.Unmatched++ })
		return nil
	}

	result.Source = pkt.Source.String()
	result.Destination = pkt.Destination.String()
	if !ci.Timestamp.IsZero() {
		result.CapturedAt = ci.Timestamp
	}
	return result
}

func (s *Session) count(f func(*Stats)) {
	s.mu.Lock()
	f(&s.stats)
	s.mu.Unlock()
}
