package capture

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/endorses/paper/internal/pkg/frame/frametest"
	"github.com/endorses/paper/internal/pkg/matcher"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type readResult struct {
	data []byte
	err  error
}

// fakeSource replays frames, then returns io.EOF.
type fakeSource struct {
	reads []readResult
	pos   int
}

func (f *fakeSource) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	if f.pos >= len(f.reads) {
		return nil, gopacket.CaptureInfo{}, io.EOF
	}
	r := f.reads[f.pos]
	f.pos++
	if r.err != nil {
		return nil, gopacket.CaptureInfo{}, r.err
	}
	ci := gopacket.CaptureInfo{
		Timestamp:     time.Unix(1700000000, 0),
		CaptureLength: len(r.data),
		Length:        len(r.data),
	}
	return r.data, ci, nil
}

func frames(data ...[]byte) *fakeSource {
	src := &fakeSource{}
	for _, d := range data {
		src.reads = append(src.reads, readResult{data: d})
	}
	return src
}

const checkPath = "/ota/product/1000/checkVersion"

func updateRequest() []byte {
	body := `{"mid":"f730c7fa72bd3871","version":"1.0.3","networkType":"WIFI"}`
	return frametest.TCP(40000, 80, frametest.HTTPRequest("POST", checkPath, "iotapi.abupdate.com", body))
}

func TestSession_ConsumeMatches(t *testing.T) {
	s := NewSession(DefaultConfig())
	src := frames(
		frametest.ARP(),
		frametest.UDP(5353, 5353, []byte("mdns")),
		frametest.TCP(40000, 80, nil),
		frametest.TCP(40000, 80, frametest.HTTPRequest("GET", "/index.html", "example.com", "")),
		updateRequest(),
		frametest.TCP(40001, 80, frametest.HTTPRequest("POST", checkPath, "iotapi.abupdate.com", `{"never":"read"}`)),
	)

	result, err := s.Consume(context.Background(), src, nil)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, checkPath, result.ProductURL)
	assert.Equal(t, "/ota/product/1000", result.OTAURL())
	assert.Equal(t, "f730c7fa72bd3871", result.RequestBody["mid"])
	assert.Equal(t, "192.168.137.23:40000", result.Source)
	assert.Equal(t, "47.99.1.10:80", result.Destination)
	assert.Equal(t, time.Unix(1700000000, 0), result.CapturedAt)
	assert.Equal(t, StateMatched, s.State())
	assert.Equal(t, 5, src.pos, "loop must stop at the first match")

	stats := s.Stats()
	assert.Equal(t, 5, stats.Frames)
	assert.Equal(t, 1, stats.Rejected["not_ipv4"])
	assert.Equal(t, 1, stats.Rejected["not_tcp"])
	assert.Equal(t, 1, stats.EmptyPayloads)
	assert.Equal(t, 1, stats.Unmatched)
}

func TestSession_MalformedBodyKeepsWaiting(t *testing.T) {
	s := NewSession(DefaultConfig())
	truncated := frametest.TCP(40000, 80, frametest.HTTPRequest("POST", checkPath, "iotapi.abupdate.com", `{"mid":"f7`))
	src := frames(truncated, updateRequest())

	result, err := s.Consume(context.Background(), src, nil)
	require.NoError(t, err)
	assert.Equal(t, "f730c7fa72bd3871", result.RequestBody["mid"])
	assert.Equal(t, 1, s.Stats().MalformedBody)
}

func TestSession_TimeoutsAreNotErrors(t *testing.T) {
	s := NewSession(DefaultConfig())
	src := &fakeSource{reads: []readResult{
		{err: pcap.NextErrorTimeoutExpired},
		{err: pcap.NextErrorTimeoutExpired},
		{data: updateRequest()},
	}}

	result, err := s.Consume(context.Background(), src, nil)
	require.NoError(t, err)
	assert.NotNil(t, result)
	assert.Equal(t, 1, s.Stats().Frames)
}

func TestSession_EndOfCaptureWithoutMatch(t *testing.T) {
	s := NewSession(DefaultConfig())
	_, err := s.Consume(context.Background(), frames(frametest.ARP()), nil)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, StateError, s.State())
}

func TestSession_ReadErrorIsFatal(t *testing.T) {
	s := NewSession(DefaultConfig())
	boom := errors.New("device gone")
	src := &fakeSource{reads: []readResult{{err: boom}}}

	_, err := s.Consume(context.Background(), src, nil)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StateError, s.State())
}

func TestSession_Cancelled(t *testing.T) {
	s := NewSession(DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Consume(ctx, frames(updateRequest()), nil)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, StateCancelled, s.State())
}

func TestSession_HostMismatchIgnored(t *testing.T) {
	s := NewSession(DefaultConfig())
	other := frametest.TCP(40000, 80, frametest.HTTPRequest("POST", checkPath, "evil.example.com", `{"a":1}`))

	_, err := s.Consume(context.Background(), frames(other), nil)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, s.Stats().Unmatched)
}

func TestSession_WritesEvidence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "match.pcap")
	w, err := NewEvidenceWriter(path, 65536, layers.LinkTypeEthernet)
	require.NoError(t, err)

	s := NewSession(DefaultConfig())
	want := updateRequest()
	_, err = s.Consume(context.Background(), frames(frametest.ARP(), want), w)
	require.NoError(t, err)
	assert.Equal(t, 1, w.PacketCount())
	require.NoError(t, w.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	r, err := pcapgo.NewReader(f)
	require.NoError(t, err)
	assert.Equal(t, layers.LinkTypeEthernet, r.LinkType())

	data, _, err := r.ReadPacketData()
	require.NoError(t, err)
	assert.Equal(t, want, data)
	_, _, err = r.ReadPacketData()
	assert.ErrorIs(t, err, io.EOF)
}

func TestSession_EmptyHostAcceptsAnyHost(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Matcher = matcher.Config{PathMarker: "/checkVersion"}
	s := NewSession(cfg)
	other := frametest.TCP(40000, 80, frametest.HTTPRequest("POST", checkPath, "mirror.example.com", `{"a":1}`))

	result, err := s.Consume(context.Background(), frames(other), nil)
	require.NoError(t, err)
	assert.Equal(t, "mirror.example.com", result.Host)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "filter_installed", StateFilterInstalled.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "state(42)", State(42).String())
}
