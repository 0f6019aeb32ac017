package pcaptypes

import (
	"time"

	"github.com/endorses/paper/internal/pkg/constants"
	"github.com/google/gopacket/pcap"
)

// PcapInterface is a capture source that can be opened into a pcap handle.
type PcapInterface interface {
	SetHandle() error
	Handle() (*pcap.Handle, error)
	Name() string
}

// LiveOptions configures a live handle.
type LiveOptions struct {
	Promiscuous bool
	SnapLen     int
	Timeout     time.Duration
	BufferSize  int
}

// DefaultLiveOptions returns the options used when none are configured.
func DefaultLiveOptions() LiveOptions {
	return LiveOptions{
		Promiscuous: false,
		SnapLen:     MaxPcapSnapshotLen,
		Timeout:     constants.PcapReadTimeout,
		BufferSize:  DefaultPcapBufferSize,
	}
}

// CreateLiveInterface returns an unopened live interface for device.
func CreateLiveInterface(device string, opts LiveOptions) PcapInterface {
	return &liveInterface{Device: device, opts: opts}
}

// CreateOfflineInterface returns an unopened interface reading a pcap file.
func CreateOfflineInterface(path string) PcapInterface {
	return &offlineInterface{path: path}
}
