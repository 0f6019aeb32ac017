package pcaptypes

import (
	"errors"
	"fmt"

	"github.com/google/gopacket/pcap"
)

const (
	// DefaultPcapBufferSize is the kernel buffer size for live capture.
	// Hotspot traffic is light; 2MB matches the libpcap default.
	DefaultPcapBufferSize = 2 * 1024 * 1024

	// MaxPcapSnapshotLen captures whole frames
	MaxPcapSnapshotLen = 65536
)

type liveInterface struct {
	Device string
	opts   LiveOptions
	handle *pcap.Handle
}

func (iface *liveInterface) SetHandle() error {
	// Close existing handle if it exists to prevent leaks
	if iface.handle != nil {
		iface.handle.Close()
		iface.handle = nil
	}

	opts := iface.opts
	defaults := DefaultLiveOptions()
	if opts.SnapLen <= 0 {
		opts.SnapLen = defaults.SnapLen
	}
	// A finite timeout lets the capture loop notice cancellation;
	// pcap.BlockForever would pin the loop until the next frame.
	if opts.Timeout <= 0 {
		opts.Timeout = defaults.Timeout
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaults.BufferSize
	}

	// Use inactive handle to set buffer size before activation
	inactive, err := pcap.NewInactiveHandle(iface.Device)
	if err != nil {
		return fmt.Errorf("open %s: %w", iface.Device, err)
	}
	defer inactive.CleanUp()

	if err := inactive.SetSnapLen(opts.SnapLen); err != nil {
		return err
	}
	if err := inactive.SetPromisc(opts.Promiscuous); err != nil {
		return err
	}
	if err := inactive.SetTimeout(opts.Timeout); err != nil {
		return err
	}
	if err := inactive.SetBufferSize(opts.BufferSize); err != nil {
		return err
	}

	handle, err := inactive.Activate()
	if err != nil {
		return fmt.Errorf("activate %s: %w", iface.Device, err)
	}

	iface.handle = handle
	return nil
}

func (iface *liveInterface) Handle() (*pcap.Handle, error) {
	if iface.handle == nil {
		return nil, errors.New("interface has no handle")
	}
	return iface.handle, nil
}

func (iface *liveInterface) Name() string {
	return iface.Device
}
