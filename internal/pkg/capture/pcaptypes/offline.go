package pcaptypes

import (
	"errors"
	"fmt"

	"github.com/google/gopacket/pcap"
)

type offlineInterface struct {
	path   string
	handle *pcap.Handle
}

func (iface *offlineInterface) SetHandle() error {
	if iface.handle != nil {
		iface.handle.Close()
		iface.handle = nil
	}
	handle, err := pcap.OpenOffline(iface.path)
	if err != nil {
		return fmt.Errorf("open %s: %w", iface.path, err)
	}
	iface.handle = handle
	return nil
}

func (iface *offlineInterface) Handle() (*pcap.Handle, error) {
	if iface.handle == nil {
		return nil, errors.New("interface has no handle")
	}
	return iface.handle, nil
}

func (iface *offlineInterface) Name() string {
	if iface.path == "" {
		return "offline"
	}
	return iface.path
}
