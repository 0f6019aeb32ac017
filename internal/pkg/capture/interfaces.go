// Package capture runs the live capture that waits for the device's
// update-check request.
package capture

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/google/gopacket/pcap"
)

// ErrNoInterface means no capture device is bound to the gateway address.
// It usually means the mobile hotspot is not enabled.
var ErrNoInterface = errors.New("no capture interface bound to gateway address")

// InterfaceInfo contains basic interface information for display.
type InterfaceInfo struct {
	Name        string
	Description string
	Addresses   []string
}

// ListInterfaces returns the capture devices with their IPv4/IPv6 addresses.
func ListInterfaces() ([]InterfaceInfo, error) {
	devices, err := pcap.FindAllDevs()
	if err != nil {
		return nil, fmt.Errorf("list capture devices: %w", err)
	}

	result := make([]InterfaceInfo, 0, len(devices))
	for _, device := range devices {
		info := InterfaceInfo{
			Name:        device.Name,
			Description: sanitizeDescription(device.Description),
		}
		for _, addr := range device.Addresses {
			info.Addresses = append(info.Addresses, addr.IP.String())
		}
		result = append(result, info)
	}
	return result, nil
}

// FindGatewayDevice returns the name of the capture device bound to addr.
func FindGatewayDevice(addr string) (string, error) {
	devices, err := pcap.FindAllDevs()
	if err != nil {
		return "", fmt.Errorf("list capture devices: %w", err)
	}
	return SelectDevice(devices, addr)
}

// SelectDevice picks the device among devices that carries addr.
func SelectDevice(devices []pcap.Interface, addr string) (string, error) {
	want := net.ParseIP(addr)
	if want == nil {
		return "", fmt.Errorf("invalid gateway address %q", addr)
	}
	for _, device := range devices {
		for _, a := range device.Addresses {
			if a.IP.Equal(want) {
				return device.Name, nil
			}
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNoInterface, addr)
}

// sanitizeDescription cleans up interface descriptions for display.
func sanitizeDescription(desc string) string {
	desc = strings.TrimSpace(desc)
	if desc == "" {
		return "Network interface"
	}
	if len(desc) > 50 {
		desc = desc[:50] + "..."
	}
	return desc
}
