package list

import (
	"bytes"
	"testing"

	"github.com/endorses/paper/internal/pkg/capture"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsCaptureCandidate(t *testing.T) {
	tests := []struct {
		name          string
		interfaceName string
		expected      bool
	}{
		{name: "ethernet", interfaceName: "eth0", expected: true},
		{name: "wireless", interfaceName: "wlan0", expected: true},
		{name: "windows hotspot adapter", interfaceName: `\Device\NPF_{1F2E3D4C-0000-1111-2222-333344445555}`, expected: true},
		{name: "loopback", interfaceName: "lo", expected: false},
		{name: "loopback uppercase", interfaceName: "LO0", expected: false},
		{name: "usb substring", interfaceName: "eth-usb-adapter", expected: false},
		{name: "docker", interfaceName: "Docker-Bridge", expected: false},
		{name: "veth", interfaceName: "veth123abc", expected: false},
		{name: "virtualbox", interfaceName: "vboxnet0", expected: false},
		{name: "teredo", interfaceName: "teredo", expected: false},
		{name: "bridge", interfaceName: "br0", expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, isCaptureCandidate(tt.interfaceName))
		})
	}
}

func TestContainsSensitiveInfo(t *testing.T) {
	assert.True(t, containsSensitiveInfo("WiFi adapter MAC: 00:11:22:33:44:55"))
	assert.True(t, containsSensitiveInfo("Manufacturer: Realtek"))
	assert.False(t, containsSensitiveInfo("Microsoft Wi-Fi Direct Virtual Adapter"))
	assert.False(t, containsSensitiveInfo(""))
}

func sampleInterfaces() []capture.InterfaceInfo {
	return []capture.InterfaceInfo{
		{Name: "eth0", Description: "Ethernet", Addresses: []string{"10.0.0.5"}},
		{Name: "lo", Description: "Loopback", Addresses: []string{"127.0.0.1"}},
		{Name: "vboxnet0", Description: "Host-only", Addresses: []string{"192.168.137.1"}},
		{Name: "wlan0", Description: "Vendor Foo MAC 00:11", Addresses: nil},
	}
}

func TestSelectRows(t *testing.T) {
	rows := selectRows(sampleInterfaces(), "192.168.137.1", false)
	require.Len(t, rows, 3)

	assert.Equal(t, "eth0", rows[0].Name)
	assert.False(t, rows[0].Gateway)
	assert.Equal(t, "vboxnet0", rows[1].Name, "gateway interface is kept even when filtered")
	assert.True(t, rows[1].Gateway)
	assert.Equal(t, "wlan0", rows[2].Name)
	assert.Empty(t, rows[2].Description)

	all := selectRows(sampleInterfaces(), "192.168.137.1", true)
	assert.Len(t, all, 4)

	none := selectRows(sampleInterfaces(), "not-an-ip", false)
	for _, row := range none {
		assert.False(t, row.Gateway)
	}
}

func TestPrintRows(t *testing.T) {
	var buf bytes.Buffer
	printRows(&buf, selectRows(sampleInterfaces(), "192.168.137.1", false))
	out := buf.String()
	assert.Contains(t, out, " * vboxnet0 - Host-only [192.168.137.1]")
	assert.Contains(t, out, "   eth0 - Ethernet [10.0.0.5]")
	assert.NotContains(t, out, "Is the mobile hotspot enabled?")

	buf.Reset()
	printRows(&buf, selectRows(sampleInterfaces(), "10.9.9.9", false))
	assert.Contains(t, buf.String(), "Is the mobile hotspot enabled?")

	buf.Reset()
	printRows(&buf, nil)
	assert.Equal(t, "No suitable interfaces found.\n", buf.String())
}
