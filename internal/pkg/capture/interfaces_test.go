package capture

import (
	"net"
	"strings"
	"testing"

	"github.com/google/gopacket/pcap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectDevice(t *testing.T) {
	devices := []pcap.Interface{
		{Name: "lo", Addresses: []pcap.InterfaceAddress{{IP: net.IPv4(127, 0, 0, 1)}}},
		{Name: "eth0", Addresses: []pcap.InterfaceAddress{{IP: net.ParseIP("fe80::1")}, {IP: net.IPv4(10, 0, 0, 5)}}},
		{Name: "ap0", Addresses: []pcap.InterfaceAddress{{IP: net.ParseIP("fe80::2")}, {IP: net.IPv4(192, 168, 137, 1)}}},
	}

	name, err := SelectDevice(devices, "192.168.137.1")
	require.NoError(t, err)
	assert.Equal(t, "ap0", name)

	_, err = SelectDevice(devices, "192.168.43.1")
	assert.ErrorIs(t, err, ErrNoInterface)

	_, err = SelectDevice(nil, "192.168.137.1")
	assert.ErrorIs(t, err, ErrNoInterface)

	_, err = SelectDevice(devices, "not-an-ip")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoInterface)
}

func TestSanitizeDescription(t *testing.T) {
	assert.Equal(t, "Network interface", sanitizeDescription("   "))
	assert.Equal(t, "Wi-Fi Direct", sanitizeDescription(" Wi-Fi Direct "))

	long := strings.Repeat("x", 80)
	got := sanitizeDescription(long)
	assert.Len(t, got, 53)
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestBuildFilter(t *testing.T) {
	tests := []struct {
		name   string
		config FilterConfig
		want   string
	}{
		{"default", FilterConfig{}, "tcp and (port 80)"},
		{"custom ports", FilterConfig{Ports: []int{80, 8080}}, "tcp and (port 80 or port 8080)"},
		{"base filter", FilterConfig{BaseFilter: "host 192.168.137.23"}, "tcp and (port 80) and (host 192.168.137.23)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BuildFilter(tt.config))
		})
	}
}
