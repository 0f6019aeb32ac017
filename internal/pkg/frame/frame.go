// Package frame decodes captured link-layer frames down to the TCP payload.
// Only Ethernet/IPv4/TCP is understood; everything else is rejected with a
// sentinel error so the capture loop can drop the frame and move on.
package frame

import (
	"errors"
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

const (
	ethernetHeaderLen = 14
	minTCPHeaderLen   = 20
)

var (
	ErrTooShort          = errors.New("frame shorter than ethernet header")
	ErrNotIPv4           = errors.New("not an IPv4 frame")
	ErrInvalidIPv4Header = errors.New("invalid IPv4 header")
	ErrNotTCP            = errors.New("not a TCP segment")
	ErrInvalidTCPHeader  = errors.New("invalid TCP header")
)

// Endpoint is an IPv4 address and TCP port.
type Endpoint struct {
	IP   net.IP
	Port uint16
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.IP.String(), fmt.Sprint(e.Port))
}

// Packet is a decoded frame. Payload aliases the frame buffer.
type Packet struct {
	Source        Endpoint
	Destination   Endpoint
	PayloadOffset int
	Payload       []byte
}

// Decode validates data as Ethernet → IPv4 → TCP. ci.CaptureLength, when
// set and shorter than data, bounds how much of data is considered.
func Decode(data []byte, ci gopacket.CaptureInfo) (*Packet, error) {
	if ci.CaptureLength > 0 && ci.CaptureLength < len(data) {
		data = data[:ci.CaptureLength]
	}
	if len(data) < ethernetHeaderLen {
		return nil, ErrTooShort
	}

	var eth layers.Ethernet
	if err := eth.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
		return nil, ErrTooShort
	}
	if eth.EthernetType != layers.EthernetTypeIPv4 {
		return nil, ErrNotIPv4
	}

	var ip layers.IPv4
	if err := ip.DecodeFromBytes(eth.Payload, gopacket.NilDecodeFeedback); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidIPv4Header, err)
	}
	if ip.Protocol != layers.IPProtocolTCP {
		return nil, ErrNotTCP
	}

	segment := ip.Payload
	if len(segment) < minTCPHeaderLen {
		return nil, ErrInvalidTCPHeader
	}
	dataOffset := int(segment[12]>>4) * 4
	if dataOffset < minTCPHeaderLen || dataOffset > len(segment) {
		return nil, ErrInvalidTCPHeader
	}

	var tcp layers.TCP
	if err := tcp.DecodeFromBytes(segment, gopacket.NilDecodeFeedback); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTCPHeader, err)
	}

	headerLen := ethernetHeaderLen + int(ip.IHL)*4
	return &Packet{
		Source:        Endpoint{IP: ip.SrcIP, Port: uint16(tcp.SrcPort)},
		Destination:   Endpoint{IP: ip.DstIP, Port: uint16(tcp.DstPort)},
		PayloadOffset: headerLen + dataOffset,
		Payload:       tcp.Payload,
	}, nil
}

// Reason maps a decode error to a short label for statistics.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrTooShort):
		return "too_short"
	case errors.Is(err, ErrNotIPv4):
		return "not_ipv4"
	case errors.Is(err, ErrInvalidIPv4Header):
		return "invalid_ipv4"
	case errors.Is(err, ErrNotTCP):
		return "not_tcp"
	case errors.Is(err, ErrInvalidTCPHeader):
		return "invalid_tcp"
	default:
		return "other"
	}
}
