// Package constants provides shared constants used across paper components.
package constants

import "time"

// Network identity of the interception setup. The device joins the
// operator's mobile hotspot, whose gateway address is fixed by the OS.
const (
	// HotspotGateway is the address of the hotspot interface on the operator machine
	HotspotGateway = "192.168.137.1"

	// UpdateServerHost is the hostname the device contacts for update checks
	UpdateServerHost = "iotapi.abupdate.com"

	// UpdateCheckMarker identifies the update-check request path
	UpdateCheckMarker = "/checkVersion"

	// UpdateReportSuffix is the path suffix of the download result report
	UpdateReportSuffix = "/reportDownResult"

	// HTTPPort is the port both the device traffic and the responder use
	HTTPPort = 80
)

// Responder defaults
const (
	// ImageRoute is the path prefix under which the firmware image is served
	ImageRoute = "/image.img"

	// ImageFileName is the default local image file and the download name
	ImageFileName = "image.img"

	// RegisterRoute is the path prefix of the device registration endpoint
	RegisterRoute = "/register/"

	// TransferChunkSize is the size of each write when streaming the image
	TransferChunkSize = 8192

	// MaxRequestSize bounds how much of a request is buffered before parsing
	MaxRequestSize = 64 * 1024

	// MaxConnections bounds concurrently handled responder connections
	MaxConnections = 16
)

// File scanning and hashing
const (
	// ScanBlockSize is the read size of the hash-marker scanner
	ScanBlockSize = 1024 * 1024

	// ScanOverlap is carried from one scan block to the next. It must be at
	// least the longest marker (1 + 64 + 3 bytes).
	ScanOverlap = 70

	// HashBlockSize is the read size used by the file digests
	HashBlockSize = 1024 * 1024
)

// OTA exchange
const (
	// SpoofedVersion is reported to the update server to force an update offer
	SpoofedVersion = "99.99.90"

	// SpoofedNetworkType is reported so the server offers the full package
	SpoofedNetworkType = "WIFI"

	// JSONContentType is used for every JSON body exchanged with the device
	JSONContentType = "application/json;charset=UTF-8"
)

// Shutdown and graceful termination timeouts
const (
	// GracefulShutdownTimeout is the time to wait for in-flight connections
	GracefulShutdownTimeout = 2 * time.Second

	// PcapReadTimeout is the default pcap read timeout; it bounds how long
	// the capture loop takes to notice cancellation
	PcapReadTimeout = 200 * time.Millisecond
)

// Channel buffer sizes
const (
	// SignalChannelBuffer is the buffer size for OS signal channels
	SignalChannelBuffer = 1

	// ErrorChannelBuffer is the buffer size for error reporting channels
	ErrorChannelBuffer = 1
)
