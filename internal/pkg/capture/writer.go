package capture

import (
	"fmt"
	"os"
	"sync"

	"github.com/endorses/paper/internal/pkg/logger"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// EvidenceWriter records frames to a pcap file, typically the matched
// update request, so the exchange can be inspected later.
type EvidenceWriter struct {
	path   string
	file   *os.File
	writer *pcapgo.Writer
	count  int
	mu     sync.Mutex
}

// NewEvidenceWriter creates path and writes the pcap file header.
func NewEvidenceWriter(path string, snaplen uint32, linkType layers.LinkType) (*EvidenceWriter, error) {
	if path == "" {
		return nil, fmt.Errorf("file path cannot be empty")
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create PCAP file: %w", err)
	}

	w := pcapgo.NewWriter(file)
	if err := w.WriteFileHeader(snaplen, linkType); err != nil {
		if closeErr := file.Close(); closeErr != nil {
			logger.Error("Failed to close file during error cleanup", "error", closeErr, "file", path)
		}
		return nil, fmt.Errorf("failed to write PCAP header: %w", err)
	}

	return &EvidenceWriter{path: path, file: file, writer: w}, nil
}

// WritePacket appends one frame.
func (w *EvidenceWriter) WritePacket(ci gopacket.CaptureInfo, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if ci.CaptureLength == 0 {
		ci.CaptureLength = len(data)
	}
	if ci.Length < ci.CaptureLength {
		ci.Length = ci.CaptureLength
	}
	if err := w.writer.WritePacket(ci, data); err != nil {
		return fmt.Errorf("write packet: %w", err)
	}
	w.count++
	return nil
}

// PacketCount returns the number of packets written.
func (w *EvidenceWriter) PacketCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// FilePath returns the output file path.
func (w *EvidenceWriter) FilePath() string {
	return w.path
}

// Close flushes and closes the file.
func (w *EvidenceWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}
