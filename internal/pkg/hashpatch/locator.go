// Package hashpatch locates the credential hash marker embedded in a
// firmware image and rewrites it in place.
//
// Two marker shapes are recognised:
//
//	#<64 hex>  -          SHA-256 of the credential
//	= "<32 hex>  -"       MD5 of the credential plus a newline
//
// The MD5 form is also accepted without the space after '='.
package hashpatch

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/endorses/paper/internal/pkg/constants"
	"github.com/endorses/paper/internal/pkg/logger"
)

const (
	// SHA256Length is the token length of a SHA-256 marker
	SHA256Length = 64
	// MD5Length is the token length of an MD5 marker
	MD5Length = 32

	// longest marker: '=' ' ' '"' + 32 + ' ' ' ' '-' '"' is 39, '#' + 64 + 3 is 68
	minOverlap = 68
)

// Match is one located marker. Offset is the absolute file offset of the
// first hex digit.
type Match struct {
	Offset int64
	Length int
}

// Kind names the digest algorithm implied by the token length.
func (m Match) Kind() string {
	if m.Length == MD5Length {
		return "md5"
	}
	return "sha256"
}

// Locator scans a stream block by block. The last Overlap bytes of each
// block are rescanned as the head of the next one so that a marker crossing
// a block boundary is still seen. Every stream position is examined once.
type Locator struct {
	BlockSize int
	Overlap   int
}

// NewLocator returns a locator with the default block and overlap sizes.
func NewLocator() *Locator {
	return &Locator{
		BlockSize: constants.ScanBlockSize,
		Overlap:   constants.ScanOverlap,
	}
}

func (l *Locator) sizes() (int, int, error) {
	block, overlap := l.BlockSize, l.Overlap
	if block == 0 {
		block = constants.ScanBlockSize
	}
	if overlap == 0 {
		overlap = constants.ScanOverlap
	}
	if overlap < minOverlap {
		return 0, 0, fmt.Errorf("overlap %d shorter than longest marker (%d)", overlap, minOverlap)
	}
	if block <= overlap {
		return 0, 0, fmt.Errorf("block size %d must exceed overlap %d", block, overlap)
	}
	return block, overlap, nil
}

// FindFile scans the file at path.
func (l *Locator) FindFile(path string) ([]Match, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	logger.Debug("Searching for hash markers", "file", path)
	matches, err := l.Find(f)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", path, err)
	}
	return matches, nil
}

// Find returns every marker in r, in stream order.
func (l *Locator) Find(r io.Reader) ([]Match, error) {
	blockSize, overlap, err := l.sizes()
	if err != nil {
		return nil, err
	}

	var (
		matches []Match
		buf     = make([]byte, blockSize)
		base    int64 // stream offset of buf[0]
		n       int   // valid bytes in buf
	)

	for {
		read, err := io.ReadFull(r, buf[n:])
		n += read
		eof := errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
		if err != nil && !eof {
			return nil, err
		}

		limit := n - overlap
		if eof {
			limit = n
		}
		window := buf[:n]
		for i := 0; i < limit; i++ {
			if m, ok := matchAt(window, i); ok {
				m.Offset += base
				logger.Debug("Found hash marker", "kind", m.Kind(), "offset", m.Offset)
				matches = append(matches, m)
			}
		}

		if eof {
			break
		}
		copy(buf, buf[n-overlap:n])
		base += int64(n - overlap)
		n = overlap
	}

	logger.Debug("Hash marker search completed", "matches", len(matches))
	return matches, nil
}

// matchAt reports whether a marker delimiter starts at buf[i]. The returned
// offset is relative to buf.
func matchAt(buf []byte, i int) (Match, bool) {
	switch buf[i] {
	case '#':
		start := i + 1
		if hasHex(buf, start, SHA256Length) && hasPrefixAt(buf, start+SHA256Length, "  -") {
			return Match{Offset: int64(start), Length: SHA256Length}, true
		}
	case '=':
		start := i + 1
		if start < len(buf) && buf[start] == ' ' {
			start++
		}
		if start >= len(buf) || buf[start] != '"' {
			return Match{}, false
		}
		start++
		if hasHex(buf, start, MD5Length) && hasPrefixAt(buf, start+MD5Length, "  -\"") {
			return Match{Offset: int64(start), Length: MD5Length}, true
		}
	}
	return Match{}, false
}

func hasHex(buf []byte, pos, length int) bool {
	if pos+length > len(buf) {
		return false
	}
	for _, c := range buf[pos : pos+length] {
		if !isHex(c) {
			return false
		}
	}
	return true
}

func hasPrefixAt(buf []byte, pos int, s string) bool {
	if pos+len(s) > len(buf) {
		return false
	}
	return string(buf[pos:pos+len(s)]) == s
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
