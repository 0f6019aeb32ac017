// Package digest provides the MD5, SHA-1 and SHA-256 helpers used to
// compute credential hashes and firmware image checksums. File variants
// stream the input in fixed-size blocks.
package digest

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/endorses/paper/internal/pkg/constants"
	"github.com/endorses/paper/internal/pkg/logger"
)

// ToHex renders data as lowercase hexadecimal.
func ToHex(data []byte) string {
	return hex.EncodeToString(data)
}

// MD5String returns the hex MD5 of s.
func MD5String(s string) string {
	sum := md5.Sum([]byte(s))
	return ToHex(sum[:])
}

// SHA256String returns the hex SHA-256 of s.
func SHA256String(s string) string {
	sum := sha256.Sum256([]byte(s))
	return ToHex(sum[:])
}

// MD5File returns the hex MD5 of the whole file.
func MD5File(path string) (string, error) {
	return hashFile(path, md5.New(), "md5")
}

// SHA1File returns the hex SHA-1 of the whole file.
func SHA1File(path string) (string, error) {
	return hashFile(path, sha1.New(), "sha1")
}

// MD5FileSegment returns the hex MD5 of bytes [start, end) of the file.
// A segment running past EOF is hashed up to EOF.
func MD5FileSegment(path string, start, end int64) (string, error) {
	if start < 0 || end < start {
		return "", fmt.Errorf("invalid segment [%d, %d)", start, end)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := md5.New()
	section := io.NewSectionReader(f, start, end-start)
	n, err := io.CopyBuffer(h, section, make([]byte, constants.HashBlockSize))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}

	sum := ToHex(h.Sum(nil))
	logger.Debug("Segment MD5 calculated", "file", path, "start", start, "end", end, "bytes", n, "md5", sum)
	return sum, nil
}

func hashFile(path string, h hash.Hash, algo string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	n, err := io.CopyBuffer(h, f, make([]byte, constants.HashBlockSize))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}

	sum := ToHex(h.Sum(nil))
	logger.Debug("File digest calculated", "algorithm", algo, "file", path, "bytes", n, "digest", sum)
	return sum, nil
}
