package hashpatch

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/endorses/paper/internal/pkg/digest"
	"github.com/endorses/paper/internal/pkg/logger"
)

var (
	// ErrNoMarker is returned when the image contains no hash marker
	ErrNoMarker = errors.New("no credential hash marker found")
	// ErrMultipleMarkers is returned when more than one marker is found
	ErrMultipleMarkers = errors.New("multiple credential hash markers found")
	// ErrEmptyCredential is returned for an empty replacement credential
	ErrEmptyCredential = errors.New("credential cannot be empty")
)

// Result describes a completed patch.
type Result struct {
	Match   Match
	OldHash string
	NewHash string
}

// Patcher rewrites the single hash marker of a firmware image.
type Patcher struct {
	Locator *Locator
	// Atomic patches a copy in the same directory and renames it over the
	// original, so a failed write never leaves a half-written token.
	Atomic bool
}

// NewPatcher returns a patcher using the default locator.
func NewPatcher(atomic bool) *Patcher {
	return &Patcher{Locator: NewLocator(), Atomic: atomic}
}

// HashFor computes the replacement token for a marker of the given length:
// MD5 of credential+"\n" for 32-digit markers, SHA-256 of the credential
// otherwise.
func HashFor(credential string, length int) string {
	if length == MD5Length {
		return digest.MD5String(credential + "\n")
	}
	return digest.SHA256String(credential)
}

// Locate returns the only marker in the file, or ErrNoMarker /
// ErrMultipleMarkers.
func (p *Patcher) Locate(path string) (Match, error) {
	matches, err := p.locator().FindFile(path)
	if err != nil {
		return Match{}, err
	}
	switch len(matches) {
	case 0:
		return Match{}, ErrNoMarker
	case 1:
		return matches[0], nil
	default:
		return Match{}, fmt.Errorf("%w: %d occurrences", ErrMultipleMarkers, len(matches))
	}
}

// Patch replaces the marker token in path with the hash of credential. The
// file length and every byte outside the token are preserved.
func (p *Patcher) Patch(path, credential string) (*Result, error) {
	if credential == "" {
		return nil, ErrEmptyCredential
	}

	match, err := p.Locate(path)
	if err != nil {
		return nil, err
	}
	logger.Debug("Found credential marker", "file", path, "offset", match.Offset, "length", match.Length)

	old, err := readToken(path, match)
	if err != nil {
		return nil, err
	}

	newHash := HashFor(credential, match.Length)
	if p.Atomic {
		err = writeAtomic(path, match.Offset, []byte(newHash))
	} else {
		err = writeInPlace(path, match.Offset, []byte(newHash))
	}
	if err != nil {
		return nil, err
	}

	logger.Info("Credential hash replaced", "file", path, "offset", match.Offset, "kind", match.Kind())
	return &Result{Match: match, OldHash: old, NewHash: newHash}, nil
}

func (p *Patcher) locator() *Locator {
	if p.Locator == nil {
		return NewLocator()
	}
	return p.Locator
}

func readToken(path string, m Match) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	token := make([]byte, m.Length)
	if _, err := f.ReadAt(token, m.Offset); err != nil {
		return "", fmt.Errorf("read marker at %d: %w", m.Offset, err)
	}
	return string(token), nil
}

func writeInPlace(path string, offset int64, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("open %s for writing: %w", path, err)
	}
	if _, err := f.WriteAt(data, offset); err != nil {
		f.Close()
		return fmt.Errorf("write marker at %d: %w", offset, err)
	}
	return f.Close()
}

func writeAtomic(path string, offset int64, data []byte) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".patch-*")
	if err != nil {
		src.Close()
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	_, err = io.Copy(tmp, src)
	src.Close()
	if err != nil {
		cleanup()
		return fmt.Errorf("copy %s: %w", path, err)
	}
	if _, err := tmp.WriteAt(data, offset); err != nil {
		cleanup()
		return fmt.Errorf("write marker at %d: %w", offset, err)
	}
	if err := tmp.Chmod(info.Mode().Perm()); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
