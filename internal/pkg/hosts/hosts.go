// Package hosts adds and removes the hosts-file entry that sends the
// device's update-server lookups to the local hotspot gateway.
package hosts

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/endorses/paper/internal/pkg/constants"
	"github.com/endorses/paper/internal/pkg/logger"
)

// DefaultPath returns the platform hosts file.
func DefaultPath() string {
	if runtime.GOOS == "windows" {
		root := os.Getenv("SystemRoot")
		if root == "" {
			root = `C:\Windows`
		}
		return filepath.Join(root, "System32", "drivers", "etc", "hosts")
	}
	return "/etc/hosts"
}

// Entry is one address-to-name mapping.
type Entry struct {
	IP   string
	Host string
}

// DefaultEntry maps the update server to the hotspot gateway.
func DefaultEntry() Entry {
	return Entry{IP: constants.HotspotGateway, Host: constants.UpdateServerHost}
}

func (e Entry) String() string {
	return e.IP + " " + e.Host
}

// matches reports whether line maps e.Host to e.IP. Comment lines and
// trailing comments are ignored.
func (e Entry) matches(line string) bool {
	if i := strings.IndexByte(line, '#'); i >= 0 {
		line = line[:i]
	}
	fields := strings.Fields(line)
	if len(fields) < 2 || fields[0] != e.IP {
		return false
	}
	for _, name := range fields[1:] {
		if strings.EqualFold(name, e.Host) {
			return true
		}
	}
	return false
}

// Editor edits one hosts file. Flush runs after every change; nil skips
// the DNS flush.
type Editor struct {
	Path  string
	Entry Entry
	Flush func(ctx context.Context) error
}

// NewEditor returns an editor for path that flushes the system DNS cache.
// An empty path selects DefaultPath.
func NewEditor(path string, entry Entry) *Editor {
	if path == "" {
		path = DefaultPath()
	}
	return &Editor{Path: path, Entry: entry, Flush: FlushDNS}
}

type hostsFile struct {
	lines   []string
	newline string
	mode    os.FileMode
}

func (e *Editor) read() (*hostsFile, error) {
	info, err := os.Stat(e.Path)
	if err != nil {
		return nil, fmt.Errorf("cannot open hosts file: %w", err)
	}
	data, err := os.ReadFile(e.Path)
	if err != nil {
		return nil, fmt.Errorf("cannot open hosts file: %w", err)
	}

	f := &hostsFile{newline: "\n", mode: info.Mode().Perm()}
	if bytes.Contains(data, []byte("\r\n")) {
		f.newline = "\r\n"
	}
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	text = strings.TrimSuffix(text, "\n")
	if text != "" {
		f.lines = strings.Split(text, "\n")
	}
	return f, nil
}

func (e *Editor) write(f *hostsFile) error {
	var b strings.Builder
	for _, line := range f.lines {
		b.WriteString(line)
		b.WriteString(f.newline)
	}
	if err := os.WriteFile(e.Path, []byte(b.String()), f.mode); err != nil {
		return fmt.Errorf("failed to write hosts file: %w", err)
	}
	return nil
}

// Contains reports whether the entry is present.
func (e *Editor) Contains() (bool, error) {
	f, err := e.read()
	if err != nil {
		return false, err
	}
	for _, line := range f.lines {
		if e.Entry.matches(line) {
			return true, nil
		}
	}
	return false, nil
}

// Enable appends the entry unless it is already present. It reports
// whether the file changed.
func (e *Editor) Enable(ctx context.Context) (bool, error) {
	f, err := e.read()
	if err != nil {
		return false, err
	}
	for _, line := range f.lines {
		if e.Entry.matches(line) {
			logger.Warn("Host entry already exists", "entry", e.Entry.String(), "file", e.Path)
			return false, nil
		}
	}

	f.lines = append(f.lines, e.Entry.String())
	if err := e.write(f); err != nil {
		return false, err
	}
	logger.Info("Host entry added", "entry", e.Entry.String(), "file", e.Path)
	return true, e.flush(ctx)
}

// Disable removes every line carrying the entry. It reports whether the
// file changed.
func (e *Editor) Disable(ctx context.Context) (bool, error) {
	f, err := e.read()
	if err != nil {
		return false, err
	}
	kept := f.lines[:0]
	removed := 0
	for _, line := range f.lines {
		if e.Entry.matches(line) {
			removed++
			continue
		}
		kept = append(kept, line)
	}
	if removed == 0 {
		logger.Warn("Host entry not found", "entry", e.Entry.String(), "file", e.Path)
		return false, nil
	}

	f.lines = kept
	if err := e.write(f); err != nil {
		return false, err
	}
	logger.Info("Host entry removed", "entry", e.Entry.String(), "lines", removed, "file", e.Path)
	return true, e.flush(ctx)
}

func (e *Editor) flush(ctx context.Context) error {
	if e.Flush == nil {
		return nil
	}
	logger.Debug("Flushing DNS cache")
	if err := e.Flush(ctx); err != nil {
		return fmt.Errorf("failed to flush DNS cache: %w", err)
	}
	return nil
}
