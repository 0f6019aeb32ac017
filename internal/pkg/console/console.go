// Package console is the operator-facing line I/O: coloured status lines,
// yes/no confirmation, text and password prompts, and a download progress
// bar. Diagnostic logging goes through the logger package instead.
package console

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// ErrDeclined is returned when the operator answers no to a prompt that
// the workflow cannot continue without.
var ErrDeclined = errors.New("declined by user")

var (
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#5f87ff")).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#ffd75f")).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#ff5f5f")).Bold(true)
	promptStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#d787ff")).Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#5fd787")).Bold(true)
)

// Console writes to out and reads answers from in.
type Console struct {
	mu    sync.Mutex
	out   io.Writer
	in    *bufio.Reader
	inFd  int
	color bool
	bar   progress.Model
}

// New returns a console on stdin/stdout. Colour is enabled when stdout is
// a terminal.
func New() *Console {
	c := NewWithIO(os.Stdin, os.Stdout)
	c.inFd = int(os.Stdin.Fd())
	c.color = term.IsTerminal(int(os.Stdout.Fd()))
	return c
}

// NewWithIO returns an uncoloured console over arbitrary streams.
func NewWithIO(in io.Reader, out io.Writer) *Console {
	return &Console{
		out:  out,
		in:   bufio.NewReader(in),
		inFd: -1,
		bar:  progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
	}
}

func (c *Console) prefix(style lipgloss.Style, tag string) string {
	if !c.color {
		return tag
	}
	return style.Render(tag)
}

func (c *Console) line(style lipgloss.Style, tag, format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "%s %s\n", c.prefix(style, tag), fmt.Sprintf(format, args...))
}

func (c *Console) Info(format string, args ...any) { c.line(infoStyle, "[INFO]", format, args...) }

func (c *Console) Warn(format string, args ...any) { c.line(warnStyle, "[WARN]", format, args...) }

func (c *Console) Error(format string, args ...any) { c.line(errorStyle, "[ERROR]", format, args...) }

func (c *Console) Success(format string, args ...any) {
	c.line(successStyle, "[DONE]", format, args...)
}

// Println writes a plain line.
func (c *Console) Println(args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, args...)
}

// Confirm asks a y/N question. Anything other than y or yes is no,
// including end of input.
func (c *Console) Confirm(question string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "%s %s [y/N] ", c.prefix(promptStyle, "[CONFIRM]"), question)
	answer, _ := c.in.ReadString('\n')
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

// Input reads one line. The trailing newline is removed.
func (c *Console) Input(prompt string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "%s %s: ", c.prefix(promptStyle, "[INPUT]"), prompt)
	line, err := c.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Password reads a line without echo when stdin is a terminal.
func (c *Console) Password(prompt string) (string, error) {
	if c.inFd < 0 || !term.IsTerminal(c.inFd) {
		return c.Input(prompt)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "%s %s: ", c.prefix(promptStyle, "[INPUT]"), prompt)
	b, err := term.ReadPassword(c.inFd)
	fmt.Fprintln(c.out)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(b), nil
}

// Progress redraws the progress bar in place. total < 0 prints only the
// byte count.
func (c *Console) Progress(done, total int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if total <= 0 {
		fmt.Fprintf(c.out, "\r%s", FormatBytes(done))
		return
	}
	pct := float64(done) / float64(total)
	if pct > 1 {
		pct = 1
	}
	fmt.Fprintf(c.out, "\r%s %5.1f%% %s / %s", c.bar.ViewAs(pct), pct*100, FormatBytes(done), FormatBytes(total))
}

// EndProgress terminates the progress line.
func (c *Console) EndProgress() {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out)
}

// WaitForEnter blocks until a line or end of input is read.
func (c *Console) WaitForEnter(prompt string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprint(c.out, prompt)
	_, _ = c.in.ReadString('\n')
}

// FormatBytes renders n with a binary unit.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
