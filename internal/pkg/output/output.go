// Package output formats command results for stdout: indented JSON on a
// terminal, compact JSON when piped.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// IsTTY returns true if stdout is connected to a terminal.
func IsTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// MarshalJSON marshals v, indenting when stdout is a terminal.
func MarshalJSON(v any) ([]byte, error) {
	return MarshalJSONPretty(v, IsTTY())
}

// MarshalJSONPretty marshals v with two-space indentation when pretty is
// set and as a single line otherwise.
func MarshalJSONPretty(v any, pretty bool) ([]byte, error) {
	if pretty {
		return json.MarshalIndent(v, "", "  ")
	}
	return json.Marshal(v)
}

// WriteJSON writes v and a trailing newline to w.
func WriteJSON(w io.Writer, v any, pretty bool) error {
	data, err := MarshalJSONPretty(v, pretty)
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

// PrintJSON writes v to stdout using MarshalJSON's formatting.
func PrintJSON(v any) error {
	return WriteJSON(os.Stdout, v, IsTTY())
}
