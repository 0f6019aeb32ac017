package otaclient

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrNoUpdate means the descriptor carries no data.version object
	ErrNoUpdate = errors.New("descriptor has no version data")
	// ErrNoDeltaURL means data.version has no usable deltaUrl
	ErrNoDeltaURL = errors.New("descriptor has no delta url")
)

// StatusSuccess is the update server's success status value.
const StatusSuccess = 1000

// Descriptor is the update server's checkVersion response. Fields that
// are not rewritten are kept as received.
type Descriptor struct {
	doc map[string]any
}

// ParseDescriptor decodes a checkVersion response body.
func ParseDescriptor(data []byte) (*Descriptor, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse descriptor: %w", err)
	}
	if doc == nil {
		return nil, errors.New("parse descriptor: not a JSON object")
	}
	return &Descriptor{doc: doc}, nil
}

// Status returns the top-level status code, or -1 when absent.
func (d *Descriptor) Status() int {
	n, ok := d.doc["status"].(json.Number)
	if !ok {
		return -1
	}
	v, err := n.Int64()
	if err != nil {
		return -1
	}
	return int(v)
}

// Message returns the top-level msg field.
func (d *Descriptor) Message() string {
	s, _ := d.doc["msg"].(string)
	return s
}

func (d *Descriptor) version() (map[string]any, error) {
	data, ok := d.doc["data"].(map[string]any)
	if !ok {
		return nil, ErrNoUpdate
	}
	version, ok := data["version"].(map[string]any)
	if !ok {
		return nil, ErrNoUpdate
	}
	return version, nil
}

// DeltaURL returns data.version.deltaUrl.
func (d *Descriptor) DeltaURL() (string, error) {
	version, err := d.version()
	if err != nil {
		return "", err
	}
	url, _ := version["deltaUrl"].(string)
	if url == "" {
		return "", ErrNoDeltaURL
	}
	return url, nil
}

// VersionName returns data.version.versionName when present.
func (d *Descriptor) VersionName() string {
	version, err := d.version()
	if err != nil {
		return ""
	}
	name, _ := version["versionName"].(string)
	return name
}

// Bytes encodes the descriptor as compact JSON.
func (d *Descriptor) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(d.doc); err != nil {
		return nil, fmt.Errorf("encode descriptor: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Indent renders the descriptor for display.
func (d *Descriptor) Indent() string {
	out, err := json.MarshalIndent(d.doc, "", "  ")
	if err != nil {
		return ""
	}
	return string(out)
}
