package matcher

import (
	"testing"

	"github.com/endorses/paper/internal/pkg/frame/frametest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	checkPath = "/product/1623123456/e8c0a1b2/ota/checkVersion"
	checkBody = `{"mid":"f730c7fa72bd3871","version":"1.2.3","networkType":"4G","timestamp":1700000000}`
)

func TestMatch_UpdateRequest(t *testing.T) {
	m := New(DefaultConfig())

	res, err := m.Match(frametest.HTTPRequest("POST", checkPath, "iotapi.abupdate.com", checkBody))
	require.NoError(t, err)

	assert.Equal(t, checkPath, res.ProductURL)
	assert.Equal(t, "1623123456", res.ProductID)
	assert.Equal(t, "iotapi.abupdate.com", res.Host)
	assert.Equal(t, "POST", res.Method)
	assert.Equal(t, "1.2.3", res.RequestBody["version"])
	assert.Equal(t, "f730c7fa72bd3871", res.RequestBody["mid"])
	assert.Equal(t, "/product/1623123456/e8c0a1b2/ota", res.OTAURL())
	assert.False(t, res.CapturedAt.IsZero())
}

func TestMatch_LFOnlyAndQuery(t *testing.T) {
	m := New(DefaultConfig())
	payload := "POST " + checkPath + "?lang=en HTTP/1.1\nHost: iotapi.abupdate.com:80\n\n" + checkBody

	res, err := m.Match([]byte(payload))
	require.NoError(t, err)
	assert.Equal(t, checkPath, res.ProductURL)
}

func TestMatch_NoMatch(t *testing.T) {
	m := New(DefaultConfig())

	tests := []struct {
		name    string
		payload []byte
	}{
		{"empty", nil},
		{"http response", []byte("HTTP/1.1 200 OK\r\n\r\n{}")},
		{"binary", []byte{0x16, 0x03, 0x01, 0x00}},
		{"other path", frametest.HTTPRequest("POST", "/api/telemetry", "iotapi.abupdate.com", checkBody)},
		{"marker only in body", frametest.HTTPRequest("POST", "/api/x", "iotapi.abupdate.com", `{"u":"/checkVersion"}`)},
		{"marker only in query", []byte("POST /api/x?next=/checkVersion HTTP/1.1\r\n\r\n{}")},
		{"other host", frametest.HTTPRequest("POST", checkPath, "example.com", checkBody)},
		{"lowercase method", []byte("post " + checkPath + " HTTP/1.1\r\n\r\n{}")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := m.Match(tt.payload)
			assert.Nil(t, res)
			assert.ErrorIs(t, err, ErrNoMatch)
		})
	}
}

func TestMatch_MalformedBody(t *testing.T) {
	m := New(DefaultConfig())

	tests := []struct {
		name    string
		payload []byte
	}{
		{"headers only", []byte("POST " + checkPath + " HTTP/1.1\r\nHost: iotapi.abupdate.com\r\n")},
		{"empty body", frametest.HTTPRequest("POST", checkPath, "iotapi.abupdate.com", "")},
		{"truncated json", frametest.HTTPRequest("POST", checkPath, "iotapi.abupdate.com", checkBody[:20])},
		{"json array", frametest.HTTPRequest("POST", checkPath, "iotapi.abupdate.com", `[1,2]`)},
		{"json null", frametest.HTTPRequest("POST", checkPath, "iotapi.abupdate.com", `null`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := m.Match(tt.payload)
			assert.Nil(t, res)
			assert.ErrorIs(t, err, ErrMalformedBody)
		})
	}
}

func TestMatch_HostCheckDisabled(t *testing.T) {
	m := New(Config{PathMarker: "/checkVersion"})
	res, err := m.Match(frametest.HTTPRequest("POST", checkPath, "10.0.0.5", checkBody))
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", res.Host)
}

func TestMatch_NoProductSegment(t *testing.T) {
	m := New(Config{})
	res, err := m.Match(frametest.HTTPRequest("POST", "/ota/checkVersion", "iotapi.abupdate.com", "{}"))
	require.NoError(t, err)
	assert.Empty(t, res.ProductID)
	assert.Equal(t, "/ota", res.OTAURL())
}
