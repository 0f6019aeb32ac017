package responder

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testOTAURL  = "/ota/product/1000"
	testPayload = `{"status":1000,"msg":"success","data":{"version":{"deltaUrl":"http://192.168.137.1/image.img"}}}`
)

func writeImage(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "image.img")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func imageBytes(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i * 7)
	}
	return data
}

func startServer(t *testing.T, cfg Config) (*Server, string) {
	t.Helper()
	srv, err := New(cfg)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	require.Eventually(t, func() bool { return srv.Addr() != nil }, time.Second, time.Millisecond)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		assert.NoError(t, srv.Shutdown(ctx))
		assert.ErrorIs(t, <-errCh, ErrServerClosed)
	})
	return srv, ln.Addr().String()
}

func testConfig(t *testing.T, image []byte) Config {
	cfg := DefaultConfig()
	cfg.ImagePath = writeImage(t, image)
	cfg.OTAURL = testOTAURL
	cfg.OTAPayload = []byte(testPayload)
	return cfg
}

// roundTrip sends raw and parses the single response the server writes
// before closing.
func roundTrip(t *testing.T, addr, raw string) (*http.Response, []byte) {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	_, err = conn.Write([]byte(raw))
	require.NoError(t, err)

	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func get(path string, headers ...string) string {
	req := "GET " + path + " HTTP/1.1\r\nHost: iotapi.abupdate.com\r\n"
	for _, h := range headers {
		req += h + "\r\n"
	}
	return req + "\r\n"
}

func post(path, body string) string {
	return "POST " + path + " HTTP/1.1\r\n" +
		"Host: iotapi.abupdate.com\r\n" +
		"Content-Type: application/json;charset=UTF-8\r\n" +
		"Content-Length: " + strconv.Itoa(len(body)) + "\r\n\r\n" + body
}

func TestServer_Routes(t *testing.T) {
	_, addr := startServer(t, testConfig(t, imageBytes(64)))

	tests := []struct {
		name        string
		raw         string
		status      int
		body        string
		contentType string
	}{
		{"register", get("/register/anything"), 200, RegisterPayload, "application/json;charset=UTF-8"},
		{"register prefix only", get("/register/"), 404, "File Not Found", "text/plain"},
		{"check version", post(testOTAURL+"/checkVersion", `{"mid":"1"}`), 200, testPayload, "application/json;charset=UTF-8"},
		{"check version needs post", get(testOTAURL + "/checkVersion"), 404, "File Not Found", "text/plain"},
		{"report", post(testOTAURL+"/reportDownResult", `{"status":1}`), 200, ReportPayload, "application/json;charset=UTF-8"},
		{"report exact path", post(testOTAURL+"/reportDownResult/x", `{}`), 404, "File Not Found", "text/plain"},
		{"unknown", get("/unknown"), 404, "File Not Found", "text/plain"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := roundTrip(t, addr, tt.raw)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.body, string(body))
			assert.Equal(t, tt.contentType, resp.Header.Get("Content-Type"))
			assert.Equal(t, int64(len(tt.body)), resp.ContentLength)
			assert.Equal(t, "nginx", resp.Header.Get("Server"))
		})
	}
}

func TestServer_ImageFull(t *testing.T) {
	image := imageBytes(3*8192 + 17)
	_, addr := startServer(t, testConfig(t, image))

	resp, body := roundTrip(t, addr, get("/image.img"))
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, image, body)
	assert.Equal(t, int64(len(image)), resp.ContentLength)
	assert.Equal(t, "application/octet-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, `attachment; filename="image.img"`, resp.Header.Get("Content-Disposition"))
	assert.Empty(t, resp.Header.Get("Content-Range"))
}

func TestServer_ImageRange(t *testing.T) {
	image := imageBytes(20000)
	_, addr := startServer(t, testConfig(t, image))

	tests := []struct {
		rangeValue string
		start, end int
	}{
		{"bytes=0-", 0, 19999},
		{"bytes=100-8291", 100, 8291},
		{"bytes=19990-", 19990, 19999},
		{"bytes=-5", 0, 5},
		{"bytes=30000-", 19999, 19999},
	}
	for _, tt := range tests {
		t.Run(tt.rangeValue, func(t *testing.T) {
			resp, body := roundTrip(t, addr, get("/image.img?x=1", "Range: "+tt.rangeValue))
			assert.Equal(t, 206, resp.StatusCode)
			assert.Equal(t, "bytes "+strconv.Itoa(tt.start)+"-"+strconv.Itoa(tt.end)+"/20000", resp.Header.Get("Content-Range"))
			assert.Equal(t, image[tt.start:tt.end+1], body)
		})
	}

	resp, body := roundTrip(t, addr, get("/image.img", "Range: items=1-2"))
	assert.Equal(t, 206, resp.StatusCode)
	assert.Equal(t, "bytes 0-19999/20000", resp.Header.Get("Content-Range"))
	assert.Len(t, body, 20000)
}

func TestServer_EmptyImage(t *testing.T) {
	_, addr := startServer(t, testConfig(t, nil))

	resp, body := roundTrip(t, addr, get("/image.img", "Range: bytes=0-"))
	assert.Equal(t, 200, resp.StatusCode)
	assert.Empty(t, body)
	assert.Equal(t, int64(0), resp.ContentLength)
}

func TestServer_MissingImageIsNotFound(t *testing.T) {
	cfg := testConfig(t, nil)
	cfg.ImagePath = filepath.Join(t.TempDir(), "missing.img")
	_, addr := startServer(t, cfg)

	resp, body := roundTrip(t, addr, get("/image.img"))
	assert.Equal(t, 404, resp.StatusCode)
	assert.Equal(t, "File Not Found", string(body))
}

func TestServer_BodySplitAcrossWrites(t *testing.T) {
	_, addr := startServer(t, testConfig(t, nil))

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	raw := post(testOTAURL+"/checkVersion", `{"mid":"f730c7fa72bd3871"}`)
	split := strings.Index(raw, "\r\n\r\n") + 4
	_, err = conn.Write([]byte(raw[:split]))
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	_, err = conn.Write([]byte(raw[split:]))
	require.NoError(t, err)

	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, testPayload, string(body))
}

func TestServer_ConcurrentConnections(t *testing.T) {
	cfg := testConfig(t, imageBytes(50000))
	cfg.MaxConnections = 2
	_, addr := startServer(t, cfg)

	const clients = 8
	done := make(chan int, clients)
	for i := 0; i < clients; i++ {
		go func() {
			conn, err := net.Dial("tcp", addr)
			if err != nil {
				done <- -1
				return
			}
			defer conn.Close()
			_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
			if _, err := conn.Write([]byte(get("/image.img"))); err != nil {
				done <- -1
				return
			}
			resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
			if err != nil {
				done <- -1
				return
			}
			body, _ := io.ReadAll(resp.Body)
			done <- len(body)
		}()
	}
	for i := 0; i < clients; i++ {
		assert.Equal(t, 50000, <-done)
	}
}

func TestServer_ShutdownClosesStalledConnections(t *testing.T) {
	srv, err := New(testConfig(t, nil))
	require.NoError(t, err)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	require.Eventually(t, func() bool { return srv.Addr() != nil }, time.Second, time.Millisecond)

	// Connect without sending a request; the handler blocks reading.
	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, srv.Shutdown(ctx), context.DeadlineExceeded)
	assert.ErrorIs(t, <-errCh, ErrServerClosed)

	// Second shutdown is a no-op.
	assert.NoError(t, srv.Shutdown(context.Background()))
}

func TestServer_ReadTimeout(t *testing.T) {
	cfg := testConfig(t, nil)
	cfg.ReadTimeout = 20 * time.Millisecond
	_, addr := startServer(t, cfg)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	// The server gives up and closes without answering.
	n, err := conn.Read(make([]byte, 1))
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, io.EOF)
}

func TestServer_StartAndServeTwice(t *testing.T) {
	cfg := testConfig(t, nil)
	cfg.Address = "127.0.0.1:0"
	srv, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	require.NotNil(t, srv.Addr())

	assert.ErrorIs(t, srv.Start(), ErrAlreadyRunning)

	resp, body := roundTrip(t, srv.Addr().String(), get("/register/x"))
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, RegisterPayload, string(body))

	require.NoError(t, srv.Shutdown(context.Background()))
	assert.ErrorIs(t, srv.Start(), ErrServerClosed)
}

func TestNew_RequiresImage(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestNew_ConfigIsCopied(t *testing.T) {
	payload := []byte(`{"v":1}`)
	cfg := testConfig(t, nil)
	cfg.OTAPayload = payload
	_, addr := startServer(t, cfg)
	payload[5] = '2'

	_, body := roundTrip(t, addr, post(testOTAURL+"/checkVersion", "{}"))
	assert.Equal(t, `{"v":1}`, string(body))
}

func TestServer_Metrics(t *testing.T) {
	cfg := testConfig(t, imageBytes(100))
	cfg.Metrics = NewMetrics()
	_, addr := startServer(t, cfg)

	roundTrip(t, addr, get("/register/x"))
	roundTrip(t, addr, get("/nope"))
	roundTrip(t, addr, get("/image.img", "Range: bytes=10-19"))

	m := cfg.Metrics
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(m.requests.WithLabelValues(RouteImage, "206")) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.requests.WithLabelValues(RouteRegister, "200")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.requests.WithLabelValues(RouteNotFound, "404")))
	assert.Equal(t, float64(10), testutil.ToFloat64(m.bytesSent.WithLabelValues(RouteImage)))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.connections))
}

func TestExporter_ServesMetrics(t *testing.T) {
	m := NewMetrics()
	m.connOpened()
	e := NewExporter(0, m)
	require.NoError(t, e.Enable())
	defer func() { assert.NoError(t, e.Disable()) }()
	assert.True(t, e.IsEnabled())

	resp, err := http.Get("http://" + e.Addr().String() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "paper_http_connections_total 1")

	health, err := http.Get("http://" + e.Addr().String() + "/health")
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, 200, health.StatusCode)
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.connOpened()
		m.connClosed()
		m.observe(RouteImage, 200, 10, time.Millisecond, nil)
	})
	assert.Nil(t, m.Registry())
}
