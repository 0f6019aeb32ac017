package responder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/endorses/paper/internal/pkg/constants"
	"github.com/endorses/paper/internal/pkg/logger"
	"github.com/google/uuid"
)

var (
	// ErrServerClosed is returned by Serve after Shutdown
	ErrServerClosed = errors.New("responder: server closed")
	// ErrAlreadyRunning is returned when Start or Serve is called twice
	ErrAlreadyRunning = errors.New("responder: server already running")
)

// RegisterPayload is the device identity document returned on the
// registration route.
const RegisterPayload = `{"status":1000,"msg":"success","data":{"deviceSecret":"de8b9bcd0a18afbf25b44f6d4f6c5f23","sha256":"8a6860050ac879171800a8315fc516b46d6baf81f73910ab1ab5d7e9059d427f","deviceId":"f730c7fa72bd3871"}}`

// ReportPayload acknowledges the device's download report.
const ReportPayload = `{"status":1000,"msg":"success","data":null}`

// Config is the responder configuration. It is copied by New and not
// modified afterwards.
type Config struct {
	// Address to listen on; ":80" when empty and Port is 0
	Address string
	Port    int

	// ImagePath is the file served on ImageRoute
	ImagePath string
	// OTAURL is the product URL prefix; checkVersion and reportDownResult
	// are answered beneath it
	OTAURL string
	// OTAPayload is returned verbatim on checkVersion
	OTAPayload []byte

	ImageRoute      string
	RegisterRoute   string
	RegisterPayload string

	// MaxConnections bounds concurrently served connections
	MaxConnections int
	// ChunkSize is the file transfer write size
	ChunkSize int
	// ReadTimeout bounds reading the request; zero means no deadline
	ReadTimeout time.Duration

	Metrics *Metrics
}

// DefaultConfig returns the routes and limits used against the device.
func DefaultConfig() Config {
	return Config{
		Port:            constants.HTTPPort,
		ImageRoute:      constants.ImageRoute,
		RegisterRoute:   constants.RegisterRoute,
		RegisterPayload: RegisterPayload,
		MaxConnections:  constants.MaxConnections,
		ChunkSize:       constants.TransferChunkSize,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.Address == "" {
		port := c.Port
		if port == 0 {
			port = d.Port
		}
		c.Address = ":" + strconv.Itoa(port)
	}
	if c.ImageRoute == "" {
		c.ImageRoute = d.ImageRoute
	}
	if c.RegisterRoute == "" {
		c.RegisterRoute = d.RegisterRoute
	}
	if c.RegisterPayload == "" {
		c.RegisterPayload = d.RegisterPayload
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = d.MaxConnections
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = d.ChunkSize
	}
}

// Server answers one request per connection and then closes it.
type Server struct {
	config Config
	routes *router

	running  atomic.Bool
	sem      chan struct{}
	done     chan struct{}
	acceptWG sync.WaitGroup
	connWG   sync.WaitGroup

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   bool
}

// New validates config and returns a stopped server.
func New(config Config) (*Server, error) {
	config.applyDefaults()
	if config.ImagePath == "" {
		return nil, errors.New("responder: image path is required")
	}
	if config.OTAPayload != nil {
		config.OTAPayload = bytes.Clone(config.OTAPayload)
	}

	return &Server{
		config: config,
		routes: newRouter(config),
		sem:    make(chan struct{}, config.MaxConnections),
		done:   make(chan struct{}),
		conns:  make(map[net.Conn]struct{}),
	}, nil
}

// Start listens on the configured address and serves in the background.
// Bind and listen failures are returned.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Address, err)
	}
	if err := s.attach(ln); err != nil {
		_ = ln.Close()
		return err
	}

	logger.Info("HTTP responder listening",
		"addr", ln.Addr().String(),
		"ota_url", s.config.OTAURL,
		"image", s.config.ImagePath,
		"max_connections", s.config.MaxConnections)

	s.acceptWG.Add(1)
	go func() {
		defer s.acceptWG.Done()
		s.acceptLoop(ln)
	}()
	return nil
}

// Serve accepts connections on ln until Shutdown. It always returns a
// non-nil error; after Shutdown that error is ErrServerClosed.
func (s *Server) Serve(ln net.Listener) error {
	if err := s.attach(ln); err != nil {
		return err
	}
	s.acceptWG.Add(1)
	defer s.acceptWG.Done()
	s.acceptLoop(ln)
	return ErrServerClosed
}

func (s *Server) attach(ln net.Listener) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrServerClosed
	}
	if s.listener != nil {
		return ErrAlreadyRunning
	}
	s.listener = ln
	s.running.Store(true)
	return nil
}

// Addr returns the listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) acceptLoop(ln net.Listener) {
	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else if backoff *= 2; backoff > time.Second {
				backoff = time.Second
			}
			logger.Warn("Failed to accept connection", "error", err, "retry_in", backoff)
			select {
			case <-time.After(backoff):
			case <-s.done:
				return
			}
			continue
		}
		backoff = 0

		select {
		case s.sem <- struct{}{}:
		case <-s.done:
			_ = conn.Close()
			return
		}

		if !s.track(conn) {
			<-s.sem
			_ = conn.Close()
			return
		}
		go func() {
			defer s.connWG.Done()
			defer func() { <-s.sem }()
			defer s.untrack(conn)
			s.handleConn(conn)
		}()
	}
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	s.connWG.Add(1)
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

// Shutdown stops accepting, closes the listener, and waits for in-flight
// connections. If ctx ends first the remaining connections are closed and
// ctx's error is returned.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.running.Store(false)
	close(s.done)
	ln := s.listener
	s.mu.Unlock()

	logger.Info("Stopping HTTP responder")
	if ln != nil {
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			logger.Warn("Error closing listener", "error", err)
		}
	}
	s.acceptWG.Wait()

	idle := make(chan struct{})
	go func() {
		s.connWG.Wait()
		close(idle)
	}()

	select {
	case <-idle:
		logger.Debug("All connections finished")
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		remaining := len(s.conns)
		for conn := range s.conns {
			_ = conn.Close()
		}
		s.mu.Unlock()
		logger.Warn("Shutdown deadline reached, closed active connections", "count", remaining)
		<-idle
		return ctx.Err()
	}
}

func (s *Server) handleConn(conn net.Conn) {
	started := time.Now()
	id := uuid.NewString()
	log := logger.With("conn", id, "remote", conn.RemoteAddr().String())
	s.config.Metrics.connOpened()
	defer s.config.Metrics.connClosed()
	defer func() {
		if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			log.Debug("Error closing connection", "error", err)
		}
		log.Debug("Client connection closed", "duration", time.Since(started))
	}()

	if s.config.ReadTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	}
	raw, err := readRequest(conn, constants.MaxRequestSize)
	if len(raw) == 0 {
		log.Debug("No data received", "error", err)
		return
	}
	if err != nil {
		log.Debug("Request read ended early", "error", err, "bytes", len(raw))
	}
	_ = conn.SetReadDeadline(time.Time{})

	req := ParseRequest(raw)
	log.Debug("Received request", "method", req.Method, "path", req.Path, "bytes", len(raw))

	res := s.routes.serve(conn, req, log)
	s.config.Metrics.observe(res.route, res.status, res.sent, time.Since(started), res.err)
	if res.err != nil {
		log.Warn("Failed to send response", "route", res.route, "error", res.err, "sent", res.sent)
	}
}

// readRequest reads until the header block is complete and, when a
// Content-Length is present, until that many body bytes have arrived. It
// stops at EOF or limit and returns what it has.
func readRequest(r io.Reader, limit int) ([]byte, error) {
	buf := make([]byte, 0, constants.TransferChunkSize)
	chunk := make([]byte, constants.TransferChunkSize)
	for len(buf) < limit {
		n, err := r.Read(chunk[:min(len(chunk), limit-len(buf))])
		buf = append(buf, chunk[:n]...)
		if requestComplete(buf) {
			return buf, nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return buf, nil
			}
			return buf, err
		}
	}
	return buf, nil
}

func requestComplete(buf []byte) bool {
	end, sep := bytes.Index(buf, []byte("\r\n\r\n")), 4
	if end < 0 {
		end, sep = bytes.Index(buf, []byte("\n\n")), 2
	}
	if end < 0 {
		return false
	}
	req := ParseRequest(buf[:end])
	length := -1
	for key, value := range req.Headers {
		if strings.EqualFold(key, "Content-Length") {
			if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && n >= 0 {
				length = n
			}
		}
	}
	if length < 0 {
		return true
	}
	return len(buf)-(end+sep) >= length
}
