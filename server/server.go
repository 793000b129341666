// Package server implements the analysis server: a TCP listener that
// speaks the legacy text protocol, one session Handler per client, each
// hosting its own namespace of started component instances.
package server

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/naylor-b/aserver/errors"
	"github.com/naylor-b/aserver/events"
	"github.com/naylor-b/aserver/metric"
	"github.com/naylor-b/aserver/registry"
	"github.com/naylor-b/aserver/wrkpool"
)

// Version identifiers reported by the protocol. The AS values name the
// legacy implementation level this server approximates.
const (
	Version   = "0.1"
	ASVersion = "7.0"
	ASBuild   = "42968"
)

// bindRetries is how many consecutive ports are tried when the requested
// port is already in use.
const bindRetries = 10

// Config holds server configuration.
type Config struct {
	Host string
	Port int
	// AllowedHosts are IPv4 addresses or address prefixes ending in '.'.
	// Empty means only 127.0.0.1 is allowed.
	AllowedHosts []string
	// UpFile, when set, is written with "host\nport\npid\n" once the
	// listener is ready and removed on shutdown.
	UpFile string
}

// Deps contains the external dependencies for a Server. Logger and
// Registry are required; Metrics and Events are optional (nil disables).
type Deps struct {
	Logger   *slog.Logger
	Registry *registry.Registry
	Metrics  *metric.MetricsRegistry
	Events   *events.Publisher
}

// Server accepts client connections and serves each with a Handler.
type Server struct {
	cfg      Config
	logger   *slog.Logger
	registry *registry.Registry
	metrics  *metric.Metrics
	events   *events.Publisher
	pool     *wrkpool.Pool

	listener net.Listener

	mu       sync.Mutex
	handlers map[string]*Handler // session id -> handler

	numClients int64

	shutdown chan struct{}
	done     chan struct{}
	wg       sync.WaitGroup
}

// New creates a Server. Call Start to bind and serve.
func New(cfg Config, deps Deps) (*Server, error) {
	if deps.Registry == nil {
		return nil, fmt.Errorf("server.New: Registry is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if len(cfg.AllowedHosts) == 0 {
		cfg.AllowedHosts = []string{"127.0.0.1"}
	}
	return &Server{
		cfg:      cfg,
		logger:   logger.With("component", "server"),
		registry: deps.Registry,
		metrics:  deps.Metrics.CoreMetrics(),
		events:   deps.Events,
		pool: wrkpool.New(
			wrkpool.WithMetricsRegistry(deps.Metrics, "aserver_workers")),
		handlers: make(map[string]*Handler),
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Start binds the listener and begins accepting connections. When the
// configured port is busy the next port is tried, up to bindRetries.
func (s *Server) Start(ctx context.Context) error {
	port := s.cfg.Port
	var listener net.Listener
	var err error
	for i := 0; i < bindRetries; i++ {
		listener, err = net.Listen("tcp", fmt.Sprintf("%s:%d", s.cfg.Host, port+i))
		if err == nil {
			break
		}
		if !strings.Contains(err.Error(), "address already in use") {
			return errors.Wrap(err, "Server", "Start", "bind")
		}
		s.logger.Warn("port in use, retrying", "port", port+i)
	}
	if listener == nil {
		return errors.Wrap(err, "Server", "Start", "bind")
	}
	s.listener = listener
	s.logger.Info("listening", "addr", listener.Addr().String())

	if s.cfg.UpFile != "" {
		if err := s.writeUpFile(); err != nil {
			listener.Close()
			return err
		}
	}

	s.wg.Add(1)
	go s.acceptLoop(ctx)
	return nil
}

// Serve runs Start and blocks until the context is cancelled, then stops
// with the given timeout. Convenience for cmd wiring.
func (s *Server) Serve(ctx context.Context, stopTimeout time.Duration) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		return s.Stop(stopTimeout)
	})
	return g.Wait()
}

// Addr returns the bound listener address.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) writeUpFile() error {
	host, portStr, err := net.SplitHostPort(s.listener.Addr().String())
	if err != nil {
		return errors.Wrap(err, "Server", "writeUpFile", "parse addr")
	}
	content := fmt.Sprintf("%s\n%s\n%d\n", host, portStr, os.Getpid())
	if err := os.WriteFile(s.cfg.UpFile, []byte(content), 0o644); err != nil {
		return errors.Wrap(err, "Server", "writeUpFile", "write")
	}
	return nil
}

func (s *Server) acceptLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
			}
			s.logger.Error("accept failed", "error", err)
			return
		}

		remote := conn.RemoteAddr().String()
		host, _, err := net.SplitHostPort(remote)
		if err != nil {
			host = remote
		}
		if !hostAllowed(host, s.cfg.AllowedHosts) {
			s.logger.Warn("rejecting connection from disallowed host", "host", host)
			conn.Close()
			continue
		}

		s.wg.Add(1)
		go s.serveConn(ctx, conn)
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()

	sessionID := uuid.NewString()
	h := newHandler(s, conn, sessionID)

	s.mu.Lock()
	s.handlers[sessionID] = h
	s.mu.Unlock()
	atomic.AddInt64(&s.numClients, 1)
	if s.metrics != nil {
		s.metrics.ClientsConnected.Inc()
	}
	s.events.ClientConnected(conn.RemoteAddr().String())

	h.Serve(ctx)

	s.mu.Lock()
	delete(s.handlers, sessionID)
	s.mu.Unlock()
	atomic.AddInt64(&s.numClients, -1)
	if s.metrics != nil {
		s.metrics.ClientsConnected.Dec()
	}
	s.events.ClientDisconnected(conn.RemoteAddr().String())
}

// Stop closes the listener and all client connections, then waits for
// session goroutines and workers to finish.
func (s *Server) Stop(timeout time.Duration) error {
	select {
	case <-s.shutdown:
		return nil // already stopped
	default:
	}
	close(s.shutdown)

	if s.listener != nil {
		s.listener.Close()
	}
	s.mu.Lock()
	for _, h := range s.handlers {
		h.closeConn()
	}
	s.mu.Unlock()

	waited := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(waited)
	}()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-waited:
	case <-timer.C:
		return fmt.Errorf("server.Stop: timeout waiting for sessions")
	}

	if err := s.pool.Close(timeout); err != nil {
		return errors.Wrap(err, "Server", "Stop", "close worker pool")
	}
	if s.cfg.UpFile != "" {
		os.Remove(s.cfg.UpFile)
	}
	close(s.done)
	s.logger.Info("stopped")
	return nil
}

// NumClients returns the number of connected clients.
func (s *Server) NumClients() int {
	return int(atomic.LoadInt64(&s.numClients))
}

// ReadAllowedHosts reads a hosts.allow style file: one IPv4 address or
// address prefix (ending in '.') per line, '#' comments.
func ReadAllowedHosts(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "Server", "ReadAllowedHosts", "open")
	}
	defer f.Close()

	var hosts []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		hosts = append(hosts, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "Server", "ReadAllowedHosts", "read")
	}
	return hosts, nil
}

// hostAllowed checks a client address against the allowed list. Entries
// ending in '.' are address prefixes; anything else must match exactly.
func hostAllowed(host string, allowed []string) bool {
	for _, pattern := range allowed {
		if strings.HasSuffix(pattern, ".") {
			if strings.HasPrefix(host, pattern) {
				return true
			}
		} else if host == pattern {
			return true
		}
	}
	return false
}
