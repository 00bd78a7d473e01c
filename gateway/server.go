package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"qwcat/config"
)

// Server is the local HTTP gateway. It range-serves allow-listed files and
// files under the temp directory, and hosts whatever routes callers register
// on its engine.
type Server struct {
	cfg     *config.Config
	allow   *AllowList
	tempDir string
	log     *logrus.Entry
	engine  *gin.Engine

	mu       sync.RWMutex
	listener net.Listener
	port     int
}

func NewServer(cfg *config.Config, allow *AllowList, logger *logrus.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		allow:   allow,
		tempDir: cfg.TempDir,
		log:     logger.WithField("component", "gateway"),
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(s.log))
	r.Use(corsMiddleware(cfg.AllowedOrigins))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if cfg.MetricsEnable {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}
	// Everything not matched by a registered route is a file request.
	r.NoRoute(s.serveFile)

	s.engine = r
	return s
}

// Engine exposes the router so the control API can register its routes.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Listen binds the first free port in the configured range, falling back to
// an ephemeral port when the whole range is taken.
func (s *Server) Listen() error {
	var lastErr error
	for port := s.cfg.PortRangeStart; port <= s.cfg.PortRangeEnd; port++ {
		ln, err := net.Listen("tcp", net.JoinHostPort(s.cfg.BindHost, strconv.Itoa(port)))
		if err == nil {
			s.setListener(ln)
			return nil
		}
		s.log.Debugf("Failed to bind to port %d: %v", port, err)
		lastErr = err
	}

	s.log.Debug("Failed to bind to any port in range, trying port 0")
	ln, err := net.Listen("tcp", net.JoinHostPort(s.cfg.BindHost, "0"))
	if err != nil {
		return fmt.Errorf("bind gateway (last range error: %v): %w", lastErr, err)
	}
	s.setListener(ln)
	return nil
}

func (s *Server) setListener(ln net.Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = ln
	s.port = ln.Addr().(*net.TCPAddr).Port
	s.log.Infof("Integrated server listening on %s", ln.Addr())
}

// Port returns the bound port, or false before Listen succeeded.
func (s *Server) Port() (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.port, s.listener != nil
}

// BaseURL is the address the UI should prefix file paths with.
func (s *Server) BaseURL() string {
	port, _ := s.Port()
	return fmt.Sprintf("http://%s/", net.JoinHostPort(s.cfg.BindHost, strconv.Itoa(port)))
}

// Serve blocks until ctx is canceled or the server fails.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.RLock()
	ln := s.listener
	s.mu.RUnlock()
	if ln == nil {
		return errors.New("gateway is not listening")
	}

	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("gateway: %w", err)
	case <-ctx.Done():
	}

	s.log.Info("Shutting down gateway")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.Warnf("Gateway forced to shutdown: %v", err)
	}
	<-errCh
	return nil
}

func requestLogger(log *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("Request failed")
		} else {
			entry.Debug("Request served")
		}
	}
}
