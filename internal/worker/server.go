// Package worker implements the measurement worker: a stateless HTTP service
// exposing the phase-timed probe and the whole-round-trip duration probe.
// Workers hold no cross-request state and scale horizontally behind any load
// balancer.
package worker

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/fleek-network/latency-measure/internal/logging"
	"github.com/fleek-network/latency-measure/internal/probe"
)

// DefaultAddr matches the port the deployment artifacts assume for workers.
const DefaultAddr = ":3000"

type Config struct {
	Addr     string
	PoolSize int
	// InsecureTLS skips certificate verification on outbound probes, for
	// lab targets with self-signed certificates.
	InsecureTLS bool
}

type Server struct {
	cfg    Config
	pool   *probe.Pool
	client *http.Client
	srv    *http.Server
	logger *logrus.Logger
}

func New(cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}

	var tlsConfig *tls.Config
	if cfg.InsecureTLS {
		tlsConfig = &tls.Config{InsecureSkipVerify: true}
	}

	s := &Server{
		cfg:    cfg,
		pool:   probe.NewPool(cfg.PoolSize, probe.Options{TLSConfig: tlsConfig}),
		client: newDurationClient(tlsConfig),
		logger: logging.GetLogger(),
	}

	s.srv = &http.Server{
		Addr:    cfg.Addr,
		Handler: s.Handler(),
		// No write timeout: a measurement holds its handler open for as
		// long as the probed target takes.
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	return s
}

// newDurationClient builds the outbound client for duration probes. Keep-alive
// is disabled so every sample pays the full connection setup and repeated
// samples stay comparable. No client timeout: measurement calls carry no
// application-level deadline.
func newDurationClient(tlsConfig *tls.Config) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:             http.ProxyFromEnvironment,
			DisableKeepAlives: true,
			TLSClientConfig:   tlsConfig,
		},
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/ttfb", s.handleTTFB)
	r.Post("/duration", s.handleDuration)
	r.Get("/healthz", s.handleHealth)

	return r
}

func (s *Server) Start() error {
	s.logger.WithField("addr", s.cfg.Addr).Info("Measurement worker listening")
	return s.srv.ListenAndServe()
}

// Shutdown drains in-flight requests, then stops the probe pool.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.srv.Shutdown(ctx)
	s.pool.Close()
	return err
}
