package server

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

type Config struct {
	EnableHTTP       bool          `envconfig:"SERVER_ENABLE_HTTP" yaml:"enable_http" default:"true"`
	EnableGRPC       bool          `envconfig:"SERVER_ENABLE_GRPC" yaml:"enable_grpc" default:"true"`
	HTTPPort         string        `envconfig:"SERVER_HTTP_PORT" yaml:"http_port" default:"8080"`
	GRPCPort         string        `envconfig:"SERVER_GRPC_PORT" yaml:"grpc_port" default:"9090"`
	HTTPReadTimeout  time.Duration `envconfig:"SERVER_HTTP_READ_TIMEOUT" yaml:"http_read_timeout" default:"10s"`
	HTTPWriteTimeout time.Duration `envconfig:"SERVER_HTTP_WRITE_TIMEOUT" yaml:"http_write_timeout" default:"15s"`
	ShutdownTimeout  time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" yaml:"shutdown_timeout" default:"10s"`

	// mTLS for the HTTP listener. Paths point at PEM files.
	MTLSEnabled    bool   `envconfig:"SERVER_MTLS_ENABLED" yaml:"mtls_enabled"`
	MTLSCACert     string `envconfig:"SERVER_MTLS_CA_CERT" yaml:"mtls_ca_cert"`
	MTLSServerCert string `envconfig:"SERVER_MTLS_SERVER_CERT" yaml:"mtls_server_cert"`
	MTLSServerKey  string `envconfig:"SERVER_MTLS_SERVER_KEY" yaml:"mtls_server_key"`
}

// Server runs the HTTP API and the optional gRPC health endpoint side by
// side and stops both when the context ends.
type Server struct {
	cfg     Config
	logger  *slog.Logger
	router  http.Handler
	grpcSrv *grpc.Server

	httpSrv  *http.Server
	httpLis  net.Listener
	grpcLis  net.Listener
	ready    chan struct{}
	listenOK bool
}

func New(cfg Config, logger *slog.Logger, router http.Handler, grpcSrv *grpc.Server) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	return &Server{
		cfg:     cfg,
		logger:  logger,
		router:  router,
		grpcSrv: grpcSrv,
		ready:   make(chan struct{}),
	}
}

// Ready is closed once Start has bound its listeners, or failed to.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// HTTPAddr is the bound HTTP address, nil before Ready or when disabled.
func (s *Server) HTTPAddr() net.Addr {
	if !s.listenOK || s.httpLis == nil {
		return nil
	}
	return s.httpLis.Addr()
}

// Start binds every enabled listener, failing immediately if one cannot be
// bound, then serves until ctx is cancelled or a server fails.
func (s *Server) Start(ctx context.Context) error {
	err := s.listen()
	s.listenOK = err == nil
	close(s.ready)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	if s.httpLis != nil {
		g.Go(func() error {
			s.logger.Info("http server listening", "addr", s.httpLis.Addr().String(), "mtls", s.cfg.MTLSEnabled)
			var err error
			if s.cfg.MTLSEnabled {
				err = s.httpSrv.ServeTLS(s.httpLis, s.cfg.MTLSServerCert, s.cfg.MTLSServerKey)
			} else {
				err = s.httpSrv.Serve(s.httpLis)
			}
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("server: http: %w", err)
		})
	}
	if s.grpcLis != nil {
		g.Go(func() error {
			s.logger.Info("grpc server listening", "addr", s.grpcLis.Addr().String())
			if err := s.grpcSrv.Serve(s.grpcLis); err != nil {
				return fmt.Errorf("server: grpc: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		s.shutdown()
		return nil
	})

	return g.Wait()
}

func (s *Server) listen() error {
	if s.cfg.EnableHTTP {
		s.httpSrv = &http.Server{
			Handler:           s.router,
			ReadTimeout:       s.cfg.HTTPReadTimeout,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      s.cfg.HTTPWriteTimeout,
			IdleTimeout:       120 * time.Second,
		}
		if s.cfg.MTLSEnabled {
			tlsCfg, err := loadMTLSConfig(s.cfg.MTLSCACert)
			if err != nil {
				return err
			}
			s.httpSrv.TLSConfig = tlsCfg
		}
		lis, err := net.Listen("tcp", ":"+s.cfg.HTTPPort)
		if err != nil {
			return fmt.Errorf("server: listen http: %w", err)
		}
		s.httpLis = lis
	}

	if s.cfg.EnableGRPC && s.grpcSrv != nil {
		lis, err := net.Listen("tcp", ":"+s.cfg.GRPCPort)
		if err != nil {
			if s.httpLis != nil {
				_ = s.httpLis.Close()
				s.httpLis = nil
			}
			return fmt.Errorf("server: listen grpc: %w", err)
		}
		s.grpcLis = lis
	}
	return nil
}

// shutdown drains HTTP first, then gRPC. A gRPC drain that outlives the
// timeout is cut short.
func (s *Server) shutdown() {
	s.logger.Info("shutting down servers")
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if s.httpLis != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("http shutdown", "error", err)
		}
	}

	if s.grpcLis != nil {
		done := make(chan struct{})
		go func() {
			s.grpcSrv.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			s.grpcSrv.Stop()
		}
	}
}

func loadMTLSConfig(caPath string) (*tls.Config, error) {
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, fmt.Errorf("server: read mtls ca: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("server: mtls ca contains no certificates")
	}
	return &tls.Config{
		ClientCAs:  pool,
		ClientAuth: tls.RequireAndVerifyClientCert,
		MinVersion: tls.VersionTLS12,
	}, nil
}
