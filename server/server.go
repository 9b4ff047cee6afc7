package server

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"connectrpc.com/connect"
	"github.com/tliron/commonlog"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/chazu/falcon/pkg/falcon"
)

// FalconServer is the evaluation server. It serves both gRPC (binary
// protobuf) and Connect (HTTP/JSON) on the same port.
type FalconServer struct {
	worker   *VMWorker
	sessions *SessionStore
	mux      *http.ServeMux
	log      commonlog.Logger

	stopSweeper func()
}

// ServerOption configures a FalconServer.
type ServerOption func(*serverConfig)

type serverConfig struct {
	opts       falcon.Options
	workers    int
	sessionTTL time.Duration
}

// WithOptions sets the pipeline options (manifest, cache, built-ins) used
// for every evaluation.
func WithOptions(opts falcon.Options) ServerOption {
	return func(c *serverConfig) { c.opts = opts }
}

// WithWorkers bounds the number of concurrent evaluations.
func WithWorkers(n int) ServerOption {
	return func(c *serverConfig) { c.workers = n }
}

// WithSessionTTL sets how long an idle session survives.
func WithSessionTTL(ttl time.Duration) ServerOption {
	return func(c *serverConfig) { c.sessionTTL = ttl }
}

// New creates a FalconServer.
func New(opts ...ServerOption) *FalconServer {
	cfg := &serverConfig{
		workers:    runtime.GOMAXPROCS(0),
		sessionTTL: 30 * time.Minute,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	cfg.opts.Output = nil

	worker := NewVMWorker(cfg.workers)
	sessions := NewSessionStore(cfg.opts)

	s := &FalconServer{
		worker:   worker,
		sessions: sessions,
		mux:      http.NewServeMux(),
		log:      commonlog.GetLogger("falcon.server"),
	}

	evalSvc := NewEvalService(worker, sessions, cfg.opts)
	evalSvc.register(s.mux, connect.WithInterceptors(s.logInterceptor()))

	// Start session TTL sweeper (sweep every minute)
	s.stopSweeper = sessions.StartSweeper(time.Minute, cfg.sessionTTL)

	return s
}

// logInterceptor logs each call and its outcome at debug level.
func (s *FalconServer) logInterceptor() connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			if err != nil {
				s.log.Debugf("%s %s: %s (%s)", req.Peer().Protocol, req.Spec().Procedure, err, time.Since(start))
			} else {
				s.log.Debugf("%s %s ok (%s)", req.Peer().Protocol, req.Spec().Procedure, time.Since(start))
			}
			return resp, err
		}
	}
}

// Handler returns the server's HTTP handler. HTTP/2 without TLS (h2c) is
// accepted so that gRPC clients can connect directly.
func (s *FalconServer) Handler() http.Handler {
	return h2c.NewHandler(s.mux, &http2.Server{})
}

// Sessions exposes the session store.
func (s *FalconServer) Sessions() *SessionStore {
	return s.sessions
}

// ListenAndServe starts the HTTP server on the given address.
// The address should be in the form "host:port" or ":port".
func (s *FalconServer) ListenAndServe(addr string) error {
	s.log.Noticef("Falcon evaluation server listening on %s", addr)
	s.log.Noticef("  Connect (HTTP/JSON): http://%s%s", addr, EvaluateProcedure)
	s.log.Noticef("  gRPC (binary):       grpc://%s", addr)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}

// Stop shuts down the server.
func (s *FalconServer) Stop() {
	if s.stopSweeper != nil {
		s.stopSweeper()
	}
	s.worker.Stop()
}
