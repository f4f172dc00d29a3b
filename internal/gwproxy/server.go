// Package gwproxy is the client-facing HTTP front-end: it authenticates
// callers, asks the routing engine for an account, forwards to the
// provider, and relays the response back (including streaming).
package gwproxy

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/codex-manager/gateway/internal/auth"
	"github.com/codex-manager/gateway/internal/config"
	"github.com/codex-manager/gateway/internal/events"
	"github.com/codex-manager/gateway/internal/gwmodel"
	"github.com/codex-manager/gateway/internal/routing"
)

// Server is the proxy front-end.
type Server struct {
	cfg        *config.Config
	engine     *routing.Engine
	authMw     *auth.Middleware
	bus        *events.Bus
	transports *transportPool

	mux        *http.ServeMux
	httpServer *http.Server

	version      string
	startTime    time.Time
	requestCount atomic.Uint64
}

func New(cfg *config.Config, engine *routing.Engine, bus *events.Bus, reg prometheus.Gatherer, version string) *Server {
	s := &Server{
		cfg:        cfg,
		engine:     engine,
		authMw:     auth.NewMiddleware(cfg.APIKey),
		bus:        bus,
		transports: newTransportPool(cfg.RequestTimeout),
		version:    version,
		startTime:  time.Now(),
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)
	if reg != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	corsMw := cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
	})

	s.mux = mux
	s.httpServer = &http.Server{
		Addr:           cfg.BindAddr,
		Handler:        corsMw(requestLogger(mux)),
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   cfg.RequestTimeout + 30*time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	return s
}

// Mux exposes the underlying route table so the admin surface can mount
// its own handlers on the same listener before Run is called.
func (s *Server) Mux() *http.ServeMux {
	return s.mux
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	authed := s.authMw.Authenticate

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /v1/models", authed(http.HandlerFunc(s.handleModels)))

	mux.Handle("POST /v1/chat/completions", authed(http.HandlerFunc(s.handleProxy)))
	mux.Handle("POST /v1/completions", authed(http.HandlerFunc(s.handleProxy)))
	mux.Handle("POST /v1/embeddings", authed(http.HandlerFunc(s.handleProxy)))
	mux.Handle("POST /v1/images/generations", authed(http.HandlerFunc(s.handleProxy)))

	// Catch-all: any other path is routed-proxy too, upstream method forced to POST.
	mux.Handle("/", authed(http.HandlerFunc(s.handleProxy)))
}

// Run starts the HTTP listener and blocks until a shutdown signal arrives
// or the listener itself fails.
func (s *Server) Run() error {
	stop := make(chan struct{})
	defer close(stop)
	go s.transports.runCleanup(stop, 5*time.Minute)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("proxy starting", "addr", s.httpServer.Addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case sig := <-sigCh:
		slog.Info("shutdown signal received", "signal", sig)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

// Shutdown drains in-flight requests and closes the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Status reports the running state spec describes for the management surface.
func (s *Server) Status() gwmodel.ProxyStatus {
	return gwmodel.ProxyStatus{
		Running:       true,
		BindAddr:      s.cfg.BindAddr,
		RequestCount:  s.requestCount.Load(),
		UptimeSeconds: s.uptimeSeconds(),
	}
}

func (s *Server) uptimeSeconds() float64 {
	return time.Since(s.startTime).Seconds()
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		slog.Debug("request", "method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr)
		next.ServeHTTP(w, r)
	})
}
