// Package bridge exposes steady-state to the desktop frontend via loopback HTTP JSON API
// and server-sent events stream with snapshot on every change.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/didip/tollbooth/v8"
	"github.com/didip/tollbooth/v8/limiter"
	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/rest/logger"
	"github.com/go-pkgz/routegroup"

	"github.com/umputun/steadystate/app/steady"
)

// Server serves State over HTTP
type Server struct {
	state        *steady.State
	version      string
	passwordHash string
	limiter      *limiter.Limiter
}

// Config for New
type Config struct {
	State         *steady.State
	Version       string
	PasswordHash  string  // bcrypt hash for basic auth, empty to disable
	MutationLimit float64 // max mutating requests per second per client, 0 for default
}

// New makes Server
func New(cfg Config) (*Server, error) {
	if cfg.State == nil {
		return nil, errors.New("bridge initialization failed: State is required")
	}
	limit := cfg.MutationLimit
	if limit <= 0 {
		limit = 20
	}
	lmt := tollbooth.NewLimiter(limit, nil)
	lmt.SetIPLookup(limiter.IPLookup{Name: "RemoteAddr", IndexFromRight: 0})
	lmt.SetMessageContentType("application/json")
	lmt.SetMessage(`{"error":"too many requests"}`)

	return &Server{
		state:        cfg.State,
		version:      cfg.Version,
		passwordHash: cfg.PasswordHash,
		limiter:      lmt,
	}, nil
}

// Run starts http server and blocks until ctx canceled. Requests, including open
// events streams, get ctx as the base context and end with it.
func (s *Server) Run(ctx context.Context, address string) error {
	server := &http.Server{
		Addr:              address,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second, // events stream lifts it for itself
		IdleTimeout:       30 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("[WARN] failed to shutdown bridge server: %v", err)
		}
	}()

	log.Printf("[INFO] starting bridge server on %s", address)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("bridge server failed: %w", err)
	}
	<-shutdownDone
	return nil
}

// routes returns the http.Handler with all routes configured
func (s *Server) routes() http.Handler {
	router := routegroup.New(http.NewServeMux())

	router.Use(
		rest.RealIP,
		rest.Recoverer(log.Default()),
		rest.Throttle(1000),
		rest.AppInfo("steadystate", "umputun", s.version),
		rest.Ping,
		rest.Trace,
		rest.SizeLimit(1024*1024),
	)

	if s.passwordHash != "" {
		log.Printf("[INFO] authentication enabled for bridge")
		router.Use(s.authMiddleware)
	}

	router.Mount("/api/v1").Route(func(api *routegroup.Bundle) {
		api.Use(rest.NoCache)

		// long-living stream, kept out of request logging
		api.HandleFunc("GET /events", s.handleEvents)

		api.Group().Route(func(g *routegroup.Bundle) {
			g.Use(logger.New(logger.Log(log.Default()), logger.Prefix("[DEBUG]")).Handler)
			limited := tollbooth.HTTPMiddleware(s.limiter)

			g.HandleFunc("GET /state", s.handleGetState)
			g.With(limited).HandleFunc("PUT /state", s.handlePutState)
			g.HandleFunc("GET /inputs/{name}", s.handleGetInput)
			g.With(limited).HandleFunc("POST /inputs/{name}", s.handleUpdateInput)
			g.HandleFunc("GET /outputs/{name}", s.handleGetOutput)
			g.With(limited).HandleFunc("PUT /outputs", s.handleUpdateOutputs)
			g.With(limited).HandleFunc("POST /selection", s.handleSelection)
			g.With(limited).HandleFunc("POST /calculation", s.handleCalculation)
			g.With(limited).HandleFunc("POST /reset", s.handleReset)
			g.HandleFunc("GET /schema", s.handleSchema)
		})
	})

	return router
}
