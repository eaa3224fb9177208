package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Firefox2100/dedi-gateway/pkg/connection"
	"github.com/Firefox2100/dedi-gateway/pkg/gateway"
	"github.com/Firefox2100/dedi-gateway/pkg/log"
	"github.com/Firefox2100/dedi-gateway/pkg/metrics"
)

// Config carries the collaborators and listen address for the HTTP
// server.
type Config struct {
	Engine      *gateway.Engine
	Connections *connection.Manager
	ListenAddr  string
}

// Server exposes the gateway over HTTP: the management surface for
// operators and local services, and the service surface peers talk to.
type Server struct {
	engine *gateway.Engine
	conn   *connection.Manager
	router *mux.Router
	http   *http.Server

	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewServer creates the HTTP server and registers every route.
func NewServer(cfg Config) *Server {
	s := &Server{
		engine: cfg.Engine,
		conn:   cfg.Connections,
		router: mux.NewRouter(),
		upgrader: websocket.Upgrader{
			// Peers are other gateways, not browsers; origin checks
			// do not apply.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: log.WithComponent("api"),
	}
	s.http = &http.Server{
		Addr:        cfg.ListenAddr,
		Handler:     s.router,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(s.observe)

	s.router.HandleFunc("/health", s.health).Methods(http.MethodGet)
	s.router.HandleFunc("/ready", s.ready).Methods(http.MethodGet)
	s.router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	manage := s.router.PathPrefix("/manage").Subrouter()
	manage.HandleFunc("/networks", s.listNetworks).Methods(http.MethodGet)
	manage.HandleFunc("/networks", s.createNetwork).Methods(http.MethodPost)
	manage.HandleFunc("/networks/join", s.joinNetwork).Methods(http.MethodPost)
	manage.HandleFunc("/networks/invite", s.inviteNode).Methods(http.MethodPost)
	manage.HandleFunc("/networks/{id}", s.getNetwork).Methods(http.MethodGet)
	manage.HandleFunc("/networks/{id}", s.patchNetwork).Methods(http.MethodPatch)
	manage.HandleFunc("/networks/{id}", s.deleteNetwork).Methods(http.MethodDelete)
	manage.HandleFunc("/requests", s.listRequests).Methods(http.MethodGet)
	manage.HandleFunc("/requests/{id}", s.decideRequest).Methods(http.MethodPatch)
	manage.HandleFunc("/messages", s.sendMessage).Methods(http.MethodPost)
	manage.HandleFunc("/index", s.getDataIndex).Methods(http.MethodGet)
	manage.HandleFunc("/index", s.putDataIndex).Methods(http.MethodPut)
	manage.HandleFunc("/users", s.listUsers).Methods(http.MethodGet)
	manage.HandleFunc("/users", s.createUser).Methods(http.MethodPost)
	manage.HandleFunc("/users/mapping", s.getUserMapping).Methods(http.MethodGet)
	manage.HandleFunc("/users/mapping", s.putUserMapping).Methods(http.MethodPut)
	manage.HandleFunc("/users/{id}", s.deleteUser).Methods(http.MethodDelete)

	service := s.router.PathPrefix("/service").Subrouter()
	service.HandleFunc("/status", s.serviceStatus).Methods(http.MethodGet)
	service.HandleFunc("/challenge", s.issueChallenge).Methods(http.MethodGet)
	service.HandleFunc("/networks", s.visibleNetworks).Methods(http.MethodGet)
	service.HandleFunc("/requests", s.registerAdmission).Methods(http.MethodPost)
	service.HandleFunc("/requests/{id}", s.pollAdmission).Methods(http.MethodPost)
	service.HandleFunc("/responses", s.admissionResponse).Methods(http.MethodPost)
	service.HandleFunc("/message", s.inboundMessage).Methods(http.MethodPost)
	service.HandleFunc("/websocket", s.serveWebsocket).Methods(http.MethodGet)
	service.HandleFunc("/event", s.serveEventStream).Methods(http.MethodPost)
}

// Handler exposes the router, mainly for tests that mount the server
// on httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.http.Addr).Msg("API server listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and closes the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
