// Package hookserver implements the Hook HTTP Ingress (C5): a loopback-only
// HTTP listener accepting authenticated out-of-band callbacks from running
// agents at POST /hook/<agentId>. A gorilla/mux router wrapped in
// Recovery -> Logging middleware serves the single route.
package hookserver

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/Agent-Clubhouse/Clubhouse-sub001/internal/adapter"
	"github.com/Agent-Clubhouse/Clubhouse-sub001/pkg/logger"
)

// AgentLookup is the subset of the Agent Registry (C7) the ingress needs.
type AgentLookup interface {
	Exists(agentID string) bool
	GetProjectPath(agentID string) (string, bool)
	GetOrchestrator(agentID string) (string, bool)
	GetNonce(agentID string) (string, bool)
}

// AdapterLookup resolves a registered Orchestrator Adapter (C2) by name.
type AdapterLookup func(name string) (adapter.Adapter, bool)

// HookPublisher is the subset of the Event Bus (C6) the ingress needs.
type HookPublisher interface {
	PublishHookEvent(agentID string, event adapter.HookEvent)
}

// Server is the loopback HTTP listener. The zero value is not usable; use
// New.
type Server struct {
	registry AgentLookup
	adapters AdapterLookup
	bus      HookPublisher

	router   *mux.Router
	listener net.Listener
	httpSrv  *http.Server
	ready    chan struct{}
}

// New returns a Server bound to no listener yet; call Start to bind.
func New(registry AgentLookup, adapters AdapterLookup, bus HookPublisher) *Server {
	s := &Server{
		registry: registry,
		adapters: adapters,
		bus:      bus,
		ready:    make(chan struct{}),
	}

	router := mux.NewRouter()
	router.HandleFunc("/hook/{agentId}", s.handleHook).Methods(http.MethodPost)
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusMethodNotAllowed)
	})
	s.router = router
	return s
}

// Start binds a random free port on loopback and begins serving. Idempotent
// — calling Start twice on an already-bound Server is a no-op.
func (s *Server) Start() error {
	if s.listener != nil {
		return nil
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("hookserver: listen: %w", err)
	}
	s.listener = ln
	s.httpSrv = &http.Server{Handler: recoveryMiddleware(loggingMiddleware(s.router))}

	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("hookserver: serve failed")
		}
	}()

	close(s.ready)
	return nil
}

// WaitReady blocks until Start has successfully bound its listener.
func (s *Server) WaitReady() <-chan struct{} { return s.ready }

// Port returns the bound loopback port, valid only after Start.
func (s *Server) Port() int {
	if s.listener == nil {
		return 0
	}
	return s.listener.Addr().(*net.TCPAddr).Port
}

// URL returns the base hook URL (http://127.0.0.1:<port>) injected into a
// spawned child's environment.
func (s *Server) URL() string {
	return fmt.Sprintf("http://127.0.0.1:%d", s.Port())
}

// Stop closes the listener and forgets the bound port.
func (s *Server) Stop() error {
	if s.httpSrv == nil {
		return nil
	}
	err := s.httpSrv.Close()
	s.listener = nil
	s.httpSrv = nil
	s.ready = make(chan struct{})
	return err
}

func (s *Server) handleHook(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["agentId"]

	if !s.registry.Exists(agentID) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusOK)
		return
	}

	expectedNonce, _ := s.registry.GetNonce(agentID)
	gotNonce := r.Header.Get("X-Clubhouse-Nonce")

	body, _ := io.ReadAll(r.Body)

	if gotNonce != expectedNonce {
		logger.Warn().Str("agent_id", agentID).Msg("hookserver: nonce mismatch, dropping hook")
		w.WriteHeader(http.StatusOK)
		return
	}

	orchestrator, _ := s.registry.GetOrchestrator(agentID)
	ad, ok := s.adapters(orchestrator)
	if !ok {
		w.WriteHeader(http.StatusOK)
		return
	}

	event, err := ad.ParseHookEvent(json.RawMessage(body))
	if err != nil || event == nil {
		// Unknown shapes are silently dropped.
		w.WriteHeader(http.StatusOK)
		return
	}

	if verb, ok := ad.ToolVerb(event.ToolName); ok {
		event.Verb = verb
	}

	s.bus.PublishHookEvent(agentID, *event)
	w.WriteHeader(http.StatusOK)
}
