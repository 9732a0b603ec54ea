// Package worker runs the local HTTP surface of the devark daemon. UI
// clients post bus messages to /api/message and subscribe to invalidation
// events on /api/events.
package worker

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/devark-ai/devark/internal/bus"
	"github.com/devark-ai/devark/internal/worker/sse"
)

const (
	// DefaultAddr binds loopback only; the worker is a local daemon.
	DefaultAddr = "127.0.0.1:4517"

	// replyTimeout bounds how long /api/message waits for a bus reply.
	// Pre-init queued messages are answered when initialization finishes,
	// so the wait must cover startup.
	replyTimeout = 65 * time.Second

	shutdownTimeout = 5 * time.Second
)

// Service is the worker HTTP daemon.
type Service struct {
	version     string
	bus         *bus.Bus
	broadcaster *sse.Broadcaster
	router      chi.Router
	srv         *http.Server
	startTime   time.Time
}

// New builds the service around an already-wired bus.
func New(version string, b *bus.Bus) *Service {
	s := &Service{
		version:     version,
		bus:         b,
		broadcaster: sse.NewBroadcaster(),
		router:      chi.NewRouter(),
		startTime:   time.Now(),
	}
	s.setupRoutes()
	return s
}

// Broadcaster exposes the SSE fanout so stores and the sync client can push
// invalidations.
func (s *Service) Broadcaster() *sse.Broadcaster { return s.broadcaster }

// Router exposes the HTTP handler, mainly for tests.
func (s *Service) Router() http.Handler { return s.router }

func (s *Service) setupRoutes() {
	s.router.Use(middleware.Recoverer)

	s.router.Get("/api/health", s.handleHealth)
	s.router.Get("/api/events", s.broadcaster.ServeHTTP)
	s.router.Post("/api/message", s.handleMessage)
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Service) Start(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}
	s.srv = &http.Server{Addr: addr, Handler: s.router}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Worker listening")
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.broadcaster.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"version":       s.version,
		"uptimeSeconds": int(time.Since(s.startTime).Seconds()),
		"sseClients":    s.broadcaster.ClientCount(),
	})
}

// handleMessage forwards one bus message and waits for its reply. Messages
// queued behind initialization keep the request open until they are
// answered.
func (s *Service) handleMessage(w http.ResponseWriter, r *http.Request) {
	var msg bus.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeJSON(w, http.StatusBadRequest, bus.ErrorPayload{Name: "InvalidInput", Message: "malformed message body"})
		return
	}
	if msg.Type == "" {
		writeJSON(w, http.StatusBadRequest, bus.ErrorPayload{Name: "InvalidInput", Message: "message type is required"})
		return
	}

	replyCh := make(chan bus.Message, 1)
	s.bus.Send(r.Context(), msg, func(reply bus.Message) {
		select {
		case replyCh <- reply:
		default:
		}
	})

	select {
	case reply := <-replyCh:
		// Fire-and-forget messages come back as a zero-valued reply; a
		// typeless {"type":""} body would only confuse clients.
		if reply.Type == "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, http.StatusOK, reply)
	case <-time.After(replyTimeout):
		writeJSON(w, http.StatusGatewayTimeout, bus.ErrorPayload{Name: "Timeout", Message: "no reply from bus"})
	case <-r.Context().Done():
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}
