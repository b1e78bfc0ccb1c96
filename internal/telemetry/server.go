package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultPath is where the WebSocket endpoint is mounted.
const DefaultPath = "/ws"

// Server upgrades viewers and registers them with the hub.
type Server struct {
	logger *slog.Logger
	hub    *Hub

	// status produces the status_init payload for new viewers; may be nil.
	status func() StatusData
}

// NewServer wires a server around hub.
func NewServer(hub *Hub, status func() StatusData, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{logger: logger, hub: hub, status: status}
}

// Register mounts the WebSocket handler on mux.
func (s *Server) Register(mux *http.ServeMux, path string) {
	if mux == nil {
		return
	}
	mux.HandleFunc(path, s.handleWS)
}

var upgrader = websocket.Upgrader{
	// Telemetry is read-only and bound to loopback by default.
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("telemetry upgrade failed", "error", err)
		return
	}

	client := newClient(s.hub, conn, r.RemoteAddr, s.logger)

	// Queue the snapshot before registering so it is the first frame the
	// client sees.
	if s.status != nil {
		if msg, err := marshalFrame(FrameStatusInit, s.status(), time.Time{}, time.Now); err == nil {
			client.send <- msg
		}
	}
	s.hub.register <- client

	// The pumps outlive the request; the hub and connection errors end them.
	go client.writePump()
	go client.readPump()
}

// Serve listens on addr and serves handler until ctx is canceled, then shuts
// down gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("telemetry listen on %s: %w", addr, err)
	}
	return serveListener(ctx, ln, handler, logger)
}

func serveListener(ctx context.Context, ln net.Listener, handler http.Handler, logger *slog.Logger) error {
	logger.Info("telemetry server listening", "addr", ln.Addr().String())

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		// Serve returns http.ErrServerClosed on Shutdown.
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("telemetry HTTP server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("telemetry HTTP server shutdown: %w", err)
		}
		<-errCh
		return nil

	case err := <-errCh:
		return err
	}
}
