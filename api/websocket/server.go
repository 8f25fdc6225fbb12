package websocket

import (
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/0xmhha/hellostorage-go/internal/constants"
)

// Server upgrades HTTP requests and attaches the connections to a Hub
type Server struct {
	hub      *Hub
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewServer creates a new WebSocket server and starts its hub.
// checkOrigin may be nil to accept every origin.
func NewServer(logger *zap.Logger, checkOrigin func(r *http.Request) bool) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}

	hub := NewHub(logger)
	go hub.Run()

	return &Server{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  constants.DefaultWSReadBufferSize,
			WriteBufferSize: constants.DefaultWSWriteBufferSize,
			CheckOrigin:     checkOrigin,
		},
		logger: logger,
	}
}

// ServeHTTP handles WebSocket upgrade requests
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("failed to upgrade connection", zap.Error(err))
		return
	}

	client := NewClient(s.hub, conn, s.logger)
	select {
	case s.hub.register <- client:
	case <-s.hub.done:
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()

	s.logger.Info("new websocket connection",
		zap.String("client_id", client.ID()),
		zap.String("remote_addr", r.RemoteAddr))
}

// Hub returns the underlying hub
func (s *Server) Hub() *Hub {
	return s.hub
}

// Stop stops the WebSocket server
func (s *Server) Stop() {
	s.hub.Stop()
}
