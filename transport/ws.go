// Package transport implements the WebSocket collaborator the rpc
// dispatcher is built on top of: it turns inbound frames into
// rpc.TransportRequest/TransportClosed events and carries outbound bytes
// back over the same connection (spec.md §6, "transport server").
package transport

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/darwinia-network/jsonrpsee/rpc"
)

// Config controls how the WebSocket listener accepts connections.
type Config struct {
	// AllowedOrigins is passed straight to rs/cors, which decides the CORS
	// response headers ("*" matches every origin; an empty list falls back
	// to localhost only). rs/cors does not reject requests itself; the
	// WebSocket upgrade keeps gorilla's default origin check, which
	// refuses a request whose Origin host differs from its Host.
	AllowedOrigins []string
	// ReadLimit bounds a single inbound frame, in bytes. Zero uses
	// gorilla's default.
	ReadLimit int64
	// WriteTimeout bounds a single outbound write. Zero disables the
	// deadline.
	WriteTimeout time.Duration
}

func (c Config) corsOrigins() []string {
	if len(c.AllowedOrigins) == 0 {
		return []string{"http://localhost"}
	}
	return c.AllowedOrigins
}

// Server is a concrete rpc.Transport backed by a gorilla/websocket
// listener. One Server instance serves every connection accepted on its
// listener.
type Server struct {
	log    *zap.Logger
	cfg    Config
	events chan rpc.TransportEvent

	upgrader websocket.Upgrader
	http     *http.Server
	listener net.Listener

	connsMu sync.Mutex
	conns   map[rpc.ConnectionID]*wsConn
	nextID  uint64

	closeOnce sync.Once
}

type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// Listen starts accepting WebSocket connections on addr. The returned
// Server's Events channel begins producing TransportRequest/
// TransportClosed values immediately; call Close to shut the listener
// down.
func Listen(addr string, cfg Config, log *zap.Logger) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s := &Server{
		log:      log,
		cfg:      cfg,
		events:   make(chan rpc.TransportEvent, 64),
		upgrader: websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
		listener: ln,
		conns:    make(map[rpc.ConnectionID]*wsConn),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleUpgrade)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.corsOrigins(),
		AllowCredentials: true,
		AllowedMethods:   []string{http.MethodGet},
	})
	s.http = &http.Server{Handler: corsHandler.Handler(mux)}

	go func() {
		if err := s.http.Serve(ln); err != nil && !strings.Contains(err.Error(), "use of closed network connection") {
			s.log.Debug("websocket listener stopped", zap.Error(err))
		}
	}()
	return s, nil
}

// Addr returns the listener's address, suitable for rpc.NewServer's
// localAddr argument.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	if s.cfg.ReadLimit > 0 {
		conn.SetReadLimit(s.cfg.ReadLimit)
	}

	id := rpc.ConnectionID(atomic.AddUint64(&s.nextID, 1))
	wc := &wsConn{conn: conn}

	s.connsMu.Lock()
	s.conns[id] = wc
	s.connsMu.Unlock()

	go s.readLoop(id, wc)
}

func (s *Server) readLoop(id rpc.ConnectionID, wc *wsConn) {
	defer s.closeConn(id, wc)
	for {
		_, payload, err := wc.conn.ReadMessage()
		if err != nil {
			return
		}
		s.events <- rpc.TransportRequest{ID: id, Payload: payload}
	}
}

func (s *Server) closeConn(id rpc.ConnectionID, wc *wsConn) {
	s.connsMu.Lock()
	_, ok := s.conns[id]
	delete(s.conns, id)
	s.connsMu.Unlock()
	if !ok {
		return
	}
	wc.conn.Close()
	s.events <- rpc.TransportClosed{ID: id}
}

func (s *Server) write(id rpc.ConnectionID, data []byte) error {
	s.connsMu.Lock()
	wc, ok := s.conns[id]
	s.connsMu.Unlock()
	if !ok || len(data) == 0 {
		return nil
	}
	wc.writeMu.Lock()
	defer wc.writeMu.Unlock()
	if s.cfg.WriteTimeout > 0 {
		wc.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	}
	return wc.conn.WriteMessage(websocket.TextMessage, data)
}

// Events implements rpc.Transport.
func (s *Server) Events() <-chan rpc.TransportEvent { return s.events }

// Send implements rpc.Transport: it writes data and leaves the
// connection open.
func (s *Server) Send(ctx context.Context, id rpc.ConnectionID, data []byte) error {
	return s.write(id, data)
}

// Finish implements rpc.Transport: it writes the final reply for a
// connection that no longer has live subscriptions, exactly as Send
// does. It does not close the underlying
// WebSocket connection — the client may still send further requests on
// it (spec.md §8 S3/S4), so the transport stays open until the client
// disconnects or Close shuts the listener down.
func (s *Server) Finish(ctx context.Context, id rpc.ConnectionID, data []byte) error {
	return s.write(id, data)
}

// SupportsResuming implements rpc.Transport. Every WebSocket connection
// stays open for further writes, so subscriptions are always possible.
func (s *Server) SupportsResuming(id rpc.ConnectionID) bool { return true }

// Close shuts the listener down and stops accepting new connections.
// Already-open connections are closed; each one's read loop then emits a
// final TransportClosed event on Events.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.http.Close()
		s.connsMu.Lock()
		for _, wc := range s.conns {
			wc.conn.Close()
		}
		s.connsMu.Unlock()
	})
	return err
}
