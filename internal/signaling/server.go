package signaling

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/1ureka/simplertc/internal/util"
)

// Server is the WebSocket relay that forwards frames between connected
// sessions. Each participant connects to /ws?id=<session>&pin=<pin> and
// addresses frames to another session id.
type Server struct {
	pin      string
	listener net.Listener
	srv      *http.Server

	mu    sync.RWMutex
	peers map[string]*sender
}

// NewServer creates a relay. An empty pin disables PIN checking.
func NewServer(pin string) *Server {
	return &Server{
		pin:   pin,
		peers: make(map[string]*sender),
	}
}

// Start begins listening on addr (":0" picks a random port). Returns the
// assigned port number.
func (s *Server) Start(addr string) (int, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return 0, fmt.Errorf("failed to start WS server: %w", err)
	}
	s.listener = listener
	port := listener.Addr().(*net.TCPAddr).Port

	s.srv = &http.Server{Handler: s.Handler()}
	go func() {
		if err := s.srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.LogError("relay stopped: %v", err)
		}
	}()

	return port, nil
}

// Handler returns the relay's HTTP handler, for mounting or httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

// Peers returns the ids of the currently connected sessions, sorted.
func (s *Server) Peers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.peers))
	for id := range s.peers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.pin != "" && r.URL.Query().Get("pin") != s.pin {
		http.Error(w, "Invalid PIN", http.StatusUnauthorized)
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "missing session id", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	out := &sender{conn: conn}
	if !s.register(id, out) {
		out.close(websocket.ClosePolicyViolation, "session id already connected")
		return
	}
	defer s.unregister(id, out)
	util.LogDebug("relay: session %s connected", id)

	in := &receiver{conn: conn}
	err = in.watch(func(f Frame) {
		f.From = id
		s.route(out, f)
	})
	util.LogDebug("relay: session %s disconnected: %v", id, err)
}

// route forwards f to its destination, or reports the failure back to the
// sending session.
func (s *Server) route(from *sender, f Frame) {
	s.mu.RLock()
	to, ok := s.peers[f.To]
	s.mu.RUnlock()

	if !ok {
		util.LogWarning("relay: unknown destination %q from %s", f.To, f.From)
		_ = from.send(Frame{To: f.From, Error: fmt.Sprintf("unknown session: %s", f.To)})
		return
	}
	if err := to.send(f); err != nil {
		util.LogWarning("relay: failed to forward %s -> %s: %v", f.From, f.To, err)
		_ = from.send(Frame{To: f.From, Error: fmt.Sprintf("delivery to %s failed", f.To)})
	}
}

func (s *Server) register(id string, out *sender) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.peers[id]; exists {
		return false
	}
	s.peers[id] = out
	return true
}

func (s *Server) unregister(id string, out *sender) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.peers[id] == out {
		delete(s.peers, id)
	}
}

// Close shuts down the listener and drops every connected session.
func (s *Server) Close() error {
	var err error
	if s.srv != nil {
		err = s.srv.Close()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range s.peers {
		p.close(websocket.CloseGoingAway, "relay shutting down")
		_ = p.conn.Close()
		delete(s.peers, id)
	}
	return err
}
