package signaling

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeTimeout = 10 * time.Second

// sender serializes outgoing frames to one WebSocket. gorilla/websocket
// allows a single concurrent writer per connection.
type sender struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// send writes a frame to the WebSocket, guarded by a mutex.
func (s *sender) send(f Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return s.conn.WriteJSON(f)
}

// close sends a close control frame with the given code before the caller
// drops the connection.
func (s *sender) close(code int, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
}
