package signaling

import (
	"fmt"

	"github.com/gorilla/websocket"
)

// receiver reads frames from one WebSocket until it fails or is closed.
type receiver struct {
	conn *websocket.Conn
}

// watch decodes every inbound frame and hands it to fn. It returns the read
// error that ended the loop.
func (r *receiver) watch(fn func(Frame)) error {
	for {
		var f Frame
		if err := r.conn.ReadJSON(&f); err != nil {
			return fmt.Errorf("failed to read WS frame: %w", err)
		}
		fn(f)
	}
}
