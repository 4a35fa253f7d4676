package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeDeadline = 5 * time.Second

// wsConn wraps a gorilla websocket connection with a write mutex — a
// *websocket.Conn supports at most one concurrent writer, but the
// gateway's read pump and the hub's asynchronous broadcasts (pre_check,
// COMMAND_COMPLETE, agent_left) both write to the same connection.
// Grounded on the teacher's api_stream.go write-deadline discipline
// (SetWriteDeadline before every send to avoid blocking forever on a
// half-dead peer).
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{conn: conn}
}

func (c *wsConn) Send(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	return c.conn.WriteJSON(v)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

func (c *wsConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
