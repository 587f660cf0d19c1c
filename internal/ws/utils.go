package ws

import (
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
	// readWait is generous: a student can sit on one question for minutes
	// and the shell only pings every heartbeat interval.
	readWait = 5 * time.Minute
)

// Prepare sets the connection limits. maxMessageBytes bounds incoming
// messages, which matters here because frame uploads ride the socket.
func Prepare(conn *websocket.Conn, maxMessageBytes int64) {
	if maxMessageBytes > 0 {
		conn.SetReadLimit(maxMessageBytes)
	}
}

// WriteTyped sends a strongly-typed response payload over the WebSocket.
func WriteTyped(conn *websocket.Conn, v interface{}) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

// WriteError sends a typed ErrorResponse over the WebSocket.
func WriteError(conn *websocket.Conn, errMsg string) error {
	return WriteTyped(conn, ErrorResponse{
		Event: EventError,
		Error: errMsg,
	})
}

// ReadJSON reads and decodes the next message. It refreshes the read
// deadline on every call.
func ReadJSON(conn *websocket.Conn, v interface{}) error {
	conn.SetReadDeadline(time.Now().Add(readWait))
	return conn.ReadJSON(v)
}
