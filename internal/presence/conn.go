package presence

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/oldtown/citadel/internal/models"
)

// Conn is a single client connection to the lobby. User stays nil for
// anonymous connections; they still receive public broadcasts.
type Conn struct {
	ID     string
	User   *models.User
	Cancel context.CancelFunc
	Out    chan map[string]interface{}
}

// NewConn builds a connection with a buffered outgoing channel.
func NewConn(id string, cancel context.CancelFunc) *Conn {
	return &Conn{
		ID:     id,
		Cancel: cancel,
		Out:    make(chan map[string]interface{}, 16),
	}
}

// Write pushes a message onto the connection's outgoing channel without
// blocking. A full or closed channel means the peer is gone or hopelessly
// behind; the message is dropped and logged, never retried. The client
// resyncs on reconnect.
func (c *Conn) Write(msg map[string]interface{}) {
	select {
	case c.Out <- msg:
	default:
		msgType, _ := msg["type"].(string)
		log.Warnf("presence: dropped message type %q for connection %s (channel closed or full)", msgType, c.ID)
	}
}

// WriteError sends an error payload to this connection only.
func (c *Conn) WriteError(msg string) {
	c.Write(map[string]interface{}{
		"type":    "error",
		"message": msg,
	})
}
