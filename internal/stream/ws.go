package stream

import (
	"context"
	"time"

	"github.com/BlearKK/deepdriver/internal/search"
	"github.com/BlearKK/deepdriver/pkg/events"

	"github.com/gofiber/websocket/v2"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 512
)

// StreamWS serves one session over a websocket. The event frames are the
// same union as the SSE transport; only the framing differs.
func (st *Streamer) StreamWS(conn *websocket.Conn, s *search.Session, exclude map[string]struct{}) {
	st.log.Info("Stream", "WS connection opened", map[string]interface{}{
		"session_id": s.ID(),
		"progress":   s.Progress(),
		"total":      s.Total(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Read pump: the client sends nothing meaningful, but reading is how
	// we learn the peer is gone.
	go func() {
		defer cancel()
		conn.SetReadLimit(maxMessageSize)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	st.pump(ctx, s, &wsSink{conn: conn}, exclude)

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteMessage(websocket.CloseMessage, []byte{})
	conn.Close()
}

type wsSink struct {
	conn *websocket.Conn
}

func (o *wsSink) send(ev events.StreamEvent) error {
	o.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return o.conn.WriteJSON(ev)
}
