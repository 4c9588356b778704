package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"

	"github.com/BlearKK/deepdriver/internal/search"
	"github.com/BlearKK/deepdriver/pkg/events"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"
)

// StreamSSE serves one session over a server-sent-events connection.
// exclude lists item ids the client already processed; their results are
// skipped during replay.
func (st *Streamer) StreamSSE(ctx *fiber.Ctx, s *search.Session, exclude map[string]struct{}) error {
	ctx.Set(fiber.HeaderContentType, "text/event-stream; charset=utf-8")
	ctx.Set(fiber.HeaderCacheControl, "no-cache")
	ctx.Set(fiber.HeaderConnection, "keep-alive")
	// Disable proxy buffering, or events sit in nginx until the buffer fills.
	ctx.Set("X-Accel-Buffering", "no")

	st.log.Info("Stream", "SSE connection opened", map[string]interface{}{
		"session_id": s.ID(),
		"progress":   s.Progress(),
		"total":      s.Total(),
	})

	ctx.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		// The request handler has returned by the time this runs; the pump
		// lives on the server's own clock and ends when the client goes
		// away (flush failure) or a terminal event fires.
		st.pump(context.Background(), s, &sseSink{w: w}, exclude)
	}))
	return nil
}

type sseSink struct {
	w *bufio.Writer
}

func (o *sseSink) send(ev events.StreamEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(o.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	// Flush surfaces the broken pipe when the client disconnected.
	return o.w.Flush()
}
