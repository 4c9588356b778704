package streamclient

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BlearKK/deepdriver/pkg/events"
)

// streamOnce opens one stream connection and consumes it to its end. It
// returns the terminal observation for the lifecycle machine and whether the
// connection ever produced an init frame. Intermediate transitions (the init
// frame moving Connecting to Connected) are fed inline.
func (m *Manager) streamOnce(ctx context.Context) (Input, bool) {
	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, m.streamURL(), nil)
	if err != nil {
		m.setFinalErr(err)
		return InputFatal, false
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := m.client.Do(req)
	if err != nil {
		m.log.Warn("StreamClient", "Stream dial failed", map[string]interface{}{"error": err.Error()})
		return InputStreamLost, false
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		m.setFinalErr(ErrSessionNotFound)
		return InputFatal, false
	}
	if resp.StatusCode != http.StatusOK {
		m.log.Warn("StreamClient", "Stream rejected", map[string]interface{}{"status": resp.Status})
		return InputStreamLost, false
	}

	frames := make(chan events.StreamEvent, 16)
	readErr := make(chan error, 1)
	go readFrames(reqCtx, resp.Body, frames, readErr)

	inactivity := time.NewTimer(m.cfg.InactivityTimeout)
	defer inactivity.Stop()

	opened := false
	warned := false

	for {
		select {
		case <-ctx.Done():
			return InputStreamLost, opened

		case <-inactivity.C:
			m.log.Warn("StreamClient", "Stream silent past inactivity limit", map[string]interface{}{
				"limit": m.cfg.InactivityTimeout.String(),
			})
			cancel()
			return InputStreamLost, opened

		case ev, ok := <-frames:
			if !ok {
				if err := <-readErr; err != nil && !errors.Is(err, context.Canceled) {
					m.log.Warn("StreamClient", "Stream read ended", map[string]interface{}{"error": err.Error()})
				}
				if warned {
					return InputPlannedDrop, opened
				}
				return InputStreamLost, opened
			}

			if !inactivity.Stop() {
				select {
				case <-inactivity.C:
				default:
				}
			}
			inactivity.Reset(m.cfg.InactivityTimeout)

			switch ev.Type {
			case events.EventInit:
				m.adoptSession(ev.SessionID, ev.Total)
				m.reconcile(ev.Progress, ev.Total)
				if !opened {
					opened = true
					m.transition(InputStreamOpen)
				}

			case events.EventResult:
				if ev.Result != nil {
					m.absorbResult(*ev.Result)
				}

			case events.EventBatch:
				m.reconcile(ev.Progress, ev.Total)

			case events.EventHeartbeat:
				m.reconcile(maxInt(ev.Progress, len(ev.Completed)), ev.Total)

			case events.EventReconnectWarning:
				// The server will close this connection shortly. Treat the
				// following EOF as planned so no retry budget is spent.
				warned = true
				m.reconcile(maxInt(ev.Progress, len(ev.Completed)), ev.Total)

			case events.EventComplete:
				m.reconcile(ev.Progress, ev.Total)
				return InputComplete, opened

			case events.EventError:
				if ev.Fatal {
					m.setFinalErr(errors.New(ev.Message))
					return InputFatal, opened
				}
				m.log.Warn("StreamClient", "Server reported recoverable error", map[string]interface{}{
					"message": ev.Message,
				})
			}
		}
	}
}

func (m *Manager) streamURL() string {
	q := url.Values{}
	q.Set("session_id", m.SessionID())
	q.Set("target", m.cfg.Target)
	if ids := m.processedIDs(); len(ids) > 0 {
		q.Set("processed", strings.Join(ids, ","))
	}
	return m.cfg.ServerURL + "/api/search/stream?" + q.Encode()
}

// readFrames parses the data-only frame format from the body and pushes each
// decoded event. Closes frames and reports the read error when the body ends.
func readFrames(ctx context.Context, body io.Reader, frames chan<- events.StreamEvent, readErr chan<- error) {
	defer close(frames)

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if data.Len() > 0 {
				var ev events.StreamEvent
				if err := json.Unmarshal([]byte(data.String()), &ev); err == nil {
					select {
					case frames <- ev:
					case <-ctx.Done():
						readErr <- ctx.Err()
						return
					}
				}
				data.Reset()
			}
			continue
		}
		if strings.HasPrefix(line, "data: ") {
			data.WriteString(strings.TrimPrefix(line, "data: "))
		} else if strings.HasPrefix(line, "data:") {
			data.WriteString(strings.TrimPrefix(line, "data:"))
		}
		// Comments and other fields are ignored.
	}
	readErr <- scanner.Err()
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
