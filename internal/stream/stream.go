// Package stream delivers a session's events over one long-lived
// connection, either SSE or websocket. Transports only read session state;
// all mutation stays in the dispatcher.
package stream

import (
	"context"
	"encoding/json"
	"time"

	"github.com/BlearKK/deepdriver/internal/pkg/logger"
	"github.com/BlearKK/deepdriver/internal/search"
	"github.com/BlearKK/deepdriver/pkg/events"

	"github.com/ThreeDotsLabs/watermill/message"
)

// Config holds the transport knobs.
type Config struct {
	HeartbeatInterval time.Duration
	// MaxConnectionAge must stay strictly below the platform's hard
	// connection ceiling; the connection is replaced gracefully before the
	// platform can kill it.
	MaxConnectionAge time.Duration
	// Test harness: drop the connection abruptly after SimulateAfter,
	// without a reconnect warning.
	SimulateTimeout bool
	SimulateAfter   time.Duration
}

// Streamer pumps one session's events into a sink until a terminal event,
// the connection age limit, or a client disconnect.
type Streamer struct {
	subscriber message.Subscriber
	log        logger.ILogger
	cfg        Config
}

func NewStreamer(subscriber message.Subscriber, log logger.ILogger, cfg Config) *Streamer {
	return &Streamer{subscriber: subscriber, log: log, cfg: cfg}
}

// sink abstracts one connection. send must be safe to call from the pump
// goroutine only; an error means the client is gone.
type sink interface {
	send(ev events.StreamEvent) error
}

// flushUnsent re-reads the session record and delivers every result the
// client has not seen. Completion is detected against the record, so a
// result recorded after the replay snapshot may never get a live frame;
// flushing before Complete keeps the terminal event honest.
func (st *Streamer) flushUnsent(s *search.Session, out sink, sent map[string]struct{}) error {
	for _, r := range s.ResultsExcept(sent) {
		if err := out.send(events.Result(r)); err != nil {
			return err
		}
		sent[r.ItemID] = struct{}{}
	}
	return nil
}

// pump replays recorded results the client does not yet hold, then forwards
// live events. exclude lists item ids the client reported as processed.
// Events are delivered at-least-once across reconnects; the client's
// idempotent application is what makes the whole thing correct, not any
// ordering between the replay and the live feed.
func (st *Streamer) pump(ctx context.Context, s *search.Session, out sink, exclude map[string]struct{}) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Subscribe before snapshotting so nothing falls between the replay
	// and the live feed. Overlap is possible and handled by dedup.
	msgs, err := st.subscriber.Subscribe(ctx, search.EventsTopic(s.ID()))
	if err != nil {
		st.log.Error("Stream", "Subscribe failed", map[string]interface{}{
			"session_id": s.ID(),
			"error":      err.Error(),
		})
		_ = out.send(events.Error("stream unavailable", true))
		return
	}

	if err := out.send(events.Init(s.ID(), s.Target(), s.Total(), s.Progress(), 0)); err != nil {
		return
	}

	sent := make(map[string]struct{}, s.Progress())
	for _, r := range s.ResultsExcept(exclude) {
		if err := out.send(events.Result(r)); err != nil {
			return
		}
		sent[r.ItemID] = struct{}{}
	}
	for id := range exclude {
		sent[id] = struct{}{}
	}

	if s.Status() == search.StatusCompleted {
		if st.flushUnsent(s, out, sent) == nil {
			_ = out.send(events.Complete(s.Progress(), s.Total()))
		}
		return
	}

	heartbeat := time.NewTicker(st.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	ageLimit := time.After(st.cfg.MaxConnectionAge)
	var simDrop <-chan time.Time
	if st.cfg.SimulateTimeout {
		simDrop = time.After(st.cfg.SimulateAfter)
	}

	for {
		select {
		case <-ctx.Done():
			return

		case <-simDrop:
			st.log.Warn("Stream", "Simulated connection drop", map[string]interface{}{
				"session_id": s.ID(),
			})
			return

		case <-ageLimit:
			// Planned replacement: warn, then close from our side before
			// the platform does it for us.
			_ = out.send(events.ReconnectWarning(s.ID(), s.Target(), s.Progress(), s.Total(), s.CompletedIDs()))
			return

		case <-heartbeat.C:
			if err := out.send(events.Heartbeat(s.Progress(), s.Total(), s.CompletedIDs())); err != nil {
				return
			}
			// The completion event can slip past a subscriber that attached
			// mid-publish; the heartbeat tick double-checks the record.
			if s.Status() == search.StatusCompleted {
				if st.flushUnsent(s, out, sent) == nil {
					_ = out.send(events.Complete(s.Progress(), s.Total()))
				}
				return
			}

		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var ev events.StreamEvent
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				st.log.Warn("Stream", "Bad event payload", map[string]interface{}{"error": err.Error()})
				msg.Ack()
				continue
			}
			msg.Ack()

			if ev.Type == events.EventResult && ev.Result != nil {
				if _, dup := sent[ev.Result.ItemID]; dup {
					continue
				}
				sent[ev.Result.ItemID] = struct{}{}
			}

			if ev.Type == events.EventComplete {
				if st.flushUnsent(s, out, sent) != nil {
					return
				}
			}
			if err := out.send(ev); err != nil {
				return
			}
			if ev.Type == events.EventComplete || (ev.Type == events.EventError && ev.Fatal) {
				return
			}
		}
	}
}
