package search

import (
	"context"
	"encoding/json"
	"time"

	"github.com/BlearKK/deepdriver/internal/pkg/logger"
	"github.com/BlearKK/deepdriver/pkg/events"
	"github.com/BlearKK/deepdriver/pkg/investigate"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"golang.org/x/sync/errgroup"
)

// EventsTopic names the in-process bus topic carrying one session's stream
// events.
func EventsTopic(sessionID string) string {
	return "search.events." + sessionID
}

// Dispatcher runs the lookups for a session through a bounded worker pool
// and publishes a stream event per completion. It owns all mutation of
// session results; transports only read.
type Dispatcher struct {
	investigator  investigate.Investigator
	publisher     message.Publisher
	log           logger.ILogger
	poolSize      int
	batchSize     int
	lookupTimeout time.Duration
}

func NewDispatcher(
	investigator investigate.Investigator,
	publisher message.Publisher,
	log logger.ILogger,
	poolSize, batchSize int,
	lookupTimeout time.Duration,
) *Dispatcher {
	if poolSize < 1 {
		poolSize = 1
	}
	if batchSize < 1 {
		batchSize = 1
	}
	return &Dispatcher{
		investigator:  investigator,
		publisher:     publisher,
		log:           log,
		poolSize:      poolSize,
		batchSize:     batchSize,
		lookupTimeout: lookupTimeout,
	}
}

// Run processes every pending item of the session and terminates it. Meant
// to be launched in its own goroutine at session creation; the context
// should be the server's lifetime, not a request's, so the session survives
// any single connection.
func (d *Dispatcher) Run(ctx context.Context, s *Session) {
	s.SetStatus(StatusRunning)

	remaining := s.PendingItems()
	totalBatches := (len(remaining) + d.batchSize - 1) / d.batchSize

	d.log.Info("Dispatcher", "Dispatch started", map[string]interface{}{
		"session_id": s.ID(),
		"target":     s.Target(),
		"pending":    len(remaining),
		"batches":    totalBatches,
	})

	for start := 0; start < len(remaining); start += d.batchSize {
		if ctx.Err() != nil {
			break
		}
		end := start + d.batchSize
		if end > len(remaining) {
			end = len(remaining)
		}
		batchNo := start/d.batchSize + 1
		d.publish(s.ID(), events.Batch(batchNo, totalBatches))

		var g errgroup.Group
		g.SetLimit(d.poolSize)
		for _, item := range remaining[start:end] {
			item := item
			g.Go(func() error {
				d.processItem(ctx, s, item)
				return nil
			})
		}
		g.Wait()
	}

	d.finish(s)
}

// RunBurst synchronously processes up to max pending items, for the polling
// fallback. Returns the results recorded by this call.
func (d *Dispatcher) RunBurst(ctx context.Context, s *Session, max int) []events.WorkResult {
	s.SetStatus(StatusRunning)

	pending := s.PendingItems()
	if max > 0 && len(pending) > max {
		pending = pending[:max]
	}

	var (
		g   errgroup.Group
		out = make([]*events.WorkResult, len(pending))
	)
	g.SetLimit(d.poolSize)
	for i, item := range pending {
		i, item := i, item
		g.Go(func() error {
			if res, recorded := d.processItem(ctx, s, item); recorded {
				out[i] = &res
			}
			return nil
		})
	}
	g.Wait()

	results := make([]events.WorkResult, 0, len(pending))
	for _, r := range out {
		if r != nil {
			results = append(results, *r)
		}
	}

	d.finish(s)
	return results
}

// Check investigates an explicit item list without session state, for the
// synchronous single-shot endpoint. Item order is preserved.
func (d *Dispatcher) Check(ctx context.Context, target string, items []string) []events.WorkResult {
	var g errgroup.Group
	g.SetLimit(d.poolSize)
	out := make([]events.WorkResult, len(items))
	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			res, err := d.lookup(ctx, target, item)
			if err != nil {
				res = synthesized(target, item)
			}
			out[i] = res
			return nil
		})
	}
	g.Wait()
	return out
}

// processItem claims, looks up and records one item. The bool reports
// whether this call recorded the terminal result.
func (d *Dispatcher) processItem(ctx context.Context, s *Session, item string) (events.WorkResult, bool) {
	if ctx.Err() != nil {
		return events.WorkResult{}, false
	}
	if !s.Claim(item) {
		return events.WorkResult{}, false
	}

	res, err := d.lookup(ctx, s.Target(), item)
	if err != nil {
		// Parent context gone: leave the item claimable for a later
		// dispatch or poll burst instead of recording a fake result.
		s.Release(item)
		return events.WorkResult{}, false
	}

	if !s.RecordResult(res) {
		return events.WorkResult{}, false
	}
	d.publish(s.ID(), events.Result(res))
	return res, true
}

// lookup runs one investigation under the per-item timeout. A timeout or
// lookup error synthesizes an Unknown result; partial failure of one item
// never fails the batch. The returned error is non-nil only when the parent
// context was cancelled.
func (d *Dispatcher) lookup(ctx context.Context, target, item string) (events.WorkResult, error) {
	lctx, cancel := context.WithTimeout(ctx, d.lookupTimeout)
	defer cancel()

	res, err := d.investigator.Investigate(lctx, target, item)
	if err != nil {
		if ctx.Err() != nil {
			return events.WorkResult{}, ctx.Err()
		}
		d.log.Warn("Dispatcher", "Lookup failed, recording Unknown", map[string]interface{}{
			"item":  item,
			"error": err.Error(),
		})
		return synthesized(target, item), nil
	}

	// Normalize whatever the backend returned.
	res.ItemID = item
	res.Target = target
	if !res.RelationshipType.Valid() {
		res.RelationshipType = events.RelationshipUnknown
	}
	return res, nil
}

func (d *Dispatcher) finish(s *Session) {
	if !s.IsComplete() {
		return
	}
	// SetStatus is the exactly-once gate: only the transition winner
	// publishes Complete.
	if s.SetStatus(StatusCompleted) {
		d.publish(s.ID(), events.Complete(s.Progress(), s.Total()))
		d.log.Info("Dispatcher", "Session completed", map[string]interface{}{
			"session_id": s.ID(),
			"total":      s.Total(),
		})
	}
}

func (d *Dispatcher) publish(sessionID string, ev events.StreamEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		d.log.Error("Dispatcher", "Marshal event failed", map[string]interface{}{"error": err.Error()})
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := d.publisher.Publish(EventsTopic(sessionID), msg); err != nil {
		// Transport failure never touches session state; a later resume
		// replays from the session record.
		d.log.Warn("Dispatcher", "Publish failed", map[string]interface{}{
			"session_id": sessionID,
			"error":      err.Error(),
		})
	}
}

func synthesized(target, item string) events.WorkResult {
	return events.WorkResult{
		ItemID:           item,
		Target:           target,
		RelationshipType: events.RelationshipUnknown,
		Summary:          "Processing failed, unable to get results",
	}
}
