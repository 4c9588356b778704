package streamclient

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/BlearKK/deepdriver/internal/pkg/logger"
	"github.com/BlearKK/deepdriver/pkg/events"
)

// UpdateKind discriminates the values sent on the Updates channel.
type UpdateKind int

const (
	// UpdateResult carries one newly received work result.
	UpdateResult UpdateKind = iota
	// UpdateProgress carries a changed processed/total count only.
	UpdateProgress
	// UpdateState announces a lifecycle state change.
	UpdateState
	// UpdateDone means every item has been processed.
	UpdateDone
	// UpdateFailed means the lifecycle ended with an error.
	UpdateFailed
)

type Update struct {
	Kind      UpdateKind
	Result    *events.WorkResult
	Processed int
	Total     int
	State     State
	Err       error
}

// Config tunes a Manager. ServerURL and Target are required; everything else
// has a sensible default.
type Config struct {
	ServerURL string
	Target    string
	// SessionID resumes an existing session when set.
	SessionID string
	// ProcessedItemIDs declares results already held locally, so a resumed
	// session never re-runs them.
	ProcessedItemIDs []string

	HTTPClient           *http.Client
	MaxReconnectAttempts int
	ReconnectBackoff     time.Duration
	InactivityTimeout    time.Duration
	PollInterval         time.Duration
	MaxPollFailures      int
	// UpdateBuffer sizes the Updates channel. Defaults to 64.
	UpdateBuffer int
	Logger       logger.ILogger
}

// Manager owns the full client lifecycle of one search session: register,
// stream, reconnect with backoff, and degrade to polling when streaming is
// hopeless. Results are deduplicated by item id, so the at-least-once
// delivery of the server collapses to exactly-once for the consumer.
type Manager struct {
	cfg    Config
	client *http.Client
	log    logger.ILogger

	mu             sync.Mutex
	state          State
	sessionID      string
	total          int
	serverProgress int
	processed      map[string]struct{}
	results        []events.WorkResult
	finalErr       error

	updates chan Update
}

func NewManager(cfg Config) *Manager {
	if cfg.HTTPClient == nil {
		// No global timeout: the stream connection is long-lived. Liveness
		// comes from the inactivity watchdog instead.
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.MaxReconnectAttempts < 1 {
		cfg.MaxReconnectAttempts = 5
	}
	if cfg.ReconnectBackoff <= 0 {
		cfg.ReconnectBackoff = 2 * time.Second
	}
	if cfg.InactivityTimeout <= 0 {
		cfg.InactivityTimeout = 30 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.MaxPollFailures < 1 {
		cfg.MaxPollFailures = 5
	}
	if cfg.UpdateBuffer <= 0 {
		cfg.UpdateBuffer = 64
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNopLogger()
	}

	m := &Manager{
		cfg:       cfg,
		client:    cfg.HTTPClient,
		log:       cfg.Logger,
		state:     StateDisconnected,
		sessionID: cfg.SessionID,
		processed: make(map[string]struct{}, len(cfg.ProcessedItemIDs)),
		updates:   make(chan Update, cfg.UpdateBuffer),
	}
	for _, id := range cfg.ProcessedItemIDs {
		m.processed[id] = struct{}{}
	}
	return m
}

// Updates is the consumer-facing notification feed. Closed when Run returns.
// The channel is lossy: when the buffer is full, updates are dropped rather
// than stalling the lifecycle, so Results and Run's return value are the
// authoritative record of what the session produced, not the feed.
func (m *Manager) Updates() <-chan Update { return m.updates }

// SessionID returns the server-assigned session id once registered.
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Results returns a snapshot of everything received so far, in arrival order.
func (m *Manager) Results() []events.WorkResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]events.WorkResult, len(m.results))
	copy(out, m.results)
	return out
}

func (m *Manager) processedIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.processedIDsLocked()
}

func (m *Manager) processedIDsLocked() []string {
	ids := make([]string, 0, len(m.processed))
	for id := range m.processed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ProcessedItemIDs returns the ids of all held results, sorted. Suitable for
// persisting and passing to a future resume.
func (m *Manager) ProcessedItemIDs() []string { return m.processedIDs() }

// Run drives the lifecycle until completion, a fatal error, or context
// cancellation. It is not restartable.
func (m *Manager) Run(ctx context.Context) error {
	defer close(m.updates)

	if err := m.register(ctx); err != nil {
		m.setFinalErr(err)
		m.moveTo(StateClosed)
		m.emit(Update{Kind: UpdateFailed, Err: err})
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.cfg.ReconnectBackoff
	bo.MaxInterval = 30 * time.Second
	attempts := 0

	m.transition(InputStart)

	for {
		if err := ctx.Err(); err != nil {
			m.moveTo(StateClosed)
			return err
		}

		switch m.State() {
		case StateConnecting:
			in, opened := m.streamOnce(ctx)
			if ctx.Err() != nil {
				m.moveTo(StateClosed)
				return ctx.Err()
			}
			if opened {
				attempts = 0
				bo.Reset()
			}
			if in == InputStreamLost {
				attempts++
				if attempts > m.cfg.MaxReconnectAttempts {
					in = InputRetryBudgetSpent
				}
			}
			_, act := m.transition(in)
			switch act {
			case ActionBackoffDial:
				wait := bo.NextBackOff()
				m.log.Warn("StreamClient", "Stream lost, reconnecting", map[string]interface{}{
					"attempt": attempts,
					"wait":    wait.String(),
				})
				if !sleep(ctx, wait) {
					m.moveTo(StateClosed)
					return ctx.Err()
				}
			case ActionRedial:
				attempts = 0
				bo.Reset()
			case ActionStartPolling:
				m.log.Warn("StreamClient", "Reconnect attempts exhausted, falling back to polling", map[string]interface{}{
					"attempts": attempts - 1,
				})
			case ActionFinish:
				m.emitDone()
				return nil
			case ActionFail:
				err := m.finalError()
				m.emit(Update{Kind: UpdateFailed, Err: err})
				return err
			}

		case StateFallback:
			err := m.pollUntilDone(ctx)
			if err != nil {
				if ctx.Err() != nil {
					m.moveTo(StateClosed)
					return ctx.Err()
				}
				m.setFinalErr(err)
				m.transition(InputPollingFailed)
				m.emit(Update{Kind: UpdateFailed, Err: err})
				return err
			}
			m.transition(InputComplete)
			m.emitDone()
			return nil

		case StateClosed:
			if err := m.finalError(); err != nil {
				return err
			}
			return nil

		default:
			// Disconnected and Connected are transient from Run's point of
			// view; streamOnce owns Connected internally.
			m.transition(InputStart)
		}
	}
}

// transition feeds one input through the pure machine and records the new
// state, emitting a state update when it changed.
func (m *Manager) transition(in Input) (State, Action) {
	m.mu.Lock()
	next, act := Next(m.state, in)
	changed := next != m.state
	m.state = next
	m.mu.Unlock()

	if changed {
		m.emit(Update{Kind: UpdateState, State: next})
	}
	return next, act
}

func (m *Manager) moveTo(s State) {
	m.mu.Lock()
	changed := m.state != s
	m.state = s
	m.mu.Unlock()
	if changed {
		m.emit(Update{Kind: UpdateState, State: s})
	}
}

func (m *Manager) setFinalErr(err error) {
	m.mu.Lock()
	if m.finalErr == nil {
		m.finalErr = err
	}
	m.mu.Unlock()
}

func (m *Manager) finalError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.finalErr
}

// absorbResult stores a result unless the item was already seen. Returns
// whether it was new.
func (m *Manager) absorbResult(r events.WorkResult) bool {
	m.mu.Lock()
	if _, dup := m.processed[r.ItemID]; dup {
		m.mu.Unlock()
		return false
	}
	m.processed[r.ItemID] = struct{}{}
	m.results = append(m.results, r)
	processed, total := m.displayLocked()
	m.mu.Unlock()

	m.emit(Update{Kind: UpdateResult, Result: &r, Processed: processed, Total: total})
	return true
}

// reconcile folds a server-reported progress count and total into the local
// view. Counts only ever grow; the authoritative record of WHICH items are
// done stays the local processed set.
func (m *Manager) reconcile(progress, total int) {
	m.mu.Lock()
	if progress > m.serverProgress {
		m.serverProgress = progress
	}
	if total > m.total {
		m.total = total
	}
	processed, t := m.displayLocked()
	m.mu.Unlock()
	m.emit(Update{Kind: UpdateProgress, Processed: processed, Total: t})
}

func (m *Manager) displayLocked() (int, int) {
	processed := len(m.processed)
	if m.serverProgress > processed {
		processed = m.serverProgress
	}
	return processed, m.total
}

func (m *Manager) emitDone() {
	m.mu.Lock()
	processed, total := m.displayLocked()
	m.mu.Unlock()
	m.emit(Update{Kind: UpdateDone, Processed: processed, Total: total})
}

func (m *Manager) emit(u Update) {
	select {
	case m.updates <- u:
	default:
		// A consumer that stopped reading must not wedge the lifecycle.
		m.log.Warn("StreamClient", "Updates channel full, dropping update", map[string]interface{}{
			"kind": int(u.Kind),
		})
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (m *Manager) adoptSession(id string, total int) {
	if id == "" {
		return
	}
	m.mu.Lock()
	changed := m.sessionID != id
	m.sessionID = id
	if total > m.total {
		m.total = total
	}
	m.mu.Unlock()
	if changed {
		m.log.Info("StreamClient", "Adopted session", map[string]interface{}{"session_id": id})
	}
}
