package streamclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BlearKK/deepdriver/pkg/events"
)

var fakeItems = []string{"a", "b", "c", "d", "e"}

func fakeResult(item string) events.WorkResult {
	return events.WorkResult{
		ItemID:           item,
		Target:           "Acme University",
		RelationshipType: events.RelationshipNoEvidenceFound,
		Summary:          "No public connection found.",
	}
}

// fakeServer is a scripted counterpart for the manager: registration, a
// scripted stream handler per connection, and a poll handler.
type fakeServer struct {
	t *testing.T

	mu       sync.Mutex
	conns    int
	registers int

	// streamConn handles the n-th stream connection (1-based).
	streamConn func(n int, w http.ResponseWriter, r *http.Request)
	// pollFn handles poll requests; nil means 500.
	pollFn func(w http.ResponseWriter, r *http.Request)
	// registerStatus overrides the register response code when non-zero.
	registerStatus int

	srv *httptest.Server
}

func newFakeServer(t *testing.T) *fakeServer {
	f := &fakeServer{t: t}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/search/session", f.handleRegister)
	mux.HandleFunc("/api/search/stream", f.handleStream)
	mux.HandleFunc("/api/search/poll", f.handlePoll)
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.registers++
	status := f.registerStatus
	f.mu.Unlock()

	if status != 0 {
		w.WriteHeader(status)
		fmt.Fprint(w, `{"message":"session not found or expired","code":"session_not_found"}`)
		return
	}
	w.WriteHeader(http.StatusCreated)
	fmt.Fprintf(w, `{"message":"ok","data":{"session_id":"sess-1","total":%d,"progress":0}}`, len(fakeItems))
}

func (f *fakeServer) handleStream(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.conns++
	n := f.conns
	fn := f.streamConn
	f.mu.Unlock()

	if fn == nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	fn(n, w, r)
}

func (f *fakeServer) handlePoll(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	fn := f.pollFn
	f.mu.Unlock()
	if fn == nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	fn(w, r)
}

func (f *fakeServer) connections() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns
}

func writeFrame(t *testing.T, w http.ResponseWriter, ev events.StreamEvent) {
	t.Helper()
	payload, err := json.Marshal(ev)
	require.NoError(t, err)
	_, err = fmt.Fprintf(w, "data: %s\n\n", payload)
	require.NoError(t, err)
	w.(http.Flusher).Flush()
}

func processedParam(r *http.Request) map[string]struct{} {
	out := make(map[string]struct{})
	raw := r.URL.Query().Get("processed")
	if raw == "" {
		return out
	}
	for _, id := range strings.Split(raw, ",") {
		out[id] = struct{}{}
	}
	return out
}

func newTestManager(url string) *Manager {
	return NewManager(Config{
		ServerURL:            url,
		Target:               "Acme University",
		MaxReconnectAttempts: 2,
		ReconnectBackoff:     10 * time.Millisecond,
		InactivityTimeout:    500 * time.Millisecond,
		PollInterval:         20 * time.Millisecond,
		MaxPollFailures:      2,
	})
}

// collect drains the updates channel until Run closes it.
func collect(m *Manager) (<-chan []Update, func(context.Context) error) {
	out := make(chan []Update, 1)
	go func() {
		var all []Update
		for u := range m.Updates() {
			all = append(all, u)
		}
		out <- all
	}()
	return out, m.Run
}

func resultIDs(updates []Update) []string {
	var ids []string
	for _, u := range updates {
		if u.Kind == UpdateResult && u.Result != nil {
			ids = append(ids, u.Result.ItemID)
		}
	}
	return ids
}

func TestManagerPlannedReconnectResumesWithoutDuplicates(t *testing.T) {
	f := newFakeServer(t)
	f.streamConn = func(n int, w http.ResponseWriter, r *http.Request) {
		held := processedParam(r)
		switch n {
		case 1:
			require.Empty(t, held)
			writeFrame(t, w, events.Init("sess-1", "Acme University", len(fakeItems), 0, 1))
			for _, item := range fakeItems[:3] {
				writeFrame(t, w, events.Result(fakeResult(item)))
			}
			writeFrame(t, w, events.ReconnectWarning("sess-1", "Acme University", 3, len(fakeItems), fakeItems[:3]))
			// Connection closes; the client was warned.
		default:
			writeFrame(t, w, events.Init("sess-1", "Acme University", len(fakeItems), len(held), 1))
			for _, item := range fakeItems {
				if _, ok := held[item]; ok {
					continue
				}
				writeFrame(t, w, events.Result(fakeResult(item)))
			}
			writeFrame(t, w, events.Complete(len(fakeItems), len(fakeItems)))
		}
	}

	m := newTestManager(f.srv.URL)
	updatesCh, run := collect(m)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, run(ctx))

	updates := <-updatesCh
	assert.ElementsMatch(t, fakeItems, resultIDs(updates), "five items, five results, no duplicates")
	assert.Equal(t, 2, f.connections())
	assert.ElementsMatch(t, fakeItems, m.ProcessedItemIDs())

	last := updates[len(updates)-1]
	assert.Equal(t, UpdateDone, last.Kind)
	assert.Equal(t, len(fakeItems), last.Processed)
}

func TestManagerUnplannedDropRetriesWithBackoff(t *testing.T) {
	f := newFakeServer(t)
	f.streamConn = func(n int, w http.ResponseWriter, r *http.Request) {
		held := processedParam(r)
		switch n {
		case 1:
			writeFrame(t, w, events.Init("sess-1", "Acme University", len(fakeItems), 0, 1))
			for _, item := range fakeItems[:2] {
				writeFrame(t, w, events.Result(fakeResult(item)))
			}
			// Drop dead, no warning.
		default:
			writeFrame(t, w, events.Init("sess-1", "Acme University", len(fakeItems), len(held), 1))
			for _, item := range fakeItems {
				if _, ok := held[item]; ok {
					continue
				}
				writeFrame(t, w, events.Result(fakeResult(item)))
			}
			writeFrame(t, w, events.Complete(len(fakeItems), len(fakeItems)))
		}
	}

	m := newTestManager(f.srv.URL)
	updatesCh, run := collect(m)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, run(ctx))

	updates := <-updatesCh
	assert.ElementsMatch(t, fakeItems, resultIDs(updates))
	assert.Equal(t, 2, f.connections())
}

func TestManagerFallsBackToPolling(t *testing.T) {
	f := newFakeServer(t)
	// Streaming is dead; the poll endpoint drips two results per call.
	var served int
	var pollMu sync.Mutex
	f.pollFn = func(w http.ResponseWriter, r *http.Request) {
		pollMu.Lock()
		start := served
		end := start + 2
		if end > len(fakeItems) {
			end = len(fakeItems)
		}
		served = end
		pollMu.Unlock()

		results := make([]events.WorkResult, 0, 2)
		for _, item := range fakeItems[start:end] {
			results = append(results, fakeResult(item))
		}
		status := "Running"
		if end == len(fakeItems) {
			status = "Completed"
		}
		payload, _ := json.Marshal(map[string]interface{}{
			"message": "ok",
			"data": map[string]interface{}{
				"results":   results,
				"processed": end,
				"total":     len(fakeItems),
				"status":    status,
			},
		})
		w.Write(payload)
	}

	m := newTestManager(f.srv.URL)
	updatesCh, run := collect(m)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, run(ctx))

	updates := <-updatesCh
	assert.ElementsMatch(t, fakeItems, resultIDs(updates), "polling alone still converges")

	sawFallback := false
	for _, u := range updates {
		if u.Kind == UpdateState && u.State == StateFallback {
			sawFallback = true
		}
	}
	assert.True(t, sawFallback, "lifecycle passed through fallback mode")
}

func TestManagerUnknownSessionFailsFast(t *testing.T) {
	f := newFakeServer(t)
	f.registerStatus = http.StatusNotFound

	m := NewManager(Config{
		ServerURL: f.srv.URL,
		Target:    "Acme University",
		SessionID: "long-gone",
	})
	updatesCh, run := collect(m)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := run(ctx)
	require.ErrorIs(t, err, ErrSessionNotFound)
	require.NoError(t, ctx.Err(), "failure must be immediate, not a timeout")

	updates := <-updatesCh
	last := updates[len(updates)-1]
	assert.Equal(t, UpdateFailed, last.Kind)
}

func TestManagerFatalErrorFrameStops(t *testing.T) {
	f := newFakeServer(t)
	f.streamConn = func(n int, w http.ResponseWriter, r *http.Request) {
		writeFrame(t, w, events.Init("sess-1", "Acme University", len(fakeItems), 0, 1))
		writeFrame(t, w, events.Error("backend unavailable", true))
	}

	m := newTestManager(f.srv.URL)
	_, run := collect(m)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend unavailable")
	assert.Equal(t, 1, f.connections(), "no retry after a fatal frame")
}

func TestManagerHonorsCancellation(t *testing.T) {
	f := newFakeServer(t)
	release := make(chan struct{})
	f.streamConn = func(n int, w http.ResponseWriter, r *http.Request) {
		writeFrame(t, w, events.Init("sess-1", "Acme University", len(fakeItems), 0, 1))
		<-release
	}
	t.Cleanup(func() { close(release) })

	m := NewManager(Config{
		ServerURL:         f.srv.URL,
		Target:            "Acme University",
		InactivityTimeout: time.Minute,
	})
	_, run := collect(m)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 2*time.Second, "cancellation is prompt")
}

func TestManagerResultsAuthoritativeWhenConsumerStalls(t *testing.T) {
	f := newFakeServer(t)
	f.streamConn = func(n int, w http.ResponseWriter, r *http.Request) {
		writeFrame(t, w, events.Init("sess-1", "Acme University", len(fakeItems), 0, 1))
		for _, item := range fakeItems {
			writeFrame(t, w, events.Result(fakeResult(item)))
		}
		writeFrame(t, w, events.Complete(len(fakeItems), len(fakeItems)))
	}

	// Nobody reads the feed until the run is over, and the buffer only holds
	// one update, so most of the feed is dropped. The record must not be.
	m := NewManager(Config{
		ServerURL:         f.srv.URL,
		Target:            "Acme University",
		InactivityTimeout: time.Second,
		UpdateBuffer:      1,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Run(ctx))

	var ids []string
	for _, r := range m.Results() {
		ids = append(ids, r.ItemID)
	}
	assert.ElementsMatch(t, fakeItems, ids, "dropped feed updates never lose results")
	assert.ElementsMatch(t, fakeItems, m.ProcessedItemIDs())
}
