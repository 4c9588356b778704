package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BlearKK/deepdriver/internal/bootstrap"
	"github.com/BlearKK/deepdriver/internal/config"
	"github.com/BlearKK/deepdriver/internal/server"
	"github.com/BlearKK/deepdriver/pkg/events"
	"github.com/BlearKK/deepdriver/pkg/streamclient"
)

var orgs = []string{"Org A", "Org B", "Org C", "Org D", "Org E", "Org F"}

// startServer boots the full HTTP stack on a random port with the mock
// lookup backend and returns its base URL.
func startServer(t *testing.T, mutate func(*config.Config)) string {
	t.Helper()

	dir := t.TempDir()

	list := make([]map[string]string, 0, len(orgs))
	for _, name := range orgs {
		list = append(list, map[string]string{"Name": name})
	}
	raw, err := json.Marshal(list)
	require.NoError(t, err)
	listPath := filepath.Join(dir, "orgs.json")
	require.NoError(t, os.WriteFile(listPath, raw, 0o644))

	cfg := &config.Config{}
	cfg.App.Port = "0"
	cfg.App.Environment = "test"
	cfg.App.LogFilePath = filepath.Join(dir, "app.log")
	cfg.App.StreamLogFilePath = filepath.Join(dir, "stream.log")
	cfg.App.CorsAllowedOrigins = "http://localhost"
	cfg.Search.ReferenceListPath = listPath
	cfg.Search.WorkerPoolSize = 3
	cfg.Search.BatchSize = 2
	cfg.Search.LookupTimeout = 2 * time.Second
	cfg.Search.SessionTTL = time.Minute
	cfg.Search.PollWindow = 2 * time.Second
	cfg.Stream.HeartbeatInterval = 50 * time.Millisecond
	cfg.Stream.MaxConnectionAge = time.Minute
	cfg.Lookup.Provider = "mock"
	if mutate != nil {
		mutate(cfg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	container := bootstrap.NewContainer(ctx, cfg)
	srv := server.New(cfg, container)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		_ = srv.GetApp().Listener(ln)
	}()
	t.Cleanup(func() { _ = srv.Shutdown() })

	base := "http://" + ln.Addr().String()
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/api/search/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond, "server did not come up")

	return base
}

func TestSearchFlowStreaming(t *testing.T) {
	base := startServer(t, nil)

	mgr := streamclient.NewManager(streamclient.Config{
		ServerURL:            base,
		Target:               "Acme University",
		MaxReconnectAttempts: 3,
		ReconnectBackoff:     50 * time.Millisecond,
		InactivityTimeout:    5 * time.Second,
		PollInterval:         200 * time.Millisecond,
		MaxPollFailures:      3,
	})

	done := make(chan error, 1)
	go func() { done <- mgr.Run(context.Background()) }()

	seen := make(map[string]events.WorkResult)
	for u := range mgr.Updates() {
		if u.Kind == streamclient.UpdateResult && u.Result != nil {
			_, dup := seen[u.Result.ItemID]
			require.False(t, dup, "duplicate result for %s", u.Result.ItemID)
			seen[u.Result.ItemID] = *u.Result
		}
	}
	require.NoError(t, <-done)

	require.Len(t, seen, len(orgs))
	for _, org := range orgs {
		r, ok := seen[org]
		require.True(t, ok, "missing result for %s", org)
		assert.True(t, r.RelationshipType.Valid())
		assert.Equal(t, "Acme University", r.Target)
	}
	assert.NotEmpty(t, mgr.SessionID())
}

func TestSearchFlowSurvivesForcedDrops(t *testing.T) {
	// The simulated-timeout harness kills every stream connection 200ms in,
	// with no warning. The client has to reconnect and resume its way to a
	// complete result set anyway.
	base := startServer(t, func(cfg *config.Config) {
		cfg.Stream.SimulateTimeout = true
		cfg.Stream.SimulateTimeoutAfter = 200 * time.Millisecond
	})

	mgr := streamclient.NewManager(streamclient.Config{
		ServerURL:            base,
		Target:               "Acme University",
		MaxReconnectAttempts: 10,
		ReconnectBackoff:     50 * time.Millisecond,
		InactivityTimeout:    2 * time.Second,
		PollInterval:         200 * time.Millisecond,
		MaxPollFailures:      5,
	})

	done := make(chan error, 1)
	go func() { done <- mgr.Run(context.Background()) }()

	seen := make(map[string]struct{})
	for u := range mgr.Updates() {
		if u.Kind == streamclient.UpdateResult && u.Result != nil {
			_, dup := seen[u.Result.ItemID]
			require.False(t, dup, "duplicate result for %s", u.Result.ItemID)
			seen[u.Result.ItemID] = struct{}{}
		}
	}
	require.NoError(t, <-done)
	assert.Len(t, seen, len(orgs))
}

func TestSearchFlowWebsocket(t *testing.T) {
	base := startServer(t, nil)

	body := bytes.NewBufferString(`{"target":"Acme University"}`)
	resp, err := http.Post(base+"/api/search/session", "application/json", body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created struct {
		Data struct {
			SessionID string `json:"session_id"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))

	wsURL := "ws" + strings.TrimPrefix(base, "http") + "/api/search/ws?session_id=" + created.Data.SessionID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(15*time.Second)))

	seen := make(map[string]struct{})
	var complete *events.StreamEvent
	for complete == nil {
		var ev events.StreamEvent
		require.NoError(t, conn.ReadJSON(&ev))
		switch ev.Type {
		case events.EventResult:
			require.NotNil(t, ev.Result)
			_, dup := seen[ev.Result.ItemID]
			require.False(t, dup, "duplicate result for %s", ev.Result.ItemID)
			seen[ev.Result.ItemID] = struct{}{}
		case events.EventComplete:
			complete = &ev
		case events.EventError:
			t.Fatalf("unexpected error frame: %s", ev.Message)
		}
	}

	// The terminal frame may only arrive once every recorded result has been
	// delivered on this connection.
	assert.Len(t, seen, len(orgs), "complete arrived before the full result set")
	assert.Equal(t, len(orgs), complete.Progress)

	// The server's read pump should notice the peer closing and tear down
	// without the client having to wait out any timeout.
	require.NoError(t, conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second)))
}

func TestSearchFlowWebsocketUnknownSession(t *testing.T) {
	base := startServer(t, nil)

	wsURL := "ws" + strings.TrimPrefix(base, "http") + "/api/search/ws?session_id=long-gone"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var ev events.StreamEvent
	err = conn.ReadJSON(&ev)
	require.Error(t, err, "connection closes without frames")
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation))
}

func TestSearchFlowPollEndpoint(t *testing.T) {
	base := startServer(t, nil)

	// Register a session, then consume it via the poll endpoint only.
	body := bytes.NewBufferString(`{"target":"Acme University"}`)
	resp, err := http.Post(base+"/api/search/session", "application/json", body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created struct {
		Data struct {
			SessionID string `json:"session_id"`
			Total     int    `json:"total"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	require.Equal(t, len(orgs), created.Data.Total)

	held := make(map[string]struct{})
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		q := ""
		for id := range held {
			if q != "" {
				q += ","
			}
			q += id
		}
		pollResp, err := http.Get(fmt.Sprintf("%s/api/search/poll?session_id=%s&processed=%s", base, created.Data.SessionID, q))
		require.NoError(t, err)

		var poll struct {
			Data struct {
				Results []events.WorkResult `json:"results"`
				Status  string              `json:"status"`
			} `json:"data"`
		}
		require.NoError(t, json.NewDecoder(pollResp.Body).Decode(&poll))
		pollResp.Body.Close()

		for _, r := range poll.Data.Results {
			held[r.ItemID] = struct{}{}
		}
		if len(held) == len(orgs) {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	assert.Len(t, held, len(orgs))
}

func TestSearchFlowCheckEndpoint(t *testing.T) {
	base := startServer(t, nil)

	body := bytes.NewBufferString(`{"target":"Acme University","items":["Org X","Org Y"]}`)
	resp, err := http.Post(base+"/api/search/check", "application/json", body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var check struct {
		Data []events.WorkResult `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&check))
	require.Len(t, check.Data, 2)
	assert.Equal(t, "Org X", check.Data[0].ItemID)
	assert.Equal(t, "Org Y", check.Data[1].ItemID)
}

func TestSearchFlowMalformedBody(t *testing.T) {
	base := startServer(t, nil)

	for _, path := range []string{"/api/search/session", "/api/search/check"} {
		body := bytes.NewBufferString(`{"target": not-json`)
		resp, err := http.Post(base+path, "application/json", body)
		require.NoError(t, err)

		var errBody struct {
			Code string `json:"code"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&errBody))
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, path)
		assert.Equal(t, "invalid_body", errBody.Code, path)
	}
}

func TestSearchFlowUnknownSession(t *testing.T) {
	base := startServer(t, nil)

	body := bytes.NewBufferString(`{"target":"Acme University","session_id":"long-gone"}`)
	resp, err := http.Post(base+"/api/search/session", "application/json", body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	var errBody struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&errBody))
	assert.Equal(t, "session_not_found", errBody.Code)
}
