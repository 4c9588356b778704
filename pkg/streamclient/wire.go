package streamclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/BlearKK/deepdriver/pkg/events"
)

// ErrSessionNotFound means the server no longer knows the session. There is
// no point retrying: the caller must register a new session.
var ErrSessionNotFound = errors.New("session not found or expired")

type apiEnvelope[T any] struct {
	Message string `json:"message"`
	Data    T      `json:"data"`
}

type apiError struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

type registerRequest struct {
	Target           string   `json:"target"`
	SessionID        string   `json:"session_id,omitempty"`
	ProcessedItemIDs []string `json:"processed_item_ids,omitempty"`
}

type registerPayload struct {
	SessionID string `json:"session_id"`
	Total     int    `json:"total"`
	Progress  int    `json:"progress"`
}

type pollPayload struct {
	Results   []events.WorkResult `json:"results"`
	Processed int                 `json:"processed"`
	Total     int                 `json:"total"`
	Status    string              `json:"status"`
}

// register creates or re-registers the session and adopts the server's view
// of it.
func (m *Manager) register(ctx context.Context) error {
	body, err := json.Marshal(registerRequest{
		Target:           m.cfg.Target,
		SessionID:        m.cfg.SessionID,
		ProcessedItemIDs: m.processedIDs(),
	})
	if err != nil {
		return fmt.Errorf("marshal register request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.ServerURL+"/api/search/session", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create register request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("register session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrSessionNotFound
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("register session: %s", readAPIError(resp))
	}

	var env apiEnvelope[registerPayload]
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode register response: %w", err)
	}

	m.mu.Lock()
	m.sessionID = env.Data.SessionID
	m.total = env.Data.Total
	if env.Data.Progress > m.serverProgress {
		m.serverProgress = env.Data.Progress
	}
	m.mu.Unlock()

	m.log.Info("StreamClient", "Session registered", map[string]interface{}{
		"session_id": env.Data.SessionID,
		"total":      env.Data.Total,
		"progress":   env.Data.Progress,
	})
	return nil
}

func readAPIError(resp *http.Response) string {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil || len(raw) == 0 {
		return resp.Status
	}
	var body apiError
	if err := json.Unmarshal(raw, &body); err != nil || body.Message == "" {
		return fmt.Sprintf("%s: %s", resp.Status, raw)
	}
	return fmt.Sprintf("%s (%s)", body.Message, body.Code)
}
