package streamclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// pollUntilDone is the degraded transport: periodic polls until the session
// completes. Returns nil on completion, an error when polling itself gives
// up or the session ends badly.
func (m *Manager) pollUntilDone(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	failures := 0
	for {
		payload, err := m.pollOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err == ErrSessionNotFound {
				return err
			}
			failures++
			m.log.Warn("StreamClient", "Poll failed", map[string]interface{}{
				"failures": failures,
				"error":    err.Error(),
			})
			if failures > m.cfg.MaxPollFailures {
				return fmt.Errorf("polling gave up after %d consecutive failures: %w", failures, err)
			}
		} else {
			failures = 0
			for _, r := range payload.Results {
				m.absorbResult(r)
			}
			m.reconcile(payload.Processed, payload.Total)

			switch payload.Status {
			case "Completed":
				return nil
			case "Failed":
				return fmt.Errorf("session ended with server-side error")
			case "Cancelled":
				return fmt.Errorf("session was cancelled")
			}
			if m.allReceived() {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (m *Manager) pollOnce(ctx context.Context) (*pollPayload, error) {
	reqCtx, cancel := context.WithTimeout(ctx, m.cfg.PollInterval*3)
	defer cancel()

	q := url.Values{}
	q.Set("session_id", m.SessionID())
	if ids := m.processedIDs(); len(ids) > 0 {
		q.Set("processed", strings.Join(ids, ","))
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, m.cfg.ServerURL+"/api/search/poll?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrSessionNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("poll: %s", readAPIError(resp))
	}

	var env apiEnvelope[pollPayload]
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode poll response: %w", err)
	}
	return &env.Data, nil
}

func (m *Manager) allReceived() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total > 0 && len(m.processed) >= m.total
}
