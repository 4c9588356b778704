package service

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/BlearKK/deepdriver/internal/dto"
	"github.com/BlearKK/deepdriver/internal/pkg/logger"
	"github.com/BlearKK/deepdriver/internal/pkg/serverutils"
	"github.com/BlearKK/deepdriver/internal/search"
	"github.com/BlearKK/deepdriver/pkg/events"
)

type ISearchService interface {
	CreateOrResume(req *dto.RegisterSessionRequest) (*dto.RegisterSessionResponse, error)
	AttachStream(sessionID, target string, processed []string) (*search.Session, error)
	Poll(ctx context.Context, sessionID string, processed []string) (*dto.PollResponse, error)
	Check(ctx context.Context, target string, items []string) ([]events.WorkResult, error)
}

type searchService struct {
	registry   *search.Registry
	dispatcher *search.Dispatcher
	items      []string
	log        logger.ILogger

	// baseCtx outlives individual requests so background dispatch keeps
	// running after the registering request returns.
	baseCtx    context.Context
	pollWindow time.Duration
	pollBurst  int
}

func NewSearchService(baseCtx context.Context, registry *search.Registry, dispatcher *search.Dispatcher, items []string, pollWindow time.Duration, pollBurst int, log logger.ILogger) ISearchService {
	return &searchService{
		registry:   registry,
		dispatcher: dispatcher,
		items:      items,
		log:        log,
		baseCtx:    baseCtx,
		pollWindow: pollWindow,
		pollBurst:  pollBurst,
	}
}

func (s *searchService) CreateOrResume(req *dto.RegisterSessionRequest) (*dto.RegisterSessionResponse, error) {
	if req.SessionID != "" {
		sess, err := s.registry.Resume(req.SessionID)
		if err != nil {
			if errors.Is(err, search.ErrSessionNotFound) {
				return nil, serverutils.NewAppError(fiber.StatusNotFound, "session_not_found", "session not found or expired")
			}
			return nil, err
		}
		sess.Seed(req.ProcessedItemIDs)
		s.log.Info("SearchService", "Session re-registered", map[string]interface{}{
			"session_id": sess.ID(),
			"progress":   sess.Progress(),
		})
		return &dto.RegisterSessionResponse{SessionID: sess.ID(), Total: sess.Total(), Progress: sess.Progress()}, nil
	}

	sess := s.registry.Create(req.Target, s.items)
	sess.Seed(req.ProcessedItemIDs)
	go s.dispatcher.Run(s.baseCtx, sess)
	s.log.Info("SearchService", "Session created", map[string]interface{}{
		"session_id": sess.ID(),
		"target":     req.Target,
		"total":      sess.Total(),
	})
	return &dto.RegisterSessionResponse{SessionID: sess.ID(), Total: sess.Total(), Progress: sess.Progress()}, nil
}

// AttachStream resolves the session a stream request refers to. Unknown ids
// with a target fall back to the legacy flow: a fresh session seeded with the
// client's processed ids, so old clients that never re-register keep working.
func (s *searchService) AttachStream(sessionID, target string, processed []string) (*search.Session, error) {
	sess, err := s.registry.Resume(sessionID)
	if err == nil {
		sess.Seed(processed)
		return sess, nil
	}
	if !errors.Is(err, search.ErrSessionNotFound) {
		return nil, err
	}
	if target == "" {
		return nil, serverutils.NewAppError(fiber.StatusNotFound, "session_not_found", "session not found or expired")
	}

	s.log.Warn("SearchService", "Unknown session on stream, creating replacement", map[string]interface{}{
		"session_id": sessionID,
		"target":     target,
		"seeded":     len(processed),
	})
	sess = s.registry.Create(target, s.items)
	sess.Seed(processed)
	go s.dispatcher.Run(s.baseCtx, sess)
	return sess, nil
}

// Poll serves one fallback burst: whatever stored results the client is
// missing, topped up by directly running a bounded number of pending items
// within the poll window.
func (s *searchService) Poll(ctx context.Context, sessionID string, processed []string) (*dto.PollResponse, error) {
	sess, err := s.registry.Resume(sessionID)
	if err != nil {
		if errors.Is(err, search.ErrSessionNotFound) {
			return nil, serverutils.NewAppError(fiber.StatusNotFound, "session_not_found", "session not found or expired")
		}
		return nil, err
	}
	sess.Seed(processed)

	seen := make(map[string]struct{}, len(processed))
	for _, id := range processed {
		seen[id] = struct{}{}
	}
	results := sess.ResultsExcept(seen)

	if !sess.IsComplete() && len(sess.PendingItems()) > 0 {
		burstCtx, cancel := context.WithTimeout(ctx, s.pollWindow)
		defer cancel()
		burst := s.dispatcher.RunBurst(burstCtx, sess, s.pollBurst)
		results = append(results, burst...)
	}

	return &dto.PollResponse{
		Results:   results,
		Processed: sess.Progress(),
		Total:     sess.Total(),
		Status:    string(sess.Status()),
	}, nil
}

func (s *searchService) Check(ctx context.Context, target string, items []string) ([]events.WorkResult, error) {
	return s.dispatcher.Check(ctx, target, items), nil
}
