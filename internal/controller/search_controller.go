package controller

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/BlearKK/deepdriver/internal/dto"
	"github.com/BlearKK/deepdriver/internal/pkg/logger"
	"github.com/BlearKK/deepdriver/internal/pkg/serverutils"
	"github.com/BlearKK/deepdriver/internal/service"
	"github.com/BlearKK/deepdriver/internal/stream"
)

type ISearchController interface {
	RegisterRoutes(r fiber.Router)
	RegisterSession(ctx *fiber.Ctx) error
	Stream(ctx *fiber.Ctx) error
	Poll(ctx *fiber.Ctx) error
	Check(ctx *fiber.Ctx) error
	Health(ctx *fiber.Ctx) error
}

type searchController struct {
	searchService service.ISearchService
	streamer      *stream.Streamer
	log           logger.ILogger
}

func NewSearchController(searchService service.ISearchService, streamer *stream.Streamer, log logger.ILogger) ISearchController {
	return &searchController{
		searchService: searchService,
		streamer:      streamer,
		log:           log,
	}
}

func (c *searchController) RegisterRoutes(r fiber.Router) {
	h := r.Group("/search")
	h.Get("health", c.Health)
	h.Post("session", c.RegisterSession)
	h.Get("stream", c.Stream)
	h.Get("poll", c.Poll)
	h.Post("check", c.Check)

	h.Use("ws", func(ctx *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(ctx) {
			return ctx.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	h.Get("ws", websocket.New(c.streamWS))
}

func (c *searchController) RegisterSession(ctx *fiber.Ctx) error {
	var req dto.RegisterSessionRequest
	if err := ctx.BodyParser(&req); err != nil {
		return serverutils.WrapAppError(fiber.StatusBadRequest, "invalid_body", "Request body is not valid JSON", err)
	}

	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.searchService.CreateOrResume(&req)
	if err != nil {
		return err
	}

	return ctx.Status(fiber.StatusCreated).JSON(serverutils.SuccessResponse("Success register session", res))
}

func (c *searchController) Stream(ctx *fiber.Ctx) error {
	sessionID := ctx.Query("session_id")
	if sessionID == "" {
		return serverutils.NewAppError(fiber.StatusBadRequest, "missing_session_id", "session_id query parameter is required")
	}
	target := ctx.Query("target")
	processed := splitIDs(ctx.Query("processed"))

	sess, err := c.searchService.AttachStream(sessionID, target, processed)
	if err != nil {
		return err
	}

	exclude := make(map[string]struct{}, len(processed))
	for _, id := range processed {
		exclude[id] = struct{}{}
	}
	return c.streamer.StreamSSE(ctx, sess, exclude)
}

// streamWS mirrors Stream over a websocket. Query values were captured during
// the upgrade request.
func (c *searchController) streamWS(conn *websocket.Conn) {
	defer conn.Close()

	sessionID := conn.Query("session_id")
	target := conn.Query("target")
	processed := splitIDs(conn.Query("processed"))

	sess, err := c.searchService.AttachStream(sessionID, target, processed)
	if err != nil {
		c.log.Warn("SearchController", "Websocket attach rejected", map[string]interface{}{
			"session_id": sessionID,
			"error":      err.Error(),
		})
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "session not found"),
			time.Now().Add(time.Second))
		return
	}

	exclude := make(map[string]struct{}, len(processed))
	for _, id := range processed {
		exclude[id] = struct{}{}
	}
	c.streamer.StreamWS(conn, sess, exclude)
}

func (c *searchController) Poll(ctx *fiber.Ctx) error {
	sessionID := ctx.Query("session_id")
	if sessionID == "" {
		return serverutils.NewAppError(fiber.StatusBadRequest, "missing_session_id", "session_id query parameter is required")
	}
	processed := splitIDs(ctx.Query("processed"))

	res, err := c.searchService.Poll(ctx.Context(), sessionID, processed)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success poll session", res))
}

func (c *searchController) Check(ctx *fiber.Ctx) error {
	var req dto.CheckRequest
	if err := ctx.BodyParser(&req); err != nil {
		return serverutils.WrapAppError(fiber.StatusBadRequest, "invalid_body", "Request body is not valid JSON", err)
	}

	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.searchService.Check(ctx.Context(), req.Target, req.Items)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success check items", res))
}

func (c *searchController) Health(ctx *fiber.Ctx) error {
	return ctx.JSON(serverutils.SuccessResponse("Service healthy", dto.HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().Unix(),
	}))
}

func splitIDs(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	ids := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			ids = append(ids, p)
		}
	}
	return ids
}
