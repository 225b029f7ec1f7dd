package handlers

import (
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/support-bot/internal/api/dto"
	"github.com/spec-kit/support-bot/internal/clock"
	"github.com/spec-kit/support-bot/internal/domain"
	"github.com/spec-kit/support-bot/internal/knowledge"
	"github.com/spec-kit/support-bot/internal/ratelimit"
	"github.com/spec-kit/support-bot/internal/service"
	apperrors "github.com/spec-kit/support-bot/pkg/util/errorutil"
)

// AdminHandler exposes operator endpoints: replies, closing, sweeps and
// limiter and knowledge inspection.
type AdminHandler struct {
	tickets *service.TicketService
	limiter *ratelimit.Limiter
	matcher *knowledge.Matcher
	clock   clock.Clock
}

// NewAdminHandler constructs handler.
func NewAdminHandler(tickets *service.TicketService, limiter *ratelimit.Limiter, matcher *knowledge.Matcher, clk clock.Clock) *AdminHandler {
	return &AdminHandler{tickets: tickets, limiter: limiter, matcher: matcher, clock: clock.OrReal(clk)}
}

// GetTicket GET /admin/tickets/:id.
func (h *AdminHandler) GetTicket(c *fiber.Ctx) error {
	ticket, msgs, err := h.tickets.GetTicket(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	window, issues, err := h.tickets.Conversation(c.UserContext(), ticket)
	if err != nil {
		return err
	}
	resp := dto.AdminTicketDetailResponse{
		TicketDetailResponse: ticketDetail(ticket, msgs),
		Context:              make([]dto.ContextEntryResponse, 0, len(window)),
		KnownIssues:          issues,
	}
	for _, e := range window {
		resp.Context = append(resp.Context, dto.ContextEntryResponse{Role: string(e.Role), Text: e.Text, At: e.At})
	}
	if resp.KnownIssues == nil {
		resp.KnownIssues = []string{}
	}
	return c.JSON(fiber.Map{"data": resp})
}

// Reply POST /admin/tickets/:id/reply.
func (h *AdminHandler) Reply(c *fiber.Ctx) error {
	adminID, err := actingUser(c)
	if err != nil {
		return err
	}
	var req dto.AdminReplyRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	res, err := h.tickets.Dispatch(c.UserContext(), domain.AdminAction{
		TicketID: c.Params("id"),
		AdminID:  adminID,
		Kind:     domain.AdminReply,
		Text:     req.Text,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": ticketMessageResponse(res.Message)})
}

// Close POST /admin/tickets/:id/close.
func (h *AdminHandler) Close(c *fiber.Ctx) error {
	adminID, err := actingUser(c)
	if err != nil {
		return err
	}
	var req dto.AdminCloseRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
	}
	kind := domain.AdminClose
	if req.Resolved {
		kind = domain.AdminResolve
	}
	res, err := h.tickets.Dispatch(c.UserContext(), domain.AdminAction{
		TicketID: c.Params("id"),
		AdminID:  adminID,
		Kind:     kind,
		Text:     req.Text,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketSummary(res.Ticket)})
}

// Sweep POST /admin/sweep.
func (h *AdminHandler) Sweep(c *fiber.Ctx) error {
	at := h.clock.Now()
	res, err := h.tickets.Dispatch(c.UserContext(), domain.ScheduledSweep{At: at})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.SweepResponse{Escalated: res.Escalated, At: at}})
}

// RateLimitStatus GET /admin/ratelimit/:user.
func (h *AdminHandler) RateLimitStatus(c *fiber.Ctx) error {
	userID, err := userParam(c)
	if err != nil {
		return err
	}
	banned, remaining := h.limiter.BanStatus(userID)
	resp := dto.RateLimitStatusResponse{
		UserID:            userID,
		Banned:            banned,
		BanRemainingSecs:  int(remaining / time.Second),
		Suspicion:         h.limiter.Suspicion(userID),
		RemainingByAction: map[string]int{},
	}
	for _, action := range h.limiter.Actions() {
		resp.RemainingByAction[action] = h.limiter.Remaining(userID, action)
	}
	return c.JSON(fiber.Map{"data": resp})
}

// ClearRateLimit DELETE /admin/ratelimit/:user.
func (h *AdminHandler) ClearRateLimit(c *fiber.Ctx) error {
	userID, err := userParam(c)
	if err != nil {
		return err
	}
	h.limiter.Clear(userID)
	return c.SendStatus(fiber.StatusNoContent)
}

// RateLimitStats GET /admin/ratelimit.
func (h *AdminHandler) RateLimitStats(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"data": h.limiter.Stats()})
}

// MatchKnowledge GET /admin/knowledge/match?q=&threshold=.
func (h *AdminHandler) MatchKnowledge(c *fiber.Ctx) error {
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		return apperrors.NewValidationError("q required", nil)
	}
	threshold := 0.0
	if raw := c.Query("threshold"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 || v > 1 {
			return apperrors.NewValidationError("threshold must be between 0 and 1", nil)
		}
		threshold = v
	}
	keywords := knowledge.ExtractKeywords(q)
	matches, err := h.matcher.FindMatches(c.UserContext(), keywords, threshold)
	if err != nil {
		return err
	}
	items := make([]dto.MatchResponse, 0, len(matches))
	for _, m := range matches {
		items = append(items, dto.MatchResponse{
			ProblemKey:   m.ProblemKey,
			Solution:     m.Solution,
			SuccessCount: m.SuccessCount,
			Similarity:   m.Similarity,
		})
	}
	return c.JSON(fiber.Map{"data": items, "keywords": keywords})
}

func userParam(c *fiber.Ctx) (int64, error) {
	userID, err := strconv.ParseInt(c.Params("user"), 10, 64)
	if err != nil {
		return 0, apperrors.NewValidationError("invalid user id", nil)
	}
	return userID, nil
}
