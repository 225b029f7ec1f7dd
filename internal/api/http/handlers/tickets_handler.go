package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/support-bot/internal/api/dto"
	"github.com/spec-kit/support-bot/internal/auth"
	"github.com/spec-kit/support-bot/internal/domain"
	"github.com/spec-kit/support-bot/internal/service"
	apperrors "github.com/spec-kit/support-bot/pkg/util/errorutil"
)

// TicketsHandler manages end-user ticket endpoints.
type TicketsHandler struct {
	service *service.TicketService
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(ticketService *service.TicketService) *TicketsHandler {
	return &TicketsHandler{service: ticketService}
}

// CreateTicket POST /tickets.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	userID, err := actingUser(c)
	if err != nil {
		return err
	}
	var req dto.CreateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	ticket, err := h.service.OpenTicket(c.UserContext(), userID, service.TicketCreateInput{
		Title:       req.Title,
		Description: req.Description,
	})
	if err != nil {
		return err
	}
	resp := dto.CreateTicketResponse{Ticket: ticketSummary(ticket)}

	autoReply := req.AutoReply == nil || *req.AutoReply
	if autoReply && strings.TrimSpace(ticket.Description) != "" {
		res, err := h.service.Dispatch(c.UserContext(), domain.InboundMessage{TicketID: ticket.ID, Text: ticket.Description})
		if err != nil {
			return err
		}
		out := outcomeResponse(res.Outcome)
		resp.Outcome = &out
		resp.Ticket = out.Ticket
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": resp})
}

// ListTickets GET /tickets.
func (h *TicketsHandler) ListTickets(c *fiber.Ctx) error {
	userID, err := actingUser(c)
	if err != nil {
		return err
	}
	page := parseInt(c.Query("page"), 1)
	pageSize := parseInt(c.Query("page_size"), 20)
	tickets, err := h.service.ListUserTickets(c.UserContext(), userID, pageSize, (page-1)*pageSize)
	if err != nil {
		return err
	}
	items := make([]dto.TicketSummary, 0, len(tickets))
	for i := range tickets {
		items = append(items, ticketSummary(&tickets[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// GetTicket GET /tickets/:id.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	userID, err := actingUser(c)
	if err != nil {
		return err
	}
	ticket, msgs, err := h.service.GetTicketForUser(c.UserContext(), userID, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketDetail(ticket, msgs)})
}

// AddMessage POST /tickets/:id/messages.
func (h *TicketsHandler) AddMessage(c *fiber.Ctx) error {
	userID, err := actingUser(c)
	if err != nil {
		return err
	}
	var req dto.CreateMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if strings.TrimSpace(req.Text) == "" {
		return apperrors.NewValidationError("text required", nil)
	}
	out, err := h.service.SendMessage(c.UserContext(), userID, c.Params("id"), req.Text)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": outcomeResponse(out)})
}

// CloseTicket POST /tickets/:id/close.
func (h *TicketsHandler) CloseTicket(c *fiber.Ctx) error {
	userID, err := actingUser(c)
	if err != nil {
		return err
	}
	ticket, err := h.service.CloseByUser(c.UserContext(), userID, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketSummary(ticket)})
}

func actingUser(c *fiber.Ctx) (int64, error) {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return 0, apperrors.NewUnauthorized("authentication required")
	}
	if principal.UserID == 0 {
		return 0, apperrors.NewValidationError(auth.ActingUserHeader+" header required", nil)
	}
	return principal.UserID, nil
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	parsed, err := strconv.Atoi(val)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func ticketSummary(ticket *domain.Ticket) dto.TicketSummary {
	return dto.TicketSummary{
		ID:               ticket.ID,
		UserID:           ticket.UserID,
		Title:            ticket.Title,
		Status:           ticket.Status,
		AIAttempts:       ticket.AIAttempts,
		AutoEscalated:    ticket.AutoEscalated,
		EscalationReason: ticket.EscalationReason,
		CreatedAt:        ticket.CreatedAt,
		UpdatedAt:        ticket.UpdatedAt,
		ClosedAt:         ticket.ClosedAt,
	}
}

func ticketDetail(ticket *domain.Ticket, messages []domain.TicketMessage) dto.TicketDetailResponse {
	msgs := make([]dto.TicketMessageResponse, 0, len(messages))
	for i := range messages {
		msgs = append(msgs, ticketMessageResponse(&messages[i]))
	}
	return dto.TicketDetailResponse{
		TicketSummary: ticketSummary(ticket),
		Description:   ticket.Description,
		Messages:      msgs,
	}
}

func ticketMessageResponse(msg *domain.TicketMessage) dto.TicketMessageResponse {
	return dto.TicketMessageResponse{
		ID:        msg.ID,
		Role:      msg.Role(),
		UserID:    msg.UserID,
		Body:      msg.Body,
		CreatedAt: msg.CreatedAt,
	}
}

func outcomeResponse(out *service.Outcome) dto.OutcomeResponse {
	resp := dto.OutcomeResponse{
		Result: string(out.Result),
		Reply:  out.Reply,
		Reason: out.Reason,
	}
	if out.Ticket != nil {
		resp.Ticket = ticketSummary(out.Ticket)
	}
	if out.Match != nil {
		resp.Match = &dto.MatchResponse{
			ProblemKey:   out.Match.ProblemKey,
			Solution:     out.Match.Solution,
			SuccessCount: out.Match.SuccessCount,
			Similarity:   out.Match.Similarity,
		}
	}
	return resp
}
