package chat

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/telemed/telemed/internal/platform/auth"
	"github.com/telemed/telemed/internal/platform/validate"
	"github.com/telemed/telemed/pkg/pagination"
)

type Handler struct {
	svc       *Service
	validator *validate.Validator
}

func NewHandler(svc *Service, v *validate.Validator) *Handler {
	return &Handler{svc: svc, validator: v}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/chat", auth.RequireAuth())
	g.POST("/messages", h.SendMessage)
	g.PUT("/messages/:id", h.EditMessage)
	g.PUT("/messages/:id/read", h.MarkRead)
	g.DELETE("/messages/:id", h.DeleteMessage)
	g.GET("/conversations", h.ListConversations)
	g.GET("/conversations/:userId", h.GetConversation)
	g.PUT("/conversations/:userId/read", h.MarkConversationRead)
	g.GET("/appointments/:appointmentId/messages", h.ListAppointmentMessages)
	g.GET("/unread-count", h.UnreadCount)
}

func (h *Handler) SendMessage(c echo.Context) error {
	var req SendRequest
	if err := h.validator.Bind(c, validate.Message, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()
	m, err := h.svc.Send(ctx, auth.PrincipalFromContext(ctx), &req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, m)
}

func (h *Handler) ListConversations(c echo.Context) error {
	ctx := c.Request().Context()
	convs, err := h.svc.Conversations(ctx, auth.PrincipalFromContext(ctx))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, convs)
}

func (h *Handler) GetConversation(c echo.Context) error {
	partner, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid user id")
	}
	pg := pagination.FromContext(c)
	ctx := c.Request().Context()
	items, total, err := h.svc.Conversation(ctx, auth.PrincipalFromContext(ctx), partner, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(nonNil(items), total, pg.Limit, pg.Offset))
}

func (h *Handler) ListAppointmentMessages(c echo.Context) error {
	apptID, err := uuid.Parse(c.Param("appointmentId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid appointment id")
	}
	pg := pagination.FromContext(c)
	ctx := c.Request().Context()
	items, total, err := h.svc.AppointmentMessages(ctx, auth.PrincipalFromContext(ctx), apptID, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(nonNil(items), total, pg.Limit, pg.Offset))
}

func (h *Handler) MarkRead(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	m, err := h.svc.MarkRead(ctx, auth.PrincipalFromContext(ctx), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) MarkConversationRead(c echo.Context) error {
	partner, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid user id")
	}
	ctx := c.Request().Context()
	n, err := h.svc.MarkConversationRead(ctx, auth.PrincipalFromContext(ctx), partner)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]int64{"updated": n})
}

func (h *Handler) UnreadCount(c echo.Context) error {
	ctx := c.Request().Context()
	n, err := h.svc.UnreadCount(ctx, auth.PrincipalFromContext(ctx))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]int{"count": n})
}

func (h *Handler) EditMessage(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req EditRequest
	if err := h.validator.Bind(c, validate.MessageEdit, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()
	m, err := h.svc.Edit(ctx, auth.PrincipalFromContext(ctx), id, req.Content)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) DeleteMessage(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	if err := h.svc.Delete(ctx, auth.PrincipalFromContext(ctx), id); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Message deleted successfully"})
}

func nonNil(items []*Message) []*Message {
	if items == nil {
		return []*Message{}
	}
	return items
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrReceiverNotFound), errors.Is(err, ErrAppointmentNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrInvalid):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
}
