package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"omnidesk.app/core/internal/channel"
	"omnidesk.app/core/internal/http/dto"
	"omnidesk.app/core/internal/model"
	"omnidesk.app/core/internal/service"
	"omnidesk.app/core/internal/store"
)

// SessionTokenHeader carries the widget session token on every call
// after boot.
const SessionTokenHeader = "X-Widget-Session"

type WidgetHandler struct {
	sessions    *service.WidgetSessions
	ingest      *service.IngestService
	connections store.ConnectionStore
	tickets     store.TicketStore
}

func NewWidgetHandler(sessions *service.WidgetSessions, ingest *service.IngestService, connections store.ConnectionStore, tickets store.TicketStore) *WidgetHandler {
	return &WidgetHandler{
		sessions:    sessions,
		ingest:      ingest,
		connections: connections,
		tickets:     tickets,
	}
}

// Boot mints a widget session. A returning visitor passes its stored
// visitor id; a first-time visitor gets one assigned.
func (h *WidgetHandler) Boot(c *gin.Context) {
	ctx := c.Request.Context()

	if _, ok := h.widgetConnection(c); !ok {
		return
	}

	var req dto.WidgetBootRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	token, visitorID, err := h.sessions.Mint(ctx, req.VisitorID)
	if err != nil {
		slog.ErrorContext(ctx, "failed to mint widget session", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start session"})
		return
	}

	c.JSON(http.StatusOK, dto.WidgetBootResponse{SessionToken: token, VisitorID: visitorID})
}

// Message ingests one chat message from the widget. The session token
// must be live and bound to the payload's visitor id.
func (h *WidgetHandler) Message(c *gin.Context) {
	ctx := c.Request.Context()

	conn, ok := h.widgetConnection(c)
	if !ok {
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	var peek struct {
		VisitorID string `json:"visitor_id"`
	}
	if err := json.Unmarshal(body, &peek); err != nil || peek.VisitorID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if !h.requireSession(c, peek.VisitorID) {
		return
	}

	if err := h.ingest.HandleWebhook(ctx, conn.ID, model.PlatformWidget, body, c.Request.Header); err != nil {
		switch {
		case errors.Is(err, service.ErrVerificationFailed):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "verification failed"})
		case errors.Is(err, service.ErrConnectionUnavailable):
			c.JSON(http.StatusNotFound, gin.H{"error": "connection not found"})
		default:
			slog.ErrorContext(ctx, "widget message processing failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process message"})
		}
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "ok"})
}

// Transcript returns the visitor's open conversation so the widget can
// poll for agent and auto replies.
func (h *WidgetHandler) Transcript(c *gin.Context) {
	ctx := c.Request.Context()

	conn, ok := h.widgetConnection(c)
	if !ok {
		return
	}

	visitorID := c.Query("visitor_id")
	if visitorID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "visitor_id is required"})
		return
	}
	if !h.requireSession(c, visitorID) {
		return
	}

	email := strings.ToLower(c.Query("email"))
	if email == "" {
		email = channel.SyntheticEmail(visitorID, model.PlatformWidget)
	}

	ticket, err := h.tickets.FindOpenByThreadKey(ctx, conn.OrganizationID, conn.ID, email, visitorID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusOK, dto.WidgetTranscriptResponse{Messages: []dto.WidgetTranscriptMessage{}})
			return
		}
		slog.ErrorContext(ctx, "failed to load widget conversation", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversation"})
		return
	}

	messages, err := h.tickets.ListMessages(ctx, ticket.ID)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load widget messages", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversation"})
		return
	}

	resp := dto.WidgetTranscriptResponse{
		TicketID: ticket.ID,
		Status:   string(ticket.Status),
		Messages: make([]dto.WidgetTranscriptMessage, 0, len(messages)),
	}
	for _, m := range messages {
		if m.IsInternal {
			continue
		}
		resp.Messages = append(resp.Messages, dto.WidgetTranscriptMessage{
			ID:         m.ID,
			SenderType: string(m.SenderType),
			Body:       m.Body,
			CreatedAt:  m.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, resp)
}

// widgetConnection resolves the path's connection and enforces that it
// is an active widget connection. Writes the error response itself.
func (h *WidgetHandler) widgetConnection(c *gin.Context) (*model.ChannelConnection, bool) {
	connectionID, err := strconv.ParseInt(c.Param("connection_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid connection id"})
		return nil, false
	}

	conn, err := h.connections.GetByID(c.Request.Context(), connectionID)
	if err != nil || !conn.IsActive || conn.Platform != model.PlatformWidget {
		c.JSON(http.StatusNotFound, gin.H{"error": "connection not found"})
		return nil, false
	}
	return conn, true
}

func (h *WidgetHandler) requireSession(c *gin.Context, visitorID string) bool {
	token := c.GetHeader(SessionTokenHeader)
	valid, err := h.sessions.Validate(c.Request.Context(), token, visitorID)
	if err != nil {
		slog.ErrorContext(c.Request.Context(), "failed to validate widget session", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to validate session"})
		return false
	}
	if !valid {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired session"})
		return false
	}
	return true
}
