package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"omnidesk.app/core/internal/channel"
	"omnidesk.app/core/internal/model"
	"omnidesk.app/core/internal/service"
	"omnidesk.app/core/internal/store"
)

// maxWebhookBody caps inbound payload size. Platform webhooks are small;
// anything larger is abuse.
const maxWebhookBody = 1 << 20

type challengeVerifier interface {
	VerifyChallenge(creds model.Credentials, mode, token, challenge string) (string, bool)
}

type WebhookHandler struct {
	ingest      *service.IngestService
	adapters    *channel.Registry
	connections store.ConnectionStore
	credentials *service.CredentialService
}

func NewWebhookHandler(ingest *service.IngestService, adapters *channel.Registry, connections store.ConnectionStore, credentials *service.CredentialService) *WebhookHandler {
	return &WebhookHandler{
		ingest:      ingest,
		adapters:    adapters,
		connections: connections,
		credentials: credentials,
	}
}

// HandleEvent receives one platform webhook. The response is always
// fast: verification and threading happen inline, everything slow is
// queued.
func (h *WebhookHandler) HandleEvent(c *gin.Context) {
	ctx := c.Request.Context()

	connectionID, err := strconv.ParseInt(c.Param("connection_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid connection id"})
		return
	}
	platform := model.Platform(c.Param("platform"))

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	// Twilio signs the full public URL; pass it through to the verifier.
	if platform == model.PlatformSMS {
		c.Request.Header.Set(channel.RequestURLHeader, requestURL(c.Request))
	}

	if err := h.ingest.HandleWebhook(ctx, connectionID, platform, body, c.Request.Header); err != nil {
		switch {
		case errors.Is(err, service.ErrVerificationFailed):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "verification failed"})
		case errors.Is(err, service.ErrConnectionUnavailable):
			c.JSON(http.StatusNotFound, gin.H{"error": "connection not found"})
		default:
			slog.ErrorContext(ctx, "webhook processing failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process webhook"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HandleMetaChallenge answers the Meta subscription handshake. Meta
// sends a GET with hub.* query params and expects the raw challenge
// echoed back on a verify-token match.
func (h *WebhookHandler) HandleMetaChallenge(c *gin.Context) {
	ctx := c.Request.Context()

	connectionID, err := strconv.ParseInt(c.Param("connection_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid connection id"})
		return
	}

	conn, err := h.connections.GetByID(ctx, connectionID)
	if err != nil || !conn.IsActive || conn.Platform != model.PlatformMeta {
		c.JSON(http.StatusNotFound, gin.H{"error": "connection not found"})
		return
	}

	creds, err := h.credentials.Decrypt(conn.EncryptedCredentials)
	if err != nil {
		slog.ErrorContext(ctx, "failed to decrypt credentials for challenge", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify"})
		return
	}

	adapter, err := h.adapters.Get(model.PlatformMeta)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "connection not found"})
		return
	}
	verifier, ok := adapter.(challengeVerifier)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "connection not found"})
		return
	}

	echo, ok := verifier.VerifyChallenge(creds,
		c.Query("hub.mode"),
		c.Query("hub.verify_token"),
		c.Query("hub.challenge"))
	if !ok {
		c.JSON(http.StatusForbidden, gin.H{"error": "verification failed"})
		return
	}

	c.String(http.StatusOK, echo)
}

// requestURL reconstructs the externally visible URL of the request,
// honoring the proxy's forwarded scheme.
func requestURL(r *http.Request) string {
	scheme := r.Header.Get("X-Forwarded-Proto")
	if scheme == "" {
		if r.TLS != nil {
			scheme = "https"
		} else {
			scheme = "http"
		}
	}
	return scheme + "://" + r.Host + r.RequestURI
}
