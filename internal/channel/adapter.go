package channel

import (
	"context"
	"fmt"
	"net/http"

	"omnidesk.app/core/internal/model"
)

// InboundMessage is the normalized, platform-agnostic representation of
// one inbound event. It is ephemeral: constructed per webhook/poll event
// and consumed immediately by the threader, never persisted as-is.
type InboundMessage struct {
	Platform          model.Platform
	ExternalMessageID string
	ExternalThreadKey string
	SenderExternalID  string
	SenderDisplayName string
	SenderEmail       string // real, or synthesized <externalID>@<platform>.local
	Body              string
	// ReplyTarget carries the per-message identifiers an outbound reply
	// must use to stay threaded on the origin platform.
	ReplyTarget map[string]string
	// RawMetadata is free-form platform metadata merged into ticket
	// metadata on create.
	RawMetadata map[string]string
}

// Adapter translates platform-specific payloads into InboundMessages.
//
// Normalize returns (nil, nil) when the payload should be silently
// dropped: platform echoes, bot/self messages, edit/delete
// notifications, and events with no textual content. Dropped payloads
// must have no ticket side effects.
type Adapter interface {
	Platform() model.Platform

	// VerifySignature checks the platform's request signing. Platforms
	// without request signing validate structural shape instead and
	// return true. Implementations must use constant-time comparison.
	VerifySignature(creds model.Credentials, body []byte, headers http.Header) bool

	Normalize(conn *model.ChannelConnection, body []byte) (*InboundMessage, error)
}

// Poller is implemented by history-based adapters (email). FetchNewSince
// must be idempotent with respect to re-delivery of the same cursor
// window; the ingest layer additionally dedupes on external message id.
type Poller interface {
	Adapter
	FetchNewSince(ctx context.Context, conn *model.ChannelConnection, creds model.Credentials, cursor string) ([]InboundMessage, string, error)
}

// SyntheticEmail builds a stable customer email for platforms that have
// no email concept.
func SyntheticEmail(externalID string, platform model.Platform) string {
	return fmt.Sprintf("%s@%s.local", externalID, platform)
}
