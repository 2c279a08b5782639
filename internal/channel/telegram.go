package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"omnidesk.app/core/internal/model"
)

const telegramBaseURL = "https://api.telegram.org"

// TelegramAdapter handles both delivery modes Telegram supports:
// webhook pushes and getUpdates polling. A connection uses one or the
// other; registering a webhook disables getUpdates on Telegram's side.
type TelegramAdapter struct {
	httpClient *http.Client
	baseURL    string
}

func NewTelegramAdapter() *TelegramAdapter {
	return &TelegramAdapter{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    telegramBaseURL,
	}
}

func (a *TelegramAdapter) Platform() model.Platform { return model.PlatformTelegram }

// VerifySignature validates the structural shape of a Telegram update.
// Telegram does not sign webhook bodies; the secret lives in the
// per-connection webhook path instead, which the router checks. A
// well-formed update must carry an update_id and a message with a chat.
func (a *TelegramAdapter) VerifySignature(creds model.Credentials, body []byte, headers http.Header) bool {
	var probe struct {
		UpdateID *int64 `json:"update_id"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return false
	}
	return probe.UpdateID != nil
}

type telegramUpdate struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		MessageID int64  `json:"message_id"`
		Text      string `json:"text"`
		From      struct {
			ID        int64  `json:"id"`
			IsBot     bool   `json:"is_bot"`
			FirstName string `json:"first_name"`
			LastName  string `json:"last_name"`
			Username  string `json:"username"`
		} `json:"from"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
	} `json:"message"`
}

func (a *TelegramAdapter) Normalize(conn *model.ChannelConnection, body []byte) (*InboundMessage, error) {
	var upd telegramUpdate
	if err := json.Unmarshal(body, &upd); err != nil {
		return nil, fmt.Errorf("decode telegram update: %w", err)
	}
	// Edited messages, channel posts and callback queries arrive as
	// other update fields and are ignored wholesale.
	if upd.Message == nil || upd.Message.From.IsBot {
		return nil, nil
	}
	text := strings.TrimSpace(upd.Message.Text)
	if text == "" {
		return nil, nil
	}

	senderID := strconv.FormatInt(upd.Message.From.ID, 10)
	chatID := strconv.FormatInt(upd.Message.Chat.ID, 10)
	name := strings.TrimSpace(upd.Message.From.FirstName + " " + upd.Message.From.LastName)
	if name == "" {
		name = upd.Message.From.Username
	}

	return &InboundMessage{
		Platform:          model.PlatformTelegram,
		ExternalMessageID: fmt.Sprintf("%s:%d", chatID, upd.Message.MessageID),
		ExternalThreadKey: chatID,
		SenderExternalID:  senderID,
		SenderDisplayName: name,
		SenderEmail:       SyntheticEmail(senderID, model.PlatformTelegram),
		Body:              text,
		ReplyTarget: map[string]string{
			"chat_id": chatID,
		},
		RawMetadata: map[string]string{
			"telegram_username": upd.Message.From.Username,
		},
	}, nil
}

// FetchNewSince polls getUpdates with the persisted offset. The new
// cursor is the highest update id seen plus one, which is what Telegram
// expects back as the next offset.
func (a *TelegramAdapter) FetchNewSince(ctx context.Context, conn *model.ChannelConnection, creds model.Credentials, cursor string) ([]InboundMessage, string, error) {
	if creds.BotToken == "" {
		return nil, "", ErrUnauthorized
	}

	url := fmt.Sprintf("%s/bot%s/getUpdates?timeout=0", a.baseURL, creds.BotToken)
	if cursor != "" {
		url += "&offset=" + cursor
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("building getUpdates request: %w", err)
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("calling getUpdates: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, "", ErrUnauthorized
	}
	// 409 means a webhook is registered for this bot; such connections
	// receive pushes instead, so the poll is a no-op.
	if resp.StatusCode == http.StatusConflict {
		return nil, cursor, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("getUpdates status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, "", fmt.Errorf("reading getUpdates response: %w", err)
	}

	var payload struct {
		OK     bool              `json:"ok"`
		Result []json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, "", fmt.Errorf("decoding getUpdates response: %w", err)
	}
	if !payload.OK {
		return nil, "", fmt.Errorf("getUpdates returned ok=false")
	}

	var (
		out     []InboundMessage
		maxID   int64
		haveIDs bool
	)
	for _, raw := range payload.Result {
		var probe struct {
			UpdateID int64 `json:"update_id"`
		}
		if err := json.Unmarshal(raw, &probe); err != nil {
			continue
		}
		if probe.UpdateID > maxID {
			maxID = probe.UpdateID
		}
		haveIDs = true

		inbound, err := a.Normalize(conn, raw)
		if err != nil || inbound == nil {
			continue
		}
		out = append(out, *inbound)
	}

	newCursor := cursor
	if haveIDs {
		newCursor = strconv.FormatInt(maxID+1, 10)
	}
	return out, newCursor, nil
}
