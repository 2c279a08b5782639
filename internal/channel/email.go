package channel

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"omnidesk.app/core/internal/model"
)

// ErrUnauthorized signals an expired or revoked access token. Callers
// attempt a credential refresh and retry before flagging the connection.
var ErrUnauthorized = errors.New("channel: unauthorized")

const gmailBaseURL = "https://gmail.googleapis.com/gmail/v1/users/me"

// EmailAdapter pulls mail through the Gmail history API. Email has no
// webhook path: messages arrive exclusively through FetchNewSince on
// the poll schedule.
type EmailAdapter struct {
	httpClient *http.Client
	baseURL    string
}

func NewEmailAdapter(httpClient *http.Client) *EmailAdapter {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &EmailAdapter{httpClient: httpClient, baseURL: gmailBaseURL}
}

func (a *EmailAdapter) Platform() model.Platform { return model.PlatformEmail }

// VerifySignature always fails: email connections never receive
// webhooks, so any webhook addressed to one is bogus.
func (a *EmailAdapter) VerifySignature(model.Credentials, []byte, http.Header) bool {
	return false
}

func (a *EmailAdapter) Normalize(*model.ChannelConnection, []byte) (*InboundMessage, error) {
	return nil, errors.New("email is poll-only")
}

type gmailProfile struct {
	EmailAddress string `json:"emailAddress"`
	HistoryID    string `json:"historyId"`
}

type gmailHistoryList struct {
	History []struct {
		MessagesAdded []struct {
			Message struct {
				ID string `json:"id"`
			} `json:"message"`
		} `json:"messagesAdded"`
	} `json:"history"`
	HistoryID     string `json:"historyId"`
	NextPageToken string `json:"nextPageToken"`
}

type gmailMessage struct {
	ID       string   `json:"id"`
	ThreadID string   `json:"threadId"`
	LabelIDs []string `json:"labelIds"`
	Payload  struct {
		Headers []struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		} `json:"headers"`
		MimeType string `json:"mimeType"`
		Body     struct {
			Data string `json:"data"`
		} `json:"body"`
		Parts []struct {
			MimeType string `json:"mimeType"`
			Body     struct {
				Data string `json:"data"`
			} `json:"body"`
		} `json:"parts"`
	} `json:"payload"`
}

// FetchNewSince lists history entries after the stored cursor and
// resolves each added message. An empty cursor bootstraps: it records
// the current history id and skips the backlog so connecting an old
// mailbox does not flood the system with stale tickets.
func (a *EmailAdapter) FetchNewSince(ctx context.Context, conn *model.ChannelConnection, creds model.Credentials, cursor string) ([]InboundMessage, string, error) {
	if creds.AccessToken == "" {
		return nil, cursor, ErrUnauthorized
	}

	if cursor == "" {
		var prof gmailProfile
		if err := a.getJSON(ctx, creds, a.baseURL+"/profile", &prof); err != nil {
			return nil, cursor, err
		}
		return nil, prof.HistoryID, nil
	}

	var (
		msgs      []InboundMessage
		next      = cursor
		pageToken string
	)
	for {
		u := fmt.Sprintf("%s/history?startHistoryId=%s&historyTypes=messageAdded", a.baseURL, cursor)
		if pageToken != "" {
			u += "&pageToken=" + pageToken
		}
		var page gmailHistoryList
		if err := a.getJSON(ctx, creds, u, &page); err != nil {
			return nil, cursor, err
		}
		if page.HistoryID != "" {
			next = page.HistoryID
		}
		for _, h := range page.History {
			for _, added := range h.MessagesAdded {
				im, err := a.fetchMessage(ctx, creds, added.Message.ID)
				if err != nil {
					return nil, cursor, err
				}
				if im != nil {
					msgs = append(msgs, *im)
				}
			}
		}
		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}
	return msgs, next, nil
}

func (a *EmailAdapter) fetchMessage(ctx context.Context, creds model.Credentials, id string) (*InboundMessage, error) {
	var msg gmailMessage
	if err := a.getJSON(ctx, creds, a.baseURL+"/messages/"+id+"?format=full", &msg); err != nil {
		return nil, err
	}

	for _, label := range msg.LabelIDs {
		if label == "SENT" || label == "DRAFT" {
			return nil, nil
		}
	}

	header := func(name string) string {
		for _, h := range msg.Payload.Headers {
			if strings.EqualFold(h.Name, name) {
				return h.Value
			}
		}
		return ""
	}

	fromName, fromAddr := parseAddress(header("From"))
	if fromAddr == "" {
		return nil, nil
	}
	body := decodeGmailBody(&msg)
	if strings.TrimSpace(body) == "" {
		return nil, nil
	}

	messageID := header("Message-ID")
	return &InboundMessage{
		Platform:          model.PlatformEmail,
		ExternalMessageID: msg.ID,
		ExternalThreadKey: msg.ThreadID,
		SenderExternalID:  fromAddr,
		SenderDisplayName: fromName,
		SenderEmail:       fromAddr,
		Body:              strings.TrimSpace(body),
		ReplyTarget: map[string]string{
			"message_id": messageID,
			"subject":    header("Subject"),
			"to":         fromAddr,
		},
		RawMetadata: map[string]string{
			"email_subject": header("Subject"),
		},
	}, nil
}

func (a *EmailAdapter) getJSON(ctx context.Context, creds model.Credentials, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gmail request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("gmail request: status %d: %s", resp.StatusCode, b)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeGmailBody(msg *gmailMessage) string {
	decode := func(data string) string {
		b, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(data)
		if err != nil {
			return ""
		}
		return string(b)
	}
	if msg.Payload.MimeType == "text/plain" && msg.Payload.Body.Data != "" {
		return decode(msg.Payload.Body.Data)
	}
	for _, part := range msg.Payload.Parts {
		if part.MimeType == "text/plain" && part.Body.Data != "" {
			return decode(part.Body.Data)
		}
	}
	return ""
}

// parseAddress splits "Display Name <addr@host>" into its parts. A bare
// address yields an empty display name.
func parseAddress(raw string) (name, addr string) {
	raw = strings.TrimSpace(raw)
	if i := strings.LastIndex(raw, "<"); i >= 0 {
		addr = strings.Trim(raw[i:], "<>")
		name = strings.Trim(strings.TrimSpace(raw[:i]), `"`)
		return name, strings.ToLower(addr)
	}
	return "", strings.ToLower(raw)
}
