package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"omnidesk.app/core/common/llm"
	"omnidesk.app/core/common/logger"
	"omnidesk.app/core/internal/model"
)

const triageSystemPrompt = `You are a support triage assistant. You receive one customer conversation and must judge whether it can be resolved autonomously with a single reply.

Rules:
- Only claim you can handle the request when the reference documents or general product knowledge actually cover it.
- confidence is your honest probability (0 to 1) that the proposed reply fully resolves the request.
- Placeholders like [EMAIL_1] or [PHONE_2] mark redacted customer data. Never guess their contents and never include such placeholders in your reply text.
- The reply must be polite, concise, and contain no internal reasoning.`

const maxDigestMessages = 10

// triageJudgment is the structured verdict the model must return.
type triageJudgment struct {
	CanHandle  bool    `json:"can_handle" jsonschema_description:"Whether the request can be fully resolved with the proposed reply"`
	Confidence float64 `json:"confidence" jsonschema_description:"Probability between 0 and 1 that the reply resolves the request"`
	Response   string  `json:"response" jsonschema_description:"The proposed reply to send to the customer, empty if can_handle is false"`
}

var triageSchema = llm.GenerateSchema[triageJudgment]()

// TriageResult is the decision for one inbound message. ShouldRespond
// and ShouldAssign are mutually exclusive; exactly one is set.
type TriageResult struct {
	ShouldRespond bool
	Response      string
	Confidence    float64
	ShouldAssign  bool
	AssigneeID    *int64
}

// TriageEngine is a pure decision function over already-fetched state
// plus one external model call. Side effects (persisting the reply,
// assigning, delivering) belong to the caller.
type TriageEngine struct {
	clients  map[model.AIProvider]llm.Client
	redactor *Redactor
	assigner *Assigner
}

func NewTriageEngine(clients map[model.AIProvider]llm.Client, redactor *Redactor, assigner *Assigner) *TriageEngine {
	return &TriageEngine{
		clients:  clients,
		redactor: redactor,
		assigner: assigner,
	}
}

// Triage runs the two sequential decisions: the eligibility gate, then
// the confidence gate over the model's structured verdict.
func (e *TriageEngine) Triage(ctx context.Context, ticket *model.Ticket, messages []model.TicketMessage, settings *model.AISettings) (*TriageResult, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		OrganizationID: &ticket.OrganizationID,
		TicketID:       &ticket.ID,
		Component:      "core.service.triage",
	})

	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ai settings: %w", err)
	}

	if !settings.AutonomousEnabled || !settings.AutoRespondEnabled {
		slog.InfoContext(ctx, "autonomous processing disabled, assigning to human")
		return e.assign(ctx, ticket, settings, 0)
	}

	client, ok := e.clients[settings.Provider]
	if !ok || client == nil {
		slog.WarnContext(ctx, "no client configured for provider, assigning to human",
			"provider", settings.Provider)
		return e.assign(ctx, ticket, settings, 0)
	}

	digest := e.conversationDigest(ticket, messages, settings)

	var judgment triageJudgment
	if _, err := client.Chat(ctx, llm.Request{
		SystemPrompt: e.systemPrompt(settings),
		UserPrompt:   digest,
		SchemaName:   "triage_judgment",
		Schema:       triageSchema,
		Temperature:  llm.Temp(0),
	}, &judgment); err != nil {
		// Malformed or failed model output degrades to human hand-off,
		// never to an error surfaced up the pipeline.
		if llm.IsRetryable(ctx, err) {
			return nil, fmt.Errorf("triage model call: %w", err)
		}
		slog.WarnContext(ctx, "triage model output unusable, assigning to human", "error", err)
		return e.assign(ctx, ticket, settings, 0)
	}

	confidence := clamp01(judgment.Confidence)
	if judgment.CanHandle && judgment.Response != "" && confidence >= settings.ConfidenceThreshold {
		slog.InfoContext(ctx, "triage verdict: auto-respond",
			"confidence", confidence,
			"threshold", settings.ConfidenceThreshold)
		return &TriageResult{
			ShouldRespond: true,
			Response:      judgment.Response,
			Confidence:    confidence,
		}, nil
	}

	slog.InfoContext(ctx, "triage verdict: hand off to human",
		"can_handle", judgment.CanHandle,
		"confidence", confidence,
		"threshold", settings.ConfidenceThreshold)
	return e.assign(ctx, ticket, settings, confidence)
}

func (e *TriageEngine) assign(ctx context.Context, ticket *model.Ticket, settings *model.AISettings, confidence float64) (*TriageResult, error) {
	assigneeID, err := e.assigner.Pick(ctx, ticket.OrganizationID, settings.AssignmentStrategy)
	if err != nil {
		return nil, fmt.Errorf("picking assignee: %w", err)
	}
	return &TriageResult{
		ShouldAssign: true,
		AssigneeID:   assigneeID,
		Confidence:   confidence,
	}, nil
}

func (e *TriageEngine) systemPrompt(settings *model.AISettings) string {
	if len(settings.ReferenceDocuments) == 0 {
		return triageSystemPrompt
	}

	var b strings.Builder
	b.WriteString(triageSystemPrompt)
	b.WriteString("\n\nReference documents:\n")
	for i, doc := range settings.ReferenceDocuments {
		fmt.Fprintf(&b, "--- Document %d ---\n%s\n", i+1, logger.Truncate(doc, 4000))
	}
	return b.String()
}

// conversationDigest renders the recent messages oldest-first, with PII
// scrubbed unless the organization opted out.
func (e *TriageEngine) conversationDigest(ticket *model.Ticket, messages []model.TicketMessage, settings *model.AISettings) string {
	if len(messages) > maxDigestMessages {
		messages = messages[len(messages)-maxDigestMessages:]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Subject: %s\n\n", e.scrub(ticket.Subject, settings))
	for _, m := range messages {
		if m.IsInternal {
			continue
		}
		fmt.Fprintf(&b, "[%s] %s\n", m.SenderType, e.scrub(m.Body, settings))
	}
	return b.String()
}

func (e *TriageEngine) scrub(text string, settings *model.AISettings) string {
	if settings.RedactionDisabled {
		return text
	}
	return e.redactor.Redact(text).Text
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
