package service

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/openai/openai-go"

	"omnidesk.app/core/common/llm"
	"omnidesk.app/core/internal/model"
)

var _ = Describe("TriageEngine", func() {
	var (
		ctx      context.Context
		client   *mockLLMClient
		members  *mockMemberStore
		settings *mockSettingsStore
		tickets  *mockTicketStore
		engine   *TriageEngine
	)

	ticket := &model.Ticket{
		ID:             42,
		OrganizationID: 1,
		Subject:        "Cannot log in",
		Status:         model.TicketStatusOpen,
	}

	messages := []model.TicketMessage{
		{SenderType: model.SenderCustomer, Body: "I cannot log in, my email is jo@example.com"},
	}

	aiSettings := func() *model.AISettings {
		return &model.AISettings{
			OrganizationID:      1,
			AutonomousEnabled:   true,
			AutoRespondEnabled:  true,
			ConfidenceThreshold: 0.8,
			Provider:            model.AIProviderHosted,
		}
	}

	verdict := func(canHandle bool, confidence float64, response string) func(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
		return func(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
			j := result.(*triageJudgment)
			j.CanHandle = canHandle
			j.Confidence = confidence
			j.Response = response
			return &llm.Response{}, nil
		}
	}

	BeforeEach(func() {
		ctx = context.Background()
		client = &mockLLMClient{}
		members = &mockMemberStore{
			listActiveFn: func(ctx context.Context, orgID int64) ([]model.Member, error) {
				return []model.Member{{ID: 9, IsActive: true}}, nil
			},
		}
		settings = &mockSettingsStore{}
		tickets = &mockTicketStore{}
		assigner := NewAssigner(members, settings, tickets)
		engine = NewTriageEngine(map[model.AIProvider]llm.Client{model.AIProviderHosted: client}, NewRedactor(), assigner)
	})

	It("auto-responds when the verdict clears the confidence threshold", func() {
		client.chatFn = verdict(true, 0.92, "Use the password reset link.")

		result, err := engine.Triage(ctx, ticket, messages, aiSettings())
		Expect(err).NotTo(HaveOccurred())
		Expect(result.ShouldRespond).To(BeTrue())
		Expect(result.ShouldAssign).To(BeFalse())
		Expect(result.Response).To(Equal("Use the password reset link."))
		Expect(result.Confidence).To(Equal(0.92))
	})

	It("assigns when confidence falls below the threshold", func() {
		client.chatFn = verdict(true, 0.5, "Maybe try resetting?")

		result, err := engine.Triage(ctx, ticket, messages, aiSettings())
		Expect(err).NotTo(HaveOccurred())
		Expect(result.ShouldRespond).To(BeFalse())
		Expect(result.ShouldAssign).To(BeTrue())
		Expect(result.Confidence).To(Equal(0.5))
		Expect(result.AssigneeID).To(HaveValue(Equal(int64(9))))
	})

	It("assigns when the model cannot handle the request", func() {
		client.chatFn = verdict(false, 0.95, "")

		result, err := engine.Triage(ctx, ticket, messages, aiSettings())
		Expect(err).NotTo(HaveOccurred())
		Expect(result.ShouldAssign).To(BeTrue())
	})

	It("assigns when the verdict claims handling but has no reply text", func() {
		client.chatFn = verdict(true, 0.99, "")

		result, err := engine.Triage(ctx, ticket, messages, aiSettings())
		Expect(err).NotTo(HaveOccurred())
		Expect(result.ShouldAssign).To(BeTrue())
	})

	It("skips the model entirely when autonomous processing is off", func() {
		s := aiSettings()
		s.AutonomousEnabled = false
		client.chatFn = func(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
			Fail("model must not be called when autonomy is disabled")
			return nil, nil
		}

		result, err := engine.Triage(ctx, ticket, messages, s)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.ShouldAssign).To(BeTrue())
		Expect(result.Confidence).To(BeZero())
	})

	It("assigns when no client exists for the configured provider", func() {
		s := aiSettings()
		s.Provider = model.AIProviderSelfHosted

		result, err := engine.Triage(ctx, ticket, messages, s)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.ShouldAssign).To(BeTrue())
	})

	It("propagates retryable model errors for queue retry", func() {
		client.chatFn = func(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
			return nil, &openai.Error{StatusCode: 429}
		}

		_, err := engine.Triage(ctx, ticket, messages, aiSettings())
		Expect(err).To(HaveOccurred())
	})

	It("degrades malformed model output to assignment", func() {
		client.chatFn = func(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
			return nil, errors.New("parsing structured response: unexpected end of JSON input")
		}

		result, err := engine.Triage(ctx, ticket, messages, aiSettings())
		Expect(err).NotTo(HaveOccurred())
		Expect(result.ShouldAssign).To(BeTrue())
		Expect(result.Confidence).To(BeZero())
	})

	It("clamps out-of-range confidence", func() {
		client.chatFn = verdict(true, 3.7, "Done.")

		result, err := engine.Triage(ctx, ticket, messages, aiSettings())
		Expect(err).NotTo(HaveOccurred())
		Expect(result.ShouldRespond).To(BeTrue())
		Expect(result.Confidence).To(Equal(1.0))
	})

	It("scrubs PII from the conversation digest", func() {
		var prompt string
		client.chatFn = func(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
			prompt = req.UserPrompt
			j := result.(*triageJudgment)
			j.CanHandle = false
			return &llm.Response{}, nil
		}

		_, err := engine.Triage(ctx, ticket, messages, aiSettings())
		Expect(err).NotTo(HaveOccurred())
		Expect(prompt).To(ContainSubstring("[EMAIL_1]"))
		Expect(prompt).NotTo(ContainSubstring("jo@example.com"))
	})

	It("sends raw text when the organization opted out of redaction", func() {
		s := aiSettings()
		s.RedactionDisabled = true

		var prompt string
		client.chatFn = func(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
			prompt = req.UserPrompt
			j := result.(*triageJudgment)
			j.CanHandle = false
			return &llm.Response{}, nil
		}

		_, err := engine.Triage(ctx, ticket, messages, s)
		Expect(err).NotTo(HaveOccurred())
		Expect(prompt).To(ContainSubstring("jo@example.com"))
	})

	It("excludes internal notes from the digest", func() {
		withNote := append(messages, model.TicketMessage{
			SenderType: model.SenderAgent,
			IsInternal: true,
			Body:       "customer is on the legacy plan",
		})

		var prompt string
		client.chatFn = func(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
			prompt = req.UserPrompt
			j := result.(*triageJudgment)
			j.CanHandle = false
			return &llm.Response{}, nil
		}

		_, err := engine.Triage(ctx, ticket, withNote, aiSettings())
		Expect(err).NotTo(HaveOccurred())
		Expect(prompt).NotTo(ContainSubstring("legacy plan"))
	})

	It("includes reference documents in the system prompt", func() {
		s := aiSettings()
		s.ReferenceDocuments = []string{"Password resets are self-service at /reset."}

		var system string
		client.chatFn = func(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
			system = req.SystemPrompt
			j := result.(*triageJudgment)
			j.CanHandle = false
			return &llm.Response{}, nil
		}

		_, err := engine.Triage(ctx, ticket, messages, s)
		Expect(err).NotTo(HaveOccurred())
		Expect(system).To(ContainSubstring("Password resets are self-service"))
	})

	It("rejects invalid settings", func() {
		s := aiSettings()
		s.ConfidenceThreshold = 1.5

		_, err := engine.Triage(ctx, ticket, messages, s)
		Expect(err).To(HaveOccurred())
	})
})
