package service

import (
	"fmt"
	"log/slog"

	"omnidesk.app/core/common/llm"
	"omnidesk.app/core/core/config"
	"omnidesk.app/core/internal/channel"
	"omnidesk.app/core/internal/model"
	"omnidesk.app/core/internal/queue"
	"omnidesk.app/core/internal/service/sender"
	"omnidesk.app/core/internal/service/tracker"
	"omnidesk.app/core/internal/store"
)

// Services wires the domain services over shared stores. Construction
// happens once per process; accessors return ready-to-use services.
type Services struct {
	stores   *store.Stores
	txRunner TxRunner
	cfg      config.Config
	producer queue.Producer
	cache    KVCache

	credentials *CredentialService
	adapters    *channel.Registry
	senders     *sender.Registry
	clients     map[model.AIProvider]llm.Client
	redactor    *Redactor
	taskCreator tracker.TaskCreator
}

func NewServices(stores *store.Stores, txRunner TxRunner, cfg config.Config, producer queue.Producer, cache KVCache) (*Services, error) {
	credentials, err := NewCredentialService(cfg.Credentials.EncryptionKey, stores.Connections(), nil)
	if err != nil {
		return nil, fmt.Errorf("building credential service: %w", err)
	}

	var taskCreator tracker.TaskCreator
	if cfg.Tracker.Enabled() {
		taskCreator, err = tracker.NewGitLabTracker(cfg.Tracker.BaseURL, cfg.Tracker.Token, cfg.Tracker.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("building tracker client: %w", err)
		}
	}

	return &Services{
		stores:      stores,
		txRunner:    txRunner,
		cfg:         cfg,
		producer:    producer,
		cache:       cache,
		credentials: credentials,
		adapters:    channel.DefaultRegistry(),
		senders: sender.NewRegistry(
			sender.NewSlackSender(nil),
			sender.NewDiscordSender(nil),
			sender.NewTelegramSender(nil),
			sender.NewTwilioSender(nil),
			sender.NewMetaSender(nil),
			sender.NewWidgetSender(),
		),
		clients:     buildLLMClients(cfg),
		redactor:    NewRedactor(),
		taskCreator: taskCreator,
	}, nil
}

func (s *Services) Credentials() *CredentialService { return s.credentials }

func (s *Services) Tx() TxRunner { return s.txRunner }

func (s *Services) Adapters() *channel.Registry { return s.adapters }

func (s *Services) Identity() *IdentityResolver {
	return NewIdentityResolver(s.stores.Members())
}

func (s *Services) Threader() *Threader {
	return NewThreader(s.stores.Tickets())
}

func (s *Services) Assigner() *Assigner {
	return NewAssigner(s.stores.Members(), s.stores.Settings(), s.stores.Tickets())
}

func (s *Services) Triage() *TriageEngine {
	return NewTriageEngine(s.clients, s.redactor, s.Assigner())
}

func (s *Services) Relay() *Relay {
	return NewRelay(
		s.stores.Tickets(),
		s.stores.Connections(),
		s.stores.Organizations(),
		s.stores.Members(),
		s.credentials,
		s.senders,
		s.producer,
	)
}

func (s *Services) EmailSender() *sender.EmailSender {
	return sender.NewEmailSender(
		s.cfg.SMTP.Host,
		s.cfg.SMTP.Port,
		s.cfg.SMTP.Username,
		s.cfg.SMTP.Password,
		s.cfg.SMTP.From,
	)
}

func (s *Services) Recurring() *RecurringDetector {
	return NewRecurringDetector(
		s.stores.Tickets(),
		s.stores.Settings(),
		s.stores.Organizations(),
		s.clients,
		s.redactor,
		s.taskCreator,
	)
}

func (s *Services) Analytics() *AnalyticsService {
	return NewAnalyticsService(s.stores.Tickets(), s.stores.Stats())
}

func (s *Services) Ingest() *IngestService {
	return NewIngestService(
		s.stores.Connections(),
		s.adapters,
		s.Identity(),
		s.Threader(),
		s.credentials,
		s.producer,
		s.stores.Tickets(),
	)
}

func (s *Services) WidgetSessions() *WidgetSessions {
	return NewWidgetSessions(s.cache)
}

// buildLLMClients constructs one client per configured compliance tier.
// Organizations whose settings name an unconfigured provider fall back
// to human assignment in triage.
func buildLLMClients(cfg config.Config) map[model.AIProvider]llm.Client {
	clients := make(map[model.AIProvider]llm.Client)

	add := func(provider model.AIProvider, c config.LLMConfig) {
		if !c.Enabled() {
			return
		}
		client, err := llm.New(llm.Config{
			Provider: c.Provider,
			APIKey:   c.APIKey,
			BaseURL:  c.BaseURL,
			Model:    c.Model,
		})
		if err != nil {
			slog.Warn("skipping llm provider", "provider", provider, "error", err)
			return
		}
		clients[provider] = client
	}

	add(model.AIProviderHosted, cfg.HostedLLM)
	add(model.AIProviderEnterprise, cfg.EnterpriseLLM)
	add(model.AIProviderSelfHosted, cfg.SelfHostedLLM)
	return clients
}
