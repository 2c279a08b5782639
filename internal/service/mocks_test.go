package service

import (
	"context"
	"time"

	"omnidesk.app/core/common/llm"
	"omnidesk.app/core/internal/model"
	"omnidesk.app/core/internal/queue"
	"omnidesk.app/core/internal/service/sender"
	"omnidesk.app/core/internal/store"
)

type mockTicketStore struct {
	getByIDFn             func(ctx context.Context, id int64) (*model.Ticket, error)
	findOpenByThreadKeyFn func(ctx context.Context, orgID, connectionID int64, customerEmail, threadKey string) (*model.Ticket, error)
	createFn              func(ctx context.Context, ticket *model.Ticket) error
	appendMessageFn       func(ctx context.Context, msg *model.TicketMessage) error
	listMessagesFn        func(ctx context.Context, ticketID int64) ([]model.TicketMessage, error)
	mergeMetadataFn       func(ctx context.Context, ticketID int64, metadata map[string]string) error
	updateStatusFn        func(ctx context.Context, ticketID int64, status model.TicketStatus) error
	assignFn              func(ctx context.Context, ticketID, assigneeID int64) error
	listSinceFn           func(ctx context.Context, orgID int64, since time.Time, limit int32) ([]model.Ticket, error)
	countOpenByAssigneeFn func(ctx context.Context, orgID int64) (map[int64]int, error)
	seenExternalMessageFn func(ctx context.Context, connectionID int64, externalMessageID string) (bool, error)
	countDailyFn          func(ctx context.Context, orgID int64, day time.Time) (*model.DailyStats, error)
}

func (m *mockTicketStore) GetByID(ctx context.Context, id int64) (*model.Ticket, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, store.ErrNotFound
}

func (m *mockTicketStore) FindOpenByThreadKey(ctx context.Context, orgID, connectionID int64, customerEmail, threadKey string) (*model.Ticket, error) {
	if m.findOpenByThreadKeyFn != nil {
		return m.findOpenByThreadKeyFn(ctx, orgID, connectionID, customerEmail, threadKey)
	}
	return nil, store.ErrNotFound
}

func (m *mockTicketStore) Create(ctx context.Context, ticket *model.Ticket) error {
	if m.createFn != nil {
		return m.createFn(ctx, ticket)
	}
	return nil
}

func (m *mockTicketStore) AppendMessage(ctx context.Context, msg *model.TicketMessage) error {
	if m.appendMessageFn != nil {
		return m.appendMessageFn(ctx, msg)
	}
	return nil
}

func (m *mockTicketStore) ListMessages(ctx context.Context, ticketID int64) ([]model.TicketMessage, error) {
	if m.listMessagesFn != nil {
		return m.listMessagesFn(ctx, ticketID)
	}
	return nil, nil
}

func (m *mockTicketStore) MergeMetadata(ctx context.Context, ticketID int64, metadata map[string]string) error {
	if m.mergeMetadataFn != nil {
		return m.mergeMetadataFn(ctx, ticketID, metadata)
	}
	return nil
}

func (m *mockTicketStore) UpdateStatus(ctx context.Context, ticketID int64, status model.TicketStatus) error {
	if m.updateStatusFn != nil {
		return m.updateStatusFn(ctx, ticketID, status)
	}
	return nil
}

func (m *mockTicketStore) Assign(ctx context.Context, ticketID, assigneeID int64) error {
	if m.assignFn != nil {
		return m.assignFn(ctx, ticketID, assigneeID)
	}
	return nil
}

func (m *mockTicketStore) ListSince(ctx context.Context, orgID int64, since time.Time, limit int32) ([]model.Ticket, error) {
	if m.listSinceFn != nil {
		return m.listSinceFn(ctx, orgID, since, limit)
	}
	return nil, nil
}

func (m *mockTicketStore) CountOpenByAssignee(ctx context.Context, orgID int64) (map[int64]int, error) {
	if m.countOpenByAssigneeFn != nil {
		return m.countOpenByAssigneeFn(ctx, orgID)
	}
	return nil, nil
}

func (m *mockTicketStore) SeenExternalMessage(ctx context.Context, connectionID int64, externalMessageID string) (bool, error) {
	if m.seenExternalMessageFn != nil {
		return m.seenExternalMessageFn(ctx, connectionID, externalMessageID)
	}
	return false, nil
}

func (m *mockTicketStore) CountDaily(ctx context.Context, orgID int64, day time.Time) (*model.DailyStats, error) {
	if m.countDailyFn != nil {
		return m.countDailyFn(ctx, orgID, day)
	}
	return &model.DailyStats{OrganizationID: orgID, Day: day}, nil
}

type mockMemberStore struct {
	getByIDFn             func(ctx context.Context, id int64) (*model.Member, error)
	getByEmailFn          func(ctx context.Context, orgID int64, email string) (*model.Member, error)
	getByLinkedIdentityFn func(ctx context.Context, orgID int64, platform model.Platform, externalID string) (*model.Member, error)
	listActiveFn          func(ctx context.Context, orgID int64) ([]model.Member, error)
}

func (m *mockMemberStore) GetByID(ctx context.Context, id int64) (*model.Member, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, store.ErrNotFound
}

func (m *mockMemberStore) GetByEmail(ctx context.Context, orgID int64, email string) (*model.Member, error) {
	if m.getByEmailFn != nil {
		return m.getByEmailFn(ctx, orgID, email)
	}
	return nil, store.ErrNotFound
}

func (m *mockMemberStore) GetByLinkedIdentity(ctx context.Context, orgID int64, platform model.Platform, externalID string) (*model.Member, error) {
	if m.getByLinkedIdentityFn != nil {
		return m.getByLinkedIdentityFn(ctx, orgID, platform, externalID)
	}
	return nil, store.ErrNotFound
}

func (m *mockMemberStore) ListActive(ctx context.Context, orgID int64) ([]model.Member, error) {
	if m.listActiveFn != nil {
		return m.listActiveFn(ctx, orgID)
	}
	return nil, nil
}

func (m *mockMemberStore) Create(ctx context.Context, member *model.Member) error { return nil }
func (m *mockMemberStore) Update(ctx context.Context, member *model.Member) error { return nil }

type mockConnectionStore struct {
	getByIDFn              func(ctx context.Context, id int64) (*model.ChannelConnection, error)
	listActiveByPlatformFn func(ctx context.Context, platform model.Platform) ([]model.ChannelConnection, error)
	updateCredentialsFn    func(ctx context.Context, id int64, encrypted []byte) error
	updateCursorFn         func(ctx context.Context, id int64, cursor string) error
	flagFn                 func(ctx context.Context, id int64, reason string) error
}

func (m *mockConnectionStore) GetByID(ctx context.Context, id int64) (*model.ChannelConnection, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, store.ErrNotFound
}

func (m *mockConnectionStore) ListActiveByOrganization(ctx context.Context, orgID int64) ([]model.ChannelConnection, error) {
	return nil, nil
}

func (m *mockConnectionStore) ListActiveByPlatform(ctx context.Context, platform model.Platform) ([]model.ChannelConnection, error) {
	if m.listActiveByPlatformFn != nil {
		return m.listActiveByPlatformFn(ctx, platform)
	}
	return nil, nil
}

func (m *mockConnectionStore) Create(ctx context.Context, conn *model.ChannelConnection) error {
	return nil
}

func (m *mockConnectionStore) UpdateCredentials(ctx context.Context, id int64, encrypted []byte) error {
	if m.updateCredentialsFn != nil {
		return m.updateCredentialsFn(ctx, id, encrypted)
	}
	return nil
}

func (m *mockConnectionStore) UpdateCursor(ctx context.Context, id int64, cursor string) error {
	if m.updateCursorFn != nil {
		return m.updateCursorFn(ctx, id, cursor)
	}
	return nil
}

func (m *mockConnectionStore) Deactivate(ctx context.Context, id int64) error { return nil }

func (m *mockConnectionStore) Flag(ctx context.Context, id int64, reason string) error {
	if m.flagFn != nil {
		return m.flagFn(ctx, id, reason)
	}
	return nil
}

type mockOrganizationStore struct {
	getByIDFn func(ctx context.Context, id int64) (*model.Organization, error)
	listFn    func(ctx context.Context) ([]model.Organization, error)
}

func (m *mockOrganizationStore) GetByID(ctx context.Context, id int64) (*model.Organization, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, store.ErrNotFound
}

func (m *mockOrganizationStore) GetBySlug(ctx context.Context, slug string) (*model.Organization, error) {
	return nil, store.ErrNotFound
}

func (m *mockOrganizationStore) Create(ctx context.Context, org *model.Organization) error { return nil }
func (m *mockOrganizationStore) Update(ctx context.Context, org *model.Organization) error { return nil }
func (m *mockOrganizationStore) Delete(ctx context.Context, id int64) error                { return nil }

func (m *mockOrganizationStore) List(ctx context.Context) ([]model.Organization, error) {
	if m.listFn != nil {
		return m.listFn(ctx)
	}
	return nil, nil
}

type mockSettingsStore struct {
	getFn                  func(ctx context.Context, orgID int64) (*model.AISettings, error)
	nextAssignmentCursorFn func(ctx context.Context, orgID int64) (int64, error)
}

func (m *mockSettingsStore) Get(ctx context.Context, orgID int64) (*model.AISettings, error) {
	if m.getFn != nil {
		return m.getFn(ctx, orgID)
	}
	return nil, store.ErrNotFound
}

func (m *mockSettingsStore) Upsert(ctx context.Context, settings *model.AISettings) error {
	return nil
}

func (m *mockSettingsStore) NextAssignmentCursor(ctx context.Context, orgID int64) (int64, error) {
	if m.nextAssignmentCursorFn != nil {
		return m.nextAssignmentCursorFn(ctx, orgID)
	}
	return 0, nil
}

type mockStatsStore struct {
	upsertDailyFn func(ctx context.Context, stats *model.DailyStats) error
}

func (m *mockStatsStore) UpsertDaily(ctx context.Context, stats *model.DailyStats) error {
	if m.upsertDailyFn != nil {
		return m.upsertDailyFn(ctx, stats)
	}
	return nil
}

func (m *mockStatsStore) GetDaily(ctx context.Context, orgID int64, day time.Time) (*model.DailyStats, error) {
	return nil, store.ErrNotFound
}

type mockProducer struct {
	enqueueFn          func(ctx context.Context, task queue.Task) error
	enqueueScheduledFn func(ctx context.Context, task queue.Task) (bool, error)
	tasks              []queue.Task
}

func (m *mockProducer) Enqueue(ctx context.Context, task queue.Task) error {
	m.tasks = append(m.tasks, task)
	if m.enqueueFn != nil {
		return m.enqueueFn(ctx, task)
	}
	return nil
}

func (m *mockProducer) EnqueueScheduled(ctx context.Context, task queue.Task) (bool, error) {
	if m.enqueueScheduledFn != nil {
		return m.enqueueScheduledFn(ctx, task)
	}
	return true, nil
}

func (m *mockProducer) Close() error { return nil }

type mockLLMClient struct {
	chatFn func(ctx context.Context, req llm.Request, result any) (*llm.Response, error)
}

func (m *mockLLMClient) Chat(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
	if m.chatFn != nil {
		return m.chatFn(ctx, req, result)
	}
	return &llm.Response{}, nil
}

func (m *mockLLMClient) Model() string { return "mock" }

type mockSender struct {
	platform model.Platform
	sendFn   func(ctx context.Context, creds model.Credentials, req sender.Request) error
}

func (m *mockSender) Platform() model.Platform { return m.platform }

func (m *mockSender) Send(ctx context.Context, creds model.Credentials, req sender.Request) error {
	if m.sendFn != nil {
		return m.sendFn(ctx, creds, req)
	}
	return nil
}

type mockRefresher struct {
	refreshFn func(ctx context.Context, platform model.Platform, creds model.Credentials) (model.Credentials, error)
}

func (m *mockRefresher) Refresh(ctx context.Context, platform model.Platform, creds model.Credentials) (model.Credentials, error) {
	if m.refreshFn != nil {
		return m.refreshFn(ctx, platform, creds)
	}
	return creds, nil
}

type mockTaskCreator struct {
	createTaskFn func(ctx context.Context, orgName string, issue model.RecurringIssue) (string, error)
	created      []model.RecurringIssue
}

func (m *mockTaskCreator) CreateTask(ctx context.Context, orgName string, issue model.RecurringIssue) (string, error) {
	m.created = append(m.created, issue)
	if m.createTaskFn != nil {
		return m.createTaskFn(ctx, orgName, issue)
	}
	return "https://tracker.example/tasks/1", nil
}
