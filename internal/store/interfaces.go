package store

import (
	"context"
	"errors"
	"time"

	"omnidesk.app/core/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateThread is returned when a ticket create loses the
// find-or-create race: another ticket for the same (organization,
// connection, customer, thread key) is already open. Callers must fall
// back to finding the winner.
var ErrDuplicateThread = errors.New("open ticket already exists for thread key")

// OrganizationStore defines the contract for organization data access
type OrganizationStore interface {
	GetByID(ctx context.Context, id int64) (*model.Organization, error)
	GetBySlug(ctx context.Context, slug string) (*model.Organization, error)
	Create(ctx context.Context, org *model.Organization) error
	Update(ctx context.Context, org *model.Organization) error
	Delete(ctx context.Context, id int64) error // soft delete
	List(ctx context.Context) ([]model.Organization, error)
}

// MemberStore defines the contract for organization member data access
type MemberStore interface {
	GetByID(ctx context.Context, id int64) (*model.Member, error)
	GetByEmail(ctx context.Context, orgID int64, email string) (*model.Member, error)
	GetByLinkedIdentity(ctx context.Context, orgID int64, platform model.Platform, externalID string) (*model.Member, error)
	ListActive(ctx context.Context, orgID int64) ([]model.Member, error)
	Create(ctx context.Context, member *model.Member) error
	Update(ctx context.Context, member *model.Member) error
}

// ConnectionStore defines the contract for channel connection data access
type ConnectionStore interface {
	GetByID(ctx context.Context, id int64) (*model.ChannelConnection, error)
	ListActiveByOrganization(ctx context.Context, orgID int64) ([]model.ChannelConnection, error)
	ListActiveByPlatform(ctx context.Context, platform model.Platform) ([]model.ChannelConnection, error)
	Create(ctx context.Context, conn *model.ChannelConnection) error
	UpdateCredentials(ctx context.Context, id int64, encrypted []byte) error
	UpdateCursor(ctx context.Context, id int64, cursor string) error
	Deactivate(ctx context.Context, id int64) error
	Flag(ctx context.Context, id int64, reason string) error
}

// TicketStore defines the contract for ticket and ticket message access.
// Create enforces the open-thread uniqueness invariant via a partial
// unique index and surfaces races as ErrDuplicateThread.
type TicketStore interface {
	GetByID(ctx context.Context, id int64) (*model.Ticket, error)
	FindOpenByThreadKey(ctx context.Context, orgID int64, connectionID int64, customerEmail, threadKey string) (*model.Ticket, error)
	Create(ctx context.Context, ticket *model.Ticket) error
	AppendMessage(ctx context.Context, msg *model.TicketMessage) error
	ListMessages(ctx context.Context, ticketID int64) ([]model.TicketMessage, error)
	MergeMetadata(ctx context.Context, ticketID int64, metadata map[string]string) error
	UpdateStatus(ctx context.Context, ticketID int64, status model.TicketStatus) error
	Assign(ctx context.Context, ticketID int64, assigneeID int64) error
	ListSince(ctx context.Context, orgID int64, since time.Time, limit int32) ([]model.Ticket, error)
	CountOpenByAssignee(ctx context.Context, orgID int64) (map[int64]int, error)
	SeenExternalMessage(ctx context.Context, connectionID int64, externalMessageID string) (bool, error)
	CountDaily(ctx context.Context, orgID int64, day time.Time) (*model.DailyStats, error)
}

// SettingsStore defines the contract for per-organization AI settings.
type SettingsStore interface {
	Get(ctx context.Context, orgID int64) (*model.AISettings, error)
	Upsert(ctx context.Context, settings *model.AISettings) error
	// NextAssignmentCursor atomically advances and returns the
	// organization's round-robin position.
	NextAssignmentCursor(ctx context.Context, orgID int64) (int64, error)
}

// StatsStore persists the analytics aggregates.
type StatsStore interface {
	UpsertDaily(ctx context.Context, stats *model.DailyStats) error
	GetDaily(ctx context.Context, orgID int64, day time.Time) (*model.DailyStats, error)
}
