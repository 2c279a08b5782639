package service

import (
	"context"
	"fmt"
	"log/slog"

	"omnidesk.app/core/internal/model"
	"omnidesk.app/core/internal/store"
)

// Assigner picks a human assignee for tickets triage could not resolve.
// Strategy is configuration per organization, not a code branch at call
// sites.
type Assigner struct {
	members  store.MemberStore
	settings store.SettingsStore
	tickets  store.TicketStore
}

func NewAssigner(members store.MemberStore, settings store.SettingsStore, tickets store.TicketStore) *Assigner {
	return &Assigner{members: members, settings: settings, tickets: tickets}
}

// Pick returns nil when the organization has no active members; the
// ticket then stays unassigned rather than erroring.
func (a *Assigner) Pick(ctx context.Context, orgID int64, strategy model.AssignmentStrategy) (*int64, error) {
	members, err := a.members.ListActive(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("listing active members: %w", err)
	}
	if len(members) == 0 {
		slog.WarnContext(ctx, "no active members to assign", "organization_id", orgID)
		return nil, nil
	}

	switch strategy {
	case model.AssignLeastBusy:
		return a.pickLeastBusy(ctx, orgID, members)
	default:
		return a.pickRoundRobin(ctx, orgID, members)
	}
}

// pickRoundRobin advances a persistent per-organization cursor so the
// rotation survives restarts and is shared across worker processes.
func (a *Assigner) pickRoundRobin(ctx context.Context, orgID int64, members []model.Member) (*int64, error) {
	cursor, err := a.settings.NextAssignmentCursor(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("advancing assignment cursor: %w", err)
	}
	id := members[cursor%int64(len(members))].ID
	return &id, nil
}

func (a *Assigner) pickLeastBusy(ctx context.Context, orgID int64, members []model.Member) (*int64, error) {
	counts, err := a.tickets.CountOpenByAssignee(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("counting open tickets per assignee: %w", err)
	}

	best := members[0].ID
	bestCount := counts[best]
	for _, m := range members[1:] {
		if c := counts[m.ID]; c < bestCount {
			best, bestCount = m.ID, c
		}
	}
	return &best, nil
}
