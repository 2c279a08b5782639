package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"omnidesk.app/core/internal/model"
	"omnidesk.app/core/internal/store"
)

// IdentityResolver decides whether an inbound sender is an internal team
// member. Internal senders never create tickets: an agent answering in a
// Slack thread must not open a ticket against their own organization.
type IdentityResolver struct {
	members store.MemberStore
}

func NewIdentityResolver(members store.MemberStore) *IdentityResolver {
	return &IdentityResolver{members: members}
}

// IsInternal resolves in order: exact case-insensitive match against
// active member emails, then the platform-linked identity hint. First
// match wins; no match means external.
func (r *IdentityResolver) IsInternal(ctx context.Context, orgID int64, senderEmail string, platform model.Platform, senderExternalID string) (bool, error) {
	email := strings.ToLower(strings.TrimSpace(senderEmail))
	if email != "" {
		member, err := r.members.GetByEmail(ctx, orgID, email)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return false, fmt.Errorf("looking up member by email: %w", err)
		}
		if member != nil && member.IsActive {
			return true, nil
		}
	}

	if senderExternalID != "" {
		member, err := r.members.GetByLinkedIdentity(ctx, orgID, platform, senderExternalID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return false, fmt.Errorf("looking up member by linked identity: %w", err)
		}
		if member != nil && member.IsActive {
			return true, nil
		}
	}

	return false, nil
}
