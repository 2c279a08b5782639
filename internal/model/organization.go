package model

import "time"

type Organization struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	IsDeleted bool      `json:"-"` // internal, not exposed in API
}

// Member is a support-team member of an organization. LinkedIdentities
// maps a platform to the member's external user id on that platform
// (e.g. their Slack user id), used to suppress ticket creation for the
// team's own platform activity.
type Member struct {
	ID               int64             `json:"id"`
	OrganizationID   int64             `json:"organization_id"`
	Name             string            `json:"name"`
	Email            string            `json:"email"`
	IsActive         bool              `json:"is_active"`
	LinkedIdentities map[Platform]string `json:"linked_identities,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}
