package model

import "fmt"

// AIProvider selects the model backend per organization. This is a
// compliance setting, not a code branch: all providers satisfy the same
// client interface.
type AIProvider string

const (
	AIProviderHosted     AIProvider = "hosted"
	AIProviderEnterprise AIProvider = "enterprise" // zero-data-retention hosted API
	AIProviderSelfHosted AIProvider = "self_hosted"
)

type AssignmentStrategy string

const (
	AssignRoundRobin AssignmentStrategy = "round_robin"
	AssignLeastBusy  AssignmentStrategy = "least_busy"
)

// AISettings is the per-organization triage configuration. It is
// validated at the settings boundary so use sites never re-parse it.
type AISettings struct {
	OrganizationID      int64              `json:"organization_id"`
	AutonomousEnabled   bool               `json:"autonomous_enabled"`
	AutoRespondEnabled  bool               `json:"auto_respond_enabled"`
	ConfidenceThreshold float64            `json:"confidence_threshold"`
	Provider            AIProvider         `json:"provider"`
	AssignmentStrategy  AssignmentStrategy `json:"assignment_strategy"`
	// RedactionDisabled is an explicit compliance opt-out; redaction is
	// default-on.
	RedactionDisabled  bool     `json:"redaction_disabled"`
	ReferenceDocuments []string `json:"reference_documents,omitempty"`
}

// Validate checks enumerated fields and ranges. Zero-value strategy and
// provider get defaults rather than errors so older rows keep working.
func (s *AISettings) Validate() error {
	if s.Provider == "" {
		s.Provider = AIProviderHosted
	}
	if s.AssignmentStrategy == "" {
		s.AssignmentStrategy = AssignRoundRobin
	}

	switch s.Provider {
	case AIProviderHosted, AIProviderEnterprise, AIProviderSelfHosted:
	default:
		return fmt.Errorf("unknown ai provider %q", s.Provider)
	}

	switch s.AssignmentStrategy {
	case AssignRoundRobin, AssignLeastBusy:
	default:
		return fmt.Errorf("unknown assignment strategy %q", s.AssignmentStrategy)
	}

	if s.ConfidenceThreshold < 0 || s.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence threshold %v out of range [0,1]", s.ConfidenceThreshold)
	}

	return nil
}
