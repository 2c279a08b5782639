package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"omnidesk.app/core/common/llm"
	"omnidesk.app/core/common/logger"
	"omnidesk.app/core/internal/model"
	"omnidesk.app/core/internal/service/tracker"
	"omnidesk.app/core/internal/store"
)

const (
	// minTicketVolume is the floor below which a window has too little
	// signal to cluster.
	minTicketVolume = 5
	// minGroupSize is the smallest cluster worth reporting.
	minGroupSize = 3
	// maxClusterTickets caps the digest size sent to the model.
	maxClusterTickets = 200
)

const clusterSystemPrompt = `You group customer support tickets that describe the same underlying problem.

Rules:
- Each group must represent one concrete recurring problem, not a vague theme.
- Only output groups with at least 3 tickets.
- ticket_indexes refer to the numbered tickets in the input digest.
- suggested_fix is a short remediation note for the engineering team.`

type clusterGroup struct {
	Description   string `json:"description" jsonschema_description:"One-line description of the underlying problem"`
	TicketIndexes []int  `json:"ticket_indexes" jsonschema_description:"1-based indexes of the tickets in this group"`
	SuggestedFix  string `json:"suggested_fix" jsonschema_description:"Short remediation suggestion"`
}

type clusterVerdict struct {
	Groups []clusterGroup `json:"groups"`
}

var clusterSchema = llm.GenerateSchema[clusterVerdict]()

// RecurringDetector clusters a window of an organization's tickets into
// named recurring issues and optionally files a tracker task per
// qualifying issue.
type RecurringDetector struct {
	tickets       store.TicketStore
	settings      store.SettingsStore
	organizations store.OrganizationStore
	clients       map[model.AIProvider]llm.Client
	redactor      *Redactor
	taskCreator   tracker.TaskCreator // nil disables tracker task creation
}

func NewRecurringDetector(
	tickets store.TicketStore,
	settings store.SettingsStore,
	organizations store.OrganizationStore,
	clients map[model.AIProvider]llm.Client,
	redactor *Redactor,
	taskCreator tracker.TaskCreator,
) *RecurringDetector {
	return &RecurringDetector{
		tickets:       tickets,
		settings:      settings,
		organizations: organizations,
		clients:       clients,
		redactor:      redactor,
		taskCreator:   taskCreator,
	}
}

// Detect analyzes the organization's recent tickets. Below the volume
// floor it returns no issues and no error.
func (d *RecurringDetector) Detect(ctx context.Context, orgID int64, windowDays int) ([]model.RecurringIssue, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		OrganizationID: &orgID,
		Component:      "core.service.recurring",
	})

	if windowDays <= 0 {
		windowDays = 30
	}

	since := time.Now().AddDate(0, 0, -windowDays)
	tickets, err := d.tickets.ListSince(ctx, orgID, since, maxClusterTickets)
	if err != nil {
		return nil, fmt.Errorf("listing tickets for clustering: %w", err)
	}
	if len(tickets) < minTicketVolume {
		slog.InfoContext(ctx, "ticket volume below clustering floor",
			"tickets", len(tickets),
			"floor", minTicketVolume)
		return nil, nil
	}

	settings, err := d.settings.Get(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("loading ai settings: %w", err)
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ai settings: %w", err)
	}

	client, ok := d.clients[settings.Provider]
	if !ok || client == nil {
		return nil, fmt.Errorf("no client configured for provider %q", settings.Provider)
	}

	digest, err := d.buildDigest(ctx, tickets, settings)
	if err != nil {
		return nil, err
	}

	var verdict clusterVerdict
	if _, err := client.Chat(ctx, llm.Request{
		SystemPrompt: clusterSystemPrompt,
		UserPrompt:   digest,
		SchemaName:   "ticket_clusters",
		Schema:       clusterSchema,
		Temperature:  llm.Temp(0),
	}, &verdict); err != nil {
		// Malformed output is a soft failure: no clusters this run.
		if llm.IsRetryable(ctx, err) {
			return nil, fmt.Errorf("clustering model call: %w", err)
		}
		slog.WarnContext(ctx, "clustering model output unusable, skipping run", "error", err)
		return nil, nil
	}

	issues := d.mapGroups(verdict.Groups, tickets)
	d.fileTrackerTasks(ctx, orgID, issues)

	slog.InfoContext(ctx, "recurring issue detection complete",
		"tickets_analyzed", len(tickets),
		"issues_found", len(issues))
	return issues, nil
}

// buildDigest renders the numbered ticket list the model clusters over:
// subject plus the first customer message, scrubbed per org settings.
func (d *RecurringDetector) buildDigest(ctx context.Context, tickets []model.Ticket, settings *model.AISettings) (string, error) {
	scrub := func(text string) string {
		if settings.RedactionDisabled {
			return text
		}
		return d.redactor.Redact(text).Text
	}

	var b strings.Builder
	for i, t := range tickets {
		fmt.Fprintf(&b, "%d. %s", i+1, scrub(t.Subject))
		messages, err := d.tickets.ListMessages(ctx, t.ID)
		if err != nil {
			return "", fmt.Errorf("listing messages for ticket %d: %w", t.ID, err)
		}
		for _, m := range messages {
			if m.SenderType == model.SenderCustomer {
				fmt.Fprintf(&b, " | %s", scrub(logger.Truncate(m.Body, 200)))
				break
			}
		}
		b.WriteString("\n")
	}
	return b.String(), nil
}

// mapGroups converts model group indexes back to ticket ids, drops
// undersized groups, and derives severity and affected-customer counts.
func (d *RecurringDetector) mapGroups(groups []clusterGroup, tickets []model.Ticket) []model.RecurringIssue {
	var issues []model.RecurringIssue
	for _, g := range groups {
		var (
			ids       []int64
			customers = make(map[string]struct{})
		)
		for _, idx := range g.TicketIndexes {
			if idx < 1 || idx > len(tickets) {
				continue
			}
			t := tickets[idx-1]
			ids = append(ids, t.ID)
			customers[strings.ToLower(t.CustomerEmail)] = struct{}{}
		}
		if len(ids) < minGroupSize {
			continue
		}

		issues = append(issues, model.RecurringIssue{
			Description:       g.Description,
			OccurrenceCount:   len(ids),
			AffectedCustomers: len(customers),
			TicketIDs:         ids,
			Severity:          model.SeverityForCount(len(ids)),
			SuggestedFix:      g.SuggestedFix,
		})
	}

	sort.Slice(issues, func(i, j int) bool {
		return issues[i].OccurrenceCount > issues[j].OccurrenceCount
	})
	return issues
}

// fileTrackerTasks opens one task per high-or-worse issue, deduped
// within the run on the issue description.
func (d *RecurringDetector) fileTrackerTasks(ctx context.Context, orgID int64, issues []model.RecurringIssue) {
	if d.taskCreator == nil || len(issues) == 0 {
		return
	}

	org, err := d.organizations.GetByID(ctx, orgID)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load organization for tracker tasks", "error", err)
		return
	}

	filed := make(map[string]struct{})
	for i := range issues {
		issue := &issues[i]
		if issue.Severity != model.SeverityHigh && issue.Severity != model.SeverityUrgent {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(issue.Description))
		if _, done := filed[key]; done {
			continue
		}
		filed[key] = struct{}{}

		url, err := d.taskCreator.CreateTask(ctx, org.Name, *issue)
		if err != nil {
			slog.ErrorContext(ctx, "failed to create tracker task",
				"error", err,
				"issue", issue.Description)
			continue
		}
		issue.TrackerTaskURL = &url
		slog.InfoContext(ctx, "tracker task created",
			"issue", issue.Description,
			"url", url)
	}
}
