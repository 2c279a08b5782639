// Package tracker files recurring issues as tasks on an external
// project tracker.
package tracker

import (
	"context"
	"fmt"
	"strings"

	gitlab "gitlab.com/gitlab-org/api/client-go"

	"omnidesk.app/core/internal/model"
)

// TaskCreator opens one tracker task for one recurring issue and
// returns its URL.
type TaskCreator interface {
	CreateTask(ctx context.Context, orgName string, issue model.RecurringIssue) (string, error)
}

type gitLabTracker struct {
	client    *gitlab.Client
	projectID string
}

func NewGitLabTracker(baseURL, token, projectID string) (TaskCreator, error) {
	var (
		client *gitlab.Client
		err    error
	)
	if baseURL == "" {
		client, err = gitlab.NewClient(token)
	} else {
		client, err = gitlab.NewClient(token, gitlab.WithBaseURL(baseURL))
	}
	if err != nil {
		return nil, fmt.Errorf("creating gitlab client: %w", err)
	}

	return &gitLabTracker{client: client, projectID: projectID}, nil
}

func (t *gitLabTracker) CreateTask(ctx context.Context, orgName string, issue model.RecurringIssue) (string, error) {
	title := fmt.Sprintf("[recurring] %s", issue.Description)
	labels := gitlab.LabelOptions{"recurring-issue", "severity::" + string(issue.Severity)}

	created, _, err := t.client.Issues.CreateIssue(t.projectID, &gitlab.CreateIssueOptions{
		Title:       gitlab.Ptr(title),
		Description: gitlab.Ptr(t.taskBody(orgName, issue)),
		Labels:      &labels,
	}, gitlab.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("creating tracker task: %w", err)
	}

	return created.WebURL, nil
}

func (t *gitLabTracker) taskBody(orgName string, issue model.RecurringIssue) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Recurring support issue for **%s**.\n\n", orgName)
	fmt.Fprintf(&b, "- Occurrences: %d\n", issue.OccurrenceCount)
	fmt.Fprintf(&b, "- Affected customers: %d\n", issue.AffectedCustomers)
	fmt.Fprintf(&b, "- Severity: %s\n", issue.Severity)
	fmt.Fprintf(&b, "- Ticket ids: %s\n", joinIDs(issue.TicketIDs))
	if issue.SuggestedFix != "" {
		fmt.Fprintf(&b, "\nSuggested remediation:\n\n%s\n", issue.SuggestedFix)
	}
	return b.String()
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%d", id)
	}
	return strings.Join(parts, ", ")
}
