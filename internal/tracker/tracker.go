// Package tracker selects the next eligible task from the issue tracker.
//
// Selection is read-only: claiming a task (label changes, comments) is the
// publication controller's job and only happens once a pipeline pass has
// actually run.
package tracker

import (
	"context"
	"fmt"
	"sort"

	"ouroboros/internal/github"
)

// Labels names the three tracker labels the loop understands.
type Labels struct {
	Task   string // marks an issue as a task request
	Failed string // set after an exhausted pipeline pass
	Retry  string // human opt-in to re-run a failed task
}

// Task is one unit of requested change.
type Task struct {
	Number int
	Title  string
	Body   string
	Retry  bool // true when claimed via the retry label
}

// Description returns the text handed to the generation service. The title
// carries the task; the body, when present, adds detail.
func (t Task) Description() string {
	if t.Body == "" {
		return t.Title
	}
	return t.Title + "\n\n" + t.Body
}

// IssueLister is the tracker read surface the source depends on.
type IssueLister interface {
	ListIssues(ctx context.Context, label string) ([]github.Issue, error)
}

// Source fetches and orders pending task requests.
type Source struct {
	client IssueLister
	labels Labels
}

// NewSource creates a task source.
func NewSource(client IssueLister, labels Labels) *Source {
	return &Source{client: client, labels: labels}
}

// Next returns the oldest eligible task, or nil when there is none. Issues
// carrying the failed label are skipped unless they also carry the retry
// label. Oldest-created first keeps processing fair and starvation bounded.
func (s *Source) Next(ctx context.Context) (*Task, error) {
	issues, err := s.client.ListIssues(ctx, s.labels.Task)
	if err != nil {
		return nil, fmt.Errorf("failed to list task issues: %w", err)
	}

	eligible := issues[:0]
	for _, issue := range issues {
		if issue.HasLabel(s.labels.Failed) && !issue.HasLabel(s.labels.Retry) {
			continue
		}
		eligible = append(eligible, issue)
	}
	if len(eligible) == 0 {
		return nil, nil
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		if !eligible[i].CreatedAt.Equal(eligible[j].CreatedAt) {
			return eligible[i].CreatedAt.Before(eligible[j].CreatedAt)
		}
		return eligible[i].Number < eligible[j].Number
	})

	issue := eligible[0]
	return &Task{
		Number: issue.Number,
		Title:  issue.Title,
		Body:   issue.Body,
		Retry:  issue.HasLabel(s.labels.Retry),
	}, nil
}
