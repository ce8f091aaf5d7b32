package evolve

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"golang.org/x/sync/errgroup"

	"ouroboros/internal/github"
	"ouroboros/internal/tracker"
)

// GitRunner executes one git command in a directory. Split out so publisher
// tests can run without a real repository.
type GitRunner interface {
	Run(ctx context.Context, dir string, args ...string) (string, error)
}

// ExecGitRunner runs git through os/exec.
type ExecGitRunner struct{}

// Run executes git with the given arguments.
func (ExecGitRunner) Run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return out.String(), fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(out.String()))
	}
	return out.String(), nil
}

// ReviewAPI is the tracker/review write surface the publisher needs.
type ReviewAPI interface {
	CreatePullRequest(ctx context.Context, pr github.PullRequest) (*github.PullRequestInfo, error)
	CreateComment(ctx context.Context, number int, body string) error
	AddLabels(ctx context.Context, number int, labels ...string) error
	RemoveLabel(ctx context.Context, number int, label string) error
	CloseIssue(ctx context.Context, number int) error
}

// Publisher terminates a pipeline pass: on success it stages the new version
// and opens a review request; on failure it labels the task and attaches the
// diagnostic. It never advances the current pointer — that happens only when
// the review request is accepted upstream.
type Publisher struct {
	git            GitRunner
	api            ReviewAPI
	workDir        string
	defaultBranch  string
	labels         tracker.Labels
	failureCeiling int
}

// NewPublisher creates a publisher.
func NewPublisher(git GitRunner, api ReviewAPI, workDir, defaultBranch string, labels tracker.Labels, failureCeiling int) *Publisher {
	if failureCeiling <= 0 {
		failureCeiling = 8192
	}
	return &Publisher{
		git:            git,
		api:            api,
		workDir:        workDir,
		defaultBranch:  defaultBranch,
		labels:         labels,
		failureCeiling: failureCeiling,
	}
}

// Publication describes a successfully opened review request.
type Publication struct {
	Branch string
	PR     *github.PullRequestInfo
}

// Publish stages everything the mutation script produced on a fresh branch
// and opens a review request for it. Every failure is a *PublicationError:
// the validated version file stays intact on disk and its id is not reused.
func (p *Publisher) Publish(ctx context.Context, task tracker.Task, versionID int, versionFile, script string) (*Publication, error) {
	branch := fmt.Sprintf("evolution-v%d", versionID)

	steps := []struct {
		name string
		args []string
	}{
		{"checkout default branch", []string{"checkout", p.defaultBranch}},
		{"pull", []string{"pull", "--ff-only"}},
		{"create branch", []string{"checkout", "-b", branch}},
		{"stage files", []string{"add", "."}},
		{"commit", []string{"commit", "-m", fmt.Sprintf("v%d: %s", versionID, task.Title)}},
		{"push", []string{"push", "origin", branch}},
	}
	for _, step := range steps {
		if _, err := p.git.Run(ctx, p.workDir, step.args...); err != nil {
			// Best effort: do not leave the work tree parked on a dead branch.
			_, _ = p.git.Run(ctx, p.workDir, "checkout", p.defaultBranch)
			return nil, &PublicationError{Step: step.name, Err: err}
		}
	}

	pr, err := p.api.CreatePullRequest(ctx, github.PullRequest{
		Title: fmt.Sprintf("Agent Evolution v%d: %s", versionID, task.Title),
		Body:  publicationBody(task, versionID, versionFile, script),
		Head:  branch,
		Base:  p.defaultBranch,
	})
	if err != nil {
		_, _ = p.git.Run(ctx, p.workDir, "checkout", p.defaultBranch)
		return nil, &PublicationError{Step: "open review request", Err: err}
	}

	if _, err := p.git.Run(ctx, p.workDir, "checkout", p.defaultBranch); err != nil {
		return nil, &PublicationError{Step: "return to default branch", Err: err}
	}

	return &Publication{Branch: branch, PR: pr}, nil
}

// ReportSuccess marks the task published: a comment pointing at the review
// request, retry bookkeeping cleared, issue closed.
func (p *Publisher) ReportSuccess(ctx context.Context, task tracker.Task, pub *Publication, versionID, attempt int) error {
	msg := fmt.Sprintf("✓ Opened review request for v%d: %s", versionID, pub.PR.HTMLURL)
	if attempt > 1 {
		msg += fmt.Sprintf(" (succeeded on attempt %d)", attempt)
	}
	msg += "\n\nThe new version becomes current once the review request is merged."

	if err := p.api.CreateComment(ctx, task.Number, msg); err != nil {
		return &PublicationError{Step: "success comment", Err: err}
	}
	if task.Retry {
		_ = p.api.RemoveLabel(ctx, task.Number, p.labels.Failed)
		_ = p.api.RemoveLabel(ctx, task.Number, p.labels.Retry)
	}
	if err := p.api.CloseIssue(ctx, task.Number); err != nil {
		return &PublicationError{Step: "close issue", Err: err}
	}
	return nil
}

// ReportFailure marks the task failed and attaches the diagnostic output.
// The label and the comment are independent writes, so they run
// concurrently. The retry label, when consumed, is removed so the task is
// not re-claimed until a human re-labels it.
func (p *Publisher) ReportFailure(ctx context.Context, task tracker.Task, diagnostic string, attempts int) error {
	if len(diagnostic) > p.failureCeiling {
		diagnostic = diagnostic[:p.failureCeiling] + "\n... (truncated)"
	}
	comment := fmt.Sprintf(
		"✗ Failed after %d attempt(s).\n\n```\n%s\n```\n\n"+
			"**Leaving issue open for review.**\n\n"+
			"You can:\n"+
			"- Add the `%s` label to try again\n"+
			"- Close the issue if the task is no longer needed\n"+
			"- Implement it manually and close the issue",
		attempts, diagnostic, p.labels.Retry)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.api.AddLabels(gctx, task.Number, p.labels.Failed)
	})
	g.Go(func() error {
		return p.api.CreateComment(gctx, task.Number, comment)
	})
	if task.Retry {
		g.Go(func() error {
			return p.api.RemoveLabel(gctx, task.Number, p.labels.Retry)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to report failure on task #%d: %w", task.Number, err)
	}
	return nil
}

func publicationBody(task tracker.Task, versionID int, versionFile, script string) string {
	summary := script
	if len(summary) > 2000 {
		summary = summary[:2000] + "\n... (truncated)"
	}
	return fmt.Sprintf(
		"**Automated evolution**\n\n"+
			"Task: #%d %s\n\n"+
			"This review request was created by the self-modifying agent. "+
			"Merging it accepts `%s` as the new current version.\n\n"+
			"Mutation script (`evolve_v%d.sh`):\n```bash\n%s\n```\n\n"+
			"**Review checklist:**\n"+
			"- [ ] Mutation script looks safe\n"+
			"- [ ] New agent code is reasonable (`%s`)\n"+
			"- [ ] No secrets or credentials exposed\n"+
			"- [ ] Self-check passed before this request was opened\n",
		task.Number, task.Title, versionFile, versionID, summary, versionFile)
}
