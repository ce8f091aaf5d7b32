package evolve

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"ouroboros/internal/registry"
	"ouroboros/internal/tracker"
)

// TaskSource is the read side of the tracker the loop polls.
type TaskSource interface {
	Next(ctx context.Context) (*tracker.Task, error)
}

// Loop is the top-level scheduler: poll, claim one task, carry it through
// the full pipeline, publish or fail, sleep, repeat. Single-threaded by
// design — one pending candidate version at a time means no write races on
// the version file namespace.
type Loop struct {
	log       *zap.Logger
	registry  *registry.Registry
	source    TaskSource
	builder   *RequestBuilder
	generator *Generator
	sanitizer *Sanitizer
	executor  *Executor
	validator *Validator
	publisher *Publisher

	pollInterval time.Duration
	errorBackoff time.Duration
	maxAttempts  int
}

// LoopConfig wires a Loop.
type LoopConfig struct {
	Logger       *zap.Logger
	Registry     *registry.Registry
	Source       TaskSource
	Builder      *RequestBuilder
	Generator    *Generator
	Sanitizer    *Sanitizer
	Executor     *Executor
	Validator    *Validator
	Publisher    *Publisher
	PollInterval time.Duration
	ErrorBackoff time.Duration
	MaxAttempts  int
}

// NewLoop creates the evolution loop.
func NewLoop(cfg LoopConfig) *Loop {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.ErrorBackoff == 0 {
		cfg.ErrorBackoff = 60 * time.Second
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 3
	}
	return &Loop{
		log:          cfg.Logger,
		registry:     cfg.Registry,
		source:       cfg.Source,
		builder:      cfg.Builder,
		generator:    cfg.Generator,
		sanitizer:    cfg.Sanitizer,
		executor:     cfg.Executor,
		validator:    cfg.Validator,
		publisher:    cfg.Publisher,
		pollInterval: cfg.PollInterval,
		errorBackoff: cfg.ErrorBackoff,
		maxAttempts:  cfg.MaxAttempts,
	}
}

// Run polls until the context is canceled. Recoverable errors are absorbed
// into FAILED passes; only cancellation ends the loop.
func (l *Loop) Run(ctx context.Context) error {
	l.log.Info("evolution loop started",
		zap.Duration("poll_interval", l.pollInterval),
		zap.Int("max_attempts", l.maxAttempts))

	for {
		sleep := l.pollInterval
		if err := l.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				l.log.Info("evolution loop stopped")
				return ctx.Err()
			}
			// Loop-level trouble (tracker unreachable, no source file):
			// back off longer before the next poll.
			l.log.Error("poll cycle failed", zap.Error(err))
			sleep = l.errorBackoff
		}

		select {
		case <-ctx.Done():
			l.log.Info("evolution loop stopped")
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}

// RunOnce performs a single poll cycle: at most one task is claimed and
// carried through a full pipeline pass.
func (l *Loop) RunOnce(ctx context.Context) error {
	current, err := l.registry.Resolve()
	if err != nil {
		return err
	}

	task, err := l.source.Next(ctx)
	if err != nil {
		return err
	}
	if task == nil {
		l.log.Debug("no eligible tasks", zap.String("current", current.Filename))
		return nil
	}

	l.runPass(ctx, current, *task)
	return nil
}

// runPass drives the per-pass state machine:
// CLAIMED -> GENERATING -> EXECUTING -> VALIDATING -> {PUBLISHING, FAILED}.
// All recoverable errors funnel into FAILED; the prior current pointer is
// never touched.
func (l *Loop) runPass(ctx context.Context, current registry.Current, task tracker.Task) {
	log := l.log.With(zap.Int("task", task.Number), zap.String("current", current.Filename))
	l.transition(log, StateClaimed, zap.String("title", task.Title), zap.Bool("retry", task.Retry))

	source, err := os.ReadFile(filepath.Join(l.registry.Dir(), current.Filename))
	if err != nil {
		l.transition(log, StateFailed, zap.Error(err))
		l.reportFailure(ctx, log, task, fmt.Sprintf("failed to read current source: %v", err), 0)
		return
	}

	var prior *AttemptRecord
	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		alog := log.With(zap.Int("attempt", attempt))

		script, failure := l.attempt(ctx, alog, current, task, string(source), prior, attempt)
		if failure == nil {
			return // published
		}
		if ctx.Err() != nil {
			alog.Warn("pass interrupted", zap.Error(ctx.Err()))
			return
		}

		var pubErr *PublicationError
		if errors.As(failure, &pubErr) {
			// The candidate validated but could not be proposed. Retrying
			// generation will not fix the backend; fail the pass and keep
			// the version file on disk for a later manual push.
			l.transition(log, StateFailed, zap.Error(failure))
			l.reportFailure(ctx, log, task, diagnosticOf(failure), attempt)
			return
		}

		alog.Warn("attempt failed", zap.Error(failure))
		prior = &AttemptRecord{Script: script, Failure: diagnosticOf(failure)}

		if attempt == l.maxAttempts {
			l.transition(log, StateFailed, zap.Error(failure))
			l.reportFailure(ctx, log, task, diagnosticOf(failure), attempt)
		}
	}
}

// attempt runs one generate->sanitize->execute->validate->publish cycle.
// It returns the script that was tried (for retry context) and the stage
// error, or ("", nil) on success.
func (l *Loop) attempt(ctx context.Context, log *zap.Logger, current registry.Current, task tracker.Task, source string, prior *AttemptRecord, attemptNo int) (string, error) {
	l.transition(log, StateGenerating)
	req := l.builder.Build(current.Filename, source, task, prior)
	script, err := l.generator.Generate(ctx, req)
	if err != nil {
		return "", err
	}

	sanitized, err := l.sanitizer.Sanitize(script.Body)
	if err != nil {
		return script.Body, err
	}

	nextID, err := l.registry.NextID()
	if err != nil {
		return script.Body, &ExecutionFailure{Reason: fmt.Sprintf("failed to resolve next version id: %v", err)}
	}
	nextFile := l.registry.VersionFilename(nextID)

	l.transition(log, StateExecuting, zap.Int("version", nextID), zap.String("file", nextFile))
	if _, err := l.executor.Execute(ctx, sanitized, current.Filename, nextID, nextFile); err != nil {
		return script.Body, err
	}

	l.transition(log, StateValidating, zap.Int("version", nextID))
	if _, err := l.validator.Validate(ctx, nextFile); err != nil {
		return script.Body, err
	}

	l.transition(log, StatePublishing, zap.Int("version", nextID))
	pub, err := l.publisher.Publish(ctx, task, nextID, nextFile, sanitized)
	if err != nil {
		return script.Body, err
	}
	if err := l.publisher.ReportSuccess(ctx, task, pub, nextID, attemptNo); err != nil {
		// The review request exists; a failed comment/close must not undo
		// the pass. Log and move on.
		log.Warn("failed to report success", zap.Error(err))
	}

	l.transition(log, StatePublished, zap.Int("version", nextID), zap.String("pr", pub.PR.HTMLURL))
	return sanitized, nil
}

func (l *Loop) reportFailure(ctx context.Context, log *zap.Logger, task tracker.Task, diagnostic string, attempts int) {
	if attempts == 0 {
		attempts = 1
	}
	if err := l.publisher.ReportFailure(ctx, task, diagnostic, attempts); err != nil {
		log.Error("failed to report failure to tracker", zap.Error(err))
	}
}

func (l *Loop) transition(log *zap.Logger, state PassState, fields ...zap.Field) {
	log.Info("pass state", append([]zap.Field{zap.Stringer("state", state)}, fields...)...)
}

// diagnosticOf extracts the most useful text from a stage error for the
// tracker comment and the retry context.
func diagnosticOf(err error) string {
	var execFail *ExecutionFailure
	if errors.As(err, &execFail) {
		return execFail.Diagnostic()
	}
	var valFail *ValidationFailure
	if errors.As(err, &valFail) && valFail.Result != nil {
		parts := []string{valFail.Reason}
		if out := strings.TrimSpace(valFail.Result.Stderr); out != "" {
			parts = append(parts, out)
		}
		return strings.Join(parts, "\n")
	}
	return err.Error()
}
