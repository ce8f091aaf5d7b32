// Command ouroboros runs the self-evolving automation agent: it watches an
// issue tracker for task requests, asks a completion service for a mutation
// script against the current agent source, applies it in the working
// directory, validates the produced version and proposes it for review.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ouroboros/internal/config"
	"ouroboros/internal/evolve"
	"ouroboros/internal/github"
	"ouroboros/internal/llm"
	"ouroboros/internal/logging"
	"ouroboros/internal/registry"
	"ouroboros/internal/tracker"
)

// selfCheckAck is the exact acknowledgment the validator expects from a
// healthy version. Changing it breaks validation of every running fleet.
const selfCheckAck = "OK"

var (
	verbose   bool
	selfCheck bool
	runOnce   bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "ouroboros",
	Short: "Self-evolving automation agent",
	Long: `ouroboros watches an issue tracker for task requests, generates a
mutation script for its own source via a completion service, applies the
mutation to produce a new versioned copy, validates the copy, and opens a
review request for it. The current version only advances when a review
request is merged.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// The self-check must answer even with a broken environment.
		if selfCheck {
			return nil
		}
		var err error
		logger, err = logging.New(verbose)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: run,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.Flags().BoolVar(&selfCheck, "selfcheck", false, "print the health acknowledgment and exit")
	rootCmd.Flags().BoolVar(&runOnce, "once", false, "run a single poll cycle and exit")
}

func run(cmd *cobra.Command, args []string) error {
	if selfCheck {
		fmt.Println(selfCheckAck)
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		// Fatal: never enter the loop with an incomplete environment.
		return err
	}

	loop, err := buildLoop(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("monitoring for task issues",
		zap.String("repo", cfg.Tracker.Repo),
		zap.String("label", cfg.Tracker.TaskLabel))

	if runOnce {
		return loop.RunOnce(ctx)
	}
	if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func buildLoop(cfg *config.Config, log *zap.Logger) (*evolve.Loop, error) {
	ghClient := github.NewClient(github.Config{
		Token:   cfg.Tracker.Token,
		Repo:    cfg.Tracker.Repo,
		BaseURL: cfg.Tracker.BaseURL,
	})

	labels := tracker.Labels{
		Task:   cfg.Tracker.TaskLabel,
		Failed: cfg.Tracker.FailedLabel,
		Retry:  cfg.Tracker.RetryLabel,
	}
	source := tracker.NewSource(ghClient, labels)

	llmClient, err := llm.New(cfg.LLM)
	if err != nil {
		return nil, err
	}

	reg := registry.New(cfg.Evolution.WorkDir, cfg.Evolution.BootstrapFile)
	builder := evolve.NewRequestBuilder(reg.PlaceholderFilename(), cfg.Evolution.FailureCeiling)

	return evolve.NewLoop(evolve.LoopConfig{
		Logger:    log,
		Registry:  reg,
		Source:    source,
		Builder:   builder,
		Generator: evolve.NewGenerator(llmClient, builder),
		Sanitizer: evolve.NewSanitizer(),
		Executor:  evolve.NewExecutor(cfg.Evolution.WorkDir, reg.PlaceholderFilename(), cfg.Evolution.ScriptTimeout),
		Validator: evolve.NewValidator(cfg.Evolution.WorkDir, cfg.Evolution.Runner,
			cfg.Evolution.SelfCheckFlag, cfg.Evolution.SelfCheckWant, cfg.Evolution.ValidateTimeout),
		Publisher: evolve.NewPublisher(evolve.ExecGitRunner{}, ghClient,
			cfg.Evolution.WorkDir, cfg.Evolution.DefaultBranch, labels, cfg.Evolution.FailureCeiling),
		PollInterval: cfg.Tracker.PollInterval,
		ErrorBackoff: cfg.Tracker.ErrorBackoff,
		MaxAttempts:  cfg.Evolution.MaxAttempts,
	}), nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
