package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jzx17/bffkit/internal/config"
	bfferrors "github.com/jzx17/bffkit/internal/errors"
	"github.com/jzx17/bffkit/internal/llm"
	"github.com/jzx17/bffkit/internal/logging"
	"github.com/jzx17/bffkit/internal/oauth"
	"github.com/jzx17/bffkit/internal/objectstore"
	"github.com/jzx17/bffkit/pkg/retry"
	"github.com/jzx17/bffkit/pkg/retry/retrymetrics"
	"github.com/jzx17/bffkit/pkg/types"
)

type appFlags struct {
	configPath string
	logLevel   string
	metrics    bool
}

func (f *appFlags) newFlagSet() *pflag.FlagSet {
	flagSet := &pflag.FlagSet{}

	flagSet.StringVarP(&f.configPath, "config", "c",
		"",
		"Path to YAML configuration file.")
	flagSet.StringVar(&f.logLevel, "log-level",
		"",
		"Override the configured log level. Log levels are: debug, info, warn, error.")
	flagSet.BoolVar(&f.metrics, "metrics",
		false,
		"Print retry metrics to stderr when the command finishes.")

	return flagSet
}

// deps builds the upstream clients. Tests replace them with fakes.
type deps struct {
	newFetcher   func(cfg config.OAuthConfig) (oauth.TokenFetcher, error)
	newObjectAPI func(ctx context.Context, cfg config.StorageConfig) (objectstore.API, error)
	// newChatAPI may be nil, llm.New then builds the SDK client
	newChatAPI func(cfg config.LLMConfig) (llm.ChatAPI, error)
}

func defaultDeps() deps {
	return deps{
		newFetcher: func(cfg config.OAuthConfig) (oauth.TokenFetcher, error) {
			fetcher, err := oauth.NewClientCredentialsFetcher(cfg, nil)
			if err != nil {
				return nil, err
			}
			return fetcher, nil
		},
		newObjectAPI: func(ctx context.Context, cfg config.StorageConfig) (objectstore.API, error) {
			client, err := objectstore.NewClient(ctx, cfg)
			if err != nil {
				return nil, err
			}
			return client, nil
		},
	}
}

type app struct {
	flags  appFlags
	deps   deps
	stdout io.Writer
	stderr io.Writer

	// set up by PersistentPreRunE
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	executor *retry.Executor
}

func newApp(d deps, stdout, stderr io.Writer) *app {
	return &app{deps: d, stdout: stdout, stderr: stderr}
}

func (a *app) command() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "bffctl",
		Short:             "Call the BFF upstreams through the retry engine",
		SilenceUsage:      true,
		SilenceErrors:     true,
		Args:              exactArgs(0),
		RunE:              showHelp,
		PersistentPreRunE: a.setup,
	}

	rootCmd.SetOut(a.stdout)
	rootCmd.SetErr(a.stderr)
	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %w", types.ErrInvalidInput, err)
	})
	rootCmd.PersistentFlags().SortFlags = false
	rootCmd.PersistentFlags().AddFlagSet(a.flags.newFlagSet())

	rootCmd.AddCommand(
		a.newTokenCmd(),
		a.newObjectCmd(),
		a.newCompleteCmd(),
	)

	return rootCmd
}

// execute runs the command line and returns the process exit code.
// Failures are written to stderr as a problem document.
func (a *app) execute(ctx context.Context, args []string) int {
	rootCmd := a.command()
	rootCmd.SetArgs(args)

	err := rootCmd.ExecuteContext(ctx)

	if a.flags.metrics && a.registry != nil {
		a.writeMetrics()
	}

	problem, failed := bfferrors.Translate(err)
	if !failed {
		return 0
	}

	fmt.Fprintln(a.stderr, string(problem.JSON()))
	return 1
}

func (a *app) setup(_ *cobra.Command, _ []string) error {
	cfg := config.Default()
	if a.flags.configPath != "" {
		loaded, err := config.Load(a.flags.configPath)
		if err != nil {
			return fmt.Errorf("%w: %w", types.ErrInvalidInput, err)
		}
		cfg = loaded
	}
	if a.flags.logLevel != "" {
		cfg.Log.Level = a.flags.logLevel
	}

	logger, err := logging.New(cfg.Log, a.stderr)
	if err != nil {
		return fmt.Errorf("%w: %w", types.ErrInvalidInput, err)
	}

	registry := prometheus.NewRegistry()
	metrics, err := retrymetrics.New(registry)
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = logger
	a.registry = registry
	a.executor = retry.NewExecutor(retry.WithEventHandler(retry.MultiEventHandler{
		retry.NewLogEventHandler(logger),
		metrics,
	}))

	return nil
}

// retryConfig returns the named profile when the file defines one
func (a *app) retryConfig(profile string, fallback config.RetryConfig) config.RetryConfig {
	if rc, ok := a.cfg.Retry.Lookup(profile); ok {
		return rc
	}
	return fallback
}

func (a *app) writeMetrics() {
	families, err := a.registry.Gather()
	if err != nil {
		a.logger.Error("failed to gather metrics", "error", err)
		return
	}

	enc := expfmt.NewEncoder(a.stderr, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			a.logger.Error("failed to encode metrics", "metric", mf.GetName(), "error", err)
			return
		}
	}
}

// showHelp is the RunE of command groups. Positional arguments are rejected
// before it runs, so a mistyped subcommand fails instead of printing help.
func showHelp(cmd *cobra.Command, _ []string) error {
	return cmd.Help()
}

func exactArgs(n int) cobra.PositionalArgs {
	return func(_ *cobra.Command, args []string) error {
		if len(args) != n {
			return fmt.Errorf("%w: accepts %d arg(s), received %d", types.ErrInvalidInput, n, len(args))
		}
		return nil
	}
}

func minimumArgs(n int) cobra.PositionalArgs {
	return func(_ *cobra.Command, args []string) error {
		if len(args) < n {
			return fmt.Errorf("%w: requires at least %d arg(s), received %d", types.ErrInvalidInput, n, len(args))
		}
		return nil
	}
}
