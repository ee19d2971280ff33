package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/ggonzalez94/solsum/internal/cache"
	"github.com/ggonzalez94/solsum/internal/config"
	clierr "github.com/ggonzalez94/solsum/internal/errors"
	"github.com/ggonzalez94/solsum/internal/fetch"
	"github.com/ggonzalez94/solsum/internal/httpx"
	"github.com/ggonzalez94/solsum/internal/logging"
	"github.com/ggonzalez94/solsum/internal/metrics"
	"github.com/ggonzalez94/solsum/internal/model"
	"github.com/ggonzalez94/solsum/internal/out"
	"github.com/ggonzalez94/solsum/internal/pipeline"
	"github.com/ggonzalez94/solsum/internal/providers/gemini"
	"github.com/ggonzalez94/solsum/internal/providers/helius"
	"github.com/ggonzalez94/solsum/internal/summary"
	"github.com/ggonzalez94/solsum/internal/version"
)

type Runner struct {
	stdout io.Writer
	stderr io.Writer
	stdin  io.Reader
	logw   io.Writer
	now    func() time.Time

	// generator replaces the Gemini client when set.
	generator summary.Generator
}

func NewRunner() *Runner {
	r := NewRunnerWithWriters(os.Stdout, os.Stderr)
	r.stdin = os.Stdin
	return r
}

func NewRunnerWithWriters(stdout, stderr io.Writer) *Runner {
	return &Runner{
		stdout: stdout,
		stderr: stderr,
		stdin:  strings.NewReader(""),
		logw:   stderr,
		now:    time.Now,
	}
}

type runtimeState struct {
	runner   *Runner
	flags    config.GlobalFlags
	settings config.Settings
	logger   *zap.Logger
	metrics  *metrics.Metrics
	store    cache.Backend
	root     *cobra.Command

	fetcher    *fetch.Fetcher
	summarizer *summary.Summarizer
	controller *pipeline.Controller

	lastCommand   string
	lastWarnings  []string
	lastProviders []model.ProviderStatus
}

func (r *Runner) Run(args []string) int {
	state := &runtimeState{runner: r, logger: zap.NewNop()}
	root := state.newRootCommand()
	state.root = root
	root.SetArgs(args)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)
	root.SetIn(r.stdin)
	root.SilenceUsage = true
	root.SilenceErrors = true

	err := root.Execute()
	err = normalizeRunError(err)
	defer state.close()
	if err == nil {
		return 0
	}

	state.renderError("", err, state.lastWarnings, state.lastProviders)
	return clierr.ExitCode(err)
}

func (s *runtimeState) close() {
	if s.store != nil {
		_ = s.store.Close()
	}
	_ = s.logger.Sync()
}

func (s *runtimeState) newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   version.CLIName,
		Short: "Resolve and summarize Solana account and transaction activity",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" || cmd.Name() == "version" {
				return nil
			}
			s.flags.Changed = changedFlags(cmd.Flags())
			settings, err := config.Load(s.flags)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "load configuration", err)
			}
			s.settings = settings
			s.lastCommand = trimRootPath(cmd.CommandPath())

			logger, err := logging.New(settings.LogLevel, s.runner.logw)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "configure logging", err)
			}
			s.logger = logger.With(zap.String("command", s.lastCommand))
			return s.buildServices(cmd.Context())
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return clierr.Wrap(clierr.CodeUsage, "parse flags", err)
	})

	cmd.PersistentFlags().BoolVar(&s.flags.JSON, "json", false, "Output JSON (default)")
	cmd.PersistentFlags().BoolVar(&s.flags.Plain, "plain", false, "Output plain text")
	cmd.PersistentFlags().StringVar(&s.flags.Select, "select", "", "Select fields from data (comma-separated)")
	cmd.PersistentFlags().BoolVar(&s.flags.ResultsOnly, "results-only", false, "Output only data payload")
	cmd.PersistentFlags().StringVar(&s.flags.JQ, "jq", "", "Filter JSON output with a jq expression")
	cmd.PersistentFlags().StringVar(&s.flags.Timeout, "timeout", "", "Per-request timeout (0 disables)")
	cmd.PersistentFlags().IntVar(&s.flags.Retries, "retries", 0, "Retries per provider request")
	cmd.PersistentFlags().StringVar(&s.flags.LogLevel, "log-level", "", "Log level: debug, info, warn, error")
	cmd.PersistentFlags().BoolVar(&s.flags.NoCache, "no-cache", false, "Disable cache reads and writes")
	cmd.PersistentFlags().StringVar(&s.flags.ConfigPath, "config", "", "Path to config file")

	cmd.AddCommand(s.newResolveCommand())
	cmd.AddCommand(s.newTransactionsCommand())
	cmd.AddCommand(s.newTxCommand())
	cmd.AddCommand(s.newSummarizeCommand())
	cmd.AddCommand(s.newServeCommand())
	cmd.AddCommand(newVersionCommand())
	return cmd
}

func (s *runtimeState) buildServices(ctx context.Context) error {
	if s.controller != nil {
		return nil
	}
	settings := s.settings
	if ctx == nil {
		ctx = context.Background()
	}
	s.metrics = metrics.New()

	if settings.CacheEnabled {
		store, err := openStore(settings)
		if err != nil {
			return clierr.Wrap(clierr.CodeInternal, "open cache", err)
		}
		s.store = store
	}

	httpClient := httpx.New(settings.Timeout, settings.Retries)
	if settings.IndexerAPIKey == "" {
		s.lastWarnings = append(s.lastWarnings, "no indexer API key configured (set SOLSUM_INDEXER_API_KEY)")
	}
	indexer := helius.New(httpClient, settings.IndexerBaseURL, settings.IndexerAPIKey)

	generator := s.runner.generator
	if generator == nil {
		client, err := gemini.New(ctx, settings.SummaryAPIKey, settings.SummaryModel, settings.SummaryBaseURL, nil)
		if err != nil {
			s.logger.Warn("summaries disabled", zap.Error(err))
			s.lastWarnings = append(s.lastWarnings, "summaries disabled: "+errorMessage(err))
		} else {
			generator = client
		}
	}

	s.fetcher = fetch.New(indexer, s.store, fetch.Options{
		TTL:     settings.TransactionsTTL,
		Logger:  s.logger,
		Metrics: s.metrics,
	})
	s.summarizer = summary.New(generator, s.store, summary.Options{
		TTL:             settings.SummaryTTL,
		BreakerFailures: settings.BreakerFailures,
		Logger:          s.logger,
		Metrics:         s.metrics,
	})
	s.controller = pipeline.New(s.fetcher, s.summarizer, s.logger, s.metrics)
	return nil
}

func openStore(settings config.Settings) (cache.Backend, error) {
	switch settings.CacheDriver {
	case config.CacheDriverMemory:
		return cache.NewMemory(settings.CacheMaxEntries), nil
	default:
		store, err := cache.Open(settings.CachePath, settings.CacheLockPath, settings.CacheMaxEntries)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
}

// requestContext bounds a command by the configured timeout; zero disables it.
func (s *runtimeState) requestContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if s.settings.Timeout > 0 {
		return context.WithTimeout(ctx, s.settings.Timeout)
	}
	return context.WithCancel(ctx)
}

func (s *runtimeState) emitSuccess(commandPath string, data any, warnings []string, cacheStatus []model.CacheStatus, providers []model.ProviderStatus) error {
	env := model.Envelope{
		Version:  model.EnvelopeVersion,
		Success:  true,
		Data:     data,
		Error:    nil,
		Warnings: append(append([]string(nil), s.lastWarnings...), warnings...),
		Meta: model.EnvelopeMeta{
			RequestID: newRequestID(),
			Timestamp: s.runner.now().UTC(),
			Command:   commandPath,
			Providers: providers,
			Cache:     cacheStatus,
		},
	}
	return out.Render(s.runner.stdout, env, s.settings)
}

func (s *runtimeState) renderError(commandPath string, err error, warnings []string, providers []model.ProviderStatus) {
	if strings.TrimSpace(commandPath) == "" {
		commandPath = s.lastCommand
		if commandPath == "" {
			commandPath = version.CLIName
		}
	}
	code := clierr.ExitCode(err)
	body := &model.ErrorBody{
		Code:    code,
		Type:    clierr.TypeName(clierr.Code(code)),
		Message: errorMessage(err),
	}
	if cErr, ok := clierr.As(err); ok {
		body.Payload = cErr.Payload
	}

	settings := s.settings
	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	settings.ResultsOnly = false
	settings.SelectFields = nil
	settings.JQ = ""
	env := model.Envelope{
		Version:  model.EnvelopeVersion,
		Success:  false,
		Data:     []any{},
		Error:    body,
		Warnings: warnings,
		Meta: model.EnvelopeMeta{
			RequestID: newRequestID(),
			Timestamp: s.runner.now().UTC(),
			Command:   commandPath,
			Providers: providers,
		},
	}
	_ = out.Render(s.runner.stderr, env, settings)
}

func errorMessage(err error) string {
	cErr, ok := clierr.As(err)
	if !ok {
		return err.Error()
	}
	if cErr.Cause != nil {
		return fmt.Sprintf("%s: %v", cErr.Message, cErr.Cause)
	}
	return cErr.Message
}

func changedFlags(flags *pflag.FlagSet) map[string]bool {
	changed := map[string]bool{}
	flags.Visit(func(f *pflag.Flag) {
		changed[f.Name] = true
	})
	return changed
}

func newRequestID() string {
	return uuid.NewString()
}

func trimRootPath(path string) string {
	parts := strings.Fields(path)
	if len(parts) <= 1 {
		return path
	}
	return strings.Join(parts[1:], " ")
}

func normalizeRunError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := clierr.As(err); ok {
		return err
	}
	if isLikelyUsageError(err) {
		return clierr.Wrap(clierr.CodeUsage, "invalid command input", err)
	}
	return clierr.Wrap(clierr.CodeInternal, "execute command", err)
}

func isLikelyUsageError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	patterns := []string{
		"unknown command",
		"unknown flag",
		"flag needs an argument",
		"requires at least",
		"requires exactly",
		"accepts ",
		"invalid argument",
	}
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
