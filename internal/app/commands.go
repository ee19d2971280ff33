package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	clierr "github.com/ggonzalez94/solsum/internal/errors"
	"github.com/ggonzalez94/solsum/internal/fetch"
	"github.com/ggonzalez94/solsum/internal/identifier"
	"github.com/ggonzalez94/solsum/internal/model"
	"github.com/ggonzalez94/solsum/internal/providers/helius"
	"github.com/ggonzalez94/solsum/internal/server"
	"github.com/ggonzalez94/solsum/internal/summary"
	"github.com/ggonzalez94/solsum/internal/version"
)

func newVersionCommand() *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			if long {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.Long())
				return
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.CLIVersion)
		},
	}
	cmd.Flags().BoolVar(&long, "long", false, "Print extended build metadata")
	return cmd
}

func (s *runtimeState) newResolveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <address|signature>",
		Short: "Fetch transactions for an address or signature and summarize them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := s.requestContext(cmd)
			defer cancel()

			outcome, err := s.controller.Submit(ctx, args[0])
			if err != nil {
				return err
			}
			s.lastProviders = outcome.Providers
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), outcome.Resolution, resolutionWarnings(outcome.Resolution), outcome.Cache, outcome.Providers)
		},
	}
}

func (s *runtimeState) newTransactionsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "transactions <address>",
		Short: "List recent transactions for an account address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := identifier.Classify(args[0])
			if err != nil {
				return err
			}
			if !id.IsAddress() {
				return clierr.New(clierr.CodeUsage, fmt.Sprintf("expected an account address of at most %d characters; use `tx` for signatures", identifier.MaxAddressLength))
			}
			ctx, cancel := s.requestContext(cmd)
			defer cancel()

			res, err := s.fetcher.Account(ctx, id.Value)
			if err != nil {
				return err
			}
			return s.emitFetchResult(trimRootPath(cmd.CommandPath()), res)
		},
	}
}

func (s *runtimeState) newTxCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tx <signature>...",
		Short: "Look up one or more transactions by signature",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sigs := make([]string, 0, len(args))
			for _, arg := range args {
				id, err := identifier.Classify(arg)
				if err != nil {
					return err
				}
				if !id.IsSignature() {
					return clierr.New(clierr.CodeUsage, fmt.Sprintf("%q is too short to be a transaction signature; use `transactions` for addresses", id.Value))
				}
				sigs = append(sigs, id.Value)
			}
			ctx, cancel := s.requestContext(cmd)
			defer cancel()

			res, err := s.fetcher.Details(ctx, sigs)
			if err != nil {
				return err
			}
			return s.emitFetchResult(trimRootPath(cmd.CommandPath()), res)
		},
	}
}

type summaryOutput struct {
	Summary  string              `json:"summary"`
	Status   model.SummaryStatus `json:"status"`
	CacheKey string              `json:"cache_key,omitempty"`
}

func (s *runtimeState) newSummarizeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "summarize [file|-]",
		Short: "Summarize a JSON transaction payload read from a file or stdin",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := readPayload(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			ctx, cancel := s.requestContext(cmd)
			defer cancel()

			sum := s.summarizer.Summarize(ctx, payload)
			data := summaryOutput{Summary: sum.Text, Status: sum.Status}
			if !summary.IsEmpty(payload) {
				data.CacheKey = summary.Key(payload)
			}
			var warnings []string
			if sum.Status == model.SummaryStatusUnavailable {
				warnings = append(warnings, "summary unavailable: "+sum.Reason)
			}
			providers := []model.ProviderStatus{{Name: "summary", Status: string(sum.Status), LatencyMS: sum.Latency.Milliseconds()}}
			s.lastProviders = providers
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), data, warnings, []model.CacheStatus{sum.Cache}, providers)
		},
	}
}

func (s *runtimeState) newServeCommand() *cobra.Command {
	var listen string
	var origins string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the resolve pipeline over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := s.settings.ListenAddr
			if strings.TrimSpace(listen) != "" {
				addr = strings.TrimSpace(listen)
			}
			srv := server.New(s.controller, s.metrics, s.logger, server.Options{AllowedOrigins: splitCSV(origins)})
			httpServer := &http.Server{
				Addr:              addr,
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				errCh <- httpServer.ListenAndServe()
			}()
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "listening on %s\n", addr)

			select {
			case err := <-errCh:
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return clierr.Wrap(clierr.CodeInternal, "serve http", err)
				}
				return nil
			case <-ctx.Done():
			}

			s.logger.Info("shutting down http server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				s.logger.Error("http server shutdown failed", zap.Error(err))
				return clierr.Wrap(clierr.CodeInternal, "shutdown http server", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (default from config, 127.0.0.1:8080)")
	cmd.Flags().StringVar(&origins, "cors-origins", "", "Allowed CORS origins (comma-separated, default *)")
	return cmd
}

func (s *runtimeState) emitFetchResult(commandPath string, res fetch.Result) error {
	var warnings []string
	if res.Status == model.FetchStatusFailed {
		warnings = append(warnings, "transaction lookup failed: "+res.Reason)
	}
	providers := []model.ProviderStatus{{Name: helius.Name, Status: string(res.Status), LatencyMS: res.Latency.Milliseconds()}}
	s.lastProviders = providers
	return s.emitSuccess(commandPath, res.Records, warnings, []model.CacheStatus{res.Cache}, providers)
}

func resolutionWarnings(res model.Resolution) []string {
	var warnings []string
	if res.FetchStatus == model.FetchStatusFailed {
		warnings = append(warnings, "transaction lookup failed: "+res.FetchError)
	}
	if res.SummaryStatus == model.SummaryStatusUnavailable {
		warnings = append(warnings, "summary unavailable")
	}
	return warnings
}

func readPayload(stdin io.Reader, args []string) ([]byte, error) {
	var (
		buf []byte
		err error
	)
	if len(args) == 0 || args[0] == "-" {
		buf, err = io.ReadAll(stdin)
	} else {
		buf, err = os.ReadFile(args[0])
	}
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, "read payload", err)
	}
	if len(strings.TrimSpace(string(buf))) > 0 && !json.Valid(buf) {
		return nil, clierr.New(clierr.CodeUsage, "payload is not valid JSON")
	}
	return buf, nil
}

func splitCSV(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
