package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/polmsg-collector/internal/config"
	"github.com/JakeFAU/polmsg-collector/internal/ingest"
)

type scrapeFlags struct {
	target            string
	kind              string
	platform          string
	sourceName        string
	alternates        []string
	maxRecords        int
	maxScrollAttempts int
	scrollDelay       float64
	includeReplies    bool
	includeReposts    bool
	dateLimitDays     int
	all               bool
}

// errRunsFailed is returned when at least one run ends in the failed state.
var errRunsFailed = errors.New("one or more runs failed")

func newScrapeCmd() *cobra.Command {
	var f scrapeFlags
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Scrapes one target, or every configured target, and prints the run reports",
		Example: `  polmsg scrape --target @handle --kind social_post --max-records 50 \
    --max-scroll-attempts 10 --scroll-delay 2.0 --include-replies --date-limit-days 7
  polmsg scrape --all --config targets.yaml`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			reqs, err := buildRequests(cmd, f, rt.cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var reports []ingest.RunReport
			if len(reqs) == 1 {
				reports = []ingest.RunReport{rt.app.Coordinator().RunScrape(ctx, reqs[0])}
			} else {
				reports = rt.app.Coordinator().RunMany(ctx, reqs)
			}
			rt.logger.Info("scrape command finished", zap.Int("runs", len(reports)))

			if err := writeReports(cmd.OutOrStdout(), reports); err != nil {
				return err
			}
			return checkReports(ctx, reports)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.target, "target", "", "handle, page id or URL to scrape")
	flags.StringVar(&f.kind, "kind", string(ingest.SourceKindSocialPost), "source kind: social_post, social_ad or website")
	flags.StringVar(&f.platform, "platform", "", "platform hint for social targets (x, y)")
	flags.StringVar(&f.sourceName, "source-name", "", "canonical source name recorded on every message")
	flags.StringSliceVar(&f.alternates, "alternate", nil, "alternate entry URL tried when the primary is challenged")
	flags.IntVar(&f.maxRecords, "max-records", 0, "stop after this many records (default from config)")
	flags.IntVar(&f.maxScrollAttempts, "max-scroll-attempts", 0, "scroll cycles before giving up (default from config)")
	flags.Float64Var(&f.scrollDelay, "scroll-delay", 0, "seconds to wait after each scroll (default from config)")
	flags.BoolVar(&f.includeReplies, "include-replies", false, "keep replies")
	flags.BoolVar(&f.includeReposts, "include-reposts", false, "keep reposts")
	flags.IntVar(&f.dateLimitDays, "date-limit-days", 0, "skip records older than this many days")
	flags.BoolVar(&f.all, "all", false, "scrape every target listed in the config file")
	cmd.MarkFlagsMutuallyExclusive("target", "all")
	cmd.MarkFlagsOneRequired("target", "all")

	return cmd
}

func buildRequests(cmd *cobra.Command, f scrapeFlags, cfg config.Config) ([]ingest.ScrapeRequest, error) {
	if f.all {
		if len(cfg.Targets) == 0 {
			return nil, errors.New("--all needs at least one entry under targets in the config")
		}
		reqs := make([]ingest.ScrapeRequest, 0, len(cfg.Targets))
		for _, t := range cfg.Targets {
			reqs = append(reqs, t.Request())
		}
		return reqs, nil
	}

	req := ingest.ScrapeRequest{
		Target:             f.target,
		Kind:               ingest.SourceKind(f.kind),
		Platform:           f.platform,
		SourceName:         f.sourceName,
		Alternates:         f.alternates,
		MaxRecords:         f.maxRecords,
		MaxScrollAttempts:  f.maxScrollAttempts,
		ScrollDelaySeconds: f.scrollDelay,
	}
	if cmd.Flags().Changed("include-replies") {
		include := f.includeReplies
		req.IncludeReplies = &include
	}
	if cmd.Flags().Changed("include-reposts") {
		include := f.includeReposts
		req.IncludeReposts = &include
	}
	if cmd.Flags().Changed("date-limit-days") {
		days := f.dateLimitDays
		req.DateLimitDays = &days
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scrape request: %w", err)
	}
	return []ingest.ScrapeRequest{req}, nil
}

func writeReports(w io.Writer, reports []ingest.RunReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	var payload any = reports
	if len(reports) == 1 {
		payload = reports[0]
	}
	if err := enc.Encode(payload); err != nil {
		return fmt.Errorf("encode reports: %w", err)
	}
	return nil
}

func checkReports(ctx context.Context, reports []ingest.RunReport) error {
	if ctx.Err() != nil {
		return fmt.Errorf("scrape interrupted: %w", ctx.Err())
	}
	failed := 0
	for _, r := range reports {
		if r.Status == ingest.RunFailed {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d: %w", failed, len(reports), errRunsFailed)
	}
	return nil
}
