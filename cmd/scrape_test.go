package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/polmsg-collector/internal/config"
	"github.com/JakeFAU/polmsg-collector/internal/ingest"
)

func TestBuildRequests_SingleTarget(t *testing.T) {
	t.Parallel()

	cmd := newScrapeCmd()
	require.NoError(t, cmd.ParseFlags([]string{
		"--target", "@handle",
		"--kind", "social_post",
		"--platform", "x",
		"--max-records", "50",
		"--max-scroll-attempts", "10",
		"--scroll-delay", "2.5",
		"--include-replies",
		"--date-limit-days", "7",
		"--alternate", "https://mirror.example/handle",
	}))
	var f scrapeFlags
	f.target, _ = cmd.Flags().GetString("target")
	f.kind, _ = cmd.Flags().GetString("kind")
	f.platform, _ = cmd.Flags().GetString("platform")
	f.maxRecords, _ = cmd.Flags().GetInt("max-records")
	f.maxScrollAttempts, _ = cmd.Flags().GetInt("max-scroll-attempts")
	f.scrollDelay, _ = cmd.Flags().GetFloat64("scroll-delay")
	f.includeReplies, _ = cmd.Flags().GetBool("include-replies")
	f.dateLimitDays, _ = cmd.Flags().GetInt("date-limit-days")
	f.alternates, _ = cmd.Flags().GetStringSlice("alternate")

	reqs, err := buildRequests(cmd, f, config.Config{})
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	req := reqs[0]
	require.Equal(t, "@handle", req.Target)
	require.Equal(t, ingest.SourceKindSocialPost, req.Kind)
	require.Equal(t, "x", req.Platform)
	require.Equal(t, 50, req.MaxRecords)
	require.Equal(t, 10, req.MaxScrollAttempts)
	require.InDelta(t, 2.5, req.ScrollDelaySeconds, 0.0001)
	require.NotNil(t, req.IncludeReplies)
	require.True(t, *req.IncludeReplies)
	require.Nil(t, req.IncludeReposts)
	require.NotNil(t, req.DateLimitDays)
	require.Equal(t, 7, *req.DateLimitDays)
	require.Equal(t, []string{"https://mirror.example/handle"}, req.Alternates)
}

func TestBuildRequests_DateLimitUnsetStaysNil(t *testing.T) {
	t.Parallel()

	cmd := newScrapeCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--target", "https://example.com"}))
	reqs, err := buildRequests(cmd, scrapeFlags{target: "https://example.com", kind: "website"}, config.Config{})
	require.NoError(t, err)
	require.Nil(t, reqs[0].DateLimitDays)
	require.Nil(t, reqs[0].IncludeReplies)
	require.Nil(t, reqs[0].IncludeReposts)
}

func TestBuildRequests_InvalidKind(t *testing.T) {
	t.Parallel()

	cmd := newScrapeCmd()
	_, err := buildRequests(cmd, scrapeFlags{target: "@handle", kind: "newsletter"}, config.Config{})
	require.Error(t, err)
	var verr *ingest.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "source_kind", verr.Field)
}

func TestBuildRequests_AllUsesConfiguredTargets(t *testing.T) {
	t.Parallel()

	cfg := config.Config{Targets: []config.TargetConfig{
		{Target: "@one", SourceKind: "social_post", Platform: "x"},
		{Target: "https://campaign.example", SourceKind: "website", SourceName: "Campaign"},
	}}
	reqs, err := buildRequests(newScrapeCmd(), scrapeFlags{all: true}, cfg)
	require.NoError(t, err)
	require.Len(t, reqs, 2)
	require.Equal(t, "@one", reqs[0].Target)
	require.Equal(t, "Campaign", reqs[1].SourceName)

	_, err = buildRequests(newScrapeCmd(), scrapeFlags{all: true}, config.Config{})
	require.Error(t, err)
}

func TestWriteReports(t *testing.T) {
	t.Parallel()

	var single bytes.Buffer
	require.NoError(t, writeReports(&single, []ingest.RunReport{{RunID: "run-1", Status: ingest.RunSucceeded}}))
	var one ingest.RunReport
	require.NoError(t, json.Unmarshal(single.Bytes(), &one))
	require.Equal(t, "run-1", one.RunID)

	var many bytes.Buffer
	require.NoError(t, writeReports(&many, []ingest.RunReport{{RunID: "a"}, {RunID: "b"}}))
	var list []ingest.RunReport
	require.NoError(t, json.Unmarshal(many.Bytes(), &list))
	require.Len(t, list, 2)
}

func TestCheckReports(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	require.NoError(t, checkReports(ctx, []ingest.RunReport{
		{Status: ingest.RunSucceeded},
		{Status: ingest.RunPartial},
	}))

	err := checkReports(ctx, []ingest.RunReport{{Status: ingest.RunSucceeded}, {Status: ingest.RunFailed}})
	require.ErrorIs(t, err, errRunsFailed)
	require.Contains(t, err.Error(), "1 of 2")

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	require.ErrorIs(t, checkReports(canceled, nil), context.Canceled)
}

func TestRootCommandTree(t *testing.T) {
	t.Parallel()

	root := newRootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	require.True(t, names["scrape"])
	require.True(t, names["serve"])
	require.NotNil(t, root.PersistentFlags().Lookup("config"))
}

func TestResolveRuntime_Missing(t *testing.T) {
	t.Parallel()

	_, err := resolveRuntime(context.Background())
	require.Error(t, err)
	require.False(t, errors.Is(err, errRunsFailed))
}
