package pagination

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/polmsg-collector/internal/extract"
	"github.com/JakeFAU/polmsg-collector/internal/ingest"
)

// scrollTab serves renders[i] after i scrolls; the last render repeats.
type scrollTab struct {
	mu       sync.Mutex
	renders  []string
	scrolls  int
	waitErr  error
	htmlErr  error
	waitedOn string
	onScroll func(n int)
}

func (t *scrollTab) Navigate(context.Context, string) (int, error) { return 200, nil }

func (t *scrollTab) WaitVisible(_ context.Context, selector string) error {
	t.waitedOn = selector
	return t.waitErr
}

func (t *scrollTab) HTML(context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.htmlErr != nil {
		return "", t.htmlErr
	}
	i := t.scrolls
	if i >= len(t.renders) {
		i = len(t.renders) - 1
	}
	return t.renders[i], nil
}

func (t *scrollTab) Location(context.Context) (string, error) { return "https://x.com/candidate", nil }

func (t *scrollTab) ScrollToBottom(context.Context) error {
	t.mu.Lock()
	t.scrolls++
	n := t.scrolls
	t.mu.Unlock()
	if t.onScroll != nil {
		t.onScroll(n)
	}
	return nil
}

func (t *scrollTab) Close() error { return nil }

func timeline(from, to int) string {
	var b strings.Builder
	b.WriteString(`<html><body><div data-testid="primaryColumn">`)
	for i := from; i <= to; i++ {
		fmt.Fprintf(&b, `<article data-testid="tweet"><a href="/candidate/status/%d"><time datetime="2024-05-01T10:00:00Z">May 1</time></a>`+
			`<div data-testid="tweetText">Campaign update %d on local schools</div></article>`, 500+i, i)
	}
	b.WriteString(`</div></body></html>`)
	return b.String()
}

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func newResolver() *extract.Resolver {
	return extract.NewResolver(nil, extract.DefaultPlans(ingest.SourceKindSocialPost)...)
}

func TestRunCollectsAcrossScrollsUntilExhausted(t *testing.T) {
	t.Parallel()
	tab := &scrollTab{renders: []string{timeline(1, 4), timeline(1, 8), timeline(1, 12)}}
	d := NewDriver(Config{MaxRecords: 50}, extract.Filter{}, nil, WithSleep(noSleep))

	state := &ingest.RunState{}
	res := d.Run(context.Background(), tab, newResolver(), state)

	require.Len(t, res.Records, 12)
	require.Equal(t, StateStalled, res.State)
	require.Equal(t, OutcomeExhausted, res.Outcome)
	require.Equal(t, "x-primary", res.Plan)
	require.Equal(t, 12, state.Collected)
	require.Equal(t, DefaultStallThreshold, state.ConsecutiveStalls)
	require.Equal(t, "Campaign update 1 on local schools", res.Records[0].Content)
	require.Equal(t, "Campaign update 12 on local schools", res.Records[11].Content)
	require.Contains(t, tab.waitedOn, `[data-testid="primaryColumn"]`)
}

func TestRunNeverExceedsMaxRecords(t *testing.T) {
	t.Parallel()
	for _, limit := range []int{1, 3, 5, 7, 10} {
		tab := &scrollTab{renders: []string{timeline(1, 4), timeline(1, 8), timeline(1, 12)}}
		d := NewDriver(Config{MaxRecords: limit}, extract.Filter{}, nil, WithSleep(noSleep))
		res := d.Run(context.Background(), tab, newResolver(), nil)
		require.Len(t, res.Records, limit)
		require.Equal(t, OutcomeLimitReached, res.Outcome)
		require.Equal(t, StateDone, res.State)
	}
}

func TestRunStopsMidCycleAtLimit(t *testing.T) {
	t.Parallel()
	tab := &scrollTab{renders: []string{timeline(1, 4), timeline(1, 20)}}
	d := NewDriver(Config{MaxRecords: 6}, extract.Filter{}, nil, WithSleep(noSleep))
	res := d.Run(context.Background(), tab, newResolver(), nil)
	require.Len(t, res.Records, 6)
	require.Equal(t, 1, tab.scrolls)
}

func TestRunStallsWithinOneCycleOfRepeatedFingerprint(t *testing.T) {
	t.Parallel()
	tab := &scrollTab{renders: []string{timeline(1, 3)}}
	d := NewDriver(Config{StallThreshold: 2, MaxScrollAttempts: 50}, extract.Filter{}, nil, WithSleep(noSleep))
	res := d.Run(context.Background(), tab, newResolver(), nil)
	// Cycles 1 and 2 match; cycle 3 ends the run.
	require.Equal(t, 3, res.Cycles)
	require.Equal(t, StateStalled, res.State)
	require.True(t, res.State.Terminal())
}

func TestRunDefaultStallBound(t *testing.T) {
	t.Parallel()
	tab := &scrollTab{renders: []string{timeline(1, 3)}}
	d := NewDriver(Config{MaxScrollAttempts: 50}, extract.Filter{}, nil, WithSleep(noSleep))
	state := &ingest.RunState{}
	res := d.Run(context.Background(), tab, newResolver(), state)
	// An unchanged page ends the run threshold+1 cycles after it first loads.
	require.Equal(t, DefaultStallThreshold+1, res.Cycles)
	require.Equal(t, DefaultStallThreshold, state.ConsecutiveStalls)
	require.Equal(t, StateStalled, res.State)
	require.Equal(t, OutcomeExhausted, res.Outcome)
	require.Less(t, tab.scrolls, 50)
}

func TestRunStallWithoutRecordsIsBlocked(t *testing.T) {
	t.Parallel()
	tab := &scrollTab{renders: []string{`<html><body><div data-testid="primaryColumn"></div></body></html>`}}
	d := NewDriver(Config{}, extract.Filter{}, nil, WithSleep(noSleep))
	res := d.Run(context.Background(), tab, newResolver(), nil)
	require.Empty(t, res.Records)
	require.Equal(t, StateStalled, res.State)
	require.Equal(t, OutcomeBlocked, res.Outcome)
}

func TestRunAttemptsExhausted(t *testing.T) {
	t.Parallel()
	renders := make([]string, 0, 10)
	for i := 1; i <= 10; i++ {
		renders = append(renders, timeline(1, 2*i))
	}
	tab := &scrollTab{renders: renders}
	d := NewDriver(Config{MaxScrollAttempts: 3}, extract.Filter{}, nil, WithSleep(noSleep))
	state := &ingest.RunState{}
	res := d.Run(context.Background(), tab, newResolver(), state)
	require.Equal(t, OutcomeAttemptsExhausted, res.Outcome)
	require.Equal(t, 3, state.ScrollAttempts)
	require.Len(t, res.Records, 8)
}

func TestRunLoadTimeoutReportsZeroRecords(t *testing.T) {
	t.Parallel()
	tab := &scrollTab{renders: []string{timeline(1, 3)}, waitErr: context.DeadlineExceeded}
	d := NewDriver(Config{}, extract.Filter{}, nil, WithSleep(noSleep))
	res := d.Run(context.Background(), tab, newResolver(), &ingest.RunState{EntryURL: "https://x.com/candidate"})

	require.Empty(t, res.Records)
	require.Equal(t, StateDone, res.State)
	require.Equal(t, OutcomeLoadTimeout, res.Outcome)
	require.Len(t, res.Errors, 1)
	kind, ok := ingest.SessionKindOf(res.Errors[0])
	require.True(t, ok)
	require.Equal(t, ingest.SessionTimeout, kind)
}

func TestRunAppliesFilters(t *testing.T) {
	t.Parallel()
	page := `<html><body><div data-testid="primaryColumn">` +
		`<article data-testid="tweet"><div data-testid="tweetText">RT @ally: vote on Thursday</div></article>` +
		`<article data-testid="tweet"><div data-testid="tweetText">@voter thanks for the question</div></article>` +
		`<article data-testid="tweet"><div data-testid="tweetText">Our manifesto launches today</div></article>` +
		`</div></body></html>`
	tab := &scrollTab{renders: []string{page}}
	d := NewDriver(Config{MaxRecords: 1}, extract.Filter{}, nil, WithSleep(noSleep))
	res := d.Run(context.Background(), tab, newResolver(), nil)

	require.Len(t, res.Records, 1)
	require.Equal(t, "Our manifesto launches today", res.Records[0].Content)
	require.Equal(t, 2, res.Filtered)
}

func TestRunCanceledDuringScroll(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tab := &scrollTab{renders: []string{timeline(1, 2), timeline(1, 4)}, onScroll: func(int) { cancel() }}
	d := NewDriver(Config{}, extract.Filter{}, nil, WithSleep(noSleep))
	res := d.Run(ctx, tab, newResolver(), nil)
	require.Equal(t, OutcomeCanceled, res.Outcome)
	require.Len(t, res.Records, 2)
}

func TestRunTimeLimit(t *testing.T) {
	t.Parallel()
	tab := &scrollTab{renders: []string{timeline(1, 2), timeline(1, 4), timeline(1, 6)}}
	slow := func(ctx context.Context, _ time.Duration) error {
		<-ctx.Done()
		return ctx.Err()
	}
	d := NewDriver(Config{MaxDuration: 20 * time.Millisecond}, extract.Filter{}, nil, WithSleep(slow))
	res := d.Run(context.Background(), tab, newResolver(), nil)
	require.Equal(t, OutcomeTimeLimit, res.Outcome)
}

func TestRunSnapshotFailure(t *testing.T) {
	t.Parallel()
	tab := &scrollTab{renders: []string{timeline(1, 2)}, htmlErr: errors.New("target closed")}
	d := NewDriver(Config{}, extract.Filter{}, nil, WithSleep(noSleep))
	res := d.Run(context.Background(), tab, newResolver(), nil)
	require.Equal(t, OutcomeSnapshotFailed, res.Outcome)
	require.Len(t, res.Errors, 1)
}

func TestConfigDefaults(t *testing.T) {
	t.Parallel()
	cfg := NewDriver(Config{}, extract.Filter{}, nil).Config()
	require.Equal(t, DefaultMaxRecords, cfg.MaxRecords)
	require.Equal(t, DefaultMaxScrollAttempts, cfg.MaxScrollAttempts)
	require.Equal(t, DefaultStallThreshold, cfg.StallThreshold)
	require.Equal(t, DefaultScrollDelay, cfg.ScrollDelay)
	require.Equal(t, DefaultLoadTimeout, cfg.LoadTimeout)
}
