package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	glass "github.com/anatolykoptev/go-glass"
	"github.com/anatolykoptev/go-glass/entity"
	"github.com/anatolykoptev/go-glass/gql"
	"github.com/anatolykoptev/go-glass/internal/settings"
	"github.com/anatolykoptev/go-glass/pipeline"
	"github.com/anatolykoptev/go-glass/telemetry"
)

type modeCommand struct {
	mode    glass.Mode
	use     string
	short   string
	args    cobra.PositionalArgs
	track   bool
	request func(args []string, f *flags) glass.Request
}

func targets(mode glass.Mode) func([]string, *flags) glass.Request {
	return func(args []string, f *flags) glass.Request {
		return glass.Request{Mode: mode, Targets: args, Languages: f.languages}
	}
}

var modeCommands = []modeCommand{
	{
		mode:  glass.ModeSearch,
		use:   "search <query>",
		short: "Collects tweets matching a search query.",
		args:  cobra.MinimumNArgs(1),
		request: func(args []string, f *flags) glass.Request {
			return glass.Request{Mode: glass.ModeSearch, Query: strings.Join(args, " ")}
		},
	},
	{
		mode:  glass.ModeSearchLive,
		use:   "search-live <term>...",
		short: "Follows new tweets mentioning any of the terms.",
		args:  cobra.MinimumNArgs(1),
		request: func(args []string, f *flags) glass.Request {
			return glass.Request{Mode: glass.ModeSearchLive, Track: args, Languages: f.languages}
		},
	},
	{
		mode:    glass.ModeTimeline,
		use:     "timeline <user>...",
		short:   "Collects the most recent tweets of each user.",
		args:    cobra.MinimumNArgs(1),
		request: targets(glass.ModeTimeline),
	},
	{
		mode:    glass.ModeTimelineLive,
		use:     "timeline-live <user>...",
		short:   "Follows new tweets by the users.",
		args:    cobra.MinimumNArgs(1),
		request: targets(glass.ModeTimelineLive),
	},
	{
		mode:    glass.ModeFollowers,
		use:     "followers <user>...",
		short:   "Collects the followers of each user.",
		args:    cobra.MinimumNArgs(1),
		request: targets(glass.ModeFollowers),
	},
	{
		mode:    glass.ModeFriends,
		use:     "friends <user>...",
		short:   "Collects the accounts each user follows.",
		args:    cobra.MinimumNArgs(1),
		request: targets(glass.ModeFriends),
	},
	{
		mode:    glass.ModeRetweeters,
		use:     "retweeters <tweet-id>...",
		short:   "Collects the accounts that retweeted each tweet.",
		args:    cobra.MinimumNArgs(1),
		request: targets(glass.ModeRetweeters),
	},
	{
		mode:    glass.ModeRetweetersLive,
		use:     "retweeters-live <tweet-id>...",
		short:   "Follows new retweets of the tweets.",
		args:    cobra.MinimumNArgs(1),
		request: targets(glass.ModeRetweetersLive),
	},
	{
		mode:    glass.ModeProfile,
		use:     "profile <user>...",
		short:   "Collects the profile of each user.",
		args:    cobra.MinimumNArgs(1),
		request: targets(glass.ModeProfile),
	},
	{
		mode:  glass.ModeWatchUsers,
		use:   "watch-users [user...]",
		short: "Follows tweets from, to or retweeting the users, and tweets with tracked terms.",
		args:  cobra.ArbitraryArgs,
		track: true,
		request: func(args []string, f *flags) glass.Request {
			return glass.Request{Mode: glass.ModeWatchUsers, Targets: args, Track: f.track, Languages: f.languages}
		},
	},
}

func newModeCmd(m modeCommand, f *flags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   m.use,
		Short: m.short,
		Args:  m.args,
		RunE: func(cmd *cobra.Command, args []string) error {
			return collect(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), f, m.request(args, f))
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&f.output, "output", "o", "", "output format: csv, jsonl, sql or postgres (default from settings)")
	fl.StringVar(&f.runFor, "run-for", "", "stop after this long, e.g. 30m, 6h or 2d")
	fl.IntVarP(&f.maxResults, "max-results", "n", 0, "stop after this many records")
	fl.IntVar(&f.queue, "queue", 0, "write through a queue of this size on a separate goroutine")
	if m.mode.Live() {
		fl.StringSliceVar(&f.languages, "lang", nil, "restrict live results to these language codes")
	}
	if m.track {
		fl.StringSliceVar(&f.track, "track", nil, "terms to follow besides the users")
	}
	return cmd
}

// collect runs one request against the configured accounts and outputs.
func collect(ctx context.Context, stdout, stderr io.Writer, f *flags, req glass.Request) error {
	runFor, err := parseRunFor(f.runFor)
	if err != nil {
		return err
	}
	s, err := loadSettings(f)
	if err != nil {
		return err
	}
	creds := s.Credentials()
	if len(creds) == 0 {
		return fmt.Errorf("no accounts configured: add them to %s or set %s", s.Path, settings.EnvAccounts)
	}

	rec, err := telemetry.New()
	if err != nil {
		return err
	}
	defer rec.Shutdown(context.Background())

	pcfg := s.Platform()
	pcfg.MetricsHook = rec.APICall
	platform, err := gql.New(pcfg)
	if err != nil {
		return err
	}
	c, err := glass.NewCollector(platform, creds, s.Collector())
	if err != nil {
		return err
	}

	out, err := openOutput(ctx, s, fmt.Sprintf("%s_%d", req.Name(), time.Now().Unix()))
	if err != nil {
		return err
	}

	p := &progress{w: stderr}
	sum, runErr := pipeline.Run(ctx, c, req, pipeline.Options{
		Budget:    glass.Budget{RunFor: runFor, MaxResults: f.maxResults},
		QueueSize: f.queue,
		Sink:      out.sink,
		Raw:       out.raw,
		Resolver:  c,
		OnRecord:  p.record,
		OnRow:     func(r entity.Record) { rec.RowEmitted(string(r.Kind())) },
	})
	p.done()
	closeErr := out.Close()

	totals, _ := rec.Totals(context.Background())
	printSummary(stdout, sum, out.files(), totals)
	return errors.Join(runErr, closeErr)
}

// progress keeps a single updating counter line.
type progress struct {
	w io.Writer
	n int
}

func (p *progress) record(glass.RawRecord) {
	p.n++
	fmt.Fprintf(p.w, "\rcollected %d", p.n)
}

func (p *progress) done() {
	if p.n > 0 {
		fmt.Fprintln(p.w)
	}
}
