package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/anatolykoptev/go-glass/entity"
	"github.com/anatolykoptev/go-glass/internal/settings"
	"github.com/anatolykoptev/go-glass/pipeline"
	"github.com/anatolykoptev/go-glass/sink"
	"github.com/anatolykoptev/go-glass/telemetry"
)

// output is the set of writers one run feeds.
type output struct {
	sink  *sink.Dedup
	raw   *sink.JSONLWriter
	files func() []string
}

func openOutput(ctx context.Context, s settings.Settings, run string) (*output, error) {
	if err := os.MkdirAll(s.DataDir, 0o750); err != nil {
		return nil, fmt.Errorf("data dir: %w", err)
	}
	out := &output{files: func() []string { return nil }}

	switch s.Output {
	case settings.OutputCSV:
		ft, err := sink.NewFileTarget(s.DataDir, run+".csv")
		if err != nil {
			return nil, err
		}
		out.sink = sink.NewDedup(ft)
		out.files = ft.Files
	case settings.OutputJSONL:
		w, err := sink.NewJSONLWriter(filepath.Join(s.DataDir, run+".jsonl"))
		if err != nil {
			return nil, err
		}
		out.raw = w
		out.files = func() []string { return []string{w.Path()} }
	case settings.OutputSQL:
		st, err := sink.OpenSQLTarget(s.Database.DSN, s.Database.AuthToken, s.Database.Prefix)
		if err != nil {
			return nil, err
		}
		out.sink = sink.NewDedup(st)
		out.files = func() []string { return []string{s.Database.DSN} }
	case settings.OutputPostgres:
		pt, err := sink.OpenPostgresTarget(ctx, s.Postgres.DSN, s.Postgres.Prefix, s.Postgres.MaxConns, s.Postgres.ViaBouncer)
		if err != nil {
			return nil, err
		}
		out.sink = sink.NewDedup(pt)
	default:
		return nil, fmt.Errorf("unknown output %q", s.Output)
	}
	return out, nil
}

func (o *output) Close() error {
	var errs []error
	if o.sink != nil {
		errs = append(errs, o.sink.Close())
	}
	if o.raw != nil {
		errs = append(errs, o.raw.Close())
	}
	return errors.Join(errs...)
}

func printSummary(w io.Writer, sum pipeline.Summary, files []string, totals map[string]int64) {
	if len(sum.Rows) > 0 {
		t := table.NewWriter()
		t.SetOutputMirror(w)
		t.AppendHeader(table.Row{"Kind", "New rows"})
		total := 0
		for _, k := range entity.Kinds {
			if n := sum.Rows[k]; n > 0 {
				t.AppendRow(table.Row{k, n})
				total += n
			}
		}
		t.AppendFooter(table.Row{"Total", total})
		t.SetStyle(table.StyleRounded)
		t.Render()
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendRow(table.Row{"Records", sum.Records})
	t.AppendRow(table.Row{"Elapsed", sum.Elapsed.Round(time.Second)})
	if sum.Stop != "" {
		t.AppendRow(table.Row{"Stopped", sum.Stop})
	}
	if totals != nil {
		t.AppendRow(table.Row{"API calls", totals[telemetry.MetricAPICalls]})
		t.AppendRow(table.Row{"Rate limited", totals[telemetry.MetricRateLimited]})
	}
	for _, se := range sum.Skipped {
		t.AppendRow(table.Row{"Skipped", se.Subject + " (" + se.Reason + ")"})
	}
	for _, f := range files {
		t.AppendRow(table.Row{"Created", f})
	}
	t.SetStyle(table.StyleRounded)
	t.Render()
}
