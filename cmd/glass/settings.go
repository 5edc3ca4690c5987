package main

import (
	"io"

	stealth "github.com/anatolykoptev/go-stealth"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/anatolykoptev/go-glass/internal/settings"
)

func newSettingsCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "settings",
		Short: "Prints the effective settings with secrets masked.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := settings.Load(f.config)
			if err != nil {
				return err
			}
			printSettings(cmd.OutOrStdout(), s)
			return nil
		},
	}
}

func printSettings(w io.Writer, s settings.Settings) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendRows([]table.Row{
		{"Settings file", s.Path},
		{"Data dir", s.DataDir},
		{"Output", s.Output},
		{"Proxy", stealth.MaskProxy(s.Proxy)},
	})
	switch s.Output {
	case settings.OutputSQL:
		t.AppendRow(table.Row{"Database", s.Database.DSN})
	case settings.OutputPostgres:
		t.AppendRow(table.Row{"Postgres", stealth.MaskProxy(s.Postgres.DSN)})
	}
	t.SetStyle(table.StyleRounded)
	t.Render()

	creds := s.Credentials()
	if len(creds) == 0 {
		return
	}
	a := table.NewWriter()
	a.SetOutputMirror(w)
	a.AppendHeader(table.Row{"Account", "ct0", "Proxy"})
	for _, c := range creds {
		ct0 := "missing"
		if c.CT0 != "" {
			ct0 = "set"
		}
		a.AppendRow(table.Row{c.Name, ct0, stealth.MaskProxy(c.Proxy)})
	}
	a.SetStyle(table.StyleRounded)
	a.Render()
}
