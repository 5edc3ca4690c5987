package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	glass "github.com/anatolykoptev/go-glass"
	"github.com/anatolykoptev/go-glass/entity"
	"github.com/anatolykoptev/go-glass/internal/settings"
	"github.com/anatolykoptev/go-glass/pipeline"
)

func TestParseRunFor(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{"90s", 90 * time.Second, false},
		{"30m", 30 * time.Minute, false},
		{"6h", 6 * time.Hour, false},
		{"2d", 48 * time.Hour, false},
		{"1.5h", 0, true},
		{"10", 0, true},
		{"h", 0, true},
		{"5w", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseRunFor(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

// isolate points settings at an empty temp directory.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for _, k := range []string{settings.EnvAccounts, settings.EnvProxy} {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
	t.Setenv(settings.EnvDataDir, dir)
	return dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := newRootCmd(&stdout, &stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return stdout.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	require.Equal(t, "glass dev\n", out)
}

func TestModeCommandsCoverEveryMode(t *testing.T) {
	root := newRootCmd(&bytes.Buffer{}, &bytes.Buffer{})
	for _, m := range glass.Modes {
		cmd, _, err := root.Find([]string{string(m)})
		require.NoError(t, err, m)
		require.Equal(t, string(m), cmd.Name())
		require.Equal(t, m.Live(), cmd.Flags().Lookup("lang") != nil, m)
	}
}

func TestModeRequests(t *testing.T) {
	f := &flags{languages: []string{"en"}, track: []string{"golang"}}
	byMode := make(map[glass.Mode]modeCommand)
	for _, m := range modeCommands {
		byMode[m.mode] = m
	}

	req := byMode[glass.ModeSearch].request([]string{"from:a", "go"}, f)
	require.Equal(t, "from:a go", req.Query)

	req = byMode[glass.ModeFollowers].request([]string{"a", "b"}, f)
	require.Equal(t, []string{"a", "b"}, req.Targets)

	req = byMode[glass.ModeWatchUsers].request([]string{"a"}, f)
	require.Equal(t, glass.Request{Mode: glass.ModeWatchUsers, Targets: []string{"a"}, Track: []string{"golang"}, Languages: []string{"en"}}, req)
}

func TestCollectNeedsAccounts(t *testing.T) {
	dir := isolate(t)
	_, err := run(t, "search", "--config", filepath.Join(dir, "config.json5"), "golang")
	require.ErrorContains(t, err, "no accounts configured")
}

func TestCollectRejectsBadRunFor(t *testing.T) {
	dir := isolate(t)
	_, err := run(t, "followers", "--config", filepath.Join(dir, "config.json5"), "--run-for", "soon", "a")
	require.ErrorContains(t, err, "run-for")
}

func TestModeArgs(t *testing.T) {
	isolate(t)
	_, err := run(t, "timeline")
	require.Error(t, err)
}

func TestSettingsCommandMasksSecrets(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.json5")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"output": "sql",
		"accounts": [{"name": "main", "auth_token": "secret-token", "ct0": "abc"}],
	}`), 0o600))

	out, err := run(t, "settings", "--config", path)
	require.NoError(t, err)
	require.Contains(t, out, "main")
	require.Contains(t, out, filepath.Join(dir, "glass.db"))
	require.NotContains(t, out, "secret-token")
}

func TestOpenOutput(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	out, err := openOutput(ctx, settings.Settings{DataDir: dir, Output: settings.OutputCSV}, "search_go_1")
	require.NoError(t, err)
	require.NotNil(t, out.sink)
	_, err = out.sink.Emit(ctx, entity.Hashtag{Text: "go"})
	require.NoError(t, err)
	require.NoError(t, out.Close())
	require.Equal(t, []string{filepath.Join(dir, "hashtags_search_go_1.csv")}, out.files())

	out, err = openOutput(ctx, settings.Settings{DataDir: dir, Output: settings.OutputJSONL}, "search_go_1")
	require.NoError(t, err)
	require.Nil(t, out.sink)
	require.Equal(t, []string{filepath.Join(dir, "search_go_1.jsonl")}, out.files())
	require.NoError(t, out.Close())

	_, err = openOutput(ctx, settings.Settings{DataDir: dir, Output: "xml"}, "x")
	require.Error(t, err)
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	printSummary(&buf, pipeline.Summary{
		Records: 3,
		Stop:    glass.StopMaxCount,
		Rows:    map[entity.Kind]int{entity.KindUser: 2, entity.KindTweet: 3},
		Skipped: []*glass.SubjectError{{Subject: "ghost", Reason: glass.ReasonSuspended}},
	}, []string{"/tmp/users_x.csv"}, map[string]int64{})

	out := buf.String()
	for _, want := range []string{"users", "tweets", "5", glass.StopMaxCount, "ghost", "/tmp/users_x.csv", "API calls"} {
		require.True(t, strings.Contains(out, want), want)
	}
}
