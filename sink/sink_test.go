package sink

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	glass "github.com/anatolykoptev/go-glass"
	"github.com/anatolykoptev/go-glass/entity"
)

type write struct {
	kind entity.Kind
	row  []string
}

type memTarget struct {
	writes []write
	err    error
	closed bool
}

func (m *memTarget) Write(_ context.Context, kind entity.Kind, row []string) error {
	if m.err != nil {
		return m.err
	}
	m.writes = append(m.writes, write{kind, row})
	return nil
}

func (m *memTarget) Close() error {
	m.closed = true
	return nil
}

func TestDedup_EmitsOnce(t *testing.T) {
	mem := &memTarget{}
	d := NewDedup(mem)
	ctx := context.Background()

	fresh, err := d.Emit(ctx, entity.User{ID: "1", ScreenName: "a"})
	require.NoError(t, err)
	require.True(t, fresh)

	// Same identity, different attributes: still a repeat.
	fresh, err = d.Emit(ctx, entity.User{ID: "1", ScreenName: "renamed"})
	require.NoError(t, err)
	require.False(t, fresh)

	// Same key in another kind is a different identity.
	fresh, err = d.Emit(ctx, entity.Tweet{ID: "1"})
	require.NoError(t, err)
	require.True(t, fresh)

	require.Len(t, mem.writes, 2)
	require.True(t, d.Seen(entity.KindUser, "1"))
	require.False(t, d.Seen(entity.KindUser, "2"))
	require.Equal(t, map[entity.Kind]int{entity.KindUser: 1, entity.KindTweet: 1}, d.Counts())

	require.NoError(t, d.Close())
	require.True(t, mem.closed)
}

func TestDedup_WithoutTargets(t *testing.T) {
	d := NewDedup()
	for _, want := range []bool{true, false} {
		fresh, err := d.Emit(context.Background(), entity.Hashtag{Text: "go"})
		require.NoError(t, err)
		require.Equal(t, want, fresh)
	}
	require.Equal(t, map[entity.Kind]int{entity.KindHashtag: 1}, d.Counts())
	require.NoError(t, d.Close())
}

func TestDedup_FailedWriteNotMarkedSeen(t *testing.T) {
	mem := &memTarget{err: errors.New("disk full")}
	d := NewDedup(mem)

	_, err := d.Emit(context.Background(), entity.Hashtag{Text: "go"})
	require.Error(t, err)
	require.False(t, d.Seen(entity.KindHashtag, "go"))

	mem.err = nil
	fresh, err := d.Emit(context.Background(), entity.Hashtag{Text: "go"})
	require.NoError(t, err)
	require.True(t, fresh)
}

func TestDedup_IdempotentUnderDuplicateRawRecords(t *testing.T) {
	mem := &memTarget{}
	d := NewDedup(mem)
	n := entity.NewNormalizer(nil, d)
	raw := glass.RawRecord{Mode: glass.ModeSearch, Body: json.RawMessage(`{
		"id_str": "2", "text": "RT", "user": {"id_str": "20"},
		"retweeted_status": {"id_str": "1", "text": "orig", "user": {"id_str": "10"}},
		"entities": {"hashtags": [{"text": "go"}]}
	}`)}

	for range 2 {
		recs, err := n.Normalize(context.Background(), raw)
		require.NoError(t, err)
		for _, r := range recs {
			_, err := d.Emit(context.Background(), r)
			require.NoError(t, err)
		}
	}

	want := map[entity.Kind]int{
		entity.KindUser: 2, entity.KindTweet: 2, entity.KindTweeted: 2,
		entity.KindRetweeted: 1, entity.KindHashtag: 1, entity.KindUsesHashtag: 1,
	}
	if diff := cmp.Diff(want, d.Counts()); diff != "" {
		t.Fatalf("counts mismatch (-want +got):\n%s", diff)
	}
	require.Len(t, mem.writes, 9)
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSuffix(string(b), "\n"), "\n")
}

func TestFileTarget_HeaderOnceThenRows(t *testing.T) {
	dir := t.TempDir()
	ft, err := NewFileTarget(dir, "search_go_1700000000.csv")
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, ft.Write(ctx, entity.KindTweeted, []string{"1", "2"}))
	require.NoError(t, ft.Write(ctx, entity.KindTweeted, []string{"3", "4"}))
	require.NoError(t, ft.Write(ctx, entity.KindUser, entity.User{ID: "9", Name: "Doe, Jane", Description: "multi\nline"}.Row()))
	require.NoError(t, ft.Close())

	path := filepath.Join(dir, "tweeted_search_go_1700000000.csv")
	require.Equal(t, path, ft.Path(entity.KindTweeted))
	require.Equal(t, []string{"user_id,tweet_id", "1,2", "3,4"}, readLines(t, path))

	users := readLines(t, ft.Path(entity.KindUser))
	require.Len(t, users, 2)
	require.True(t, strings.HasPrefix(users[1], `9,"Doe, Jane",,,multi line,false`))

	require.Equal(t, []string{path, ft.Path(entity.KindUser)}, ft.Files())
}

func TestFileTarget_ExistingFileGetsNoHeader(t *testing.T) {
	dir := t.TempDir()
	ft, err := NewFileTarget(dir, "run.csv")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(ft.Path(entity.KindMentions), []byte("tweet_id,user_id\n1,2\n"), 0o600))

	require.NoError(t, ft.Write(context.Background(), entity.KindMentions, []string{"3", "4"}))
	require.NoError(t, ft.Close())
	require.Equal(t, []string{"tweet_id,user_id", "1,2", "3,4"}, readLines(t, ft.Path(entity.KindMentions)))
}

func TestSQLTarget_InsertOrIgnore(t *testing.T) {
	st, err := OpenSQLTarget(":memory:", "", "glass_")
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()

	d := NewDedup(st)
	_, err = d.Emit(ctx, entity.Follows{FollowerID: "2", FollowedID: "1", Rank: 5})
	require.NoError(t, err)
	// A second run into the same database repeats the identity.
	require.NoError(t, st.Write(ctx, entity.KindFollows, entity.Follows{FollowerID: "2", FollowedID: "1", Rank: 6}.Row()))
	require.NoError(t, st.Write(ctx, entity.KindFollows, entity.Follows{FollowerID: "3", FollowedID: "1"}.Row()))

	var n int
	require.NoError(t, st.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM "glass_follows"`).Scan(&n))
	require.Equal(t, 2, n)

	var rank string
	require.NoError(t, st.db.QueryRowContext(ctx,
		`SELECT "follower_number" FROM "glass_follows" WHERE "follower_id" = ?`, "2").Scan(&rank))
	require.Equal(t, "5", rank)
}

func TestSQLStatements(t *testing.T) {
	require.Equal(t,
		`CREATE TABLE IF NOT EXISTS "mentions" ("tweet_id" TEXT NOT NULL, "user_id" TEXT NOT NULL, PRIMARY KEY ("tweet_id", "user_id"))`,
		createTableSQL("mentions", entity.KindMentions))
	require.Equal(t,
		`INSERT OR IGNORE INTO "hashtags" ("tag") VALUES (?)`,
		insertSQL("hashtags", entity.KindHashtag, questionMark, true))
	require.Equal(t,
		`INSERT INTO "tweeted" ("user_id", "tweet_id") VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		insertSQL("tweeted", entity.KindTweeted, dollar, false))
	require.True(t, isRemote("libsql://db.turso.io"))
	require.False(t, isRemote(filepath.Join(t.TempDir(), "out.db")))
}

func TestJSONLWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "search_go_1.jsonl")
	w, err := NewJSONLWriter(path)
	require.NoError(t, err)

	rec := glass.RawRecord{
		Mode:       glass.ModeSearch,
		SearchID:   "run-1",
		IngestedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Body:       json.RawMessage(`{"id_str":"1","favorited":false}`),
	}
	require.NoError(t, w.Write(rec))
	require.NoError(t, w.Write(rec))
	require.NoError(t, w.Close())

	lines := readLines(t, path)
	require.Len(t, lines, 2)
	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &got))
	require.Equal(t, "search", got["og_type"])
	require.Equal(t, "run-1", got["og_search_id"])
	require.Equal(t, "2024-01-02T03:04:05Z", got["og_timestamp"])
	require.NotContains(t, got, "favorited")
}
