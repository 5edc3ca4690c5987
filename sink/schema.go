package sink

import (
	"fmt"
	"strings"

	"github.com/anatolykoptev/go-glass/entity"
)

// keyWidth is the number of leading columns forming a kind's identity.
func keyWidth(kind entity.Kind) int {
	switch kind {
	case entity.KindUser, entity.KindTweet, entity.KindHashtag:
		return 1
	}
	return 2
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// createTableSQL returns the DDL of kind's table. Every column is text and
// the identity columns form the primary key.
func createTableSQL(table string, kind entity.Kind) string {
	cols := entity.Header(kind)
	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = quoteIdent(c) + " TEXT"
		if i < keyWidth(kind) {
			defs[i] += " NOT NULL"
		}
	}
	keys := make([]string, keyWidth(kind))
	for i := range keys {
		keys[i] = quoteIdent(cols[i])
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s, PRIMARY KEY (%s))",
		quoteIdent(table), strings.Join(defs, ", "), strings.Join(keys, ", "))
}

// placeholder renders the n-th (1-based) bind parameter.
type placeholder func(n int) string

func questionMark(int) string { return "?" }
func dollar(n int) string     { return fmt.Sprintf("$%d", n) }

// insertSQL returns an insert that silently skips existing identities,
// with INSERT OR IGNORE when orIgnore is set and ON CONFLICT DO NOTHING
// otherwise.
func insertSQL(table string, kind entity.Kind, ph placeholder, orIgnore bool) string {
	cols := entity.Header(kind)
	names := make([]string, len(cols))
	args := make([]string, len(cols))
	for i, c := range cols {
		names[i] = quoteIdent(c)
		args[i] = ph(i + 1)
	}
	verb, suffix := "INSERT", " ON CONFLICT DO NOTHING"
	if orIgnore {
		verb, suffix = "INSERT OR IGNORE", ""
	}
	return fmt.Sprintf("%s INTO %s (%s) VALUES (%s)%s",
		verb, quoteIdent(table), strings.Join(names, ", "), strings.Join(args, ", "), suffix)
}

// rowArgs converts a row into bind arguments.
func rowArgs(row []string) []any {
	args := make([]any, len(row))
	for i, v := range row {
		args[i] = v
	}
	return args
}
