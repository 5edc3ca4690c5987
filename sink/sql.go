package sink

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"sync"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"

	"github.com/anatolykoptev/go-glass/entity"
)

// SQLTarget writes rows into one table per kind of a SQLite or libSQL
// database. Existing identities are ignored, so reruns into the same
// database stay duplicate-free.
type SQLTarget struct {
	db     *sql.DB
	prefix string

	mu      sync.Mutex
	created map[entity.Kind]string // kind -> insert statement
}

// OpenSQLTarget opens dsn. A libsql://, http(s):// or wss:// URL is served
// by the libSQL client with the optional authToken; anything else is a
// local SQLite file path or ":memory:". Tables are named prefix+kind.
func OpenSQLTarget(dsn, authToken, prefix string) (*SQLTarget, error) {
	var (
		db  *sql.DB
		err error
	)
	if isRemote(dsn) {
		if authToken != "" {
			values := url.Values{}
			values.Add("authToken", authToken)
			dsn += "?" + values.Encode()
		}
		db, err = sql.Open("libsql", dsn)
		if err != nil {
			return nil, fmt.Errorf("open libsql: %w", err)
		}
	} else {
		db, err = sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
		}
		// One writer: concurrent sqlite writers contend on the file lock,
		// and each ":memory:" connection is a separate database.
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite journal mode: %w", err)
		}
	}
	return NewSQLTarget(db, prefix), nil
}

// NewSQLTarget writes through an already opened SQLite-dialect database.
func NewSQLTarget(db *sql.DB, prefix string) *SQLTarget {
	return &SQLTarget{db: db, prefix: prefix, created: make(map[entity.Kind]string)}
}

func isRemote(dsn string) bool {
	for _, scheme := range []string{"libsql://", "http://", "https://", "ws://", "wss://"} {
		if strings.HasPrefix(dsn, scheme) {
			return true
		}
	}
	return false
}

// Write inserts row, creating the kind's table on first use.
func (t *SQLTarget) Write(ctx context.Context, kind entity.Kind, row []string) error {
	stmt, err := t.table(ctx, kind)
	if err != nil {
		return err
	}
	if _, err := t.db.ExecContext(ctx, stmt, rowArgs(row)...); err != nil {
		return fmt.Errorf("insert %s: %w", kind, err)
	}
	return nil
}

func (t *SQLTarget) table(ctx context.Context, kind entity.Kind) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if stmt, ok := t.created[kind]; ok {
		return stmt, nil
	}
	table := t.prefix + string(kind)
	if _, err := t.db.ExecContext(ctx, createTableSQL(table, kind)); err != nil {
		return "", fmt.Errorf("create table %s: %w", table, err)
	}
	stmt := insertSQL(table, kind, questionMark, true)
	t.created[kind] = stmt
	return stmt, nil
}

// Close closes the database.
func (t *SQLTarget) Close() error {
	return t.db.Close()
}
