// Package settings loads the collector's settings file and environment.
package settings

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/joho/godotenv"
	"github.com/titanous/json5"

	glass "github.com/anatolykoptev/go-glass"
	"github.com/anatolykoptev/go-glass/gql"
)

// Environment variables read on top of the settings file.
const (
	EnvAccounts = "GLASS_ACCOUNTS"
	EnvProxy    = "GLASS_PROXY"
	EnvDataDir  = "GLASS_DATA_DIR"
)

// Output formats.
const (
	OutputCSV      = "csv"
	OutputJSONL    = "jsonl"
	OutputSQL      = "sql"
	OutputPostgres = "postgres"
)

// Account is one credential entry in the settings file.
type Account struct {
	Name      string `json:"name"`
	AuthToken string `json:"auth_token"`
	CT0       string `json:"ct0"`
	Proxy     string `json:"proxy"`
}

// Database configures the sql output.
type Database struct {
	// DSN is a sqlite file path or a libsql:// URL.
	DSN       string `json:"dsn"`
	AuthToken string `json:"auth_token"`
	Prefix    string `json:"prefix"`
}

// Postgres configures the postgres output.
type Postgres struct {
	DSN        string `json:"dsn"`
	Prefix     string `json:"prefix"`
	MaxConns   int    `json:"max_conns"`
	ViaBouncer bool   `json:"via_bouncer"`
}

// Settings is the merged content of config.json5, config.local.json5 and
// the environment.
type Settings struct {
	Accounts []Account `json:"accounts"`
	Proxy    string    `json:"proxy"`
	DataDir  string    `json:"data_dir"`
	Output   string    `json:"output"`

	PageSize int `json:"page_size"`
	// Durations use time.ParseDuration syntax.
	PollInterval  string `json:"poll_interval"`
	Cooldown      string `json:"cooldown"`
	StreamRefresh string `json:"stream_refresh"`

	Database Database `json:"database"`
	Postgres Postgres `json:"postgres"`

	// EnvAccounts holds GLASS_ACCOUNTS in ParseCredentials format.
	EnvAccounts string `json:"-"`
	// Path is the settings file that was read.
	Path string `json:"-"`
}

// DefaultDir returns ~/.config/openglass.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("home dir: %w", err)
	}
	return filepath.Join(home, ".config", "openglass"), nil
}

// Load reads path and its local override, then applies .env files and
// environment variables. A missing settings file is not an error. An empty
// path selects config.json5 in DefaultDir.
func Load(path string) (Settings, error) {
	if path == "" {
		dir, err := DefaultDir()
		if err != nil {
			return Settings{}, err
		}
		path = filepath.Join(dir, "config.json5")
	}
	loadEnv(filepath.Join(filepath.Dir(path), ".env"), ".env")

	s, err := readConfig[Settings](path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return Settings{}, fmt.Errorf("read %s: %w", path, err)
	}
	s.Path = path
	s.applyEnv()
	if err := s.defaults(); err != nil {
		return Settings{}, err
	}
	return s, s.validate()
}

// loadEnv loads every existing .env file. Variables already set win.
func loadEnv(paths ...string) {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			slog.Warn("env file not loaded", slog.String("path", p), slog.Any("error", err))
		}
	}
}

// readConfig reads name and merges name.local.ext over it. It returns
// os.ErrNotExist when neither file exists.
func readConfig[T any](name string) (T, error) {
	var out T
	found := false

	data, err := os.ReadFile(name)
	if err != nil && !os.IsNotExist(err) {
		return out, err
	}
	if len(data) > 0 {
		if err := json5.Unmarshal(data, &out); err != nil {
			return out, err
		}
		found = true
	}

	local := localName(name)
	data, err = os.ReadFile(local)
	if err != nil && !os.IsNotExist(err) {
		return out, err
	}
	if len(data) > 0 {
		var override T
		if err := json5.Unmarshal(data, &override); err != nil {
			return out, fmt.Errorf("%s: %w", local, err)
		}
		if err := mergo.Merge(&out, override, mergo.WithOverride); err != nil {
			return out, err
		}
		slog.Debug("merged local settings", slog.String("local", local))
		found = true
	}

	if !found {
		return out, os.ErrNotExist
	}
	return out, nil
}

// localName turns dir/config.json5 into dir/config.local.json5.
func localName(name string) string {
	ext := filepath.Ext(name)
	return strings.TrimSuffix(name, ext) + ".local" + ext
}

func (s *Settings) applyEnv() {
	if v := os.Getenv(EnvAccounts); v != "" {
		s.EnvAccounts = v
	}
	if v := os.Getenv(EnvProxy); v != "" {
		s.Proxy = v
	}
	if v := os.Getenv(EnvDataDir); v != "" {
		s.DataDir = v
	}
}

func (s *Settings) defaults() error {
	if s.DataDir == "" {
		dir, err := DefaultDir()
		if err != nil {
			return err
		}
		s.DataDir = dir
	}
	if s.Output == "" {
		s.Output = OutputCSV
	}
	if s.Database.DSN == "" {
		s.Database.DSN = filepath.Join(s.DataDir, "glass.db")
	}
	if s.Postgres.MaxConns == 0 {
		s.Postgres.MaxConns = 4
	}
	return nil
}

func (s *Settings) validate() error {
	switch s.Output {
	case OutputCSV, OutputJSONL, OutputSQL:
	case OutputPostgres:
		if s.Postgres.DSN == "" {
			return errors.New("postgres output needs postgres.dsn")
		}
	default:
		return fmt.Errorf("unknown output %q", s.Output)
	}
	for _, d := range []struct{ name, v string }{
		{"poll_interval", s.PollInterval},
		{"cooldown", s.Cooldown},
		{"stream_refresh", s.StreamRefresh},
	} {
		if d.v == "" {
			continue
		}
		if _, err := time.ParseDuration(d.v); err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
	}
	return nil
}

// duration parses a validated duration field; empty means zero.
func duration(v string) time.Duration {
	d, _ := time.ParseDuration(v)
	return d
}

// Credentials returns the file accounts followed by GLASS_ACCOUNTS entries.
// Accounts without a proxy get the default one.
func (s Settings) Credentials() []*glass.Credential {
	var creds []*glass.Credential
	for _, a := range s.Accounts {
		if a.AuthToken == "" {
			slog.Warn("account without auth_token, skipping", slog.String("name", a.Name))
			continue
		}
		c := glass.NewCredential(a.Name, a.AuthToken, a.CT0, len(creds))
		c.Proxy = a.Proxy
		creds = append(creds, c)
	}
	for _, c := range glass.ParseCredentials(s.EnvAccounts) {
		glass.AssignBrowserProfile(c, len(creds))
		creds = append(creds, c)
	}
	for _, c := range creds {
		if c.Proxy == "" {
			c.Proxy = s.Proxy
		}
	}
	return creds
}

// Collector returns the recovery policy for glass.NewCollector.
func (s Settings) Collector() glass.Config {
	return glass.Config{
		Cooldown:      duration(s.Cooldown),
		StreamRefresh: duration(s.StreamRefresh),
	}
}

// Platform returns the GraphQL client configuration.
func (s Settings) Platform() gql.Config {
	return gql.Config{
		DefaultProxy: s.Proxy,
		PageSize:     s.PageSize,
		PollInterval: duration(s.PollInterval),
	}
}
