// Package config loads the YAML configuration shared by every command.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/contacts-merger/pkg/export"
	"github.com/hazyhaar/contacts-merger/pkg/merge"
	"github.com/hazyhaar/contacts-merger/pkg/normalize"
	"github.com/hazyhaar/contacts-merger/pkg/source"
)

// Config is the file layout. Zero sections keep their defaults.
type Config struct {
	// Addr is where serve listens. Keep it on loopback.
	Addr     string `yaml:"addr"`
	LogLevel string `yaml:"log_level"`
	// HistoryDB is the SQLite file recording runs. Empty disables history.
	HistoryDB string `yaml:"history_db"`
	// LogDir overrides where run logs go; default is the output directory.
	LogDir string `yaml:"log_dir"`
	// WorkDir holds files uploaded through the web shell.
	WorkDir string `yaml:"work_dir"`

	Phone  normalize.PhoneConfig `yaml:"phone"`
	Groups normalize.GroupConfig `yaml:"groups"`
	Merge  merge.Options         `yaml:"merge"`
	MSSQL  source.MSSQLColumns   `yaml:"mssql"`
	Input  Input                 `yaml:"input"`
	Output export.CSVOptions     `yaml:"output"`
}

// Input tunes how exports are decoded.
type Input struct {
	FallbackEncoding string `yaml:"fallback_encoding"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		Addr:      "127.0.0.1:8421",
		LogLevel:  "info",
		HistoryDB: "merger-history.db",
		WorkDir:   "uploads",
		Phone:     normalize.DefaultPhoneConfig(),
		Groups:    normalize.DefaultGroupConfig(),
		Merge:     merge.Options{NoteSeparator: " | ", NewRecordGroups: []string{"* myContacts"}},
		Input:     Input{FallbackEncoding: "windows-1252"},
		Output:    export.DefaultCSVOptions(),
	}
}

// Load reads path over the defaults. A missing file is not an error; the
// second return reports whether a file was read. Aliases listed under
// groups extend the default set.
func Load(path string) (Config, bool, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, false, nil
		}
		return cfg, false, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, true, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, true, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, true, nil
}

// Validate checks values the normalizers and writers would reject later.
func (c *Config) Validate() error {
	if _, err := normalize.NewPhone(c.Phone); err != nil {
		return fmt.Errorf("phone: %w", err)
	}
	if _, err := normalize.NewGroups(c.Groups); err != nil {
		return fmt.Errorf("groups: %w", err)
	}
	if c.Output.PhoneColumns < 1 {
		return fmt.Errorf("output.phone_columns must be at least 1, got %d", c.Output.PhoneColumns)
	}
	if c.Input.FallbackEncoding != "" {
		if _, err := htmlindex.Get(c.Input.FallbackEncoding); err != nil {
			return fmt.Errorf("input.fallback_encoding %q: %w", c.Input.FallbackEncoding, err)
		}
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if strings.TrimSpace(c.LogLevel) == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log_level: %w", err)
	}
	return l, nil
}
