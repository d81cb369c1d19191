package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMissingUsesDefaults(t *testing.T) {
	cfg, found, err := Load(filepath.Join(t.TempDir(), "none.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Error("found = true for a missing file")
	}
	if cfg.Phone.DefaultCountryCode != "20" || cfg.Output.PhoneColumns != 4 || !cfg.Output.BOM {
		t.Errorf("defaults = %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
addr: 127.0.0.1:9000
log_level: debug
phone:
  default_country_code: "966"
  prefix_rules: []
merge:
  match_by_name: true
  protected_groups: [Family]
mssql:
  name_column: FullName
  phone_columns: [Mobile, Home]
output:
  phone_columns: 2
  bom: false
groups:
  aliases:
    Clients: [customers]
`)
	cfg, found, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Error("found = false")
	}
	if cfg.Addr != "127.0.0.1:9000" || cfg.Phone.DefaultCountryCode != "966" || len(cfg.Phone.PrefixRules) != 0 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Phone.MinDigits != 7 {
		t.Errorf("unset min_digits lost its default: %d", cfg.Phone.MinDigits)
	}
	if !cfg.Merge.MatchByName || cfg.Merge.NoteSeparator != " | " || cfg.Merge.ProtectedGroups[0] != "Family" {
		t.Errorf("merge = %+v", cfg.Merge)
	}
	if cfg.MSSQL.Name != "FullName" || len(cfg.MSSQL.Phones) != 2 {
		t.Errorf("mssql = %+v", cfg.MSSQL)
	}
	if cfg.Output.PhoneColumns != 2 || cfg.Output.BOM {
		t.Errorf("output = %+v", cfg.Output)
	}
	if _, ok := cfg.Groups.Aliases["Clients"]; !ok {
		t.Error("custom group missing")
	}
	if _, ok := cfg.Groups.Aliases["Family"]; !ok {
		t.Error("default groups dropped")
	}
	if l, _ := cfg.Level(); l != slog.LevelDebug {
		t.Errorf("level = %v", l)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name, body, want string
	}{
		{"yaml", "addr: [", "parse config"},
		{"phone columns", "output:\n  phone_columns: 0\n", "phone_columns"},
		{"country code", "phone:\n  default_country_code: abc\n", "phone"},
		{"encoding", "input:\n  fallback_encoding: klingon\n", "fallback_encoding"},
		{"log level", "log_level: loud\n", "log_level"},
		{"group conflict", "groups:\n  aliases:\n    Colleagues: [work]\n", "groups"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Load(writeConfig(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestExampleConfigLoads(t *testing.T) {
	cfg, found, err := Load(filepath.Join("..", "..", "config.example.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if !found || cfg.Phone.PrefixRules[0].CountryCode != "966" {
		t.Errorf("cfg = %+v", cfg)
	}
}
