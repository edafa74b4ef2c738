package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validYAML = `
broker:
  custtype: "P"
  user_agent: "kis-core/1.0"
  is_paper: true
  hts_id: "tester"
  paper_url: "https://paper.example.com"
  paper_app_key: "key"
  paper_app_secret: "secret"
  paper_stock_account_number: "12345678-01"
  websocket_url: "wss://paper.example.com/ws"
sectors:
  "005930": "IT"
  "051910": "Chemicals"
universe:
  mcap_min: 50000000000
  adtv_min: 5000000000
  unknown_sector_policy: "block"
rate_budget:
  QUOTE:
    capacity: 30
    refill_rate: 20
switches:
  require_held_support: true
  quality_min: 50
  or_range_max: 0.05
holidays:
  - "2026-01-01"
  - "2026-02-17"
`

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeTemp(t, validYAML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Broker.HTSID != "tester" {
		t.Errorf("HTSID = %q, want tester", cfg.Broker.HTSID)
	}
	if cfg.Sectors["005930"] != "IT" {
		t.Errorf("sector for 005930 = %q, want IT", cfg.Sectors["005930"])
	}
	if cfg.Universe.UnknownSectorPolicy != "block" {
		t.Errorf("unknown_sector_policy = %q, want block", cfg.Universe.UnknownSectorPolicy)
	}
}

func TestLoad_UnknownFieldRejected(t *testing.T) {
	path := writeTemp(t, validYAML+"\nbogus_top_level_field: true\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown top-level field")
	}
}

func TestLoad_PaperModeRequiresPaperCredentials(t *testing.T) {
	bad := `
broker:
  is_paper: true
  websocket_url: "wss://x"
`
	path := writeTemp(t, bad)
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for missing paper credentials")
	}
}

func TestLoad_InvalidUnknownSectorPolicy(t *testing.T) {
	bad := strings.Replace(validYAML, `unknown_sector_policy: "block"`, `unknown_sector_policy: "maybe"`, 1)
	path := writeTemp(t, bad)
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for invalid unknown_sector_policy")
	}
}

func TestNormalize_FillsDefaults(t *testing.T) {
	minimal := `
broker:
  is_paper: true
  paper_url: "https://paper.example.com"
  paper_app_key: "key"
  paper_app_secret: "secret"
  websocket_url: "wss://x"
`
	path := writeTemp(t, minimal)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Universe.McapMin != 20e9 {
		t.Errorf("McapMin default = %v, want 20e9", cfg.Universe.McapMin)
	}
	if cfg.Universe.UnknownSectorPolicy != "allow" {
		t.Errorf("UnknownSectorPolicy default = %q, want allow", cfg.Universe.UnknownSectorPolicy)
	}
	if cfg.Storage.RateBudgetPath == "" {
		t.Error("RateBudgetPath default must not be empty")
	}
}

func TestHolidayDates_ParsesISO(t *testing.T) {
	path := writeTemp(t, validYAML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	dates, err := cfg.HolidayDates()
	if err != nil {
		t.Fatalf("HolidayDates: %v", err)
	}
	if len(dates) != 2 {
		t.Fatalf("expected 2 holiday dates, got %d", len(dates))
	}
	if dates[0].Year() != 2026 || dates[0].Month() != 1 || dates[0].Day() != 1 {
		t.Errorf("unexpected first holiday: %v", dates[0])
	}
}

func TestRateClassOverrides_ProjectsToRatelimit(t *testing.T) {
	path := writeTemp(t, validYAML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	overrides := cfg.RateClassOverrides()
	got, ok := overrides["QUOTE"]
	if !ok {
		t.Fatal("expected QUOTE override to be present")
	}
	if got.Capacity != 30 || got.RefillRate != 20 {
		t.Errorf("QUOTE override = %+v, want {30 20}", got)
	}
}
