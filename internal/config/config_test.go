package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfigFile(t, "app:\n  name: fxfeedd\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Monitor.Interval.Minutes() != 5 {
		t.Fatalf("unexpected default interval: %s", cfg.Monitor.Interval)
	}
	if cfg.Reports.Retention != 50 {
		t.Fatalf("unexpected default retention: %d", cfg.Reports.Retention)
	}
	if cfg.CrossCheck.FXThresholdPct != 0.5 || cfg.CrossCheck.BullionThresholdPct != 1.5 {
		t.Fatalf("unexpected default thresholds: %+v", cfg.CrossCheck)
	}
}

func TestLoadAssetUniverse(t *testing.T) {
	body := `
assets:
  - symbol: eurusd
    providers: [market, backup]
    watch: true
  - symbol: XAUUSD
    providers: [gold, cache]
`
	cfg, err := Load(writeConfigFile(t, body))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	universe := cfg.AssetUniverse()
	if len(universe) != 2 {
		t.Fatalf("expected 2 assets, got %d", len(universe))
	}
	if universe[0].Symbol != "EURUSD" || !universe[0].Watch {
		t.Fatalf("unexpected first asset: %+v", universe[0])
	}
	if universe[1].Class != "bullion" {
		t.Fatalf("expected XAUUSD to classify as bullion, got %s", universe[1].Class)
	}
}

func TestLoadRejectsInvalidAssetSymbol(t *testing.T) {
	body := `
assets:
  - symbol: EUR
    providers: [market]
`
	if _, err := Load(writeConfigFile(t, body)); err == nil {
		t.Fatal("expected error for malformed symbol")
	}
}

func TestLoadRequiresOracleWhenCommitting(t *testing.T) {
	body := `
monitor:
  commit: true
`
	if _, err := Load(writeConfigFile(t, body)); err == nil {
		t.Fatal("expected error when committing without oracle settings")
	}
}

func TestSafeModeEnvOverride(t *testing.T) {
	t.Setenv("FXFEEDD_SAFE_MODE", "true")
	cfg, err := Load(writeConfigFile(t, "app:\n  name: fxfeedd\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Monitor.SafeMode {
		t.Fatal("expected safe mode to be forced by environment")
	}
}
