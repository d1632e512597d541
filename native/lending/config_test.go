package lending

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lending.toml")
	if err := os.WriteFile(path, []byte("SafetyMarginBps = 3000\nMaxLoansPerUser = 5\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SafetyMarginBps != 3_000 || cfg.MaxLoansPerUser != 5 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.StalenessSeconds != DefaultStalenessSeconds || cfg.LiquidationBonusBps != DefaultLiquidationBonusBps {
		t.Fatalf("defaults not kept: %+v", cfg)
	}
}

func TestLoadConfigRejectsUnsoundParameters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lending.toml")
	if err := os.WriteFile(path, []byte("LiquidationBonusBps = 10000\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected a bonus of 100%% to be rejected")
	}
	cfg, err := LoadConfig("")
	if err != nil || cfg != DefaultConfig() {
		t.Fatalf("empty path must yield defaults, got %+v (%v)", cfg, err)
	}
}
