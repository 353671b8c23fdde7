package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadEnvOnlyDefaults(t *testing.T) {
	t.Setenv("EPHYS_DB_DRIVER", "sqlite")
	t.Setenv("EPHYS_STATS_ISI_THRESHOLD", "0.0015")

	cfg, err := Load("", true)
	if err != nil {
		t.Fatalf("load err=%v", err)
	}
	if cfg.DB.Driver != "sqlite" {
		t.Fatalf("driver=%q want=sqlite", cfg.DB.Driver)
	}
	if cfg.Stats.ISIThreshold != 0.0015 || cfg.Stats.MinISI != 0 {
		t.Fatalf("stats=%+v", cfg.Stats)
	}
	if cfg.PSTH.XMin != -3 || cfg.PSTH.XMax != 3 || cfg.PSTH.BinSize != 0.04 {
		t.Fatalf("psth=%+v", cfg.PSTH)
	}
	if cfg.Jobs.RetryAfter != 6*time.Hour || cfg.Jobs.TTL != 2*time.Hour {
		t.Fatalf("jobs=%+v", cfg.Jobs)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "ingest:\n  root_data_dir: /data/vincent\n  subjects: [SC022, SC030]\npsth:\n  bin_size: 0.02\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write err=%v", err)
	}

	cfg, err := Load(path, false)
	if err != nil {
		t.Fatalf("load err=%v", err)
	}
	if cfg.Ingest.RootDataDir != "/data/vincent" || len(cfg.Ingest.Subjects) != 2 {
		t.Fatalf("ingest=%+v", cfg.Ingest)
	}
	if cfg.PSTH.BinSize != 0.02 || cfg.PSTH.XMax != 3 {
		t.Fatalf("psth=%+v", cfg.PSTH)
	}
	if cfg.Ingest.Loader != "vincent" {
		t.Fatalf("loader=%q", cfg.Ingest.Loader)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), false); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
