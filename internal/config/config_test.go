package config

import "testing"

func TestDefaultConfigValidates(t *testing.T) {
	if err := Validate(DefaultConfig()); err != nil {
		t.Fatalf("default config should validate, got: %v", err)
	}
}

func TestValidateWorker(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"min zero", func(c *Config) { c.Worker.Min = 0 }, true},
		{"max below min", func(c *Config) { c.Worker.Min, c.Worker.Max = 4, 2 }, true},
		{"zero adjust interval", func(c *Config) { c.Worker.AdjustInterval = 0 }, true},
		{"negative history limit", func(c *Config) { c.Worker.HistoryLimit = -1 }, true},
		{"valid", func(c *Config) {}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := Validate(cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateAutoShutdownOnlyCheckedWhenEnabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AutoShutdown.Enabled = false
	cfg.AutoShutdown.Thresholds.CPUPercent = 0 // would be invalid if enabled
	if err := Validate(cfg); err != nil {
		t.Fatalf("disabled auto-shutdown should skip threshold checks, got: %v", err)
	}

	cfg.AutoShutdown.Enabled = true
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected an error once auto-shutdown is enabled with a zero threshold")
	}
}

func TestValidateStorageRequiresURIForMongo(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.Type = "mongo"
	cfg.Storage.URI = ""
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for mongo storage without a URI")
	}
	cfg.Storage.URI = "mongodb://localhost:27017"
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected mongo storage with a URI to validate, got: %v", err)
	}
}

func TestValidateConnectorConcurrency(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Connectors["web"] = ConnectorFamilyConfig{Enabled: true, Concurrency: 0}
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for enabled connector with zero concurrency")
	}
}

func TestValidateRejectsUnsupportedLogLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Level = "verbose"
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for unsupported log level")
	}
}

func TestLoadWithNoConfigFileReturnsDefaults(t *testing.T) {
	t.Setenv("WISEFLOW_WORKER_MIN", "")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Worker.Min != DefaultConfig().Worker.Min {
		t.Fatalf("expected default worker.min, got %d", cfg.Worker.Min)
	}
}
