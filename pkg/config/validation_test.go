package config

import (
	"strings"
	"testing"
	"time"
)

func TestValidate_ValidConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if err := Validate(cfg); err != nil {
		t.Errorf("Expected valid config to pass validation, got error: %v", err)
	}
}

func TestValidate_TagRules(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *Config)
		tag    string
	}{
		{"InvalidLogLevel", func(cfg *Config) { cfg.Logging.Level = "TRACE" }, "oneof"},
		{"InvalidLogFormat", func(cfg *Config) { cfg.Logging.Format = "xml" }, "oneof"},
		{"EmptyLogOutput", func(cfg *Config) { cfg.Logging.Output = "" }, "required"},
		{"ZeroShutdownTimeout", func(cfg *Config) { cfg.Server.ShutdownTimeout = 0 }, "required"},
		{"RelativeExport", func(cfg *Config) { cfg.Export.Name = "repos" }, "startswith"},
		{"InvalidBackendType", func(cfg *Config) { cfg.Backend.Type = "zfs" }, "oneof"},
		{"InvalidContentType", func(cfg *Config) { cfg.Content.Type = "gcs" }, "oneof"},
		{"NegativeMaxConnections", func(cfg *Config) { cfg.Adapters.NFS.MaxConnections = -1 }, "min"},
		{"NegativeIdleTimeout", func(cfg *Config) { cfg.Adapters.NFS.IdleTimeout = -time.Second }, "min"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), tt.tag) {
				t.Errorf("Expected %q validation error, got: %v", tt.tag, err)
			}
		})
	}
}

func TestValidate_LowercaseLogLevel(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Level = "debug"

	if err := Validate(cfg); err != nil {
		t.Errorf("Expected lowercase log level to be accepted, got: %v", err)
	}
}

func TestValidate_Listen(t *testing.T) {
	valid := []string{"0.0.0.0:2049", "127.0.0.1:0", "[::1]:2049", "auto:2049", "localhost:2049"}
	for _, addr := range valid {
		t.Run("Valid/"+addr, func(t *testing.T) {
			cfg := GetDefaultConfig()
			cfg.Adapters.NFS.Listen = addr
			if err := Validate(cfg); err != nil {
				t.Errorf("Expected %q to be valid, got: %v", addr, err)
			}
		})
	}

	invalid := []string{"2049", "auto:", "auto:0", "auto:nfs", "0.0.0.0:99999"}
	for _, addr := range invalid {
		t.Run("Invalid/"+addr, func(t *testing.T) {
			cfg := GetDefaultConfig()
			cfg.Adapters.NFS.Listen = addr
			err := Validate(cfg)
			if err == nil {
				t.Fatalf("Expected %q to be rejected", addr)
			}
			if !strings.Contains(err.Error(), "adapters.nfs.listen") {
				t.Errorf("Expected listen error, got: %v", err)
			}
		})
	}
}

func TestValidate_NFSShutdownTimeout(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Adapters.NFS.ShutdownTimeout = 0

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for zero NFS shutdown timeout")
	}
	if !strings.Contains(err.Error(), "shutdown_timeout") {
		t.Errorf("Expected shutdown_timeout error, got: %v", err)
	}
}

func TestValidate_LocalBackendRequiresPath(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Backend.Local = map[string]any{}

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for missing local path")
	}
	if !strings.Contains(err.Error(), "backend.local.path") {
		t.Errorf("Expected local path error, got: %v", err)
	}
}

func TestValidate_Metrics(t *testing.T) {
	t.Run("InvalidListen", func(t *testing.T) {
		cfg := GetDefaultConfig()
		cfg.Metrics.Enabled = true
		cfg.Metrics.Listen = "9090"

		if err := Validate(cfg); err == nil {
			t.Fatal("Expected validation error for metrics listen without host")
		}
	})

	t.Run("SameAddressAsNFS", func(t *testing.T) {
		cfg := GetDefaultConfig()
		cfg.Metrics.Enabled = true
		cfg.Metrics.Listen = cfg.Adapters.NFS.Listen

		err := Validate(cfg)
		if err == nil {
			t.Fatal("Expected validation error for a shared address")
		}
		if !strings.Contains(err.Error(), "must differ") {
			t.Errorf("Expected 'must differ' error, got: %v", err)
		}
	})

	t.Run("DisabledIgnoresListen", func(t *testing.T) {
		cfg := GetDefaultConfig()
		cfg.Metrics.Listen = "not an address"

		if err := Validate(cfg); err != nil {
			t.Errorf("Expected disabled metrics to skip listen checks, got: %v", err)
		}
	})
}
