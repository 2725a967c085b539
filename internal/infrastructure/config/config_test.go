package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
database:
  data_dir: "/tmp/ipx"
  wal_mode: true
  busy_timeout: 5
endpoints:
  - id: "garage"
    name: "Garage controller"
    address: "192.168.1.50"
    poll_interval: 3s
    trigger: press
  - address: "192.168.1.51:8080"
mqtt:
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
api:
  host: "0.0.0.0"
  port: 8080
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.DataDir != "/tmp/ipx" {
		t.Errorf("Database.DataDir = %q, want %q", cfg.Database.DataDir, "/tmp/ipx")
	}
	if len(cfg.Endpoints) != 2 {
		t.Fatalf("len(Endpoints) = %d, want 2", len(cfg.Endpoints))
	}

	garage := cfg.Endpoints[0]
	if garage.PollInterval != 3*time.Second {
		t.Errorf("PollInterval = %v, want 3s", garage.PollInterval)
	}
	if garage.Trigger != TriggerPress {
		t.Errorf("Trigger = %q, want %q", garage.Trigger, TriggerPress)
	}

	second := cfg.Endpoints[1]
	if second.ID != "192-168-1-51-8080" {
		t.Errorf("derived ID = %q, want %q", second.ID, "192-168-1-51-8080")
	}
	if second.PollInterval != DefaultPollInterval {
		t.Errorf("default PollInterval = %v, want %v", second.PollInterval, DefaultPollInterval)
	}
	if second.StatusPath != DefaultStatusPath {
		t.Errorf("default StatusPath = %q, want %q", second.StatusPath, DefaultStatusPath)
	}
	if second.Trigger != TriggerChange {
		t.Errorf("default Trigger = %q, want %q", second.Trigger, TriggerChange)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_NoEndpoints(t *testing.T) {
	_, err := Load(writeConfig(t, "api:\n  port: 8080\n"))
	if err == nil {
		t.Fatal("Load() expected validation error, got nil")
	}
	if !strings.Contains(err.Error(), "at least one endpoint") {
		t.Errorf("error = %v, want mention of missing endpoint", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	content := `
endpoints:
  - address: "10.0.0.2"
`
	t.Setenv("IPXBRIDGE_DATA_DIR", "/var/lib/ipx")
	t.Setenv("IPXBRIDGE_MQTT_PASSWORD", "env-password")
	t.Setenv("IPXBRIDGE_JWT_SECRET", "an-env-secret-that-is-long-enough-1234")

	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.DataDir != "/var/lib/ipx" {
		t.Errorf("DataDir = %q, want env override", cfg.Database.DataDir)
	}
	if cfg.MQTT.Auth.Password != "env-password" {
		t.Errorf("MQTT password = %q, want env override", cfg.MQTT.Auth.Password)
	}
	if cfg.Security.JWT.Secret == "" {
		t.Error("JWT secret not overridden from environment")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := defaultConfig()
		cfg.Endpoints = []EndpointConfig{{Address: "10.0.0.2"}}
		cfg.applyEndpointDefaults()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(*Config) {},
		},
		{
			name: "duplicate endpoint id",
			mutate: func(c *Config) {
				c.Endpoints = append(c.Endpoints, c.Endpoints[0])
			},
			wantErr: "duplicated",
		},
		{
			name: "bad trigger",
			mutate: func(c *Config) {
				c.Endpoints[0].Trigger = "hold"
			},
			wantErr: "trigger",
		},
		{
			name: "missing address",
			mutate: func(c *Config) {
				c.Endpoints[0].Address = ""
			},
			wantErr: "address is required",
		},
		{
			name: "bad id",
			mutate: func(c *Config) {
				c.Endpoints[0].ID = "Has Spaces"
			},
			wantErr: "lowercase",
		},
		{
			name: "port out of range",
			mutate: func(c *Config) {
				c.API.Port = 70000
			},
			wantErr: "api.port",
		},
		{
			name: "short jwt secret",
			mutate: func(c *Config) {
				c.Security.JWT.Secret = "short"
			},
			wantErr: "jwt.secret",
		},
		{
			name: "influx without bucket",
			mutate: func(c *Config) {
				c.InfluxDB.Enabled = true
				c.InfluxDB.URL = "http://influx:8086"
			},
			wantErr: "influxdb",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestEndpointIDFromAddress(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"192.168.1.50", "192-168-1-50"},
		{"http://192.168.1.50:80/", "192-168-1-50-80"},
		{"IPX.Local", "ipx-local"},
	}
	for _, tt := range tests {
		if got := EndpointIDFromAddress(tt.in); got != tt.want {
			t.Errorf("EndpointIDFromAddress(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEndpointConfig_BaseURL(t *testing.T) {
	if got := (EndpointConfig{Address: "10.0.0.2"}).BaseURL(); got != "http://10.0.0.2" {
		t.Errorf("BaseURL() = %q", got)
	}
	if got := (EndpointConfig{Address: "https://ipx/"}).BaseURL(); got != "https://ipx" {
		t.Errorf("BaseURL() = %q", got)
	}
}

func TestConfig_Timeouts(t *testing.T) {
	cfg := defaultConfig()
	if cfg.GetReadTimeout() != 30*time.Second {
		t.Errorf("GetReadTimeout() = %v, want 30s", cfg.GetReadTimeout())
	}
	if cfg.GetIdleTimeout() != 60*time.Second {
		t.Errorf("GetIdleTimeout() = %v, want 60s", cfg.GetIdleTimeout())
	}
}
