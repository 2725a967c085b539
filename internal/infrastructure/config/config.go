package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Endpoint defaults. The poll interval matches the IPX800 add-on default.
const (
	DefaultPollInterval = 10 * time.Second
	DefaultTimeout      = 5 * time.Second
	DefaultMaxBackoff   = 2 * time.Minute
	DefaultStatusPath   = "/status.xml"
	DefaultActuatePath  = "/actuate"

	// TriggerChange toggles devices on every input transition.
	TriggerChange = "change"

	// TriggerPress toggles devices only when an input goes from released to pressed.
	TriggerPress = "press"
)

// minJWTSecretLength is the minimum accepted length of security.jwt.secret when auth is enabled.
const minJWTSecretLength = 32

var endpointIDPattern = regexp.MustCompile(`^[a-z0-9]+(?:[-_][a-z0-9]+)*$`)

// Config is the root configuration structure for the bridge.
type Config struct {
	Database  DatabaseConfig   `yaml:"database"`
	Endpoints []EndpointConfig `yaml:"endpoints"`
	API       APIConfig        `yaml:"api"`
	WebSocket WebSocketConfig  `yaml:"websocket"`
	MQTT      MQTTConfig       `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig   `yaml:"influxdb"`
	Logging   LoggingConfig    `yaml:"logging"`
	Security  SecurityConfig   `yaml:"security"`
}

// DatabaseConfig contains SQLite settings shared by every endpoint registry.
type DatabaseConfig struct {
	// DataDir holds one registry file per endpoint (ipx800_{address}.db).
	DataDir     string `yaml:"data_dir"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// EndpointConfig describes one physical IPX800 controller.
type EndpointConfig struct {
	// ID is the short identifier used in URLs and MQTT topics.
	// Derived from Address when empty.
	ID string `yaml:"id"`

	// Name is a human-readable label stored in the registry's endpoint info.
	Name string `yaml:"name"`

	// Address is the controller's host or host:port (e.g. "192.168.1.50").
	Address string `yaml:"address"`

	// PollInterval is the time between status polls. Default: 10s.
	PollInterval time.Duration `yaml:"poll_interval"`

	// Timeout bounds each poll and each actuation call. Default: 5s.
	Timeout time.Duration `yaml:"timeout"`

	// MaxBackoff caps the poll delay after consecutive failures. Default: 2m.
	MaxBackoff time.Duration `yaml:"max_backoff"`

	// StatusPath is the XML status document path. Default: /status.xml.
	StatusPath string `yaml:"status_path"`

	// ActuatePath is the output actuation path. Default: /actuate.
	// IPX800 v1 firmware exposes this as /preset.htm.
	ActuatePath string `yaml:"actuate_path"`

	// Trigger selects which input transitions toggle devices: "change" or "press".
	Trigger string `yaml:"trigger"`
}

// BaseURL returns the HTTP base URL of the controller.
func (e EndpointConfig) BaseURL() string {
	if strings.HasPrefix(e.Address, "http://") || strings.HasPrefix(e.Address, "https://") {
		return strings.TrimRight(e.Address, "/")
	}
	return "http://" + e.Address
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`

	// CORSOrigins lists the browser origins allowed to call the API. Empty
	// allows any origin.
	CORSOrigins []string `yaml:"cors_origins"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains consumer channel settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`

	// SendBuffer is the per-consumer outbound queue length. A consumer whose
	// queue fills up is disconnected.
	SendBuffer int `yaml:"send_buffer"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains API security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains bearer token settings. An empty secret disables auth.
type JWTConfig struct {
	Secret string `yaml:"secret"`
	Issuer string `yaml:"issuer"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//  4. Per-endpoint defaults for anything still unset
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)
	cfg.applyEndpointDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			DataDir:     "./data",
			WALMode:     true,
			BusyTimeout: 5,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8099,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
			SendBuffer:     64,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "ipx800-bridge",
			},
			QoS:         1,
			TopicPrefix: "ipx800",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: IPXBRIDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("IPXBRIDGE_DATA_DIR"); v != "" {
		cfg.Database.DataDir = v
	}
	if v := os.Getenv("IPXBRIDGE_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("IPXBRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("IPXBRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("IPXBRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
	if v := os.Getenv("IPXBRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
	if v := os.Getenv("IPXBRIDGE_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// applyEndpointDefaults fills unset per-endpoint fields.
func (c *Config) applyEndpointDefaults() {
	for i := range c.Endpoints {
		ep := &c.Endpoints[i]
		if ep.ID == "" {
			ep.ID = EndpointIDFromAddress(ep.Address)
		}
		if ep.Name == "" {
			ep.Name = "IPX800 " + ep.Address
		}
		if ep.PollInterval <= 0 {
			ep.PollInterval = DefaultPollInterval
		}
		if ep.Timeout <= 0 {
			ep.Timeout = DefaultTimeout
		}
		if ep.MaxBackoff <= 0 {
			ep.MaxBackoff = DefaultMaxBackoff
		}
		if ep.StatusPath == "" {
			ep.StatusPath = DefaultStatusPath
		}
		if ep.ActuatePath == "" {
			ep.ActuatePath = DefaultActuatePath
		}
		if ep.Trigger == "" {
			ep.Trigger = TriggerChange
		}
	}
}

// EndpointIDFromAddress derives a URL- and filename-safe identifier from an address.
//
// Example: "http://192.168.1.50:80" -> "192-168-1-50-80"
func EndpointIDFromAddress(address string) string {
	addr := strings.TrimPrefix(strings.TrimPrefix(address, "https://"), "http://")
	addr = strings.ToLower(strings.TrimRight(addr, "/"))

	var b strings.Builder
	lastDash := true
	for _, r := range addr {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastDash = false
			continue
		}
		if !lastDash {
			b.WriteByte('-')
			lastDash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of all validation failures, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Database.DataDir == "" {
		errs = append(errs, "database.data_dir is required")
	}

	if len(c.Endpoints) == 0 {
		errs = append(errs, "at least one endpoint is required")
	}

	seen := make(map[string]bool, len(c.Endpoints))
	for i, ep := range c.Endpoints {
		if ep.Address == "" {
			errs = append(errs, fmt.Sprintf("endpoints[%d].address is required", i))
		}
		if !endpointIDPattern.MatchString(ep.ID) {
			errs = append(errs, fmt.Sprintf("endpoints[%d].id %q must be lowercase alphanumerics separated by - or _", i, ep.ID))
		}
		if seen[ep.ID] {
			errs = append(errs, fmt.Sprintf("endpoints[%d].id %q is duplicated", i, ep.ID))
		}
		seen[ep.ID] = true
		if ep.Trigger != TriggerChange && ep.Trigger != TriggerPress {
			errs = append(errs, fmt.Sprintf("endpoints[%d].trigger must be %q or %q", i, TriggerChange, TriggerPress))
		}
		if !strings.HasPrefix(ep.StatusPath, "/") || !strings.HasPrefix(ep.ActuatePath, "/") {
			errs = append(errs, fmt.Sprintf("endpoints[%d] paths must start with /", i))
		}
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.WebSocket.SendBuffer < 1 {
		errs = append(errs, "websocket.send_buffer must be at least 1")
	}

	if c.MQTT.Enabled && (c.MQTT.QoS < 0 || c.MQTT.QoS > 2) {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}

	if s := c.Security.JWT.Secret; s != "" && len(s) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// Endpoint returns the endpoint configuration with the given ID.
func (c *Config) Endpoint(id string) (EndpointConfig, bool) {
	for _, ep := range c.Endpoints {
		if ep.ID == id {
			return ep, true
		}
	}
	return EndpointConfig{}, false
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
