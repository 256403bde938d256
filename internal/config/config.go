// Package config provides configuration management for the artnetd daemon.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds all configuration values for the daemon.
type Config struct {
	// HTTP server configuration
	Port string
	Env  string

	// Database configuration
	DatabaseURL string

	// Logging
	LogLevel string

	// Art-Net node configuration
	ArtNetIP        string // empty picks the first private interface
	ArtNetBroadcast string // empty derives it from the interface
	ArtNetPort      int
	ShortName       string
	LongName        string
	Style           string
	Subnet          int
	PortsFile       string
	BcastLimit      int
	IPProgEnabled   bool

	// DMX retransmit
	DMXRefreshRate      int           // Hz (active)
	DMXIdleRate         int           // Hz (idle)
	DMXHighRateDuration time.Duration // Duration to stay in high rate after changes
	TickInterval        time.Duration

	// CORS configuration
	CORSOrigin string

	// Peer journal retention, zero keeps peers forever
	JournalRetention     time.Duration
	JournalSweepInterval time.Duration

	// MQTT bridge, disabled when MQTTBroker is empty
	MQTTBroker      string
	MQTTClientID    string
	MQTTTopicPrefix string

	MetricsEnabled bool
}

// Load loads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		// Server
		Port: getEnv("PORT", "4000"),
		Env:  getEnv("ENV", "development"),

		// Database
		DatabaseURL: getEnv("DATABASE_URL", "file:./artnet.db"),

		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Art-Net
		ArtNetIP:        getEnv("ARTNET_IP", ""),
		ArtNetBroadcast: getEnv("ARTNET_BROADCAST", ""),
		ArtNetPort:      getEnvInt("ARTNET_PORT", 6454),
		ShortName:       getEnv("ARTNET_SHORT_NAME", "artnetd"),
		LongName:        getEnv("ARTNET_LONG_NAME", "LacyLights Art-Net node"),
		Style:           getEnv("ARTNET_STYLE", "node"),
		Subnet:          getEnvInt("ARTNET_SUBNET", 0),
		PortsFile:       getEnv("ARTNET_PORTS_FILE", ""),
		BcastLimit:      getEnvInt("ARTNET_BCAST_LIMIT", 0),
		IPProgEnabled:   getEnvBool("ARTNET_IPPROG", false),

		// DMX
		DMXRefreshRate:      getEnvInt("DMX_REFRESH_RATE", 44),
		DMXIdleRate:         getEnvInt("DMX_IDLE_RATE", 1),
		DMXHighRateDuration: time.Duration(getEnvInt("DMX_HIGH_RATE_DURATION", 2000)) * time.Millisecond,
		TickInterval:        time.Duration(getEnvInt("TICK_INTERVAL", 1000)) * time.Millisecond,

		// CORS
		CORSOrigin: getEnv("CORS_ORIGIN", "http://localhost:3000"),

		// Journal
		JournalRetention:     time.Duration(getEnvInt("JOURNAL_RETENTION_HOURS", 24)) * time.Hour,
		JournalSweepInterval: time.Duration(getEnvInt("JOURNAL_SWEEP_INTERVAL", 60)) * time.Minute,

		// MQTT
		MQTTBroker:      getEnv("MQTT_BROKER", ""),
		MQTTClientID:    getEnv("MQTT_CLIENT_ID", "artnetd"),
		MQTTTopicPrefix: getEnv("MQTT_TOPIC_PREFIX", "artnet"),

		MetricsEnabled: getEnvBool("METRICS_ENABLED", true),
	}
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// PortSpec is one entry of the ports file.
type PortSpec struct {
	Direction string `toml:"direction"`
	Index     int    `toml:"index"`
	Universe  int    `toml:"universe"`
	Type      string `toml:"type"`
	Merge     string `toml:"merge"`
}

// PortLayout is the decoded ports file.
type PortLayout struct {
	Ports []PortSpec `toml:"port"`
}

// LoadPorts decodes the TOML port layout at path.
//
//	[[port]]
//	direction = "output"
//	index = 0
//	universe = 1
//	merge = "ltp"
func LoadPorts(path string) (*PortLayout, error) {
	var layout PortLayout
	md, err := toml.DecodeFile(path, &layout)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ports file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown keys in ports file: %v", undecoded)
	}
	for i, p := range layout.Ports {
		if p.Direction != "input" && p.Direction != "output" {
			return nil, fmt.Errorf("port %d: direction must be input or output, got %q", i, p.Direction)
		}
		if p.Index < 0 || p.Index > 3 {
			return nil, fmt.Errorf("port %d: index %d out of range", i, p.Index)
		}
		if p.Universe < 0 || p.Universe > 15 {
			return nil, fmt.Errorf("port %d: universe %d out of range", i, p.Universe)
		}
	}
	return &layout, nil
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvInt returns the integer value of an environment variable or a default value.
func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvBool returns the boolean value of an environment variable or a default value.
func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
