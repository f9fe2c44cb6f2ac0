package config

import (
	"fmt"
	"net/url"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	APITypeLocal = "local"
	APITypeCloud = "cloud"

	DefaultScanIntervalLocal = 10
	DefaultScanIntervalCloud = 30
	DefaultTimeoutLocal      = 5
	DefaultTimeoutCloud      = 10
	DefaultDecimals          = 2
	DefaultMaxFailures       = 3
)

type Config struct {
	MQTT          MQTTConfig               `yaml:"mqtt"`
	Printers      map[string]PrinterConfig `yaml:"printers"`
	HomeAssistant HomeAssistantConfig      `yaml:"homeassistant"`
	Web           WebConfig                `yaml:"web"`
	Logging       LoggingConfig            `yaml:"logging"`
}

type MQTTConfig struct {
	BrokerURL          string `yaml:"broker_url"`
	Username           string `yaml:"username,omitempty"`
	Password           string `yaml:"password,omitempty"`
	ClientID           string `yaml:"client_id"`
	QoS                byte   `yaml:"qos"`
	KeepAlive          int    `yaml:"keep_alive"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// CloudConfig holds the Ultimaker Digital Factory credentials for printers
// polled through the cloud Connect API instead of the local REST API.
type CloudConfig struct {
	ClusterID      string `yaml:"cluster_id"`
	OrganizationID string `yaml:"organization_id,omitempty"`
	ClientID       string `yaml:"client_id,omitempty"`
	ClientSecret   string `yaml:"client_secret,omitempty"`
	RefreshToken   string `yaml:"refresh_token,omitempty"`
	AccessToken    string `yaml:"access_token,omitempty"`
}

type PrinterConfig struct {
	ID           string      `yaml:"id"`
	Name         string      `yaml:"name,omitempty"`
	API          string      `yaml:"api,omitempty"`
	Host         string      `yaml:"host,omitempty"`
	ScanInterval int         `yaml:"scan_interval,omitempty"`
	Timeout      int         `yaml:"timeout,omitempty"`
	// Pointer so an explicit "decimals: 0" survives defaulting.
	Decimals    *int        `yaml:"decimals,omitempty"`
	MaxFailures int         `yaml:"max_failures,omitempty"`
	Cloud       CloudConfig `yaml:"cloud,omitempty"`
}

type HomeAssistantConfig struct {
	DiscoveryPrefix string `yaml:"discovery_prefix"`
	InstanceID      string `yaml:"instance_id,omitempty"` // Unique identifier for this instance
}

type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen,omitempty"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func (m *MQTTConfig) IsSecure() bool {
	return strings.HasPrefix(m.BrokerURL, "mqtts://") || strings.HasPrefix(m.BrokerURL, "wss://")
}

func (p *PrinterConfig) IsCloud() bool {
	return p.API == APITypeCloud
}

// DecimalPlaces returns the configured rounding precision.
func (p *PrinterConfig) DecimalPlaces() int {
	if p.Decimals == nil {
		return DefaultDecimals
	}
	return *p.Decimals
}

func LoadConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.setDefaults()

	for id, printer := range config.Printers {
		printer.ID = id
		printer.setDefaults()
		config.Printers[id] = printer
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) setDefaults() {
	c.setMQTTDefaults()
	c.setHomeAssistantDefaults()
	c.setWebDefaults()
	c.setLoggingDefaults()
}

func (c *Config) setMQTTDefaults() {
	if c.MQTT.BrokerURL == "" {
		c.MQTT.BrokerURL = "mqtt://localhost:1883"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "ha-ultimaker-bridge"
	}
	if c.MQTT.QoS == 0 {
		c.MQTT.QoS = 1
	}
	if c.MQTT.KeepAlive == 0 {
		c.MQTT.KeepAlive = 60
	}
}

func (c *Config) setHomeAssistantDefaults() {
	if c.HomeAssistant.DiscoveryPrefix == "" {
		c.HomeAssistant.DiscoveryPrefix = "homeassistant"
	}
}

func (c *Config) setWebDefaults() {
	if c.Web.Listen == "" {
		c.Web.Listen = ":8099"
	}
}

func (c *Config) setLoggingDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

func (p *PrinterConfig) setDefaults() {
	if p.API == "" {
		p.API = APITypeLocal
	}
	if p.ScanInterval == 0 {
		if p.IsCloud() {
			p.ScanInterval = DefaultScanIntervalCloud
		} else {
			p.ScanInterval = DefaultScanIntervalLocal
		}
	}
	if p.Timeout == 0 {
		if p.IsCloud() {
			p.Timeout = DefaultTimeoutCloud
		} else {
			p.Timeout = DefaultTimeoutLocal
		}
	}
	if p.Decimals == nil {
		decimals := DefaultDecimals
		p.Decimals = &decimals
	}
	if p.MaxFailures == 0 {
		p.MaxFailures = DefaultMaxFailures
	}
}

func (c *Config) validate() error {
	if err := c.validateMQTT(); err != nil {
		return err
	}
	if err := c.validatePrinters(); err != nil {
		return err
	}
	if err := c.validateHomeAssistant(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateMQTT() error {
	if c.MQTT.BrokerURL == "" {
		return fmt.Errorf("mqtt.broker_url is required")
	}

	if _, err := url.Parse(c.MQTT.BrokerURL); err != nil {
		return fmt.Errorf("invalid mqtt.broker_url '%s': %w", c.MQTT.BrokerURL, err)
	}

	validSchemes := []string{"mqtt://", "mqtts://", "ws://", "wss://"}
	for _, scheme := range validSchemes {
		if strings.HasPrefix(c.MQTT.BrokerURL, scheme) {
			return c.validateMQTTParams()
		}
	}

	return fmt.Errorf("mqtt.broker_url '%s' must use one of: %s", c.MQTT.BrokerURL, strings.Join(validSchemes, ", "))
}

func (c *Config) validateMQTTParams() error {
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1, or 2 (got %d)", c.MQTT.QoS)
	}
	if c.MQTT.KeepAlive < 10 {
		return fmt.Errorf("mqtt.keep_alive must be at least 10 seconds (got %d)", c.MQTT.KeepAlive)
	}
	return nil
}

func (c *Config) validatePrinters() error {
	if len(c.Printers) == 0 {
		return fmt.Errorf("at least one printer must be configured")
	}

	for id, printer := range c.Printers {
		if err := c.validatePrinter(id, &printer); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validatePrinter(id string, printer *PrinterConfig) error {
	switch printer.API {
	case APITypeLocal:
		if printer.Host == "" {
			return fmt.Errorf("printers[%s].host is required for the local API", id)
		}
		if strings.Contains(printer.Host, "://") {
			return fmt.Errorf("printers[%s].host '%s' must be a hostname or IP, not a URL", id, printer.Host)
		}
	case APITypeCloud:
		if printer.Cloud.ClusterID == "" {
			return fmt.Errorf("printers[%s].cloud.cluster_id is required for the cloud API", id)
		}
		// A client_id alone cannot authenticate: the token source needs a
		// refresh or access token to start from.
		if printer.Cloud.AccessToken == "" && printer.Cloud.RefreshToken == "" {
			return fmt.Errorf("printers[%s].cloud requires an access_token or refresh_token", id)
		}
	default:
		return fmt.Errorf("printers[%s].api '%s' must be one of: %s, %s",
			id, printer.API, APITypeLocal, APITypeCloud)
	}

	if printer.ScanInterval < 1 {
		return fmt.Errorf("printers[%s].scan_interval must be at least 1 second (got %d)", id, printer.ScanInterval)
	}
	if printer.Timeout < 1 {
		return fmt.Errorf("printers[%s].timeout must be at least 1 second (got %d)", id, printer.Timeout)
	}
	if decimals := printer.DecimalPlaces(); decimals < 0 || decimals > 6 {
		return fmt.Errorf("printers[%s].decimals must be between 0 and 6 (got %d)", id, decimals)
	}
	if printer.MaxFailures < 1 {
		return fmt.Errorf("printers[%s].max_failures must be at least 1 (got %d)", id, printer.MaxFailures)
	}

	return nil
}

func (c *Config) validateHomeAssistant() error {
	if c.HomeAssistant.DiscoveryPrefix == "" {
		return fmt.Errorf("homeassistant.discovery_prefix is required")
	}

	if c.HomeAssistant.InstanceID == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("failed to get hostname for instance_id: %w", err)
		}
		c.HomeAssistant.InstanceID = hostname
	}

	return nil
}

func (c *Config) validateLogging() error {
	validLogLevels := []string{"debug", "info", "warn", "warning", "error", "fatal", "panic"}
	logLevel := strings.ToLower(c.Logging.Level)
	if !slices.Contains(validLogLevels, logLevel) {
		return fmt.Errorf("logging.level '%s' must be one of: %s",
			c.Logging.Level, strings.Join(validLogLevels, ", "))
	}

	validLogFormats := []string{"text", "json"}
	logFormat := strings.ToLower(c.Logging.Format)
	if !slices.Contains(validLogFormats, logFormat) {
		return fmt.Errorf("logging.format '%s' must be one of: %s",
			c.Logging.Format, strings.Join(validLogFormats, ", "))
	}

	return nil
}
