package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func createTempConfig(t *testing.T, content string) string {
	t.Helper()

	tempFile := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(tempFile, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write temp config: %v", err)
	}
	return tempFile
}

func TestLoadConfig_LocalPrinter(t *testing.T) {
	configContent := `
mqtt:
  broker_url: "mqtt://localhost:1883"

printers:
  workshop:
    name: "Workshop S5"
    host: "192.168.1.50"

homeassistant:
  discovery_prefix: "homeassistant"
  instance_id: "test"
`

	cfg, err := LoadConfig(createTempConfig(t, configContent))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	printer, ok := cfg.Printers["workshop"]
	if !ok {
		t.Fatal("Expected printer 'workshop' to exist")
	}

	if printer.ID != "workshop" {
		t.Errorf("Expected printer ID 'workshop', got: %s", printer.ID)
	}
	if printer.API != APITypeLocal {
		t.Errorf("Expected default api 'local', got: %s", printer.API)
	}
	if printer.ScanInterval != DefaultScanIntervalLocal {
		t.Errorf("Expected scan_interval %d, got: %d", DefaultScanIntervalLocal, printer.ScanInterval)
	}
	if printer.Timeout != DefaultTimeoutLocal {
		t.Errorf("Expected timeout %d, got: %d", DefaultTimeoutLocal, printer.Timeout)
	}
	if printer.MaxFailures != DefaultMaxFailures {
		t.Errorf("Expected max_failures %d, got: %d", DefaultMaxFailures, printer.MaxFailures)
	}
	if printer.DecimalPlaces() != DefaultDecimals {
		t.Errorf("Expected decimals %d, got: %d", DefaultDecimals, printer.DecimalPlaces())
	}
}

func TestLoadConfig_CloudPrinterDefaults(t *testing.T) {
	configContent := `
mqtt:
  broker_url: "mqtt://localhost:1883"

printers:
  farm:
    api: cloud
    cloud:
      cluster_id: "cluster-1"
      access_token: "token"

homeassistant:
  instance_id: "test"
`

	cfg, err := LoadConfig(createTempConfig(t, configContent))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	printer := cfg.Printers["farm"]
	if printer.ScanInterval != DefaultScanIntervalCloud {
		t.Errorf("Expected cloud scan_interval %d, got: %d", DefaultScanIntervalCloud, printer.ScanInterval)
	}
	if printer.Timeout != DefaultTimeoutCloud {
		t.Errorf("Expected cloud timeout %d, got: %d", DefaultTimeoutCloud, printer.Timeout)
	}
	if !printer.IsCloud() {
		t.Error("Expected IsCloud() to be true")
	}
}

func TestLoadConfig_ZeroDecimals(t *testing.T) {
	configContent := `
printers:
  workshop:
    host: "192.168.1.50"
    decimals: 0
`

	cfg, err := LoadConfig(createTempConfig(t, configContent))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	printer := cfg.Printers["workshop"]
	if printer.DecimalPlaces() != 0 {
		t.Errorf("Expected explicit decimals 0 to survive defaulting, got: %d", printer.DecimalPlaces())
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	configContent := `
printers:
  workshop:
    host: "192.168.1.50"
`

	cfg, err := LoadConfig(createTempConfig(t, configContent))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if cfg.MQTT.BrokerURL != "mqtt://localhost:1883" {
		t.Errorf("Expected default broker URL, got: %s", cfg.MQTT.BrokerURL)
	}
	if cfg.HomeAssistant.DiscoveryPrefix != "homeassistant" {
		t.Errorf("Expected default discovery prefix, got: %s", cfg.HomeAssistant.DiscoveryPrefix)
	}
	if cfg.HomeAssistant.InstanceID == "" {
		t.Error("Expected instance_id to default to the hostname")
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Expected default log level 'info', got: %s", cfg.Logging.Level)
	}
	if cfg.Web.Listen != ":8099" {
		t.Errorf("Expected default web listen ':8099', got: %s", cfg.Web.Listen)
	}
}

func TestLoadConfig_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "no printers",
			content: `
mqtt:
  broker_url: "mqtt://localhost:1883"
`,
			wantErr: "at least one printer",
		},
		{
			name: "local printer without host",
			content: `
printers:
  workshop:
    api: local
`,
			wantErr: "host is required",
		},
		{
			name: "host with scheme",
			content: `
printers:
  workshop:
    host: "http://192.168.1.50"
`,
			wantErr: "must be a hostname or IP",
		},
		{
			name: "cloud printer without cluster",
			content: `
printers:
  farm:
    api: cloud
    cloud:
      access_token: "token"
`,
			wantErr: "cluster_id is required",
		},
		{
			name: "cloud printer without credentials",
			content: `
printers:
  farm:
    api: cloud
    cloud:
      cluster_id: "cluster-1"
`,
			wantErr: "access_token or refresh_token",
		},
		{
			name: "cloud printer with client_id only",
			content: `
printers:
  farm:
    api: cloud
    cloud:
      cluster_id: "cluster-1"
      client_id: "bridge"
`,
			wantErr: "access_token or refresh_token",
		},
		{
			name: "unknown api type",
			content: `
printers:
  workshop:
    api: serial
    host: "192.168.1.50"
`,
			wantErr: "must be one of",
		},
		{
			name: "bad broker scheme",
			content: `
mqtt:
  broker_url: "amqp://localhost:5672"
printers:
  workshop:
    host: "192.168.1.50"
`,
			wantErr: "must use one of",
		},
		{
			name: "bad log level",
			content: `
printers:
  workshop:
    host: "192.168.1.50"
logging:
  level: "verbose"
`,
			wantErr: "logging.level",
		},
		{
			name: "decimals out of range",
			content: `
printers:
  workshop:
    host: "192.168.1.50"
    decimals: 9
`,
			wantErr: "decimals",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(createTempConfig(t, tt.content))
			if err == nil {
				t.Fatal("Expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestIsSecure(t *testing.T) {
	secure := MQTTConfig{BrokerURL: "mqtts://broker:8883"}
	if !secure.IsSecure() {
		t.Error("Expected mqtts:// to be secure")
	}

	insecure := MQTTConfig{BrokerURL: "mqtt://broker:1883"}
	if insecure.IsSecure() {
		t.Error("Expected mqtt:// to be insecure")
	}

	wss := MQTTConfig{BrokerURL: "wss://broker/mqtt"}
	if !wss.IsSecure() {
		t.Error("Expected wss:// to be secure")
	}
}
