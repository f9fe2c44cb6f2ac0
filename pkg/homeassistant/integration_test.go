package homeassistant

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miguelangel-nubla/homeassistant-ultimaker/pkg/config"
	"github.com/miguelangel-nubla/homeassistant-ultimaker/pkg/ultimaker"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testIntegration() *Integration {
	haConfig := &config.HomeAssistantConfig{
		DiscoveryPrefix: "homeassistant",
		InstanceID:      "test",
	}
	return NewIntegration(nil, haConfig, "1.0.0", testLogger())
}

func TestGenerateBridgeAvailabilityTopic(t *testing.T) {
	haConfig := &config.HomeAssistantConfig{
		DiscoveryPrefix: "homeassistant",
		InstanceID:      "test",
	}

	topic := GenerateBridgeAvailabilityTopic(haConfig)
	assert.Equal(t, "homeassistant/sensor/ha-ultimaker-bridge-test/availability", topic)

	// The method and the package function must agree: the MQTT will topic is
	// built before the integration exists.
	integration := testIntegration()
	assert.Equal(t, topic, integration.GenerateBridgeAvailabilityTopic())
}

func TestTopicLayout(t *testing.T) {
	integration := testIntegration()

	assert.Equal(t,
		"homeassistant/sensor/ha-ultimaker-bridge-test-printer-workshop-bed_temperature/state",
		integration.sensorStateTopic("workshop", "bed_temperature"))
	assert.Equal(t,
		"homeassistant/sensor/ha-ultimaker-bridge-test-printer-workshop/availability",
		integration.printerAvailabilityTopic("workshop"))
	assert.Equal(t,
		"homeassistant/sensor/ha-ultimaker-bridge-test-printer-workshop/attributes",
		integration.printerAttributesTopic("workshop"))
}

func TestBuildSensorConfig(t *testing.T) {
	integration := testIntegration()
	integration.AddPrinter("workshop", "Workshop S5", &config.PrinterConfig{
		ID:   "workshop",
		Host: "192.168.1.50",
	})

	device := integration.printers["workshop"]
	require.NotNil(t, device)
	assert.Equal(t, "Ultimaker", device.DeviceInfo.Manufacturer)
	assert.Equal(t, "ha-ultimaker-bridge-test", device.DeviceInfo.ViaDevice)

	desc := SensorDescription{
		Key:  "bed_temperature",
		Name: "Bed temperature",
		Unit: "°C",
		Path: []any{"bed", "temperature", "current"},
	}
	sensorConfig := integration.buildSensorConfig("workshop", device.DeviceInfo, desc)

	assert.Equal(t, "ha-ultimaker-bridge-test-printer-workshop-bed_temperature", sensorConfig.UniqueID)
	assert.Equal(t, "~/state", sensorConfig.StateTopic)
	assert.Equal(t, "all", sensorConfig.AvailabilityMode)
	require.Len(t, sensorConfig.Availability, 2)
	assert.Equal(t, integration.printerAvailabilityTopic("workshop"), sensorConfig.Availability[0].Topic)
	assert.Equal(t, integration.GenerateBridgeAvailabilityTopic(), sensorConfig.Availability[1].Topic)
	assert.Nil(t, sensorConfig.EnabledByDefault)

	// Disabled descriptions publish enabled_by_default: false.
	desc.Disabled = true
	sensorConfig = integration.buildSensorConfig("workshop", device.DeviceInfo, desc)
	require.NotNil(t, sensorConfig.EnabledByDefault)
	assert.False(t, *sensorConfig.EnabledByDefault)
}

func TestSensorConfigJSON(t *testing.T) {
	integration := testIntegration()
	integration.AddPrinter("workshop", "Workshop S5", nil)
	device := integration.printers["workshop"]

	sensorConfig := integration.buildSensorConfig("workshop", device.DeviceInfo, SensorDescription{
		Key:  "printer_activity",
		Name: "Printer activity",
		Icon: "mdi:printer-3d",
	})

	payload, err := json.Marshal(sensorConfig)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(payload, &decoded))

	assert.Equal(t, "~/state", decoded["state_topic"])
	assert.Contains(t, decoded, "~")
	assert.Contains(t, decoded, "device")

	// Empty optional fields must be omitted entirely.
	assert.NotContains(t, decoded, "unit_of_measurement")
	assert.NotContains(t, decoded, "device_class")
	assert.NotContains(t, decoded, "enabled_by_default")
}

func TestAbsorbSystemInfo(t *testing.T) {
	integration := testIntegration()
	integration.AddPrinter("workshop", "Workshop S5", nil)

	snap := ultimaker.Snapshot{
		"system": map[string]any{
			"variant":  "Ultimaker S5",
			"firmware": "5.3.0",
			"guid":     "9066c0cd-5f11-4b33-8b10-b2b9b5f7c3a1",
			"hardware": map[string]any{"revision": 2.0},
		},
	}
	needDiscovery, err := integration.absorbSystemInfo("workshop", snap)
	require.NoError(t, err)
	assert.True(t, needDiscovery)

	info, exists := integration.deviceInfoSnapshot("workshop")
	require.True(t, exists)
	assert.Equal(t, "Ultimaker S5", info.Model)
	assert.Equal(t, "5.3.0", info.SWVersion)
	assert.Equal(t, "2", info.HWVersion)
	assert.Equal(t, "9066c0cd-5f11-4b33-8b10-b2b9b5f7c3a1", info.SerialNumber)

	// A snapshot without system data leaves existing fields alone.
	_, err = integration.absorbSystemInfo("workshop", ultimaker.Snapshot{})
	require.NoError(t, err)
	info, _ = integration.deviceInfoSnapshot("workshop")
	assert.Equal(t, "Ultimaker S5", info.Model)

	integration.markDiscovered("workshop")
	needDiscovery, err = integration.absorbSystemInfo("workshop", ultimaker.Snapshot{})
	require.NoError(t, err)
	assert.False(t, needDiscovery)

	_, err = integration.absorbSystemInfo("nope", ultimaker.Snapshot{})
	assert.Error(t, err)
}

// Snapshot callbacks and the MQTT reconnect handler touch the same device
// records from different goroutines; info updates and discovery-config
// marshaling must not share mutable state.
func TestDeviceInfoConcurrentAccess(t *testing.T) {
	integration := testIntegration()
	integration.AddPrinter("workshop", "Workshop S5", nil)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for n := 0; n < 200; n++ {
			snap := ultimaker.Snapshot{
				"system": map[string]any{"firmware": fmt.Sprintf("5.3.%d", n)},
			}
			_, err := integration.absorbSystemInfo("workshop", snap)
			assert.NoError(t, err)
		}
	}()

	go func() {
		defer wg.Done()
		for n := 0; n < 200; n++ {
			info, exists := integration.deviceInfoSnapshot("workshop")
			if !exists {
				continue
			}
			sensorConfig := integration.buildSensorConfig("workshop", &info, SensorTypes[0])
			_, err := json.Marshal(sensorConfig)
			assert.NoError(t, err)
		}
	}()

	wg.Wait()
}
