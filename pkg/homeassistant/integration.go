package homeassistant

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/miguelangel-nubla/homeassistant-ultimaker/pkg/config"
	"github.com/miguelangel-nubla/homeassistant-ultimaker/pkg/mqtt"
	"github.com/miguelangel-nubla/homeassistant-ultimaker/pkg/ultimaker"
)

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

type DeviceInfo struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Model        string   `json:"model,omitempty"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	SWVersion    string   `json:"sw_version,omitempty"`
	HWVersion    string   `json:"hw_version,omitempty"`
	SerialNumber string   `json:"serial_number,omitempty"`
	ViaDevice    string   `json:"via_device,omitempty"`
}

type AvailabilityConfig struct {
	Topic string `json:"topic"`
}

type SensorConfig struct {
	Name              string               `json:"name"`
	ObjectID          string               `json:"object_id,omitempty"`
	UniqueID          string               `json:"unique_id"`
	TildeTopic        string               `json:"~,omitempty"`
	StateTopic        string               `json:"state_topic"`
	AttributesTopic   string               `json:"json_attributes_topic,omitempty"`
	Availability      []AvailabilityConfig `json:"availability,omitempty"`
	AvailabilityMode  string               `json:"availability_mode,omitempty"`
	Device            *DeviceInfo          `json:"device,omitempty"`
	Icon              string               `json:"icon,omitempty"`
	UnitOfMeasurement string               `json:"unit_of_measurement,omitempty"`
	DeviceClass       string               `json:"device_class,omitempty"`
	StateClass        string               `json:"state_class,omitempty"`
	EntityCategory    string               `json:"entity_category,omitempty"`
	EnabledByDefault  *bool                `json:"enabled_by_default,omitempty"`
	ForceUpdate       bool                 `json:"force_update,omitempty"`
}

// PrinterDevice is the Home Assistant device representing one printer.
type PrinterDevice struct {
	ID         string
	Name       string
	Connected  bool
	Discovered bool // discovery configs published at least once
	DeviceInfo *DeviceInfo
}

// Integration publishes printer snapshots to Home Assistant through MQTT
// discovery: one HA device per printer plus a bridge device with a
// diagnostics entity.
type Integration struct {
	mqtt    *mqtt.Client
	config  *config.HomeAssistantConfig
	logger  *logrus.Logger
	version string
	now     func() time.Time

	mu             sync.Mutex
	printers       map[string]*PrinterDevice
	printerConfigs map[string]*config.PrinterConfig

	bridgeDeviceInfo *DeviceInfo
}

func NewIntegration(
	mqttClient *mqtt.Client,
	haConfig *config.HomeAssistantConfig,
	version string,
	logger *logrus.Logger,
) *Integration {
	integration := &Integration{
		mqtt:           mqttClient,
		config:         haConfig,
		logger:         logger,
		version:        version,
		now:            time.Now,
		printers:       make(map[string]*PrinterDevice),
		printerConfigs: make(map[string]*config.PrinterConfig),
	}

	bridgeID := integration.generateBridgeDeviceID()
	integration.bridgeDeviceInfo = &DeviceInfo{
		Identifiers:  []string{bridgeID},
		Name:         "Ultimaker Bridge",
		Model:        "https://github.com/miguelangel-nubla/homeassistant-ultimaker",
		Manufacturer: "Miguel Angel Nubla",
		SWVersion:    version,
	}

	return integration
}

func (i *Integration) Start() error {
	i.logger.Info("Starting Home Assistant integration")

	i.mqtt.SetOnConnectCallback(i.handleConnect)
	i.mqtt.SetOnDisconnectCallback(i.handleDisconnect)

	if i.mqtt.IsConnected() {
		i.handleConnect()
	}

	return nil
}

func (i *Integration) Stop() error {
	i.logger.Info("Stopping Home Assistant integration")

	if !i.mqtt.IsConnected() {
		return nil
	}

	i.mu.Lock()
	ids := make([]string, 0, len(i.printers))
	for id := range i.printers {
		ids = append(ids, id)
	}
	i.mu.Unlock()

	for _, id := range ids {
		if err := i.publishPrinterAvailability(id, StatusOffline); err != nil {
			i.logger.WithField("printer", id).WithError(err).Error("Failed to publish offline status")
		}
	}

	if err := i.publishBridgeAvailability(StatusOffline); err != nil {
		i.logger.WithError(err).Error("Failed to publish bridge offline status")
	}

	return nil
}

// AddPrinter registers a printer before its first poll. The HA device is
// announced immediately with configuration data; model/firmware details are
// filled in once the first snapshot arrives.
func (i *Integration) AddPrinter(printerID, printerName string, printerConfig *config.PrinterConfig) {
	i.logger.Debugf("Registering printer: %s", printerID)

	if printerName == "" {
		printerName = printerID
	}

	device := &PrinterDevice{
		ID:   printerID,
		Name: printerName,
		DeviceInfo: &DeviceInfo{
			Identifiers:  []string{i.generatePrinterDeviceID(printerID)},
			Name:         printerName,
			Manufacturer: "Ultimaker",
			ViaDevice:    i.generateBridgeDeviceID(),
		},
	}

	i.mu.Lock()
	i.printers[printerID] = device
	i.printerConfigs[printerID] = printerConfig
	i.mu.Unlock()
}

// PublishSnapshot pushes one snapshot to Home Assistant: device info
// refresh, discovery on first contact, then per-sensor states and the
// shared attributes payload.
func (i *Integration) PublishSnapshot(printerID string, snap ultimaker.Snapshot) error {
	needDiscovery, err := i.absorbSystemInfo(printerID, snap)
	if err != nil {
		return err
	}

	if !i.mqtt.IsConnected() {
		return fmt.Errorf("MQTT not connected")
	}

	if needDiscovery {
		if err := i.publishPrinterDiscoveryConfigs(printerID); err != nil {
			return err
		}
		i.markDiscovered(printerID)
	}

	i.mu.Lock()
	printerConfig := i.printerConfigs[printerID]
	i.mu.Unlock()

	ctx := ValueContext{
		Decimals: config.DefaultDecimals,
		Now:      i.now,
	}
	if printerConfig != nil {
		ctx.Host = printerConfig.Host
		ctx.Decimals = printerConfig.DecimalPlaces()
	}

	for _, desc := range SensorTypes {
		value, ok := SensorValue(desc, snap, ctx)
		if !ok {
			// Empty payload shows as "unknown" in HA.
			value = ""
		}
		if err := i.mqtt.Publish(i.sensorStateTopic(printerID, desc.Key), value, false); err != nil {
			return err
		}
	}

	if err := i.publishPrinterAttributes(printerID, snap, printerConfig); err != nil {
		return err
	}

	return i.publishBridgeDiagnostics()
}

// absorbSystemInfo folds the /system payload into the printer's HA device
// registry entry and reports whether discovery configs still need to be
// published. Device fields are only ever mutated under the lock; snapshot
// callbacks and the MQTT reconnect handler run on different goroutines.
func (i *Integration) absorbSystemInfo(printerID string, snap ultimaker.Snapshot) (bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	device, exists := i.printers[printerID]
	if !exists {
		return false, fmt.Errorf("printer %s not found", printerID)
	}
	updateDeviceInfo(device.DeviceInfo, snap)
	return !device.Discovered, nil
}

func (i *Integration) markDiscovered(printerID string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if device, exists := i.printers[printerID]; exists {
		device.Discovered = true
	}
}

// deviceInfoSnapshot returns a copy of the device info so discovery configs
// can be marshaled without racing concurrent /system updates.
func (i *Integration) deviceInfoSnapshot(printerID string) (DeviceInfo, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()

	device, exists := i.printers[printerID]
	if !exists {
		return DeviceInfo{}, false
	}
	return *device.DeviceInfo, true
}

// updateDeviceInfo fills the HA device registry fields from the /system
// payload once it is available.
func updateDeviceInfo(info *DeviceInfo, snap ultimaker.Snapshot) {
	if model := snap.GetString("system", "variant"); model != "" {
		info.Model = model
	}
	if firmware := snap.GetString("system", "firmware"); firmware != "" {
		info.SWVersion = firmware
	}
	if revision, ok := snap.GetFloat("system", "hardware", "revision"); ok {
		info.HWVersion = fmt.Sprintf("%.0f", revision)
	}
	if guid := snap.GetString("system", "guid"); guid != "" {
		info.SerialNumber = guid
	}
}

// SetPrinterConnected publishes the printer's availability. Soft failures
// never reach this with connected=false: the manager only reports a
// disconnect after the poller escalates to a hard failure.
func (i *Integration) SetPrinterConnected(printerID string, connected bool) error {
	i.mu.Lock()
	device, exists := i.printers[printerID]
	if exists {
		device.Connected = connected
	}
	i.mu.Unlock()
	if !exists {
		return fmt.Errorf("printer %s not found", printerID)
	}

	status := StatusOffline
	if connected {
		status = StatusOnline
	}

	if err := i.publishPrinterAvailability(printerID, status); err != nil {
		return err
	}
	return i.publishBridgeDiagnostics()
}

func (i *Integration) handleConnect() {
	i.logger.Info("MQTT connected, publishing discovery configs")

	i.mu.Lock()
	ids := make([]string, 0, len(i.printers))
	for id, device := range i.printers {
		if device.Discovered {
			ids = append(ids, id)
		}
	}
	i.mu.Unlock()

	for _, id := range ids {
		if err := i.publishPrinterDiscoveryConfigs(id); err != nil {
			i.logger.WithField("printer", id).WithError(err).Error("Failed to publish discovery configs")
		}
	}

	if err := i.publishBridgeDiscoveryConfig(); err != nil {
		i.logger.WithError(err).Error("Failed to publish bridge discovery config")
	}
	if err := i.publishBridgeAvailability(StatusOnline); err != nil {
		i.logger.WithError(err).Error("Failed to publish bridge availability")
	}
}

func (i *Integration) handleDisconnect() {
	i.logger.Warn("MQTT disconnected")
}

func (i *Integration) publishPrinterDiscoveryConfigs(printerID string) error {
	info, exists := i.deviceInfoSnapshot(printerID)
	if !exists {
		return fmt.Errorf("printer %s not found", printerID)
	}

	for _, desc := range SensorTypes {
		sensorConfig := i.buildSensorConfig(printerID, &info, desc)

		configJSON, err := json.Marshal(sensorConfig)
		if err != nil {
			return fmt.Errorf("failed to marshal discovery config for %s: %w", desc.Key, err)
		}

		topic := i.sensorBaseTopic(printerID, desc.Key) + "/config"
		if err := i.mqtt.Publish(topic, string(configJSON), true); err != nil {
			return err
		}
	}

	i.logger.WithField("printer", printerID).Infof("Published discovery configs for %d sensors", len(SensorTypes))
	return nil
}

func (i *Integration) buildSensorConfig(printerID string, info *DeviceInfo, desc SensorDescription) SensorConfig {
	uniqueID := fmt.Sprintf("%s-%s", i.generatePrinterDeviceID(printerID), desc.Key)

	sensorConfig := SensorConfig{
		Name:            desc.Name,
		ObjectID:        fmt.Sprintf("%s_%s_%s", i.config.InstanceID, printerID, desc.Key),
		UniqueID:        uniqueID,
		TildeTopic:      i.sensorBaseTopic(printerID, desc.Key),
		StateTopic:      "~/state",
		AttributesTopic: i.printerAttributesTopic(printerID),
		Availability: []AvailabilityConfig{
			{Topic: i.printerAvailabilityTopic(printerID)},
			{Topic: i.GenerateBridgeAvailabilityTopic()},
		},
		AvailabilityMode:  "all",
		Device:            info,
		Icon:              desc.Icon,
		UnitOfMeasurement: desc.Unit,
		DeviceClass:       desc.DeviceClass,
		StateClass:        desc.StateClass,
		EntityCategory:    desc.EntityCategory,
	}

	if desc.Disabled {
		enabled := false
		sensorConfig.EnabledByDefault = &enabled
	}

	return sensorConfig
}

func (i *Integration) publishPrinterAttributes(printerID string, snap ultimaker.Snapshot, printerConfig *config.PrinterConfig) error {
	attributes := map[string]any{
		"printer_id":        printerID,
		"using_cached_data": snap.UsingCachedData(),
		"sample_time":       snap.GetString(ultimaker.KeySampleTime),
	}
	if printerConfig != nil {
		attributes["api"] = printerConfig.API
		if printerConfig.Host != "" {
			attributes["host"] = printerConfig.Host
		}
	}

	attributesJSON, err := json.Marshal(attributes)
	if err != nil {
		return fmt.Errorf("failed to marshal attributes: %w", err)
	}

	return i.mqtt.Publish(i.printerAttributesTopic(printerID), string(attributesJSON), false)
}

func (i *Integration) publishPrinterAvailability(printerID, status string) error {
	return i.mqtt.Publish(i.printerAvailabilityTopic(printerID), status, true)
}

func (i *Integration) publishBridgeAvailability(status string) error {
	return i.mqtt.Publish(i.GenerateBridgeAvailabilityTopic(), status, true)
}

func (i *Integration) publishBridgeDiscoveryConfig() error {
	bridgeID := i.generateBridgeDeviceID()
	entityID := fmt.Sprintf("%s-diagnostics", bridgeID)
	baseTopic := fmt.Sprintf("%s/sensor/%s", i.config.DiscoveryPrefix, entityID)

	sensorConfig := SensorConfig{
		Name:            "Diagnostics",
		UniqueID:        entityID,
		TildeTopic:      baseTopic,
		StateTopic:      "~/state",
		AttributesTopic: "~/attributes",
		Availability: []AvailabilityConfig{
			{Topic: i.GenerateBridgeAvailabilityTopic()},
		},
		Device:         i.bridgeDeviceInfo,
		Icon:           "mdi:stethoscope",
		EntityCategory: categoryDiagnostic,
	}

	configJSON, err := json.Marshal(sensorConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal bridge discovery config: %w", err)
	}

	return i.mqtt.Publish(baseTopic+"/config", string(configJSON), true)
}

// publishBridgeDiagnostics updates the bridge entity: online/partial/offline
// plus a summary of which printers are reachable.
func (i *Integration) publishBridgeDiagnostics() error {
	i.mu.Lock()
	total := len(i.printers)
	connected := 0
	printerList := make([]string, 0, total)
	for id, device := range i.printers {
		printerList = append(printerList, id)
		if device.Connected {
			connected++
		}
	}
	i.mu.Unlock()

	status := StatusOffline
	switch {
	case total > 0 && connected == total:
		status = StatusOnline
	case connected > 0:
		status = "partial"
	}

	bridgeID := i.generateBridgeDeviceID()
	baseTopic := fmt.Sprintf("%s/sensor/%s-diagnostics", i.config.DiscoveryPrefix, bridgeID)

	if err := i.mqtt.Publish(baseTopic+"/state", status, false); err != nil {
		return err
	}

	attributes := map[string]any{
		"connected_printers": connected,
		"total_printers":     total,
		"printer_list":       printerList,
		"version":            i.version,
	}
	attributesJSON, err := json.Marshal(attributes)
	if err != nil {
		return fmt.Errorf("failed to marshal bridge attributes: %w", err)
	}

	return i.mqtt.Publish(baseTopic+"/attributes", string(attributesJSON), false)
}

func (i *Integration) generateBridgeDeviceID() string {
	if i.config.InstanceID != "" {
		return fmt.Sprintf("ha-ultimaker-bridge-%s", i.config.InstanceID)
	}
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return fmt.Sprintf("ha-ultimaker-bridge-%s", hostname)
}

func (i *Integration) generatePrinterDeviceID(printerID string) string {
	return fmt.Sprintf("%s-printer-%s", i.generateBridgeDeviceID(), printerID)
}

func (i *Integration) sensorBaseTopic(printerID, sensorKey string) string {
	return fmt.Sprintf("%s/sensor/%s-%s", i.config.DiscoveryPrefix, i.generatePrinterDeviceID(printerID), sensorKey)
}

func (i *Integration) sensorStateTopic(printerID, sensorKey string) string {
	return i.sensorBaseTopic(printerID, sensorKey) + "/state"
}

func (i *Integration) printerAvailabilityTopic(printerID string) string {
	return fmt.Sprintf("%s/sensor/%s/availability", i.config.DiscoveryPrefix, i.generatePrinterDeviceID(printerID))
}

func (i *Integration) printerAttributesTopic(printerID string) string {
	return fmt.Sprintf("%s/sensor/%s/attributes", i.config.DiscoveryPrefix, i.generatePrinterDeviceID(printerID))
}

func (i *Integration) GenerateBridgeAvailabilityTopic() string {
	return fmt.Sprintf("%s/sensor/%s/availability", i.config.DiscoveryPrefix, i.generateBridgeDeviceID())
}

// GenerateBridgeAvailabilityTopic is used to build the MQTT will topic
// before the integration itself exists.
func GenerateBridgeAvailabilityTopic(haConfig *config.HomeAssistantConfig) string {
	instanceID := haConfig.InstanceID
	if instanceID == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		instanceID = hostname
	}
	return fmt.Sprintf("%s/sensor/ha-ultimaker-bridge-%s/availability", haConfig.DiscoveryPrefix, instanceID)
}
