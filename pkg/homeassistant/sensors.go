package homeassistant

import (
	"strconv"
	"time"

	"github.com/miguelangel-nubla/homeassistant-ultimaker/pkg/ultimaker"
)

// ComputeKind selects how a sensor's value is produced when it is not a
// plain path lookup. The table below is pure data: every extraction and
// transform strategy is enumerated here instead of being an embedded
// closure, so the whole catalog is testable on its own.
type ComputeKind int

const (
	ComputeNone ComputeKind = iota
	ComputeActivity
	ComputeProgressPercent
	ComputeTimeRemainingHours
	ComputeTimeRemainingSeconds
	ComputeETA
	ComputeFirmwareUpdate
	ComputeHostAddress
)

// SensorDescription describes one Home Assistant sensor entity derived from
// a printer snapshot. Exactly one of Path or Compute drives the value;
// Scale/Decimals optionally divide and round numeric path values.
type SensorDescription struct {
	Key            string
	Name           string
	Unit           string
	DeviceClass    string
	StateClass     string
	Icon           string
	EntityCategory string
	Disabled       bool // entity disabled by default in HA

	Path     []any
	Compute  ComputeKind
	Scale    float64
	Decimals int
}

// ValueContext carries the per-printer settings value extraction needs.
type ValueContext struct {
	Host     string
	Decimals int
	Now      func() time.Time
}

const (
	unitCelsius   = "°C"
	unitPercent   = "%"
	unitHours     = "h"
	unitSeconds   = "s"
	unitMeters    = "m"
	unitMM        = "mm"
	unitMegabytes = "MB"
	unitDegrees   = "°"

	categoryDiagnostic = "diagnostic"
)

// SensorTypes is the full sensor catalog for one printer.
var SensorTypes = []SensorDescription{
	{Key: "bed_temperature", Name: "Bed temperature", Unit: unitCelsius, DeviceClass: "temperature", StateClass: "measurement", Icon: "mdi:radiator",
		Path: []any{"bed", "temperature", "current"}},
	{Key: "bed_temperature_target", Name: "Bed temperature target", Unit: unitCelsius, DeviceClass: "temperature", StateClass: "measurement", Icon: "mdi:radiator-disabled",
		Path: []any{"bed", "temperature", "target"}},
	{Key: "bed_type", Name: "Bed type", Icon: "mdi:printer-3d", Disabled: true,
		Path: []any{"bed", "type"}},

	{Key: "hotend_1_temperature", Name: "Hotend 1 temperature", Unit: unitCelsius, DeviceClass: "temperature", StateClass: "measurement", Icon: "mdi:printer-3d-nozzle-heat",
		Path: []any{"heads", 0, "extruders", 0, "hotend", "temperature", "current"}},
	{Key: "hotend_1_temperature_target", Name: "Hotend 1 temperature target", Unit: unitCelsius, DeviceClass: "temperature", StateClass: "measurement", Icon: "mdi:printer-3d-nozzle",
		Path: []any{"heads", 0, "extruders", 0, "hotend", "temperature", "target"}},
	{Key: "hotend_1_id", Name: "Hotend 1 ID", Icon: "mdi:printer-3d-nozzle",
		Path: []any{"heads", 0, "extruders", 0, "hotend", "id"}},
	{Key: "hotend_2_temperature", Name: "Hotend 2 temperature", Unit: unitCelsius, DeviceClass: "temperature", StateClass: "measurement", Icon: "mdi:printer-3d-nozzle-heat",
		Path: []any{"heads", 0, "extruders", 1, "hotend", "temperature", "current"}},
	{Key: "hotend_2_temperature_target", Name: "Hotend 2 temperature target", Unit: unitCelsius, DeviceClass: "temperature", StateClass: "measurement", Icon: "mdi:printer-3d-nozzle",
		Path: []any{"heads", 0, "extruders", 1, "hotend", "temperature", "target"}},
	{Key: "hotend_2_id", Name: "Hotend 2 ID", Icon: "mdi:printer-3d-nozzle",
		Path: []any{"heads", 0, "extruders", 1, "hotend", "id"}},

	{Key: "printer_status", Name: "Printer status", Icon: "mdi:printer-3d", Disabled: true,
		Path: []any{"status"}},
	{Key: "printer_activity", Name: "Printer activity", Icon: "mdi:printer-3d",
		Compute: ComputeActivity},
	{Key: "print_job_state", Name: "Print job state", Icon: "mdi:file", Disabled: true,
		Path: []any{"state"}},
	{Key: "print_job_name", Name: "Print job name", Icon: "mdi:file-document",
		Path: []any{"name"}},
	{Key: "print_job_source", Name: "Print job source", Icon: "mdi:web", Disabled: true,
		Path: []any{"source"}},
	{Key: "print_job_progress", Name: "Print job progress", Unit: unitPercent, StateClass: "measurement", Icon: "mdi:percent",
		Compute: ComputeProgressPercent},

	{Key: "time_elapsed", Name: "Time elapsed", Unit: unitHours, DeviceClass: "duration", StateClass: "measurement", Icon: "mdi:clock-start",
		Path: []any{"time_elapsed"}, Scale: 3600, Decimals: 2},
	{Key: "time_total", Name: "Time total", Unit: unitHours, DeviceClass: "duration", StateClass: "measurement", Icon: "mdi:clock-outline",
		Path: []any{"time_total"}, Scale: 3600, Decimals: 2},
	{Key: "time_remaining", Name: "Time remaining", Unit: unitHours, DeviceClass: "duration", StateClass: "measurement", Icon: "mdi:clock-end",
		Compute: ComputeTimeRemainingHours},
	{Key: "time_elapsed_raw", Name: "Time elapsed (raw)", Unit: unitSeconds, DeviceClass: "duration", StateClass: "measurement", Icon: "mdi:clock-start", Disabled: true,
		Path: []any{"time_elapsed"}},
	{Key: "time_remaining_raw", Name: "Time remaining (raw)", Unit: unitSeconds, DeviceClass: "duration", StateClass: "measurement", Icon: "mdi:clock-end", Disabled: true,
		Compute: ComputeTimeRemainingSeconds},
	{Key: "eta", Name: "ETA", DeviceClass: "timestamp", Icon: "mdi:calendar-clock",
		Compute: ComputeETA},

	{Key: "firmware_version", Name: "Firmware version", Icon: "mdi:chip", EntityCategory: categoryDiagnostic,
		Path: []any{"system", "firmware"}},
	{Key: "firmware_latest", Name: "Latest firmware version", Icon: "mdi:cloud-download", EntityCategory: categoryDiagnostic,
		Path: []any{"latest_firmware"}},
	{Key: "firmware_update_available", Name: "Firmware update available", Icon: "mdi:update", EntityCategory: categoryDiagnostic, Disabled: true,
		Compute: ComputeFirmwareUpdate},

	{Key: "uptime", Name: "Uptime", Unit: unitHours, DeviceClass: "duration", StateClass: "measurement", Icon: "mdi:clock-start", EntityCategory: categoryDiagnostic, Disabled: true,
		Path: []any{"system", "uptime"}, Scale: 3600, Decimals: 1},
	{Key: "memory_used", Name: "Memory used", Unit: unitMegabytes, DeviceClass: "data_size", StateClass: "measurement", Icon: "mdi:memory", EntityCategory: categoryDiagnostic,
		Path: []any{"system", "memory", "used"}, Scale: 1024 * 1024, Decimals: 1},
	{Key: "memory_total", Name: "Memory total", Unit: unitMegabytes, DeviceClass: "data_size", StateClass: "measurement", Icon: "mdi:memory", EntityCategory: categoryDiagnostic, Disabled: true,
		Path: []any{"system", "memory", "total"}, Scale: 1024 * 1024, Decimals: 1},
	{Key: "hardware_revision", Name: "Hardware revision", Icon: "mdi:memory", EntityCategory: categoryDiagnostic, Disabled: true,
		Path: []any{"system", "hardware", "revision"}},
	{Key: "model", Name: "Model", Icon: "mdi:printer-3d", EntityCategory: categoryDiagnostic,
		Path: []any{"system", "variant"}},
	{Key: "hostname", Name: "Hostname", Icon: "mdi:server", EntityCategory: categoryDiagnostic, Disabled: true,
		Path: []any{"system", "hostname"}},

	{Key: "fan_speed", Name: "Fan speed", Unit: unitPercent, StateClass: "measurement", Icon: "mdi:fan",
		Path: []any{"heads", 0, "fan"}},
	{Key: "hotend_1_time_spent_hot", Name: "Hotend 1 time hot", Unit: unitHours, DeviceClass: "duration", Icon: "mdi:fire", EntityCategory: categoryDiagnostic, Disabled: true,
		Path: []any{"heads", 0, "extruders", 0, "hotend", "statistics", "time_spent_hot"}, Scale: 3600, Decimals: 2},
	{Key: "hotend_1_prints_since_cleaned", Name: "Hotend 1 prints since cleaned", Icon: "mdi:printer-3d", EntityCategory: categoryDiagnostic, Disabled: true,
		Path: []any{"heads", 0, "extruders", 0, "hotend", "statistics", "prints_since_cleaned"}},
	{Key: "hotend_2_time_spent_hot", Name: "Hotend 2 time hot", Unit: unitHours, DeviceClass: "duration", Icon: "mdi:fire", EntityCategory: categoryDiagnostic, Disabled: true,
		Path: []any{"heads", 0, "extruders", 1, "hotend", "statistics", "time_spent_hot"}, Scale: 3600, Decimals: 2},
	{Key: "hotend_2_prints_since_cleaned", Name: "Hotend 2 prints since cleaned", Icon: "mdi:printer-3d", EntityCategory: categoryDiagnostic, Disabled: true,
		Path: []any{"heads", 0, "extruders", 1, "hotend", "statistics", "prints_since_cleaned"}},

	{Key: "material_extruded", Name: "Material extruded", Unit: unitMeters, StateClass: "total_increasing", Icon: "mdi:printer-3d-nozzle", EntityCategory: categoryDiagnostic,
		Path: []any{"heads", 0, "extruders", 0, "hotend", "statistics", "material_extruded"}, Scale: 1000, Decimals: 3},
	{Key: "filament_remaining", Name: "Filament remaining", Unit: unitMM, Icon: "mdi:counter", EntityCategory: categoryDiagnostic, Disabled: true,
		Path: []any{"heads", 0, "extruders", 0, "active_material", "length_remaining"}},
	{Key: "material_1_name", Name: "Material 1", Icon: "mdi:palette-swatch",
		Path: []any{"heads", 0, "extruders", 0, "active_material", "name"}},
	{Key: "material_2_name", Name: "Material 2", Icon: "mdi:palette-swatch", Disabled: true,
		Path: []any{"heads", 0, "extruders", 1, "active_material", "name"}},

	{Key: "ambient_temperature", Name: "Ambient temperature", Unit: unitCelsius, DeviceClass: "temperature", StateClass: "measurement", Icon: "mdi:thermometer", Disabled: true,
		Path: []any{"ambient_temperature", "current"}, Scale: 10, Decimals: 1},

	{Key: "led_brightness", Name: "LED brightness", Unit: unitPercent, Icon: "mdi:led-on", EntityCategory: categoryDiagnostic, Disabled: true,
		Path: []any{"led", "brightness"}},
	{Key: "led_hue", Name: "LED hue", Unit: unitDegrees, Icon: "mdi:palette", EntityCategory: categoryDiagnostic, Disabled: true,
		Path: []any{"led", "hue"}},
	{Key: "led_saturation", Name: "LED saturation", Unit: unitPercent, Icon: "mdi:palette", EntityCategory: categoryDiagnostic, Disabled: true,
		Path: []any{"led", "saturation"}},

	{Key: "wifi_connected", Name: "WiFi connected", Icon: "mdi:wifi", EntityCategory: categoryDiagnostic,
		Path: []any{"network", "wifi", "connected"}},
	{Key: "ethernet_connected", Name: "Ethernet connected", Icon: "mdi:lan-connect", EntityCategory: categoryDiagnostic,
		Path: []any{"network", "ethernet", "connected"}},

	{Key: "camera_stream_url", Name: "Camera stream URL", Icon: "mdi:video-wireless", EntityCategory: categoryDiagnostic, Disabled: true,
		Path: []any{"camera_stream_url"}},
	{Key: "camera_snapshot_url", Name: "Camera snapshot URL", Icon: "mdi:camera", EntityCategory: categoryDiagnostic, Disabled: true,
		Path: []any{"camera_snapshot_url"}},
	{Key: "host", Name: "Host", Icon: "mdi:ip-network", EntityCategory: categoryDiagnostic, Disabled: true,
		Compute: ComputeHostAddress},

	{Key: "cluster_status", Name: "Cluster status", Icon: "mdi:printer-3d", EntityCategory: categoryDiagnostic, Disabled: true,
		Path: []any{"cluster_status"}},
	{Key: "printer_count", Name: "Cluster printer count", Icon: "mdi:counter", EntityCategory: categoryDiagnostic, Disabled: true,
		Path: []any{"printer_count"}},
}

// SensorValue extracts the state payload for one sensor. It reports false
// when the snapshot holds no value for it; the caller decides whether to
// publish "unknown" or skip.
func SensorValue(desc SensorDescription, snap ultimaker.Snapshot, ctx ValueContext) (string, bool) {
	switch desc.Compute {
	case ComputeActivity:
		if activity := snap.GetString(ultimaker.KeyActivity); activity != "" {
			return activity, true
		}
		return ultimaker.CorrectedActivity(snap), true
	case ComputeProgressPercent:
		return formatFloat(ultimaker.ProgressPercent(snap, ctx.Decimals)), true
	case ComputeTimeRemainingHours:
		return formatFloat(ultimaker.RoundTo(ultimaker.TimeRemaining(snap)/3600, ctx.Decimals)), true
	case ComputeTimeRemainingSeconds:
		return formatFloat(ultimaker.TimeRemaining(snap)), true
	case ComputeETA:
		eta, ok := ultimaker.ETA(snap, ctx.Now())
		if !ok {
			return "", false
		}
		return eta.Format(time.RFC3339), true
	case ComputeFirmwareUpdate:
		installed := snap.GetString("system", "firmware")
		latest := snap.GetString(ultimaker.KeyLatestFirmware)
		return strconv.FormatBool(ultimaker.FirmwareUpdateAvailable(installed, latest)), true
	case ComputeHostAddress:
		return ctx.Host, ctx.Host != ""
	}

	if desc.Scale > 0 {
		num, ok := snap.GetFloat(desc.Path...)
		if !ok {
			return "", false
		}
		return formatFloat(ultimaker.RoundTo(num/desc.Scale, desc.Decimals)), true
	}

	value, ok := snap.Lookup(desc.Path...)
	if !ok {
		return "", false
	}
	return formatValue(value)
}

func formatValue(value any) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, v != ""
	case bool:
		return strconv.FormatBool(v), true
	case float64:
		return formatFloat(v), true
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	default:
		return "", false
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
