package app

import (
	"github.com/sirupsen/logrus"

	"github.com/miguelangel-nubla/homeassistant-ultimaker/pkg/homeassistant"
	"github.com/miguelangel-nubla/homeassistant-ultimaker/pkg/ultimaker"
)

// EventHandlers wires poller events into the Home Assistant integration.
type EventHandlers struct {
	logger *logrus.Logger
}

func NewEventHandlers(logger *logrus.Logger) *EventHandlers {
	return &EventHandlers{
		logger: logger,
	}
}

func (h *EventHandlers) SetupHandlers(
	haManager *homeassistant.Integration,
	printerManager *ultimaker.PrinterManager,
) {
	printerManager.SetOnSnapshotCallback(h.createSnapshotHandler(haManager))
	printerManager.SetOnConnectionChangeCallback(h.createConnectionHandler(haManager))
}

// createSnapshotHandler forwards every snapshot to Home Assistant. Sentinel
// snapshots from hard failures go through the same path so the status sensor
// reflects the failure kind.
func (h *EventHandlers) createSnapshotHandler(haManager *homeassistant.Integration) func(string, ultimaker.Snapshot) {
	return func(printerID string, snap ultimaker.Snapshot) {
		logger := h.logger.WithFields(map[string]interface{}{
			"printer_id": printerID,
			"status":     snap.GetString(ultimaker.KeyStatus),
			"activity":   snap.GetString(ultimaker.KeyActivity),
			"cached":     snap.UsingCachedData(),
		})
		logger.Debug("Snapshot received")

		if err := haManager.PublishSnapshot(printerID, snap); err != nil {
			logger.WithError(err).Error("Failed to publish snapshot to Home Assistant")
		}
	}
}

func (h *EventHandlers) createConnectionHandler(haManager *homeassistant.Integration) func(string, bool) {
	return func(printerID string, connected bool) {
		logger := h.logger.WithField("printer_id", printerID)

		if connected {
			logger.Info("Printer reachable")
		} else {
			logger.Warn("Printer unreachable")
		}

		if err := haManager.SetPrinterConnected(printerID, connected); err != nil {
			logger.WithError(err).Error("Failed to update Home Assistant availability")
		}
	}
}
