package ultimaker

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/miguelangel-nubla/homeassistant-ultimaker/pkg/config"
)

// PrinterManager owns one poller and one polling goroutine per configured
// printer. It reports results through callbacks so the Home Assistant
// integration stays decoupled from the polling machinery.
type PrinterManager struct {
	configs []config.PrinterConfig
	logger  *logrus.Logger

	onSnapshot           func(printerID string, snap Snapshot)
	onConnectionCallback func(printerID string, connected bool)

	mutex     sync.RWMutex
	pollers   map[string]*Poller
	snapshots map[string]Snapshot
	connected map[string]bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPrinterManager(configs []config.PrinterConfig, logger *logrus.Logger) *PrinterManager {
	return &PrinterManager{
		configs:   configs,
		logger:    logger,
		pollers:   make(map[string]*Poller),
		snapshots: make(map[string]Snapshot),
		connected: make(map[string]bool),
	}
}

func NewPrinterManagerFromMap(configMap map[string]config.PrinterConfig, logger *logrus.Logger) *PrinterManager {
	configs := make([]config.PrinterConfig, 0, len(configMap))
	for _, cfg := range configMap {
		configs = append(configs, cfg)
	}
	return NewPrinterManager(configs, logger)
}

// SetOnSnapshotCallback registers the handler invoked with every snapshot,
// including sentinel snapshots produced by hard failures.
func (pm *PrinterManager) SetOnSnapshotCallback(callback func(printerID string, snap Snapshot)) {
	pm.onSnapshot = callback
}

// SetOnConnectionChangeCallback registers the handler invoked when a printer
// transitions between reachable and unreachable.
func (pm *PrinterManager) SetOnConnectionChangeCallback(callback func(printerID string, connected bool)) {
	pm.onConnectionCallback = callback
}

func (pm *PrinterManager) Start() error {
	pm.logger.Info("Starting printer manager...")

	ctx, cancel := context.WithCancel(context.Background())
	pm.cancel = cancel

	for _, cfg := range pm.configs {
		var poller *Poller
		if cfg.IsCloud() {
			poller = NewCloudPoller(cfg, pm.logger)
		} else {
			poller = NewLocalPoller(cfg, pm.logger)
		}

		pm.mutex.Lock()
		pm.pollers[cfg.ID] = poller
		pm.mutex.Unlock()

		pm.wg.Add(1)
		go pm.run(ctx, cfg, poller)
	}

	pm.logger.Infof("Printer manager started with %d printer(s)", len(pm.configs))
	return nil
}

func (pm *PrinterManager) Stop() error {
	if pm.cancel != nil {
		pm.cancel()
	}
	pm.wg.Wait()
	pm.logger.Info("All printer pollers stopped")
	return nil
}

// GetPoller returns the poller for a printer id, or nil.
func (pm *PrinterManager) GetPoller(id string) *Poller {
	pm.mutex.RLock()
	defer pm.mutex.RUnlock()
	return pm.pollers[id]
}

// Snapshot returns a copy of the most recent snapshot for a printer.
func (pm *PrinterManager) Snapshot(id string) (Snapshot, bool) {
	pm.mutex.RLock()
	defer pm.mutex.RUnlock()
	snap, ok := pm.snapshots[id]
	return snap.Clone(), ok
}

// IDs returns the configured printer ids.
func (pm *PrinterManager) IDs() []string {
	pm.mutex.RLock()
	defer pm.mutex.RUnlock()
	ids := make([]string, 0, len(pm.pollers))
	for id := range pm.pollers {
		ids = append(ids, id)
	}
	return ids
}

// IsConnected reports whether the last poll of a printer succeeded.
func (pm *PrinterManager) IsConnected(id string) bool {
	pm.mutex.RLock()
	defer pm.mutex.RUnlock()
	return pm.connected[id]
}

func (pm *PrinterManager) run(ctx context.Context, cfg config.PrinterConfig, poller *Poller) {
	defer pm.wg.Done()

	log := pm.logger.WithField("printer", cfg.ID)
	log.Debugf("Polling every %ds", cfg.ScanInterval)

	ticker := time.NewTicker(time.Duration(cfg.ScanInterval) * time.Second)
	defer ticker.Stop()

	pm.poll(ctx, cfg, poller)
	for {
		select {
		case <-ctx.Done():
			log.Debug("Poller stopped")
			return
		case <-ticker.C:
			pm.poll(ctx, cfg, poller)
		}
	}
}

func (pm *PrinterManager) poll(ctx context.Context, cfg config.PrinterConfig, poller *Poller) {
	// Hard upper bound per cycle; individual requests carry their own
	// shorter HTTP client timeout.
	cycleCtx, cancel := context.WithTimeout(ctx, 2*time.Duration(cfg.Timeout)*time.Second)
	defer cancel()

	snap, err := poller.Refresh(cycleCtx)
	if ctx.Err() != nil {
		// Shutdown mid-cycle; the last-known-good cache is untouched.
		return
	}

	connected := err == nil

	pm.mutex.Lock()
	changed := pm.connected[cfg.ID] != connected
	pm.connected[cfg.ID] = connected
	if snap != nil {
		pm.snapshots[cfg.ID] = snap
	}
	pm.mutex.Unlock()

	if changed && pm.onConnectionCallback != nil {
		pm.onConnectionCallback(cfg.ID, connected)
	}
	if snap != nil && pm.onSnapshot != nil {
		pm.onSnapshot(cfg.ID, snap)
	}
}
