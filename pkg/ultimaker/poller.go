package ultimaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/miguelangel-nubla/homeassistant-ultimaker/pkg/config"
)

// ErrNotConfigured means the printer is missing required settings (cloud
// token or cluster id). This is fatal immediately: no retry, no cached
// fallback.
var ErrNotConfigured = errors.New("printer not configured")

// ErrEmptyPayload means the primary endpoint answered but carried no data.
var ErrEmptyPayload = errors.New("empty printer payload")

// ErrAuthRejected means the cloud API refused the credentials (rejected
// token refresh or a 401/403 answer). Like ErrNotConfigured this is fatal
// for the cycle: stale cached data would mask dead credentials.
var ErrAuthRejected = errors.New("cloud authentication rejected")

// Source produces one raw state snapshot per call. LocalSource polls the
// printer's REST API, CloudSource the Digital Factory Connect API; the
// poller is agnostic to which one it drives.
type Source interface {
	FetchState(ctx context.Context) (Snapshot, error)
}

// Poller runs the fetch-merge-derive cycle for a single printer and owns
// its last-known-good cache and consecutive-failure counter. Overlapping
// Refresh calls coalesce into one in-flight cycle.
type Poller struct {
	cfg       config.PrinterConfig
	source    Source
	materials *MaterialResolver // nil for cloud printers
	logger    *logrus.Logger
	now       func() time.Time

	group singleflight.Group

	mu       sync.Mutex
	lastGood Snapshot
	failures int
}

func NewPoller(cfg config.PrinterConfig, source Source, materials *MaterialResolver, logger *logrus.Logger) *Poller {
	return &Poller{
		cfg:       cfg,
		source:    source,
		materials: materials,
		logger:    logger,
		now:       time.Now,
	}
}

// NewLocalPoller builds a poller for a printer reached over its local REST
// API, including a material-name resolver backed by the same fetcher.
func NewLocalPoller(cfg config.PrinterConfig, logger *logrus.Logger) *Poller {
	fetcher := NewFetcher(cfg.Host, time.Duration(cfg.Timeout)*time.Second, logger)
	source := NewLocalSource(cfg.Host, fetcher, logger)
	return NewPoller(cfg, source, NewMaterialResolver(fetcher, logger), logger)
}

// NewCloudPoller builds a poller for a printer reached through the Digital
// Factory. Material documents are not exposed by the cloud API, so no
// resolver is attached.
func NewCloudPoller(cfg config.PrinterConfig, logger *logrus.Logger) *Poller {
	return NewPoller(cfg, NewCloudClient(cfg.Cloud, time.Duration(cfg.Timeout)*time.Second, logger), nil, logger)
}

// SetClock overrides the wall clock, for tests.
func (p *Poller) SetClock(now func() time.Time) {
	p.now = now
}

// Config returns the printer configuration this poller was built from.
func (p *Poller) Config() config.PrinterConfig {
	return p.cfg
}

// LastGood returns a copy of the last successfully built snapshot, or nil.
func (p *Poller) LastGood() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastGood.Clone()
}

// ConsecutiveFailures returns the number of failed cycles since the last
// successful one.
func (p *Poller) ConsecutiveFailures() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failures
}

// Refresh produces the current snapshot or fails. On transient errors it
// serves the last-known-good snapshot (flagged with using_cached_data) until
// MaxFailures consecutive failures have accumulated; beyond that the cycle
// fails hard and the returned snapshot carries a sentinel status.
func (p *Poller) Refresh(ctx context.Context) (Snapshot, error) {
	result, err, _ := p.group.Do("refresh", func() (any, error) {
		return p.refresh(ctx)
	})
	snap, _ := result.(Snapshot)
	return snap, err
}

func (p *Poller) refresh(ctx context.Context) (Snapshot, error) {
	cycleID := uuid.Must(uuid.NewV4()).String()[:8]
	log := p.logger.WithFields(logrus.Fields{"printer": p.cfg.ID, "cycle": cycleID})

	start := p.now()
	log.Debug("Poll cycle started")

	snap, err := p.source.FetchState(ctx)
	if err != nil {
		observePoll(p.cfg.ID, resultFromError(err), p.now().Sub(start))
		return p.handleFailure(log, err)
	}

	snap.FillDefaults()
	p.resolveMaterials(ctx, snap)
	snap[KeyActivity] = CorrectedActivity(snap)
	snap[KeySampleTime] = p.now().UTC().Format(time.RFC3339)

	p.mu.Lock()
	p.failures = 0
	p.lastGood = snap.Clone()
	p.mu.Unlock()

	observePoll(p.cfg.ID, pollSuccess, p.now().Sub(start))
	setFailureGauge(p.cfg.ID, 0)
	log.WithField("activity", snap[KeyActivity]).Debug("Poll cycle finished")
	return snap, nil
}

// resolveMaterials fills in the display name of each extruder's active
// material. Default-fill has already run, so the GUID leaves always exist.
func (p *Poller) resolveMaterials(ctx context.Context, snap Snapshot) {
	if p.materials == nil {
		return
	}
	for extruder := 0; extruder < 2; extruder++ {
		guid := snap.GetString("heads", 0, "extruders", extruder, "active_material", "GUID")
		name := p.materials.Resolve(ctx, guid)
		snap.SetPath([]any{"heads", 0, "extruders", extruder, "active_material", "name"}, name)
	}
}

func (p *Poller) handleFailure(log *logrus.Entry, err error) (Snapshot, error) {
	p.mu.Lock()
	p.failures++
	failures := p.failures
	var cached Snapshot
	if !fatalFailure(err) && failures <= p.cfg.MaxFailures {
		cached = p.lastGood.Clone()
	}
	p.mu.Unlock()

	setFailureGauge(p.cfg.ID, failures)
	sampleTime := p.now().UTC().Format(time.RFC3339)

	if cached != nil {
		cached[KeyUsingCachedData] = true
		cached[KeySampleTime] = sampleTime
		log.WithError(err).WithField("failures", failures).
			Warn("Poll failed, serving cached snapshot")
		return cached, nil
	}

	status := sentinelStatus(err)
	log.WithError(err).WithFields(logrus.Fields{
		"failures": failures,
		"status":   status,
	}).Error("Poll failed")

	snap := Snapshot{
		KeyStatus:     status,
		KeyActivity:   status,
		KeySampleTime: sampleTime,
	}
	return snap, fmt.Errorf("printer %s: poll failed (%d consecutive): %w", p.cfg.ID, failures, err)
}

// fatalFailure reports whether err must never be bridged with cached data.
func fatalFailure(err error) bool {
	return errors.Is(err, ErrNotConfigured) || errors.Is(err, ErrAuthRejected)
}

// sentinelStatus maps a failure to the status value entities display.
func sentinelStatus(err error) string {
	switch {
	case errors.Is(err, ErrNotConfigured):
		return StatusNotConfigured
	case errors.Is(err, ErrAuthRejected):
		return StatusError
	case KindOf(err) == ErrKindTimeout:
		return StatusTimeout
	case KindOf(err) == ErrKindConnection, errors.Is(err, ErrEmptyPayload):
		return StatusNotConnected
	default:
		return StatusError
	}
}

func resultFromError(err error) string {
	if errors.Is(err, ErrNotConfigured) {
		return pollNotConfigured
	}
	return pollFailed
}
