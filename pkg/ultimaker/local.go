package ultimaker

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// LocalSource builds a raw snapshot from the printer's local REST API.
// /printer is required; everything else is best-effort enrichment.
type LocalSource struct {
	host    string
	fetcher *Fetcher
	logger  *logrus.Logger
}

func NewLocalSource(host string, fetcher *Fetcher, logger *logrus.Logger) *LocalSource {
	return &LocalSource{
		host:    host,
		fetcher: fetcher,
		logger:  logger,
	}
}

// FetchState fetches all endpoints concurrently. Optional endpoint failures
// are swallowed here so they can never abort the primary fetch; the
// goroutines all return nil and errors are collected per endpoint.
func (s *LocalSource) FetchState(ctx context.Context) (Snapshot, error) {
	var (
		printer, job, system, ambient map[string]any
		firmware                      string

		printerErr, jobErr, systemErr, ambientErr, firmwareErr error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		printer, printerErr = s.fetcher.FetchJSON(gctx, "/printer")
		return nil
	})
	g.Go(func() error {
		job, jobErr = s.fetcher.FetchJSON(gctx, "/print_job")
		return nil
	})
	g.Go(func() error {
		system, systemErr = s.fetcher.FetchJSON(gctx, "/system")
		return nil
	})
	g.Go(func() error {
		ambient, ambientErr = s.fetcher.FetchJSON(gctx, "/ambient_temperature")
		return nil
	})
	g.Go(func() error {
		firmware, firmwareErr = s.fetcher.FetchText(gctx, "/system/firmware/latest")
		return nil
	})
	_ = g.Wait()

	if printerErr != nil {
		return nil, printerErr
	}
	if len(printer) == 0 {
		return nil, fmt.Errorf("printer %s: %w", s.host, ErrEmptyPayload)
	}

	snap := Snapshot(printer)
	if _, ok := snap[KeyStatus]; !ok {
		snap[KeyStatus] = StatusIdle
	}

	if jobErr != nil || len(job) == 0 {
		// Normal while the printer is idle.
		s.logger.WithField("host", s.host).WithError(jobErr).Debug("No active print job")
	} else {
		snap.Merge(job)
	}

	if systemErr == nil && len(system) > 0 {
		snap[KeySystem] = system
	}
	if ambientErr == nil && len(ambient) > 0 {
		snap[KeyAmbient] = ambient
	}
	if firmwareErr == nil && firmware != "" {
		snap[KeyLatestFirmware] = firmware
	}

	snap[KeyCameraStream] = fmt.Sprintf("http://%s/api/v1/camera/0/stream", s.host)
	snap[KeyCameraSnapshot] = fmt.Sprintf("http://%s/api/v1/camera/0/snapshot", s.host)

	return snap, nil
}
