// Package poller drives the fetch, normalize, publish cycle on a fixed interval.
package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/XANi/solis2mqtt/cloud"
	"github.com/XANi/solis2mqtt/telemetry"
	"go.uber.org/zap"
)

const (
	DefaultInterval = 5 * time.Minute
	// MinInterval keeps us inside the upstream rate limit.
	MinInterval = time.Minute
)

type Fetcher interface {
	FetchTelemetry(ctx context.Context, deviceID string) (cloud.Response, error)
}

// Observer receives every accepted snapshot.
type Observer interface {
	Observe(ctx context.Context, s telemetry.Snapshot)
}

type ObserverFunc func(ctx context.Context, s telemetry.Snapshot)

func (f ObserverFunc) Observe(ctx context.Context, s telemetry.Snapshot) { f(ctx, s) }

type Config struct {
	DeviceID   string
	Fetcher    Fetcher
	Normalizer *telemetry.Normalizer
	Interval   time.Duration
	Observers  []Observer
	Metrics    *Metrics
	Logger     *zap.SugaredLogger
}

type Scheduler struct {
	cfg Config
	l   *zap.SugaredLogger
}

func New(cfg Config) (*Scheduler, error) {
	if cfg.DeviceID == "" {
		return nil, fmt.Errorf("device id is required")
	}
	if cfg.Fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if cfg.Interval == 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Interval < MinInterval {
		return nil, fmt.Errorf("interval %s is below the minimum of %s", cfg.Interval, MinInterval)
	}
	if cfg.Normalizer == nil {
		cfg.Normalizer = &telemetry.Normalizer{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics(nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	return &Scheduler{cfg: cfg, l: cfg.Logger}, nil
}

// Run runs a cycle immediately and then on every tick until ctx is done.
// A failed cycle leaves previously published values in place.
func (s *Scheduler) Run(ctx context.Context) {
	s.l.Infof("polling device %s every %s", s.cfg.DeviceID, s.cfg.Interval)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		if err := s.Cycle(ctx); err != nil {
			s.l.Warnf("poll cycle failed, keeping previous values: %s", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Cycle fetches, normalizes and hands one snapshot to the observers.
func (s *Scheduler) Cycle(ctx context.Context) error {
	start := time.Now()
	defer func() {
		s.cfg.Metrics.duration.WithLabelValues(s.cfg.DeviceID).Observe(time.Since(start).Seconds())
	}()
	raw, err := s.cfg.Fetcher.FetchTelemetry(ctx, s.cfg.DeviceID)
	if err != nil {
		s.cfg.Metrics.cycles.WithLabelValues(s.cfg.DeviceID, Classify(err)).Inc()
		return fmt.Errorf("fetch: %w", err)
	}
	snap, err := s.cfg.Normalizer.Normalize(raw)
	if err != nil {
		s.cfg.Metrics.cycles.WithLabelValues(s.cfg.DeviceID, Classify(err)).Inc()
		return fmt.Errorf("normalize: %w", err)
	}
	snap.DeviceID = s.cfg.DeviceID
	for _, o := range s.cfg.Observers {
		o.Observe(ctx, snap)
	}
	s.cfg.Metrics.cycles.WithLabelValues(s.cfg.DeviceID, "ok").Inc()
	s.cfg.Metrics.lastSuccess.WithLabelValues(s.cfg.DeviceID).SetToCurrentTime()
	s.l.Debugf("cycle done in %s: pv=%.3fkW load=%.3fkW battery=%.0f%%",
		time.Since(start), snap.PVPower, snap.LoadPower, snap.BatteryPercent)
	return nil
}

// Classify names the failure class of a cycle error.
func Classify(err error) string {
	var tErr *cloud.TransportError
	var hErr *cloud.HTTPError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &tErr):
		return "transport"
	case errors.As(err, &hErr):
		return "http"
	case errors.Is(err, telemetry.ErrRejected):
		return "rejected"
	default:
		return "error"
	}
}
