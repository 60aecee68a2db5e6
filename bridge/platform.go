package bridge

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/XANi/solis2mqtt/host"
	"github.com/XANi/solis2mqtt/poller"
	"github.com/XANi/solis2mqtt/sensor"
	"github.com/XANi/solis2mqtt/telemetry"
	"go.uber.org/zap"
)

type Config struct {
	Host       host.Host
	DeviceID   string
	DeviceName string
	// Metrics defaults to sensor.Registry()
	Metrics   []sensor.Descriptor
	Scheduler poller.Config
	Logger    *zap.SugaredLogger
}

// Platform is one device on the host. The host calls Restore for every cached
// accessory and Start once it is ready.
type Platform struct {
	cfg        Config
	l          *zap.SugaredLogger
	reconciler *Reconciler
	publisher  *Publisher

	mu         sync.RWMutex
	known      map[string]*host.Accessory
	live       map[string]*host.Accessory
	last       *telemetry.Snapshot
	reconciled bool
	scheduler  *poller.Scheduler
}

func New(cfg Config) (*Platform, error) {
	if cfg.Host == nil {
		return nil, fmt.Errorf("host is required")
	}
	if cfg.DeviceID == "" {
		return nil, fmt.Errorf("device id is required")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = sensor.Registry()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	p := &Platform{
		cfg:   cfg,
		l:     cfg.Logger,
		known: map[string]*host.Accessory{},
		live:  map[string]*host.Accessory{},
		reconciler: &Reconciler{
			Host:       cfg.Host,
			DeviceID:   cfg.DeviceID,
			DeviceName: cfg.DeviceName,
			Metrics:    cfg.Metrics,
			Logger:     cfg.Logger.Named("reconcile"),
		},
	}
	sc := cfg.Scheduler
	if sc.Metrics == nil {
		sc.Metrics = poller.NewMetrics(nil)
	}
	p.publisher = &Publisher{
		DeviceID: cfg.DeviceID,
		Metrics:  cfg.Metrics,
		Gauges:   sc.Metrics,
		Logger:   cfg.Logger.Named("publish"),
	}
	sc.DeviceID = cfg.DeviceID
	sc.Observers = append([]poller.Observer{p}, sc.Observers...)
	if sc.Logger == nil {
		sc.Logger = cfg.Logger.Named("poll")
	}
	if sc.Fetcher != nil {
		s, err := poller.New(sc)
		if err != nil {
			return nil, err
		}
		p.scheduler = s
	}
	return p, nil
}

func (p *Platform) DeviceID() string { return p.cfg.DeviceID }

// Restore receives one cached accessory from the host before Start.
func (p *Platform) Restore(acc *host.Accessory) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.known[acc.UUID] = acc
}

// Reconcile aligns accessories with the registry. Per-metric errors are logged
// and returned joined; the accessories that did reconcile are live either way.
func (p *Platform) Reconcile(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	live, err := p.reconciler.Reconcile(ctx, p.known)
	p.live = live
	p.reconciled = true
	return err
}

// Start reconciles and then runs the scheduler until ctx is done.
func (p *Platform) Start(ctx context.Context) error {
	if p.scheduler == nil {
		return fmt.Errorf("no fetcher configured for %s", p.cfg.DeviceID)
	}
	if err := p.Reconcile(ctx); err != nil {
		p.l.Warnf("reconciliation finished with errors: %s", err)
	}
	go p.scheduler.Run(ctx)
	return nil
}

// Once reconciles and runs a single poll cycle.
func (p *Platform) Once(ctx context.Context) error {
	if p.scheduler == nil {
		return fmt.Errorf("no fetcher configured for %s", p.cfg.DeviceID)
	}
	if err := p.Reconcile(ctx); err != nil {
		p.l.Warnf("reconciliation finished with errors: %s", err)
	}
	return p.scheduler.Cycle(ctx)
}

// Observe publishes an accepted snapshot. Publishing before reconciliation is dropped.
func (p *Platform) Observe(_ context.Context, s telemetry.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.reconciled {
		p.l.Warnf("snapshot before reconciliation, dropping")
		return
	}
	snap := s
	p.last = &snap
	p.publisher.Publish(s, p.live)
}

// LastSnapshot returns the last published snapshot.
func (p *Platform) LastSnapshot() (telemetry.Snapshot, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.last == nil {
		return telemetry.Snapshot{}, false
	}
	return *p.last, true
}

type AccessoryStatus struct {
	UUID   string `json:"uuid"`
	Name   string `json:"name"`
	Metric string `json:"metric"`
	Type   string `json:"type"`
	Value  any    `json:"value"`
	Unit   string `json:"unit,omitempty"`
}

// Accessories lists live accessories in registry order.
func (p *Platform) Accessories() []AccessoryStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]AccessoryStatus, 0, len(p.live))
	for _, d := range p.cfg.Metrics {
		acc, ok := p.live[d.ID]
		if !ok {
			continue
		}
		st := AccessoryStatus{UUID: acc.UUID, Name: acc.DisplayName, Metric: d.ID}
		if rep, ok := acc.Representation(d.Representation().Type); ok {
			st.Type = string(rep.Type)
			st.Value = rep.Value()
			st.Unit = rep.Unit
		}
		out = append(out, st)
	}
	return out
}

// Known returns UUIDs of every accessory the platform tracks, sorted.
func (p *Platform) Known() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.known))
	for id := range p.known {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
