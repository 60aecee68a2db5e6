// Package bridge aligns the metric registry with the accessories known to the
// host and pushes snapshots into them.
package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/XANi/solis2mqtt/host"
	"github.com/XANi/solis2mqtt/sensor"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const Manufacturer = "Solis"

// namespace for accessory UUIDs. Changing it orphans every accessory ever created.
var namespace = uuid.MustParse("6c1b3f5e-2d0a-4c8e-9b7f-3a1e5d2c4b90")

// AccessoryID is the stable accessory identifier for a metric of a device.
func AccessoryID(deviceID, metricID string) string {
	return uuid.NewSHA1(namespace, []byte(deviceID+":"+metricID)).String()
}

type ReconcileError struct {
	Metric string
	Op     string
	Err    error
}

func (e *ReconcileError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Op, e.Metric, e.Err)
}

func (e *ReconcileError) Unwrap() error { return e.Err }

type Reconciler struct {
	Host       host.Host
	DeviceID   string
	DeviceName string
	Metrics    []sensor.Descriptor
	Logger     *zap.SugaredLogger
}

// Reconcile creates, repairs and retires accessories so that known (keyed by
// UUID) matches the registry for this device. known is updated in place and the
// live accessories are returned keyed by metric id. Failures of one metric do not
// stop the others; they are returned joined.
func (r *Reconciler) Reconcile(ctx context.Context, known map[string]*host.Accessory) (map[string]*host.Accessory, error) {
	l := r.Logger
	if l == nil {
		l = zap.NewNop().Sugar()
	}
	live := make(map[string]*host.Accessory, len(r.Metrics))
	wanted := make(map[string]bool, len(r.Metrics))
	var errs []error

	for _, d := range r.Metrics {
		id := AccessoryID(r.DeviceID, d.ID)
		wanted[id] = true
		acc, ok := known[id]
		if !ok {
			acc = r.build(id, d)
			if err := r.Host.Register(ctx, acc); err != nil {
				err = &ReconcileError{Metric: d.ID, Op: "register", Err: err}
				l.Errorf("%s", err)
				errs = append(errs, err)
				continue
			}
			l.Infof("created accessory %s for %s", id, d.ID)
			known[id] = acc
			live[d.ID] = acc
			continue
		}
		if r.repair(acc, d) {
			if err := r.Host.Update(ctx, acc); err != nil {
				err = &ReconcileError{Metric: d.ID, Op: "update", Err: err}
				l.Errorf("%s", err)
				errs = append(errs, err)
				continue
			}
			l.Infof("repaired accessory %s for %s", id, d.ID)
		} else {
			l.Debugf("restored accessory %s for %s", id, d.ID)
		}
		live[d.ID] = acc
	}

	for id, acc := range known {
		if wanted[id] {
			continue
		}
		// another device sharing this host owns it
		if dev := acc.Device(); dev != "" && dev != r.DeviceID {
			continue
		}
		if err := r.Host.Unregister(ctx, acc); err != nil {
			err = &ReconcileError{Metric: acc.Metric(), Op: "unregister", Err: err}
			l.Errorf("%s", err)
			errs = append(errs, err)
			continue
		}
		l.Infof("retired accessory %s (%s)", id, acc.Metric())
		delete(known, id)
	}
	return live, errors.Join(errs...)
}

func (r *Reconciler) displayName(d sensor.Descriptor) string {
	if r.DeviceName == "" {
		return d.Name
	}
	return r.DeviceName + " " + d.Name
}

func (r *Reconciler) info(d sensor.Descriptor) host.Info {
	return host.Info{
		Manufacturer: Manufacturer,
		Model:        d.ID,
		SerialNumber: r.DeviceID + "-" + d.ID,
	}
}

func (r *Reconciler) build(id string, d sensor.Descriptor) *host.Accessory {
	acc := host.NewAccessory(id, r.displayName(d))
	acc.Context[host.ContextDevice] = r.DeviceID
	acc.Context[host.ContextMetric] = d.ID
	acc.Info = r.info(d)
	acc.Attach(d.Representation())
	return acc
}

// repair brings a restored accessory to the expected shape and reports whether
// anything changed. Running it on a repaired accessory is a no-op.
func (r *Reconciler) repair(acc *host.Accessory, d sensor.Descriptor) bool {
	changed := false
	if acc.Context == nil {
		acc.Context = map[string]string{}
	}
	if acc.Context[host.ContextDevice] != r.DeviceID || acc.Context[host.ContextMetric] != d.ID {
		acc.Context[host.ContextDevice] = r.DeviceID
		acc.Context[host.ContextMetric] = d.ID
		changed = true
	}
	if info := r.info(d); acc.Info != info {
		acc.Info = info
		changed = true
	}
	if name := r.displayName(d); acc.DisplayName != name {
		acc.DisplayName = name
		changed = true
	}
	tmpl := d.Representation()
	reps := acc.Representations()
	if len(reps) != 1 || !reps[0].Matches(tmpl) {
		acc.Strip()
		acc.Attach(tmpl)
		changed = true
	}
	return changed
}
