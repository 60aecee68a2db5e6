package bridge

import (
	"github.com/XANi/solis2mqtt/host"
	"github.com/XANi/solis2mqtt/poller"
	"github.com/XANi/solis2mqtt/sensor"
	"github.com/XANi/solis2mqtt/telemetry"
	"go.uber.org/zap"
)

type Publisher struct {
	DeviceID string
	Metrics  []sensor.Descriptor
	// Gauges is optional; numeric values are exported there.
	Gauges *poller.Metrics
	Logger *zap.SugaredLogger
}

// Publish writes the snapshot into the accessories keyed by metric id and returns
// how many values changed. Metrics without an accessory are skipped.
func (p *Publisher) Publish(s telemetry.Snapshot, accessories map[string]*host.Accessory) int {
	written := 0
	for _, d := range p.Metrics {
		acc, ok := accessories[d.ID]
		if !ok {
			continue
		}
		rep, ok := acc.Representation(d.Representation().Type)
		if !ok {
			continue
		}
		v := d.Adjust(d.Value(s))
		if f, ok := v.(float64); ok && p.Gauges != nil {
			p.Gauges.SetValue(p.DeviceID, d.ID, f)
		}
		if rep.Value() == v {
			continue
		}
		rep.SetValue(v)
		written++
	}
	if p.Logger != nil {
		p.Logger.Debugf("published %d changed values", written)
	}
	return written
}
