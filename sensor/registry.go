// Package sensor holds the static table of metrics exposed as accessories and
// the per-kind rules for turning snapshot values into representation values.
package sensor

import (
	"github.com/XANi/solis2mqtt/host"
	"github.com/XANi/solis2mqtt/telemetry"
)

const (
	PowerMin  = 0.0001
	PowerMax  = 100000.0
	PowerZero = 0.0001
)

type Descriptor struct {
	// ID is part of the accessory identity. Never reuse one for a different meaning.
	ID       string
	Name     string
	Kind     Kind
	Unit     string
	Min      float64
	Max      float64
	Fallback float64
	// Scale converts vendor units to exposed units, 0 means 1.
	Scale float64
	Value func(s telemetry.Snapshot) any
}

func (d Descriptor) scale() float64 {
	if d.Scale == 0 {
		return 1
	}
	return d.Scale
}

// Adjust converts a snapshot value into what gets written to the representation.
func (d Descriptor) Adjust(v any) any {
	info, ok := kinds[d.Kind]
	if !ok {
		return v
	}
	return info.adjust(d, v)
}

// Representation is the template attached to this metric's accessory.
func (d Descriptor) Representation() host.Representation {
	info := kinds[d.Kind]
	r := host.Representation{
		Type:        info.service,
		Name:        d.Name,
		Unit:        d.Unit,
		DeviceClass: info.deviceClass,
		StateClass:  info.stateClass,
	}
	if d.Kind != KindText {
		r.Min = d.Min
		r.Max = d.Max
	}
	return r
}

func power(id, name string, value func(telemetry.Snapshot) float64) Descriptor {
	return Descriptor{
		ID: id, Name: name, Kind: KindPower, Unit: "W",
		Min: PowerMin, Max: PowerMax, Fallback: PowerZero, Scale: 1000,
		Value: func(s telemetry.Snapshot) any { return value(s) },
	}
}

func energy(id, name string, value func(telemetry.Snapshot) float64) Descriptor {
	return Descriptor{
		ID: id, Name: name, Kind: KindEnergy, Unit: "kWh",
		Min: PowerMin, Max: PowerMax, Fallback: PowerZero,
		Value: func(s telemetry.Snapshot) any { return value(s) },
	}
}

var registry = []Descriptor{
	power("pvPower", "PV Power", func(s telemetry.Snapshot) float64 { return s.PVPower }),
	power("batteryCharge", "Battery Charging", func(s telemetry.Snapshot) float64 { return s.BatteryCharge }),
	power("batteryDischarge", "Battery Discharging", func(s telemetry.Snapshot) float64 { return s.BatteryDischarge }),
	{
		ID: "batteryPercent", Name: "Battery Level", Kind: KindPercentage, Unit: "%",
		Min: 0, Max: 100, Fallback: 0,
		Value: func(s telemetry.Snapshot) any { return s.BatteryPercent },
	},
	power("gridImport", "Grid Import", func(s telemetry.Snapshot) float64 { return s.GridImport }),
	power("gridExport", "Grid Export", func(s telemetry.Snapshot) float64 { return s.GridExport }),
	power("loadPower", "House Load", func(s telemetry.Snapshot) float64 { return s.LoadPower }),
	energy("dayEnergy", "PV Energy Today", func(s telemetry.Snapshot) float64 { return s.DayEnergy }),
	energy("monthEnergy", "PV Energy This Month", func(s telemetry.Snapshot) float64 { return s.MonthEnergy }),
	energy("yearEnergy", "PV Energy This Year", func(s telemetry.Snapshot) float64 { return s.YearEnergy }),
	energy("totalEnergy", "PV Energy Total", func(s telemetry.Snapshot) float64 { return s.TotalEnergy }),
	energy("gridPurchasedToday", "Grid Purchased Today", func(s telemetry.Snapshot) float64 { return s.GridPurchasedToday }),
	energy("gridSoldToday", "Grid Sold Today", func(s telemetry.Snapshot) float64 { return s.GridSoldToday }),
	energy("homeLoadToday", "House Consumption Today", func(s telemetry.Snapshot) float64 { return s.HomeLoadToday }),
	{
		ID: "lastUpdate", Name: "Last Update", Kind: KindText,
		Value: func(s telemetry.Snapshot) any { return s.TimestampText },
	},
}

// Registry returns the exposed metrics in display order.
func Registry() []Descriptor {
	out := make([]Descriptor, len(registry))
	copy(out, registry)
	return out
}

func Lookup(id string) (Descriptor, bool) {
	for _, d := range registry {
		if d.ID == id {
			return d, true
		}
	}
	return Descriptor{}, false
}
