package sensor

import (
	"fmt"
	"math"

	"github.com/XANi/solis2mqtt/host"
)

type Kind int

const (
	KindPower Kind = iota + 1
	KindEnergy
	KindPercentage
	KindText
)

func (k Kind) String() string {
	if info, ok := kinds[k]; ok {
		return info.name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

type kindInfo struct {
	name        string
	service     host.ServiceType
	deviceClass string
	stateClass  string
	adjust      func(d Descriptor, v any) any
}

var kinds = map[Kind]kindInfo{
	KindPower: {
		name:        "power",
		service:     host.ServiceLightLevel,
		deviceClass: "power",
		stateClass:  "measurement",
		adjust:      adjustFloored,
	},
	KindEnergy: {
		name:        "energy",
		service:     host.ServiceLightLevel,
		deviceClass: "energy",
		stateClass:  "total_increasing",
		adjust:      adjustFloored,
	},
	KindPercentage: {
		name:        "percentage",
		service:     host.ServicePercentage,
		deviceClass: "battery",
		stateClass:  "measurement",
		adjust:      adjustRange,
	},
	KindText: {
		name:    "text",
		service: host.ServiceText,
		adjust:  func(_ Descriptor, v any) any { return v },
	},
}

// adjustFloored scales v and keeps it inside (0, Max]; anything at or below zero
// becomes the descriptor floor because the representation reads zero as "no reading".
func adjustFloored(d Descriptor, v any) any {
	f, ok := v.(float64)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return d.Fallback
	}
	f *= d.scale()
	floor := d.Fallback
	if floor <= 0 {
		floor = d.Min
	}
	if f <= 0 || f < floor {
		return floor
	}
	if f > d.Max {
		return d.Max
	}
	return f
}

func adjustRange(d Descriptor, v any) any {
	f, ok := v.(float64)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return d.Fallback
	}
	f *= d.scale()
	if f < d.Min {
		return d.Min
	}
	if f > d.Max {
		return d.Max
	}
	return f
}
