// Package host describes what the poller needs from a home-automation host:
// accessory shells holding typed representations, and a Host that persists
// and exposes them.
package host

import "context"

// ServiceType names the kind of representation attached to an accessory.
type ServiceType string

const (
	// ServiceLightLevel is a numeric sensor whose transport forbids zero.
	ServiceLightLevel ServiceType = "light_level"
	ServicePercentage ServiceType = "percentage"
	ServiceText       ServiceType = "text"
)

// Host registers, updates and retires accessory shells.
// Implementations must bind themselves as the accessory's Notifier on Register
// and when delivering restored accessories.
type Host interface {
	Register(ctx context.Context, accessories ...*Accessory) error
	Update(ctx context.Context, accessories ...*Accessory) error
	Unregister(ctx context.Context, accessories ...*Accessory) error
}

// Notifier receives value changes of representations.
type Notifier interface {
	ValueChanged(acc *Accessory, rep *Representation)
}

// Context keys stored on every accessory created by the poller.
const (
	ContextDevice = "deviceId"
	ContextMetric = "metricId"
)
