package host

import (
	"sync"
)

// Info is the descriptive metadata shown by the host UI.
type Info struct {
	Manufacturer     string
	Model            string
	SerialNumber     string
	FirmwareRevision string
}

type Representation struct {
	Type        ServiceType
	Name        string
	Unit        string
	DeviceClass string
	StateClass  string
	Min         float64
	Max         float64

	acc   *Accessory
	value any
}

// Value returns the last value written, nil if none.
func (r *Representation) Value() any {
	if r.acc == nil {
		return r.value
	}
	r.acc.mu.RLock()
	defer r.acc.mu.RUnlock()
	return r.value
}

// SetValue stores v and notifies the bound host.
func (r *Representation) SetValue(v any) {
	var n Notifier
	if r.acc != nil {
		r.acc.mu.Lock()
		r.value = v
		n = r.acc.notifier
		r.acc.mu.Unlock()
	} else {
		r.value = v
	}
	if n != nil {
		n.ValueChanged(r.acc, r)
	}
}

// Matches reports whether r has the same shape as tmpl, ignoring its value.
func (r *Representation) Matches(tmpl Representation) bool {
	return r.Type == tmpl.Type &&
		r.Unit == tmpl.Unit &&
		r.DeviceClass == tmpl.DeviceClass &&
		r.StateClass == tmpl.StateClass &&
		r.Min == tmpl.Min &&
		r.Max == tmpl.Max
}

type Accessory struct {
	UUID        string
	DisplayName string
	Context     map[string]string
	Info        Info

	mu       sync.RWMutex
	reps     []*Representation
	notifier Notifier
}

func NewAccessory(uuid, displayName string) *Accessory {
	return &Accessory{
		UUID:        uuid,
		DisplayName: displayName,
		Context:     map[string]string{},
	}
}

// Attach adds a copy of tmpl and returns the attached representation.
func (a *Accessory) Attach(tmpl Representation) *Representation {
	rep := tmpl
	rep.acc = a
	rep.value = nil
	a.mu.Lock()
	a.reps = append(a.reps, &rep)
	a.mu.Unlock()
	return &rep
}

// Strip removes every representation. Info is kept.
func (a *Accessory) Strip() {
	a.mu.Lock()
	a.reps = nil
	a.mu.Unlock()
}

func (a *Accessory) Representations() []*Representation {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*Representation, len(a.reps))
	copy(out, a.reps)
	return out
}

// Representation returns the first representation of type t.
func (a *Accessory) Representation(t ServiceType) (*Representation, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, rep := range a.reps {
		if rep.Type == t {
			return rep, true
		}
	}
	return nil, false
}

func (a *Accessory) Bind(n Notifier) {
	a.mu.Lock()
	a.notifier = n
	a.mu.Unlock()
}

func (a *Accessory) Device() string { return a.Context[ContextDevice] }
func (a *Accessory) Metric() string { return a.Context[ContextMetric] }
