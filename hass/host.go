// Package hass exposes accessories as Home Assistant MQTT discovery sensors.
package hass

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"sync"

	"github.com/XANi/solis2mqtt/host"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

const (
	DefaultDiscoveryPrefix = "homeassistant"
	DefaultStatePrefix     = "solis2mqtt"
	DefaultNodeID          = "solis2mqtt"
)

type Transport interface {
	Publish(topic string, retained bool, payload []byte) error
}

// Store persists accessory shells between restarts.
type Store interface {
	Load(ctx context.Context) ([]*host.Accessory, error)
	Save(ctx context.Context, acc *host.Accessory) error
	Delete(ctx context.Context, uuid string) error
}

type Config struct {
	Transport       Transport
	Store           Store
	DiscoveryPrefix string
	StatePrefix     string
	NodeID          string
	// DeviceNames maps inverter device id to the name shown in Home Assistant.
	DeviceNames map[string]string
	Version     string
	Logger      *zap.SugaredLogger
}

type Host struct {
	cfg Config
	l   *zap.SugaredLogger

	mu sync.Mutex
	// registered accessories and the entity object ids published for each
	registered map[string]*host.Accessory
	objects    map[string][]string
}

func New(cfg Config) (*Host, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if cfg.DiscoveryPrefix == "" {
		cfg.DiscoveryPrefix = DefaultDiscoveryPrefix
	}
	if cfg.StatePrefix == "" {
		cfg.StatePrefix = DefaultStatePrefix
	}
	if cfg.NodeID == "" {
		cfg.NodeID = DefaultNodeID
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	return &Host{
		cfg:        cfg,
		l:          cfg.Logger,
		registered: map[string]*host.Accessory{},
		objects:    map[string][]string{},
	}, nil
}

func (h *Host) ConfigTopic(objectID string) string {
	return fmt.Sprintf("%s/sensor/%s/%s/config", h.cfg.DiscoveryPrefix, h.cfg.NodeID, objectID)
}

func (h *Host) StateTopic(objectID string) string {
	return fmt.Sprintf("%s/%s/state", h.cfg.StatePrefix, objectID)
}

// ObjectID names the entity of one representation of an accessory.
func ObjectID(acc *host.Accessory, rep *host.Representation) string {
	return acc.UUID + "_" + string(rep.Type)
}

// Load hands every cached accessory to restore and treats it as registered.
// Without a store there is nothing to restore.
func (h *Host) Load(ctx context.Context, restore func(*host.Accessory)) error {
	if h.cfg.Store == nil {
		return nil
	}
	accs, err := h.cfg.Store.Load(ctx)
	if err != nil {
		return err
	}
	h.mu.Lock()
	for _, acc := range accs {
		acc.Bind(h)
		h.registered[acc.UUID] = acc
		for _, rep := range acc.Representations() {
			h.objects[acc.UUID] = append(h.objects[acc.UUID], ObjectID(acc, rep))
		}
	}
	h.mu.Unlock()
	h.l.Infof("restored %d cached accessories", len(accs))
	for _, acc := range accs {
		restore(acc)
	}
	return nil
}

func (h *Host) Register(ctx context.Context, accessories ...*host.Accessory) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, acc := range accessories {
		if _, ok := h.registered[acc.UUID]; ok {
			return fmt.Errorf("accessory %s already registered", acc.UUID)
		}
	}
	var errs []error
	for _, acc := range accessories {
		acc.Bind(h)
		h.registered[acc.UUID] = acc
		if err := h.announce(ctx, acc); err != nil {
			h.rollback(acc)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// rollback forgets an accessory whose announcement failed so it can be registered again.
// Must be called with h.mu held.
func (h *Host) rollback(acc *host.Accessory) {
	for _, obj := range h.objects[acc.UUID] {
		if err := h.clear(obj); err != nil {
			h.l.Debugf("could not clear %s after failed register: %s", obj, err)
		}
	}
	delete(h.objects, acc.UUID)
	delete(h.registered, acc.UUID)
	acc.Bind(nil)
}

// Update republishes discovery for changed accessories and clears entities
// whose representation was removed.
func (h *Host) Update(ctx context.Context, accessories ...*host.Accessory) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, acc := range accessories {
		if _, ok := h.registered[acc.UUID]; !ok {
			return fmt.Errorf("accessory %s is not registered", acc.UUID)
		}
	}
	var errs []error
	for _, acc := range accessories {
		acc.Bind(h)
		h.registered[acc.UUID] = acc
		if err := h.announce(ctx, acc); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Unregister removes the entities from Home Assistant. Unknown accessories are ignored.
func (h *Host) Unregister(ctx context.Context, accessories ...*host.Accessory) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	var errs []error
	for _, acc := range accessories {
		objects := h.objects[acc.UUID]
		for _, rep := range acc.Representations() {
			objects = appendMissing(objects, ObjectID(acc, rep))
		}
		for _, obj := range objects {
			if err := h.clear(obj); err != nil {
				errs = append(errs, err)
			}
		}
		delete(h.objects, acc.UUID)
		delete(h.registered, acc.UUID)
		acc.Bind(nil)
		if h.cfg.Store != nil {
			if err := h.cfg.Store.Delete(ctx, acc.UUID); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// ValueChanged publishes the new state of rep.
func (h *Host) ValueChanged(acc *host.Accessory, rep *host.Representation) {
	payload, ok := FormatValue(rep.Value())
	if !ok {
		return
	}
	topic := h.StateTopic(ObjectID(acc, rep))
	if err := h.cfg.Transport.Publish(topic, true, []byte(payload)); err != nil {
		h.l.Warnf("error publishing %s: %s", topic, err)
		return
	}
	h.l.Debugf("%s = %s", topic, payload)
}

// Accessories returns registered accessories sorted by UUID.
func (h *Host) Accessories() []*host.Accessory {
	h.mu.Lock()
	out := make([]*host.Accessory, 0, len(h.registered))
	for _, acc := range h.registered {
		out = append(out, acc)
	}
	h.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].UUID < out[j].UUID })
	return out
}

// announce must be called with h.mu held.
func (h *Host) announce(ctx context.Context, acc *host.Accessory) error {
	var errs []error
	var current []string
	for _, rep := range acc.Representations() {
		obj := ObjectID(acc, rep)
		current = append(current, obj)
		payload, err := json.Marshal(h.discovery(acc, rep))
		if err != nil {
			errs = append(errs, fmt.Errorf("error encoding discovery for %s: %w", obj, err))
			continue
		}
		if err := h.cfg.Transport.Publish(h.ConfigTopic(obj), true, payload); err != nil {
			errs = append(errs, fmt.Errorf("error publishing discovery for %s: %w", obj, err))
			continue
		}
		if v, ok := FormatValue(rep.Value()); ok {
			if err := h.cfg.Transport.Publish(h.StateTopic(obj), true, []byte(v)); err != nil {
				errs = append(errs, fmt.Errorf("error publishing state for %s: %w", obj, err))
			}
		}
	}
	for _, obj := range h.objects[acc.UUID] {
		if !slices.Contains(current, obj) {
			h.l.Infof("removing stale entity %s", obj)
			if err := h.clear(obj); err != nil {
				errs = append(errs, err)
			}
		}
	}
	h.objects[acc.UUID] = current
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	if h.cfg.Store != nil {
		if err := h.cfg.Store.Save(ctx, acc); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *Host) clear(obj string) error {
	if err := h.cfg.Transport.Publish(h.ConfigTopic(obj), true, []byte{}); err != nil {
		return fmt.Errorf("error clearing discovery for %s: %w", obj, err)
	}
	if err := h.cfg.Transport.Publish(h.StateTopic(obj), true, []byte{}); err != nil {
		return fmt.Errorf("error clearing state for %s: %w", obj, err)
	}
	return nil
}

func (h *Host) discovery(acc *host.Accessory, rep *host.Representation) Discovery {
	obj := ObjectID(acc, rep)
	d := Discovery{
		DeviceClass:       rep.DeviceClass,
		Unit:              rep.Unit,
		StateClass:        rep.StateClass,
		Name:              rep.Name,
		StateTopic:        h.StateTopic(obj),
		AvailabilityTopic: AvailabilityTopic(h.cfg.StatePrefix),
		UniqID:            obj,
		ObjectID:          h.cfg.NodeID + "_" + acc.Device() + "_" + acc.Metric(),
		Precision:         precision(rep.Unit),
		Dev:               h.device(acc),
	}
	if rep.Type == host.ServiceText {
		d.Icon = "mdi:clock-outline"
	}
	return d
}

func (h *Host) device(acc *host.Accessory) *Dev {
	id := acc.Device()
	name := h.cfg.DeviceNames[id]
	if name == "" {
		name = "Solis " + id
	}
	return &Dev{
		IDs:             []string{h.cfg.NodeID + "_" + id},
		Name:            name,
		SoftwareVersion: h.cfg.Version,
		Model:           "SolisCloud inverter",
		Manufacturer:    acc.Info.Manufacturer,
		SerialNumber:    id,
	}
}

// FormatValue renders a representation value as a state payload. nil has no state.
func FormatValue(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32), true
	case int:
		return strconv.Itoa(t), true
	case string:
		return t, true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return fmt.Sprint(t), true
	}
}

func precision(unit string) *int {
	var p int
	switch unit {
	case "W", "%":
		p = 0
	case "kWh":
		p = 2
	default:
		return nil
	}
	return &p
}

func appendMissing(list []string, s string) []string {
	if slices.Contains(list, s) {
		return list
	}
	return append(list, s)
}
