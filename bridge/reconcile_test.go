package bridge

import (
	"context"
	"errors"
	"testing"

	"github.com/XANi/solis2mqtt/host"
	"github.com/XANi/solis2mqtt/sensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDevice = "1308675217944611083"

// failingHost rejects registration of one metric.
type failingHost struct {
	*host.Memory
	metric string
}

func (f *failingHost) Register(ctx context.Context, accessories ...*host.Accessory) error {
	for _, acc := range accessories {
		if acc.Metric() == f.metric {
			return errors.New("boom")
		}
	}
	return f.Memory.Register(ctx, accessories...)
}

func newReconciler(h host.Host, metrics []sensor.Descriptor) *Reconciler {
	return &Reconciler{Host: h, DeviceID: testDevice, DeviceName: "Roof", Metrics: metrics}
}

func uuids(accs []*host.Accessory) []string {
	out := make([]string, 0, len(accs))
	for _, acc := range accs {
		out = append(out, acc.UUID)
	}
	return out
}

func TestAccessoryIDStable(t *testing.T) {
	a := AccessoryID(testDevice, "pvPower")
	assert.Equal(t, a, AccessoryID(testDevice, "pvPower"))
	assert.NotEqual(t, a, AccessoryID(testDevice, "loadPower"))
	assert.NotEqual(t, a, AccessoryID("other", "pvPower"))
	assert.Len(t, a, 36)
}

func TestReconcileCreates(t *testing.T) {
	ctx := context.Background()
	mem := host.NewMemory(nil)
	metrics := sensor.Registry()
	known := map[string]*host.Accessory{}

	live, err := newReconciler(mem, metrics).Reconcile(ctx, known)
	require.NoError(t, err)
	assert.Len(t, live, len(metrics))
	assert.Len(t, mem.Accessories(), len(metrics))

	pv := live["pvPower"]
	require.NotNil(t, pv)
	assert.Equal(t, AccessoryID(testDevice, "pvPower"), pv.UUID)
	assert.Equal(t, "Roof PV Power", pv.DisplayName)
	assert.Equal(t, host.Info{Manufacturer: "Solis", Model: "pvPower", SerialNumber: testDevice + "-pvPower"}, pv.Info)
	_, ok := pv.Representation(host.ServiceLightLevel)
	assert.True(t, ok)
}

func TestReconcileIdempotent(t *testing.T) {
	ctx := context.Background()
	mem := host.NewMemory(nil)
	r := newReconciler(mem, sensor.Registry())
	known := map[string]*host.Accessory{}

	first, err := r.Reconcile(ctx, known)
	require.NoError(t, err)
	before := uuids(mem.Accessories())

	second, err := r.Reconcile(ctx, known)
	require.NoError(t, err)
	assert.Equal(t, before, uuids(mem.Accessories()))
	assert.Equal(t, len(first), len(second))
	for id, acc := range first {
		assert.Same(t, acc, second[id])
	}
}

func TestReconcileAcrossRestart(t *testing.T) {
	ctx := context.Background()
	mem := host.NewMemory(nil)
	_, err := newReconciler(mem, sensor.Registry()).Reconcile(ctx, map[string]*host.Accessory{})
	require.NoError(t, err)
	before := uuids(mem.Accessories())

	restored := map[string]*host.Accessory{}
	mem.Restore(func(acc *host.Accessory) { restored[acc.UUID] = acc })
	live, err := newReconciler(mem, sensor.Registry()).Reconcile(ctx, restored)
	require.NoError(t, err)
	assert.Equal(t, before, uuids(mem.Accessories()))
	assert.Equal(t, AccessoryID(testDevice, "gridImport"), live["gridImport"].UUID)
}

func TestReconcileRepairs(t *testing.T) {
	ctx := context.Background()
	mem := host.NewMemory(nil)
	d, _ := sensor.Lookup("batteryPercent")

	broken := host.NewAccessory(AccessoryID(testDevice, d.ID), "old name")
	broken.Attach(host.Representation{Type: host.ServiceLightLevel, Min: 0.0001, Max: 100000})
	broken.Attach(host.Representation{Type: host.ServiceText})
	require.NoError(t, mem.Register(ctx, broken))
	known := map[string]*host.Accessory{broken.UUID: broken}

	r := newReconciler(mem, []sensor.Descriptor{d})
	live, err := r.Reconcile(ctx, known)
	require.NoError(t, err)
	acc := live[d.ID]
	require.Same(t, broken, acc, "top-level identity is kept")
	reps := acc.Representations()
	require.Len(t, reps, 1)
	assert.True(t, reps[0].Matches(d.Representation()))
	assert.Equal(t, "Roof Battery Level", acc.DisplayName)
	assert.Equal(t, testDevice, acc.Device())

	assert.False(t, r.repair(acc, d), "repair is idempotent")
	require.Len(t, acc.Representations(), 1)
}

func TestReconcileRetiresRemovedMetric(t *testing.T) {
	ctx := context.Background()
	mem := host.NewMemory(nil)
	all := sensor.Registry()
	known := map[string]*host.Accessory{}
	_, err := newReconciler(mem, all).Reconcile(ctx, known)
	require.NoError(t, err)

	// next version drops gridExport
	var next []sensor.Descriptor
	for _, d := range all {
		if d.ID != "gridExport" {
			next = append(next, d)
		}
	}
	restored := map[string]*host.Accessory{}
	mem.Restore(func(acc *host.Accessory) { restored[acc.UUID] = acc })
	live, err := newReconciler(mem, next).Reconcile(ctx, restored)
	require.NoError(t, err)

	gone := AccessoryID(testDevice, "gridExport")
	assert.NotContains(t, uuids(mem.Accessories()), gone)
	assert.NotContains(t, restored, gone)
	assert.NotContains(t, live, "gridExport")
	assert.Len(t, mem.Accessories(), len(next))
}

func TestReconcileLeavesOtherDevices(t *testing.T) {
	ctx := context.Background()
	mem := host.NewMemory(nil)
	other := &Reconciler{Host: mem, DeviceID: "other-device", Metrics: sensor.Registry()}
	known := map[string]*host.Accessory{}
	_, err := other.Reconcile(ctx, known)
	require.NoError(t, err)

	_, err = newReconciler(mem, sensor.Registry()).Reconcile(ctx, known)
	require.NoError(t, err)
	assert.Len(t, mem.Accessories(), 2*len(sensor.Registry()))
}

func TestReconcileIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	h := &failingHost{Memory: host.NewMemory(nil), metric: "loadPower"}
	live, err := newReconciler(h, sensor.Registry()).Reconcile(ctx, map[string]*host.Accessory{})

	var rErr *ReconcileError
	require.True(t, errors.As(err, &rErr))
	assert.Equal(t, "loadPower", rErr.Metric)
	assert.NotContains(t, live, "loadPower")
	assert.Len(t, live, len(sensor.Registry())-1)
}
