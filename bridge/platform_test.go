package bridge

import (
	"context"
	"testing"

	"github.com/XANi/solis2mqtt/cloud"
	"github.com/XANi/solis2mqtt/host"
	"github.com/XANi/solis2mqtt/poller"
	"github.com/XANi/solis2mqtt/telemetry"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedFetcher struct {
	bodies []string
	calls  int
}

func (f *scriptedFetcher) FetchTelemetry(_ context.Context, _ string) (cloud.Response, error) {
	body := f.bodies[f.calls%len(f.bodies)]
	f.calls++
	var out cloud.Response
	err := json.Unmarshal([]byte(body), &out)
	return out, err
}

const scenarioA = `{"success":true,"code":"0","data":{"records":[{"power":1.5,"batteryPower":-0.2,
	"batteryPercent":42,"psum":-0.4,"familyLoadPower":0.3,"dayEnergy":5.2,"dataTimestamp":1721982600000}]}}`

func newPlatform(t *testing.T, mem *host.Memory, f *scriptedFetcher) *Platform {
	t.Helper()
	p, err := New(Config{
		Host:     mem,
		DeviceID: testDevice,
		Scheduler: poller.Config{
			Fetcher:    f,
			Normalizer: &telemetry.Normalizer{},
		},
	})
	require.NoError(t, err)
	return p
}

func TestPlatformOncePublishes(t *testing.T) {
	mem := host.NewMemory(nil)
	p := newPlatform(t, mem, &scriptedFetcher{bodies: []string{scenarioA}})
	require.NoError(t, p.Once(context.Background()))

	snap, ok := p.LastSnapshot()
	require.True(t, ok)
	assert.Equal(t, testDevice, snap.DeviceID)
	assert.Equal(t, 1.5, snap.PVPower)
	assert.Equal(t, 0.4, snap.GridImport)
	assert.Equal(t, 0.0, snap.GridExport)
	assert.Equal(t, 42.0, snap.BatteryPercent)

	status := p.Accessories()
	require.NotEmpty(t, status)
	assert.Equal(t, "pvPower", status[0].Metric)
	assert.Equal(t, 1500.0, status[0].Value)
	assert.Equal(t, "W", status[0].Unit)
}

func TestPlatformRejectedKeepsValues(t *testing.T) {
	mem := host.NewMemory(nil)
	f := &scriptedFetcher{bodies: []string{
		scenarioA,
		`{"success":false,"code":"1","msg":"busy"}`,
		`{"success":true,"data":{"records":[]}}`,
	}}
	p := newPlatform(t, mem, f)
	ctx := context.Background()
	require.NoError(t, p.Once(ctx))
	changes := mem.Changes()
	before := p.Accessories()

	for i := 0; i < 2; i++ {
		err := p.scheduler.Cycle(ctx)
		assert.ErrorIs(t, err, telemetry.ErrRejected)
	}
	assert.Equal(t, changes, mem.Changes())
	assert.Equal(t, before, p.Accessories())
}

func TestPlatformRestoreThenStart(t *testing.T) {
	ctx := context.Background()
	mem := host.NewMemory(nil)
	first := newPlatform(t, mem, &scriptedFetcher{bodies: []string{scenarioA}})
	require.NoError(t, first.Reconcile(ctx))
	created := first.Known()

	second := newPlatform(t, mem, &scriptedFetcher{bodies: []string{scenarioA}})
	mem.Restore(second.Restore)
	require.NoError(t, second.Reconcile(ctx))
	assert.Equal(t, created, second.Known())
	assert.Len(t, mem.Accessories(), len(created))
}

func TestObserveBeforeReconcileIsDropped(t *testing.T) {
	mem := host.NewMemory(nil)
	p := newPlatform(t, mem, &scriptedFetcher{bodies: []string{scenarioA}})
	p.Observe(context.Background(), telemetry.Snapshot{PVPower: 1})
	_, ok := p.LastSnapshot()
	assert.False(t, ok)
	assert.Zero(t, mem.Changes())
}
