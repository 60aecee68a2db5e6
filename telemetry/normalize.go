package telemetry

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

var ErrRejected = errors.New("response rejected")

type Normalizer struct {
	Location *time.Location
	Now      func() time.Time
}

// Normalize is a Normalizer with local time and the wall clock.
func Normalize(raw map[string]any) (Snapshot, error) {
	return (&Normalizer{}).Normalize(raw)
}

func (n *Normalizer) Normalize(raw map[string]any) (Snapshot, error) {
	if ok, _ := raw["success"].(bool); !ok {
		return Snapshot{}, fmt.Errorf("%w: success=%v code=%v msg=%v", ErrRejected, raw["success"], raw["code"], raw["msg"])
	}
	data, _ := raw["data"].(map[string]any)
	if data == nil {
		return Snapshot{}, fmt.Errorf("%w: no data object", ErrRejected)
	}
	records, _ := data["records"].([]any)
	if len(records) == 0 {
		return Snapshot{}, fmt.Errorf("%w: no records", ErrRejected)
	}
	rec, ok := records[0].(map[string]any)
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: record is %T, not an object", ErrRejected, records[0])
	}

	s := Snapshot{
		PVPower:            Safe(rec["power"], 0),
		BatteryPower:       Safe(rec["batteryPower"], 0),
		BatteryPercent:     Safe(rec["batteryPercent"], 0),
		GridFlow:           Safe(rec["psum"], 0),
		LoadPower:          Safe(rec["familyLoadPower"], 0),
		DayEnergy:          Safe(rec["dayEnergy"], 0),
		MonthEnergy:        Safe(rec["monthEnergy"], 0),
		YearEnergy:         Safe(rec["yearEnergy"], 0),
		TotalEnergy:        Safe(rec["allEnergy"], 0),
		GridPurchasedToday: Safe(rec["gridPurchasedDayEnergy"], 0),
		GridSoldToday:      Safe(rec["gridSellDayEnergy"], 0),
		HomeLoadToday:      Safe(rec["homeLoadTodayEnergy"], 0),
	}
	s.GridImport, s.GridExport = SplitFlow(s.GridFlow)
	s.BatteryDischarge, s.BatteryCharge = SplitFlow(s.BatteryPower)

	now := time.Now
	if n.Now != nil {
		now = n.Now
	}
	loc := n.Location
	if loc == nil {
		loc = time.Local
	}
	s.Timestamp = parseEpochMillis(rec["dataTimestamp"], now)
	s.TimestampText = s.Timestamp.In(loc).Format(DisplayLayout)
	return s, nil
}

// Safe returns v as a float when it is a finite number or a string holding one,
// fallback otherwise.
func Safe(v any, fallback float64) float64 {
	var f float64
	switch typed := v.(type) {
	case float64:
		f = typed
	case float32:
		f = float64(typed)
	case int:
		f = float64(typed)
	case int64:
		f = float64(typed)
	case json.Number:
		parsed, err := typed.Float64()
		if err != nil {
			return fallback
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(typed), 64)
		if err != nil {
			return fallback
		}
		f = parsed
	default:
		return fallback
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fallback
	}
	return f
}

// SplitFlow splits a signed flow into (in, out): in = max(0, -flow), out = max(0, flow).
func SplitFlow(flow float64) (in, out float64) {
	if flow < 0 {
		return -flow, 0
	}
	if flow > 0 {
		return 0, flow
	}
	return 0, 0
}

func parseEpochMillis(v any, now func() time.Time) time.Time {
	ms := Safe(v, -1)
	if ms <= 0 {
		return now()
	}
	return time.UnixMilli(int64(ms))
}
