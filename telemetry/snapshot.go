// Package telemetry turns the loosely typed SolisCloud detail response into a
// fixed Snapshot. Values keep vendor units (kW, kWh, %); scaling and clamping
// happen when they are published.
package telemetry

import "time"

const DisplayLayout = "2006-01-02 15:04:05"

type Snapshot struct {
	DeviceID string `json:"device_id"`

	PVPower          float64 `json:"pv_power_kw"`
	BatteryPower     float64 `json:"battery_power_kw"` // positive = charging
	BatteryCharge    float64 `json:"battery_charge_kw"`
	BatteryDischarge float64 `json:"battery_discharge_kw"`
	BatteryPercent   float64 `json:"battery_percent"`
	GridFlow         float64 `json:"grid_flow_kw"` // negative = import, positive = export
	GridImport       float64 `json:"grid_import_kw"`
	GridExport       float64 `json:"grid_export_kw"`
	LoadPower        float64 `json:"load_power_kw"`

	DayEnergy          float64 `json:"day_energy_kwh"`
	MonthEnergy        float64 `json:"month_energy_kwh"`
	YearEnergy         float64 `json:"year_energy_kwh"`
	TotalEnergy        float64 `json:"total_energy_kwh"`
	GridPurchasedToday float64 `json:"grid_purchased_today_kwh"`
	GridSoldToday      float64 `json:"grid_sold_today_kwh"`
	HomeLoadToday      float64 `json:"home_load_today_kwh"`

	Timestamp     time.Time `json:"timestamp"`
	TimestampText string    `json:"timestamp_text"`
}
