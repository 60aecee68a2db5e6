// Package history records accepted snapshots in the database.
package history

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/XANi/solis2mqtt/telemetry"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Record struct {
	ID                 uint      `gorm:"primaryKey" json:"-"`
	DeviceID           string    `gorm:"index:idx_device_ts" json:"device_id"`
	Timestamp          time.Time `gorm:"index:idx_device_ts" json:"timestamp"`
	PVPower            float64   `json:"pv_power_kw"`
	BatteryPower       float64   `json:"battery_power_kw"`
	BatteryPercent     float64   `json:"battery_percent"`
	GridFlow           float64   `json:"grid_flow_kw"`
	LoadPower          float64   `json:"load_power_kw"`
	DayEnergy          float64   `json:"day_energy_kwh"`
	TotalEnergy        float64   `json:"total_energy_kwh"`
	GridPurchasedToday float64   `json:"grid_purchased_today_kwh"`
	GridSoldToday      float64   `json:"grid_sold_today_kwh"`
	HomeLoadToday      float64   `json:"home_load_today_kwh"`
	CreatedAt          time.Time `json:"-"`
}

type Config struct {
	// Retention drops records older than this; 0 keeps everything.
	Retention time.Duration
	Logger    *zap.SugaredLogger
}

type Recorder struct {
	db   *gorm.DB
	cfg  Config
	l    *zap.SugaredLogger
	mu   sync.Mutex
	last map[string]time.Time
}

func New(db *gorm.DB, cfg Config) (*Recorder, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("error migrating history table: %w", err)
	}
	return &Recorder{db: db, cfg: cfg, l: cfg.Logger, last: map[string]time.Time{}}, nil
}

// Observe stores s unless upstream has not produced a new sample since the last one.
func (r *Recorder) Observe(ctx context.Context, s telemetry.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.last[s.DeviceID]; ok && prev.Equal(s.Timestamp) {
		r.l.Debugf("sample %s for %s already recorded", s.TimestampText, s.DeviceID)
		return
	}
	rec := Record{
		DeviceID:           s.DeviceID,
		Timestamp:          s.Timestamp.UTC(),
		PVPower:            s.PVPower,
		BatteryPower:       s.BatteryPower,
		BatteryPercent:     s.BatteryPercent,
		GridFlow:           s.GridFlow,
		LoadPower:          s.LoadPower,
		DayEnergy:          s.DayEnergy,
		TotalEnergy:        s.TotalEnergy,
		GridPurchasedToday: s.GridPurchasedToday,
		GridSoldToday:      s.GridSoldToday,
		HomeLoadToday:      s.HomeLoadToday,
	}
	if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
		r.l.Warnf("error recording snapshot for %s: %s", s.DeviceID, err)
		return
	}
	r.last[s.DeviceID] = s.Timestamp
	if r.cfg.Retention > 0 {
		cutoff := s.Timestamp.Add(-r.cfg.Retention).UTC()
		res := r.db.WithContext(ctx).
			Where("device_id = ? AND timestamp < ?", s.DeviceID, cutoff).
			Delete(&Record{})
		if res.Error != nil {
			r.l.Warnf("error pruning history for %s: %s", s.DeviceID, res.Error)
		} else if res.RowsAffected > 0 {
			r.l.Debugf("pruned %d records for %s", res.RowsAffected, s.DeviceID)
		}
	}
}

// Recent returns up to limit newest records of a device, newest first.
func (r *Recorder) Recent(ctx context.Context, deviceID string, limit int) ([]Record, error) {
	var recs []Record
	err := r.db.WithContext(ctx).
		Where("device_id = ?", deviceID).
		Order("timestamp desc").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("error reading history for %s: %w", deviceID, err)
	}
	return recs, nil
}
