// Package store keeps accessory shells between restarts so the host can hand
// them back to the platform before the first poll.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/XANi/solis2mqtt/host"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type AccessoryRecord struct {
	UUID             string `gorm:"primaryKey"`
	DeviceID         string `gorm:"index"`
	MetricID         string
	DisplayName      string
	Context          string
	Manufacturer     string
	Model            string
	SerialNumber     string
	FirmwareRevision string
	Representations  string
	UpdatedAt        time.Time
}

type representation struct {
	Type        host.ServiceType `json:"type"`
	Name        string           `json:"name"`
	Unit        string           `json:"unit,omitempty"`
	DeviceClass string           `json:"device_class,omitempty"`
	StateClass  string           `json:"state_class,omitempty"`
	Min         float64          `json:"min"`
	Max         float64          `json:"max"`
}

type Store struct {
	db *gorm.DB
	l  *zap.SugaredLogger
}

// Open connects to postgres for postgres:// URLs and key=value DSNs, sqlite otherwise.
func Open(dsn string, l *zap.SugaredLogger) (*Store, error) {
	if l == nil {
		l = zap.NewNop().Sugar()
	}
	db, err := gorm.Open(Dialector(dsn), &gorm.Config{
		Logger: logger.New(gormWriter{l}, logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	if err := db.AutoMigrate(&AccessoryRecord{}); err != nil {
		return nil, fmt.Errorf("error migrating accessory table: %w", err)
	}
	return &Store{db: db, l: l}, nil
}

func Dialector(dsn string) gorm.Dialector {
	if strings.HasPrefix(dsn, "postgres://") ||
		strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=") {
		return postgres.Open(dsn)
	}
	return sqlite.Open(dsn)
}

// DB is shared with the history recorder.
func (s *Store) DB() *gorm.DB { return s.db }

// Load rebuilds every cached accessory. Records that fail to decode are skipped.
func (s *Store) Load(ctx context.Context) ([]*host.Accessory, error) {
	var recs []AccessoryRecord
	if err := s.db.WithContext(ctx).Order("uuid").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("error loading accessories: %w", err)
	}
	out := make([]*host.Accessory, 0, len(recs))
	for _, rec := range recs {
		acc, err := rec.accessory()
		if err != nil {
			s.l.Warnf("skipping cached accessory %s: %s", rec.UUID, err)
			continue
		}
		out = append(out, acc)
	}
	return out, nil
}

func (s *Store) Save(ctx context.Context, acc *host.Accessory) error {
	rec, err := record(acc)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Save(&rec).Error; err != nil {
		return fmt.Errorf("error saving accessory %s: %w", acc.UUID, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, uuid string) error {
	err := s.db.WithContext(ctx).Delete(&AccessoryRecord{UUID: uuid}).Error
	if err != nil {
		return fmt.Errorf("error deleting accessory %s: %w", uuid, err)
	}
	return nil
}

func record(acc *host.Accessory) (AccessoryRecord, error) {
	ctxJSON, err := json.Marshal(acc.Context)
	if err != nil {
		return AccessoryRecord{}, fmt.Errorf("error encoding context of %s: %w", acc.UUID, err)
	}
	var reps []representation
	for _, r := range acc.Representations() {
		reps = append(reps, representation{
			Type:        r.Type,
			Name:        r.Name,
			Unit:        r.Unit,
			DeviceClass: r.DeviceClass,
			StateClass:  r.StateClass,
			Min:         r.Min,
			Max:         r.Max,
		})
	}
	repJSON, err := json.Marshal(reps)
	if err != nil {
		return AccessoryRecord{}, fmt.Errorf("error encoding representations of %s: %w", acc.UUID, err)
	}
	return AccessoryRecord{
		UUID:             acc.UUID,
		DeviceID:         acc.Device(),
		MetricID:         acc.Metric(),
		DisplayName:      acc.DisplayName,
		Context:          string(ctxJSON),
		Manufacturer:     acc.Info.Manufacturer,
		Model:            acc.Info.Model,
		SerialNumber:     acc.Info.SerialNumber,
		FirmwareRevision: acc.Info.FirmwareRevision,
		Representations:  string(repJSON),
	}, nil
}

func (rec AccessoryRecord) accessory() (*host.Accessory, error) {
	acc := host.NewAccessory(rec.UUID, rec.DisplayName)
	if rec.Context != "" {
		if err := json.Unmarshal([]byte(rec.Context), &acc.Context); err != nil {
			return nil, fmt.Errorf("bad context: %w", err)
		}
	}
	if acc.Context == nil {
		acc.Context = map[string]string{}
	}
	acc.Info = host.Info{
		Manufacturer:     rec.Manufacturer,
		Model:            rec.Model,
		SerialNumber:     rec.SerialNumber,
		FirmwareRevision: rec.FirmwareRevision,
	}
	var reps []representation
	if rec.Representations != "" {
		if err := json.Unmarshal([]byte(rec.Representations), &reps); err != nil {
			return nil, fmt.Errorf("bad representations: %w", err)
		}
	}
	for _, r := range reps {
		acc.Attach(host.Representation{
			Type:        r.Type,
			Name:        r.Name,
			Unit:        r.Unit,
			DeviceClass: r.DeviceClass,
			StateClass:  r.StateClass,
			Min:         r.Min,
			Max:         r.Max,
		})
	}
	return acc, nil
}

type gormWriter struct {
	l *zap.SugaredLogger
}

func (w gormWriter) Printf(format string, args ...interface{}) {
	w.l.Warnf(format, args...)
}
