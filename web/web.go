package web

import (
	"context"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strconv"
	"time"

	"github.com/XANi/solis2mqtt/bridge"
	"github.com/XANi/solis2mqtt/history"
	"github.com/XANi/solis2mqtt/telemetry"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Device is the read side of one polled inverter.
type Device interface {
	DeviceID() string
	LastSnapshot() (telemetry.Snapshot, bool)
	Accessories() []bridge.AccessoryStatus
}

type History interface {
	Recent(ctx context.Context, deviceID string, limit int) ([]history.Record, error)
}

type Config struct {
	Logger     *zap.SugaredLogger
	ListenAddr string
	Devices    []Device
	// History is optional
	History  History
	Gatherer prometheus.Gatherer
	Version  string
}

type WebBackend struct {
	l       *zap.SugaredLogger
	r       *gin.Engine
	cfg     Config
	started time.Time
}

type DeviceStatus struct {
	DeviceID    string                   `json:"device_id"`
	LastUpdate  string                   `json:"last_update,omitempty"`
	Snapshot    *telemetry.Snapshot      `json:"snapshot,omitempty"`
	Accessories []bridge.AccessoryStatus `json:"accessories"`
}

func New(cfg Config, webFS fs.FS) (*WebBackend, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	w := &WebBackend{
		l:       cfg.Logger,
		cfg:     cfg,
		started: time.Now(),
	}
	if cfg.Logger.Level() > zap.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(ginzap.Ginzap(cfg.Logger.Desugar(), time.RFC3339, true))
	r.Use(ginzap.RecoveryWithZap(cfg.Logger.Desugar(), true))
	if webFS != nil {
		t, err := template.ParseFS(webFS, "templates/*.tmpl")
		if err != nil {
			return nil, fmt.Errorf("error loading templates: %w", err)
		}
		r.SetHTMLTemplate(t)
		static, err := fs.Sub(webFS, "static")
		if err != nil {
			return nil, fmt.Errorf("error loading static files: %w", err)
		}
		r.StaticFS("/static", http.FS(static))
		r.GET("/", w.Index)
	}
	r.GET("/health", w.Health)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	api := r.Group("/api/v1")
	api.GET("/status", w.Status)
	api.GET("/devices/:id/history", w.History)
	w.r = r
	return w, nil
}

func (w *WebBackend) Handler() http.Handler { return w.r }

func (w *WebBackend) Run() error {
	w.l.Infof("listening on %s", w.cfg.ListenAddr)
	return w.r.Run(w.cfg.ListenAddr)
}

func (w *WebBackend) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": w.cfg.Version,
		"uptime":  time.Since(w.started).Truncate(time.Second).String(),
	})
}

func (w *WebBackend) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"devices": w.devices()})
}

func (w *WebBackend) Index(c *gin.Context) {
	c.HTML(http.StatusOK, "index.tmpl", gin.H{
		"version": w.cfg.Version,
		"devices": w.devices(),
	})
}

func (w *WebBackend) History(c *gin.Context) {
	if w.cfg.History == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "history is disabled"})
		return
	}
	limit := 100
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 10000 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 10000"})
			return
		}
		limit = n
	}
	recs, err := w.cfg.History.Recent(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		w.l.Errorf("history: %s", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not read history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": recs})
}

func (w *WebBackend) devices() []DeviceStatus {
	out := make([]DeviceStatus, 0, len(w.cfg.Devices))
	for _, d := range w.cfg.Devices {
		st := DeviceStatus{DeviceID: d.DeviceID(), Accessories: d.Accessories()}
		if s, ok := d.LastSnapshot(); ok {
			st.Snapshot = &s
			st.LastUpdate = s.TimestampText
		}
		out = append(out, st)
	}
	return out
}
