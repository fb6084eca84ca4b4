package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/camera"
	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database"
	_ "github.com/kozaktomas/face-attendance/internal/database/mariadb"
	_ "github.com/kozaktomas/face-attendance/internal/database/postgres"
	"github.com/kozaktomas/face-attendance/internal/detection"
	"github.com/kozaktomas/face-attendance/internal/engine"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/gallery"
	"github.com/kozaktomas/face-attendance/internal/metrics"
	"github.com/kozaktomas/face-attendance/internal/mqtt"
	"github.com/kozaktomas/face-attendance/internal/notify"
	"github.com/kozaktomas/face-attendance/internal/settings"
)

// setupLogger installs the default slog logger from LOG_LEVEL and
// LOG_FORMAT; --log-level wins over LOG_LEVEL.
func setupLogger(cmd *cobra.Command, cfg config.LogConfig) *slog.Logger {
	level := cfg.Level
	if flag := mustGetString(cmd, "log-level"); flag != "" {
		level = flag
	}

	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// app holds the services a command needs, built from the environment.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    database.Store
	tunables *settings.Store
	engine   *engine.Client
}

// loadApp reads configuration, sets up logging and loads tunables.
// The database is opened only when withStore is set.
func loadApp(cmd *cobra.Command, withStore bool) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := setupLogger(cmd, cfg.Log)

	tunables, err := settings.NewStore(cfg.SettingsPath)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		tunables: tunables,
		engine:   engine.NewClient(cfg.Engine.URL, cfg.Engine.Timeout),
	}

	if withStore {
		store, err := database.Open(&cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		a.store = store
	}
	return a, nil
}

func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			slog.Warn("failed to close database", "error", err)
		}
	}
}

// galleryBuilder builds the gallery from the roster, the reference images
// and the face engine.
func (a *app) galleryBuilder(concurrency int) *gallery.Builder {
	return gallery.NewBuilder(
		a.store,
		gallery.NewImageStore(a.cfg.Reference),
		a.engine,
		a.tunables.Get().MinConfidence,
	).WithConcurrency(concurrency)
}

// sessionGallery builds a fresh gallery per session so the current
// MIN_CONFIDENCE applies.
type sessionGallery struct {
	app         *app
	concurrency int
}

func (g sessionGallery) Build(ctx context.Context) (*facematch.Gallery, gallery.Report, error) {
	return g.app.galleryBuilder(g.concurrency).Build(ctx)
}

func (a *app) recorder() *attendance.Recorder {
	return attendance.NewRecorder(a.store, a.cfg.Location, a.tunables)
}

// sinks connects the optional MQTT and notification sinks. A sink that
// fails to set up is logged and skipped. The returned func releases them.
func (a *app) sinks(ctx context.Context) ([]detection.Sink, func()) {
	var sinks []detection.Sink
	cleanup := func() {}

	if a.cfg.MQTT.Broker != "" {
		pub, err := mqtt.Connect(ctx, a.cfg.MQTT)
		if err != nil {
			slog.Warn("MQTT publishing disabled", "error", err)
		} else {
			sinks = append(sinks, pub)
			cleanup = pub.Close
		}
	}

	if len(a.cfg.Notify.URLs) > 0 {
		n, err := notify.New(a.cfg.Notify.URLs)
		if err != nil {
			slog.Warn("notifications disabled", "error", err)
		} else {
			sinks = append(sinks, n)
		}
	}
	return sinks, cleanup
}

// sessionConfig wires a detection session.
func (a *app) sessionConfig(recorder *attendance.Recorder, m *metrics.Metrics, sinks []detection.Sink, concurrency int) detection.Config {
	return detection.Config{
		Engine:         a.engine,
		Cameras:        camera.NewLister(a.cfg.Camera, &http.Client{Timeout: a.cfg.Engine.Timeout}),
		Hints:          camera.DefaultHints,
		Gallery:        sessionGallery{app: a, concurrency: concurrency},
		Recorder:       recorder,
		Tunables:       a.tunables,
		Metrics:        m,
		Sinks:          sinks,
		CommitTimeout:  a.cfg.Session.CommitTimeout,
		CommitCooldown: a.cfg.Session.CommitCooldown,
	}
}
