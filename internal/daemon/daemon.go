package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/devtally/devtally/internal/badges"
	"github.com/devtally/devtally/internal/config"
	"github.com/devtally/devtally/internal/stats"
	"github.com/devtally/devtally/internal/store"
	"github.com/devtally/devtally/internal/syncer"
)

// refreshDebounce coalesces bursts of sqlite file events into one
// recomputation.
const refreshDebounce = 250 * time.Millisecond

// Daemon is the long-running companion process: it watches the store for
// changes, recomputes stats for the live feed and metrics, and runs periodic
// syncs.
type Daemon struct {
	cfg     *config.Config
	store   *store.Store
	syncer  *syncer.Syncer
	engine  *badges.Engine
	feed    *Feed
	metrics *Metrics
	logger  *zap.Logger
}

func New(cfg *config.Config, st *store.Store, sy *syncer.Syncer, logger *zap.Logger) *Daemon {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := NewMetrics()
	return &Daemon{
		cfg:     cfg,
		store:   st,
		syncer:  sy,
		engine:  badges.NewEngine(badges.Catalog(), logger),
		feed:    NewFeed(metrics, logger),
		metrics: metrics,
		logger:  logger,
	}
}

// Feed exposes the live feed, mainly for tests.
func (d *Daemon) Feed() *Feed {
	return d.feed
}

// Metrics exposes the daemon metrics, mainly for tests.
func (d *Daemon) Metrics() *Metrics {
	return d.metrics
}

// Handler builds the daemon's HTTP surface: health, metrics, live feed.
func (d *Daemon) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	mux.Handle("/metrics", d.metrics.Handler())
	mux.HandleFunc("/ws", d.feed.ServeWS)
	return mux
}

// Run serves until the context is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create store watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory, not the file: sqlite rewrites via WAL side files
	// and the handle file is replaced by rename.
	watchDir := filepath.Dir(d.cfg.Database.Path)
	if err := watcher.Add(watchDir); err != nil {
		return fmt.Errorf("watch %s: %w", watchDir, err)
	}

	server := &http.Server{
		Addr:    d.cfg.Daemon.ListenAddr,
		Handler: d.Handler(),
	}
	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()
	d.logger.Info("daemon listening", zap.String("addr", d.cfg.Daemon.ListenAddr))

	var syncResults <-chan syncer.Result
	if d.cfg.Sync.Enabled && d.syncer != nil {
		interval := time.Duration(d.cfg.Sync.IntervalMinutes) * time.Minute
		syncResults = d.syncer.Run(ctx, interval)
	}

	d.Refresh()

	debounce := time.NewTimer(refreshDebounce)
	if !debounce.Stop() {
		<-debounce.C
	}

	for {
		select {
		case <-ctx.Done():
			d.feed.Close()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)

		case err := <-serverErr:
			return fmt.Errorf("daemon server: %w", err)

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if d.relevantChange(event) {
				debounce.Reset(refreshDebounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			d.logger.Warn("store watcher error", zap.Error(err))

		case <-debounce.C:
			d.Refresh()

		case result, ok := <-syncResults:
			if !ok {
				syncResults = nil
				continue
			}
			d.metrics.RecordSync(result.Synced)
			d.metrics.EventsDropped.Add(float64(result.DroppedEvents))
			d.feed.Broadcast(map[string]any{
				"type":     "sync",
				"synced":   result.Synced,
				"accepted": result.Accepted,
				"badges":   result.Badges,
			})
		}
	}
}

// Refresh recomputes stats, updates gauges, and pushes a snapshot to the
// feed. Badges and score are applied here so a feed snapshot matches what
// the stats command reports.
func (d *Daemon) Refresh() {
	idle := time.Duration(d.cfg.Session.IdleThresholdMinutes) * time.Minute
	userStats, err := stats.ComputeFromStore(d.store, idle)
	if err != nil {
		d.logger.Error("stats refresh failed", zap.Error(err))
		return
	}
	userStats.ApplyBadges(badges.IDs(d.engine.Evaluate(userStats)))

	d.metrics.StoreRefreshes.Inc()
	d.metrics.ActiveHoursTotal.Set(userStats.TotalHours)
	d.metrics.SessionsTotal.Set(float64(userStats.TotalSessions))

	d.feed.Broadcast(map[string]any{
		"type":  "stats",
		"stats": userStats,
	})
}

// relevantChange filters watcher noise down to writes that can move stats:
// the database and its WAL, plus the session handle.
func (d *Daemon) relevantChange(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return false
	}

	name := filepath.Base(event.Name)
	dbName := filepath.Base(d.cfg.Database.Path)
	switch name {
	case dbName, dbName + "-wal", dbName + "-shm", filepath.Base(d.cfg.HandlePath()):
		return true
	default:
		return false
	}
}
