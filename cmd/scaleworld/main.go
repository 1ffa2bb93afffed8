package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/scaleworld/client/internal/apply"
	"github.com/scaleworld/client/internal/backoff"
	"github.com/scaleworld/client/internal/catalog"
	"github.com/scaleworld/client/internal/config"
	"github.com/scaleworld/client/internal/core/event"
	"github.com/scaleworld/client/internal/entity"
	"github.com/scaleworld/client/internal/journal"
	"github.com/scaleworld/client/internal/loop"
	"github.com/scaleworld/client/internal/place"
	"github.com/scaleworld/client/internal/render"
	"github.com/scaleworld/client/internal/script"
	worldsync "github.com/scaleworld/client/internal/sync"
	"github.com/scaleworld/client/internal/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config
	cfgPath := "config/client.toml"
	if p := os.Getenv("SCALEWORLD_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	log.Info("scaleworld client starting",
		zap.String("world", cfg.World.Name),
		zap.String("world_uri", cfg.World.WorldURI))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. Transport and static data
	tr := transport.NewHTTPClient(cfg.Transport.BaseURL, cfg.Transport.Timeout, log)

	cat, err := catalog.Load(cfg.World.CatalogPath)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	log.Info("entity catalog loaded", zap.Int("types", cat.Count()))

	// 4. Registry, lifecycle bus, applier
	bus := event.NewBus()
	reg := entity.NewRegistry(bus)
	applier := apply.NewApplier(reg, log)

	// 5. Optional diff journal
	if cfg.Journal.Enabled {
		initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		db, err := journal.NewDB(initCtx, cfg.Journal, log)
		cancel()
		if err != nil {
			return fmt.Errorf("journal db: %w", err)
		}
		defer db.Close()
		if err := journal.RunMigrations(ctx, db.Pool); err != nil {
			return fmt.Errorf("journal migrations: %w", err)
		}
		jr := journal.New(db, log)
		defer jr.Close()
		applier.SetRecorder(jr)
		log.Info("diff journal enabled")
	}

	// 6. Script runner
	scripts, err := script.NewRunner(cfg.World.ScriptsDir, reg, applier, log)
	if err != nil {
		return fmt.Errorf("script runner: %w", err)
	}
	defer scripts.Close()
	reg.Attach(scripts)
	bus.SubscribeLive(func(ev event.Live) { scripts.Bind(ev.ID) })

	// 7. Renderer selector
	descs, err := descriptors(cfg.Renderer.Bands)
	if err != nil {
		return err
	}
	retry := backoff.Config{
		InitialDelay: cfg.Renderer.RetryInitial,
		MaxDelay:     cfg.Renderer.RetryMax,
		Multiplier:   cfg.Renderer.RetryMultiplier,
		Jitter:       true,
	}
	selector, err := render.NewSelector(descs, render.BuildDeps{
		Transport: tr,
		Terrain:   cfg.World.Terrain,
		Log:       log,
	}, retry, log)
	if err != nil {
		return fmt.Errorf("renderer selector: %w", err)
	}
	reg.Attach(selector)

	observer := render.NewObserver(cfg.World.StartAltitude)

	// 8. Sync channel
	reconnect := backoff.Config{
		InitialDelay: cfg.Sync.ReconnectInitial,
		MaxDelay:     cfg.Sync.ReconnectMax,
		Multiplier:   cfg.Sync.ReconnectMultiplier,
		Jitter:       true,
	}
	var channel worldsync.Channel
	var origin apply.Origin
	if cfg.Sync.Enabled {
		ws := worldsync.NewWSChannel(cfg.Sync.URL, reconnect, log)
		go ws.Run(ctx)
		channel, origin = ws, ws
	} else {
		lb := worldsync.NewLoopback()
		channel, origin = lb, lb
		log.Info("sync disabled, running offline")
	}
	defer channel.Close()
	channel.Subscribe(func(d entity.Diff) { applier.Ingest(d, origin) })
	applier.SetPublisher(channel)

	// 9. Initial placements from world config
	placer := place.NewService(applier, cat, tr, retry, bus, log)
	for _, pe := range cfg.World.Entities {
		id, err := placer.Place(ctx, pe.Type, entity.Vec3{X: pe.X, Y: pe.Y, Z: pe.Z}, entity.Vec3{})
		if err != nil {
			log.Warn("startup placement failed",
				zap.String("type", pe.Type),
				zap.Error(err))
			continue
		}
		log.Debug("placed", zap.String("type", pe.Type), zap.String("id", id))
	}

	// 10. First renderer must be active before the loop starts: no tick may
	// ever run without one.
	if err := selector.Start(ctx, observer.Altitude()); err != nil {
		return fmt.Errorf("initial renderer: %w", err)
	}
	defer selector.Shutdown(context.Background())

	// 11. Tick until shutdown
	sched := loop.NewScheduler(cfg.Loop.TickRate, reg, bus, applier, scripts, selector, observer, log)
	if err := sched.Run(ctx); err != nil {
		return err
	}

	stats := applier.Stats()
	log.Info("client stopped",
		zap.Uint64("diffs_applied", stats.Applied),
		zap.Uint64("diffs_rejected", stats.Rejected))
	return nil
}

// descriptors chains the configured bands into a full partition of the
// altitude axis; NewSelector validates it.
func descriptors(bands []config.Band) ([]render.Descriptor, error) {
	descs := make([]render.Descriptor, 0, len(bands))
	min := 0.0
	for i, b := range bands {
		kind := render.ScaleKind(b.Kind)
		build := render.DefaultBuild(kind)
		if build == nil {
			return nil, fmt.Errorf("renderer band %d: unknown kind %q", i, b.Kind)
		}
		max := b.MaxAltitude
		if max == 0 {
			if i != len(bands)-1 {
				return nil, fmt.Errorf("renderer band %q: only the top band may be unbounded", b.Kind)
			}
			max = inf
		}
		descs = append(descs, render.Descriptor{
			Kind:        kind,
			MinAltitude: min,
			MaxAltitude: max,
			Build:       build,
		})
		min = max
	}
	return descs, nil
}

var inf = math.Inf(1)

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	return zapCfg.Build()
}
