package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/Rajchodisetti/regime-engine/internal/admin"
	"github.com/Rajchodisetti/regime-engine/internal/alerts"
	"github.com/Rajchodisetti/regime-engine/internal/config"
	"github.com/Rajchodisetti/regime-engine/internal/decision"
	"github.com/Rajchodisetti/regime-engine/internal/engine"
	"github.com/Rajchodisetti/regime-engine/internal/observ"
	"github.com/Rajchodisetti/regime-engine/internal/outbox"
	"github.com/Rajchodisetti/regime-engine/internal/registry"
	"github.com/Rajchodisetti/regime-engine/internal/transport"
)

const service = "regime-engine"

type configPath string

func main() {
	var path string
	flag.StringVar(&path, "config", os.Getenv("REGIME_CONFIG"), "engine config path (YAML)")
	flag.Parse()

	app := fx.New(
		fx.Supply(configPath(path)),
		fx.Provide(
			loadConfig,
			newLogger,
			observ.NewMetrics,
			newTracer,
			newRegistry,
			newSinks,
			newNotifier,
			newEngine,
			newAdminConfig,
			newMux,
		),
		fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: l.Named("fx")}
		}),
		fx.Invoke(admin.RunHTTP, runEngine),
	)
	app.Run()
}

func loadConfig(p configPath) (config.Root, error) {
	return config.Load(string(p))
}

func newLogger(lc fx.Lifecycle, c config.Root) (*zap.Logger, error) {
	logger, err := observ.NewLogger(c.Log, service)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: func(context.Context) error {
		_ = logger.Sync()
		return nil
	}})
	return logger, nil
}

func newTracer(lc fx.Lifecycle, c config.Root) (opentracing.Tracer, error) {
	tracer, closer, err := observ.InitTracer(c.Tracing, service)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: func(context.Context) error { return closer.Close() }})
	return tracer, nil
}

func newRegistry(c config.Root, logger *zap.Logger) (*registry.Registry, error) {
	if c.Engine.RegistryPath == "" {
		logger.Info("using built-in instrument table")
		return registry.Default(), nil
	}
	reg, err := registry.Load(c.Engine.RegistryPath)
	if err != nil {
		return nil, err
	}
	logger.Info("instrument table loaded", zap.String("path", c.Engine.RegistryPath), zap.Int("instruments", reg.Len()))
	return reg, nil
}

type sinks struct {
	fx.Out

	Sink   outbox.Sink
	Recent *outbox.Recent
	Stream *outbox.Stream
}

// newSinks fans targets out to the in-memory ring, the live stream, the
// JSONL outbox and Postgres when configured
func newSinks(c config.Root, logger *zap.Logger) (sinks, error) {
	recent := outbox.NewRecent(c.Outbox.RecentLimit)
	stream := outbox.NewStream(c.Outbox.RecentLimit, 0, logger)
	multi := outbox.Multi{recent, stream}

	if c.Outbox.Path != "" {
		ob, err := outbox.New(c.Outbox.Path)
		if err != nil {
			return sinks{}, err
		}
		multi = append(multi, ob)
		logger.Info("outbox enabled", zap.String("path", c.Outbox.Path))
	}
	if c.Outbox.PostgresDSN != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		pg, err := outbox.NewPostgres(ctx, c.Outbox.PostgresDSN)
		if err != nil {
			_ = multi.Close()
			return sinks{}, err
		}
		multi = append(multi, pg)
		logger.Info("postgres sink enabled")
	}
	return sinks{Sink: multi, Recent: recent, Stream: stream}, nil
}

// newNotifier always logs alerts; Telegram and Slack are added when
// configured
func newNotifier(c config.Root, logger *zap.Logger) alerts.Notifier {
	fan := alerts.Fanout{alerts.NewLog(logger)}
	if c.Alerts.Token != "" {
		tg, err := alerts.NewTelegram(c.Alerts.TelegramConfig, logger)
		if err != nil {
			logger.Warn("telegram alerts disabled", zap.Error(err))
		} else {
			fan = append(fan, tg)
		}
	}
	if c.Alerts.Slack.WebhookURL != "" {
		sl, err := alerts.NewSlack(c.Alerts.Slack, logger)
		if err != nil {
			logger.Warn("slack alerts disabled", zap.Error(err))
		} else {
			fan = append(fan, sl)
		}
	}
	return fan
}

func newEngine(
	c config.Root,
	reg *registry.Registry,
	sink outbox.Sink,
	notifier alerts.Notifier,
	metrics *observ.Metrics,
	tracer opentracing.Tracer,
	logger *zap.Logger,
) (*engine.Engine, error) {
	loc, err := c.Location()
	if err != nil {
		return nil, err
	}
	windows, err := c.Windows()
	if err != nil {
		return nil, err
	}
	return engine.New(engine.Options{
		Registry:     reg,
		TotalCapital: c.Engine.TotalCapital,
		Risk:         c.Risk,
		Rules:        decision.Rules{ClosingWindows: windows},
		Location:     loc,
		Sink:         sink,
		Notifier:     notifier,
		Metrics:      metrics,
		Tracer:       tracer,
		Logger:       logger,
		SnapshotPath: c.Engine.SnapshotPath,
	})
}

func newAdminConfig(c config.Root) admin.Config {
	return admin.Config{Addr: c.Admin.Addr}
}

func newMux(eng *engine.Engine, metrics *observ.Metrics, recent *outbox.Recent, stream *outbox.Stream, logger *zap.Logger) *http.ServeMux {
	mux := admin.NewMux(eng, metrics.Handler(), recent, logger)
	mux.Handle("/targets/stream", stream)
	return mux
}

func openSource(in config.Input, logger *zap.Logger) (transport.Source, error) {
	if in.Stream.URL != "" {
		logger.Info("reading stream", zap.String("url", in.Stream.URL))
		sse, err := transport.NewSSE(in.Stream, logger)
		if err != nil {
			return nil, err
		}
		return sse, nil
	}
	logger.Info("reading records", zap.String("path", in.Path))
	jl, err := transport.OpenJSONL(in.Path, in.Buffer, logger)
	if err != nil {
		return nil, err
	}
	return jl, nil
}

// runEngine feeds the input stream to the engine. The app shuts down when
// the input ends; a failed run exits non-zero.
func runEngine(lc fx.Lifecycle, sd fx.Shutdowner, c config.Root, eng *engine.Engine, logger *zap.Logger) {
	var (
		src    transport.Source
		cancel context.CancelFunc
		done   = make(chan struct{})
	)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			opened, err := openSource(c.Input, logger)
			if err != nil {
				return err
			}
			src = opened
			if err := eng.Start(ctx); err != nil {
				return err
			}

			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			records, err := src.Start(runCtx)
			if err != nil {
				return errors.Wrap(err, "start input")
			}

			go func() {
				defer close(done)
				code := 0
				err := eng.Run(runCtx, records)
				switch {
				case errors.Is(err, context.Canceled):
				case err != nil:
					logger.Error("engine run failed", zap.Error(err))
					code = 1
				case src.Err() != nil:
					logger.Error("input failed", zap.Error(src.Err()))
					code = 1
				default:
					logger.Info("input exhausted",
						zap.String("last_event_id", src.LastEventID()),
						zap.Int("rejected_lines", src.Rejected()))
				}
				if err := sd.Shutdown(fx.ExitCode(code)); err != nil {
					logger.Warn("shutdown request failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
				select {
				case <-done:
				case <-ctx.Done():
				}
			}
			err := eng.Close(ctx)
			if src != nil {
				_ = src.Close()
			}
			return err
		},
	})
}
