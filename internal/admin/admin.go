// Package admin serves the operator HTTP surface: probes, status, metrics
// and manual risk recovery.
package admin

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Rajchodisetti/regime-engine/internal/engine"
	"github.com/Rajchodisetti/regime-engine/internal/fault"
	"github.com/Rajchodisetti/regime-engine/internal/market"
	"github.com/Rajchodisetti/regime-engine/internal/risk"
)

// Engine is the part of the engine the admin surface reads and commands
type Engine interface {
	Ready() bool
	RunID() string
	Status() engine.Status
	Recover(ctx context.Context, instrument string) (risk.Transition, error)
}

// Targets lists recently emitted targets
type Targets interface {
	Items() []market.TargetPosition
}

type Config struct {
	Addr string // e.g. ":8080"; empty disables the server
}

// NewMux wires every route. metrics and targets may be nil.
func NewMux(eng Engine, metrics http.Handler, targets Targets, logger *zap.Logger) *http.ServeMux {
	startedAt := time.Now()
	logger = logger.Named("admin")
	mux := http.NewServeMux()

	mux.HandleFunc("/livez", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if !eng.Ready() {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		s := eng.Status()
		var lastCycle int64
		if s.LastCycle != nil {
			lastCycle = s.LastCycle.Unix()
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"ready":           s.Ready,
			"run_id":          s.RunID,
			"uptime_sec":      int64(time.Since(startedAt).Seconds()),
			"last_cycle_unix": lastCycle,
			"risk_state":      s.Portfolio.RiskState,
		})
	})

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, eng.Status())
	})

	if targets != nil {
		mux.HandleFunc("/targets", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, targets.Items())
		})
	}

	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}

	mux.HandleFunc("/recover", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		instrument := r.URL.Query().Get("instrument")
		t, err := eng.Recover(r.Context(), instrument)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, fault.ErrUnknownInstrument) {
				status = http.StatusNotFound
			}
			writeJSON(w, status, map[string]string{"error": err.Error()})
			return
		}
		logger.Warn("manual recovery",
			zap.String("scope", t.Scope),
			zap.String("instrument", t.Instrument),
			zap.String("from", t.From),
			zap.String("remote", r.RemoteAddr))
		writeJSON(w, http.StatusOK, t)
	})

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// RunHTTP serves mux for the lifetime of the fx app
func RunHTTP(lc fx.Lifecycle, cfg Config, mux *http.ServeMux, logger *zap.Logger) {
	if cfg.Addr == "" {
		return
	}
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", cfg.Addr)
			if err != nil {
				return errors.Wrapf(err, "listen %s", cfg.Addr)
			}
			logger.Info("admin listening", zap.String("addr", ln.Addr().String()))
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("admin server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
