package config

import (
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/Rajchodisetti/regime-engine/internal/alerts"
	"github.com/Rajchodisetti/regime-engine/internal/decision"
	"github.com/Rajchodisetti/regime-engine/internal/fault"
	"github.com/Rajchodisetti/regime-engine/internal/observ"
	"github.com/Rajchodisetti/regime-engine/internal/risk"
	"github.com/Rajchodisetti/regime-engine/internal/transport"
)

// EnvPrefix prefixes every environment override, e.g. REGIME_RISK_BASKET_DRAWDOWN_LIMIT
const EnvPrefix = "REGIME"

type Engine struct {
	TotalCapital   float64  `mapstructure:"total_capital"`
	RegistryPath   string   `mapstructure:"registry_path"` // empty uses the built-in table
	Timezone       string   `mapstructure:"timezone"`      // exchange clock for minute-of-day
	ClosingWindows []string `mapstructure:"closing_windows"`
	SnapshotPath   string   `mapstructure:"snapshot_path"` // portfolio snapshot written on shutdown
}

type Input struct {
	Path   string              `mapstructure:"path"` // "-" reads stdin
	Buffer int                 `mapstructure:"buffer"`
	Stream transport.SSEConfig `mapstructure:"stream"` // a url here takes precedence over path
}

type Outbox struct {
	Path        string `mapstructure:"path"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
	RecentLimit int    `mapstructure:"recent_limit"`
}

type Admin struct {
	Addr string `mapstructure:"addr"`
}

type Alerts struct {
	alerts.TelegramConfig `mapstructure:",squash"`
	Slack                 alerts.SlackConfig `mapstructure:"slack"`
}

type Root struct {
	Engine  Engine                `mapstructure:"engine"`
	Risk    risk.Config           `mapstructure:"risk"`
	Input   Input                 `mapstructure:"input"`
	Outbox  Outbox                `mapstructure:"outbox"`
	Admin   Admin                 `mapstructure:"admin"`
	Alerts  Alerts                `mapstructure:"alerts"`
	Tracing observ.TracingConfig  `mapstructure:"tracing"`
	Log     observ.LogConfig      `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	rc := risk.DefaultConfig()
	v.SetDefault("engine.total_capital", 1e7)
	v.SetDefault("engine.registry_path", "")
	v.SetDefault("engine.timezone", "Asia/Shanghai")
	v.SetDefault("engine.closing_windows", []string{"14:50-15:00"})
	v.SetDefault("engine.snapshot_path", "")
	v.SetDefault("risk.basket_drawdown_limit", rc.BasketDrawdownLimit)
	v.SetDefault("risk.portfolio_drawdown_limit", rc.PortfolioDrawdownLimit)
	v.SetDefault("risk.portfolio_reduce_limit", rc.PortfolioReduceLimit)
	v.SetDefault("risk.reduce_scale", rc.ReduceScale)
	v.SetDefault("input.path", "-")
	v.SetDefault("input.buffer", 1024)
	v.SetDefault("input.stream.url", "")
	v.SetDefault("input.stream.initial_delay", "500ms")
	v.SetDefault("input.stream.max_delay", "30s")
	v.SetDefault("input.stream.jitter", "250ms")
	v.SetDefault("input.stream.buffer", 1024)
	v.SetDefault("outbox.path", "data/targets.jsonl")
	v.SetDefault("outbox.postgres_dsn", "")
	v.SetDefault("outbox.recent_limit", 256)
	v.SetDefault("admin.addr", ":8080")
	v.SetDefault("alerts.telegram_token", "")
	v.SetDefault("alerts.telegram_chat_id", 0)
	v.SetDefault("alerts.dedupe_window", "1m")
	v.SetDefault("alerts.queue_size", 100)
	v.SetDefault("alerts.slack.webhook_url", "")
	v.SetDefault("alerts.slack.channel", "")
	v.SetDefault("alerts.slack.dedupe_window", "1m")
	v.SetDefault("alerts.slack.queue_size", 100)
	v.SetDefault("alerts.slack.max_attempts", 3)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.host", "localhost")
	v.SetDefault("tracing.port", 6831)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load reads .env, the optional YAML file at path and REGIME_* overrides,
// then validates the result. Any violation is a fatal config error.
func Load(path string) (Root, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Root{}, fault.Wrap(fault.KindConfigValidation, errors.Wrapf(err, "read %s", path), "engine config")
		}
	}

	var c Root
	if err := v.Unmarshal(&c); err != nil {
		return Root{}, fault.Wrap(fault.KindConfigValidation, errors.Wrap(err, "decode"), "engine config")
	}
	if err := c.Validate(); err != nil {
		return Root{}, err
	}
	return c, nil
}

// Validate checks every section
func (c Root) Validate() error {
	if !(c.Engine.TotalCapital > 0) {
		return fault.Invalid("engine.total_capital %v must be positive", c.Engine.TotalCapital)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := c.Windows(); err != nil {
		return err
	}
	if c.Input.Buffer < 0 {
		return fault.Invalid("input.buffer %d must not be negative", c.Input.Buffer)
	}
	if c.Alerts.Token != "" && c.Alerts.ChatID == 0 {
		return fault.Invalid("alerts.telegram_chat_id is required with a token")
	}
	return c.Risk.Validate()
}

// Location is the exchange time zone
func (c Root) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Engine.Timezone)
	if err != nil {
		return nil, fault.Wrap(fault.KindConfigValidation, err, "engine.timezone")
	}
	return loc, nil
}

// Windows parses the closing windows
func (c Root) Windows() ([]decision.Window, error) {
	out := make([]decision.Window, 0, len(c.Engine.ClosingWindows))
	for _, s := range c.Engine.ClosingWindows {
		w, err := decision.ParseWindow(s)
		if err != nil {
			return nil, fault.Wrap(fault.KindConfigValidation, err, "engine.closing_windows")
		}
		out = append(out, w)
	}
	return out, nil
}
