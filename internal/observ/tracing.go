package observ

import (
	"fmt"
	"io"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	jaegercfg "github.com/uber/jaeger-client-go/config"
	"github.com/uber/jaeger-lib/metrics"
)

// TracingConfig locates the Jaeger agent
type TracingConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

// InitTracer returns a Jaeger tracer, or a no-op tracer when tracing is
// disabled. The closer flushes pending spans.
func InitTracer(cfg TracingConfig, service string) (opentracing.Tracer, io.Closer, error) {
	if !cfg.Enabled {
		return opentracing.NoopTracer{}, nopCloser{}, nil
	}
	jc := &jaegercfg.Configuration{
		ServiceName: service,
		Sampler: &jaegercfg.SamplerConfig{
			Type:  "const",
			Param: 1,
		},
		Reporter: &jaegercfg.ReporterConfig{
			LocalAgentHostPort: fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		},
	}
	tracer, closer, err := jc.NewTracer(jaegercfg.Metrics(metrics.NullFactory))
	if err != nil {
		return nil, nil, errors.Wrap(err, "init jaeger tracer")
	}
	opentracing.SetGlobalTracer(tracer)
	return tracer, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
