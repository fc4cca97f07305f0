package otel

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/metric"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/metrics/export/internaldefs"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

type metricsSource interface {
	MetricsSnapshot() goIdentity.MetricsSnapshot
	AuditDropped() uint64
}

// sample is what one collection sees. Histogram buckets are accumulated
// at most once per collection.
type sample struct {
	snap       goIdentity.MetricsSnapshot
	dropped    uint64
	cumulative map[goIdentity.MetricID][8]uint64
}

func (s *sample) buckets(id goIdentity.MetricID) [8]uint64 {
	b, ok := s.cumulative[id]
	if !ok {
		b = internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(s.snap.Histograms[id]))
		s.cumulative[id] = b
	}
	return b
}

// reading ties an instrument to the value it reports from a sample.
type reading struct {
	inst  metric.Int64Observable
	value func(*sample) int64
}

type Exporter struct {
	source   metricsSource
	readings []reading
	reg      metric.Registration
}

func NewExporter(meter metric.Meter, engine *goIdentity.Engine) (*Exporter, error) {
	if engine == nil {
		return nil, ErrNilSource
	}
	return NewExporterFromSource(meter, engine)
}

// NewExporterFromSource creates the instruments on meter and registers one
// callback that reports all of them.
func NewExporterFromSource(meter metric.Meter, source metricsSource) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	exp := &Exporter{source: source}
	watch := func(inst metric.Int64Observable, value func(*sample) int64) {
		exp.readings = append(exp.readings, reading{inst: inst, value: value})
	}

	for _, def := range internaldefs.CounterDefs {
		c, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("otel counter %s: %w", def.Name, err)
		}
		id := def.ID
		watch(c, func(s *sample) int64 { return int64(s.snap.Counters[id]) })
	}

	for _, def := range internaldefs.HistogramDefs {
		id := def.ID
		for i, suffix := range internaldefs.HistogramBoundSuffix {
			name := def.Name + "_bucket_le_" + suffix
			g, err := meter.Int64ObservableGauge(name, metric.WithDescription(def.Help+" Samples at or below the bound."))
			if err != nil {
				return nil, fmt.Errorf("otel gauge %s: %w", name, err)
			}
			watch(g, func(s *sample) int64 { return int64(s.buckets(id)[i]) })
		}
		g, err := meter.Int64ObservableGauge(def.Name+"_count", metric.WithDescription(def.Help+" Sample count."))
		if err != nil {
			return nil, fmt.Errorf("otel gauge %s_count: %w", def.Name, err)
		}
		watch(g, func(s *sample) int64 {
			b := s.buckets(id)
			return int64(b[len(b)-1])
		})
	}

	dropped, err := meter.Int64ObservableCounter(internaldefs.AuditDroppedName, metric.WithDescription(internaldefs.AuditDroppedHelp))
	if err != nil {
		return nil, fmt.Errorf("otel counter %s: %w", internaldefs.AuditDroppedName, err)
	}
	watch(dropped, func(s *sample) int64 { return int64(s.dropped) })

	insts := make([]metric.Observable, len(exp.readings))
	for i, r := range exp.readings {
		insts[i] = r.inst
	}
	exp.reg, err = meter.RegisterCallback(exp.observe, insts...)
	if err != nil {
		return nil, fmt.Errorf("otel callback: %w", err)
	}
	return exp, nil
}

func (e *Exporter) observe(_ context.Context, o metric.Observer) error {
	s := &sample{
		snap:       e.source.MetricsSnapshot(),
		dropped:    e.source.AuditDropped(),
		cumulative: make(map[goIdentity.MetricID][8]uint64, len(internaldefs.HistogramDefs)),
	}
	for _, r := range e.readings {
		o.ObserveInt64(r.inst, r.value(s))
	}
	return nil
}

// Close unregisters the callback. The instruments stay with the meter.
func (e *Exporter) Close() error {
	if e == nil || e.reg == nil {
		return nil
	}
	return e.reg.Unregister()
}
