package otel

import (
	"context"
	"errors"
	"fmt"

	lmsauth "github.com/MrEthical07/lmsauth"
	"github.com/MrEthical07/lmsauth/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

// Source is read once per collection. *lmsauth.Manager satisfies it.
type Source interface {
	MetricsSnapshot() lmsauth.MetricsSnapshot
	AuditDropped() uint64
	Session() lmsauth.Session
	Channel() lmsauth.ChannelStatus
}

// reading is one consistent pass over a Source. Histograms are stored
// cumulative, the way the bucket gauges report them.
type reading struct {
	counters map[lmsauth.MetricID]uint64
	buckets  map[lmsauth.MetricID][8]uint64
	dropped  uint64
	state    internaldefs.StateView
}

func read(src Source) *reading {
	snap := src.MetricsSnapshot()
	r := &reading{
		counters: snap.Counters,
		buckets:  make(map[lmsauth.MetricID][8]uint64, len(internaldefs.HistogramDefs)),
		dropped:  src.AuditDropped(),
		state: internaldefs.StateView{
			Session: src.Session(),
			Channel: src.Channel(),
		},
	}
	for _, def := range internaldefs.HistogramDefs {
		r.buckets[def.ID] = internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snap.Histograms[def.ID]))
	}
	return r
}

// observation binds an instrument to the value it reports from a reading.
type observation struct {
	instrument metric.Int64Observable
	value      func(*reading) int64
}

// instrumentSet creates instruments on a meter and keeps the first error.
type instrumentSet struct {
	meter        metric.Meter
	observations []observation
	err          error
}

func (s *instrumentSet) counter(name, help string, value func(*reading) int64) {
	if s.err != nil {
		return
	}
	ins, err := s.meter.Int64ObservableCounter(name, metric.WithDescription(help))
	if err != nil {
		s.err = fmt.Errorf("create counter %s: %w", name, err)
		return
	}
	s.observations = append(s.observations, observation{instrument: ins, value: value})
}

func (s *instrumentSet) gauge(name, help string, value func(*reading) int64) {
	if s.err != nil {
		return
	}
	ins, err := s.meter.Int64ObservableGauge(name, metric.WithDescription(help))
	if err != nil {
		s.err = fmt.Errorf("create gauge %s: %w", name, err)
		return
	}
	s.observations = append(s.observations, observation{instrument: ins, value: value})
}

// OTelExporter publishes a Manager's counters, connect-latency buckets and
// live session/channel state through one registered callback.
type OTelExporter struct {
	source       Source
	observations []observation
	registration metric.Registration
}

// NewOTelExporter registers instruments for m on meter.
func NewOTelExporter(meter metric.Meter, m *lmsauth.Manager) (*OTelExporter, error) {
	if m == nil {
		return nil, ErrNilSource
	}
	return NewOTelExporterFromSource(meter, m)
}

// NewOTelExporterFromSource registers instruments for any Source.
func NewOTelExporterFromSource(meter metric.Meter, source Source) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	set := &instrumentSet{meter: meter}
	for _, def := range internaldefs.CounterDefs {
		id := def.ID
		set.counter(def.Name, def.Help, func(r *reading) int64 { return int64(r.counters[id]) })
	}
	set.counter(internaldefs.AuditDroppedName, "Audit events lost to dispatcher backpressure.",
		func(r *reading) int64 { return int64(r.dropped) })

	// OTel has no observable histogram, so each cumulative bucket is a gauge.
	for _, def := range internaldefs.HistogramDefs {
		id := def.ID
		for i, suffix := range internaldefs.HistogramBoundSuffix {
			i := i
			set.gauge(def.Name+"_bucket_le_"+suffix, def.Help+" Cumulative bucket.",
				func(r *reading) int64 { return int64(r.buckets[id][i]) })
		}
		set.gauge(def.Name+"_count", def.Help+" Sample count.",
			func(r *reading) int64 { b := r.buckets[id]; return int64(b[len(b)-1]) })
	}

	for _, def := range internaldefs.StateGaugeDefs {
		value := def.Value
		set.gauge(def.Name, def.Help, func(r *reading) int64 { return value(r.state) })
	}
	if set.err != nil {
		return nil, set.err
	}

	e := &OTelExporter{source: source, observations: set.observations}
	instruments := make([]metric.Observable, 0, len(set.observations))
	for _, o := range set.observations {
		instruments = append(instruments, o.instrument)
	}
	registration, err := meter.RegisterCallback(e.observe, instruments...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	e.registration = registration
	return e, nil
}

func (e *OTelExporter) observe(_ context.Context, o metric.Observer) error {
	r := read(e.source)
	for _, ob := range e.observations {
		o.ObserveInt64(ob.instrument, ob.value(r))
	}
	return nil
}

// Close unregisters the callback. The instruments stay with the Meter.
func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
