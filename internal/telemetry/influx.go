package telemetry

import (
	"time"

	"github.com/nerrad567/lhkeeper/internal/infrastructure/influxdb"
	"github.com/nerrad567/lhkeeper/internal/lighthouse"
)

// CycleWriter is the subset of *influxdb.Client the Influx sink needs.
type CycleWriter interface {
	WriteCycle(tags influxdb.Tags, s lighthouse.CycleSummary)
	WriteConnectRetry(tags influxdb.Tags, attempt int, at time.Time)
}

// Influx writes one point per cycle and one per retried connection attempt.
type Influx struct {
	w    CycleWriter
	tags influxdb.Tags
}

// NewInflux creates an InfluxDB sink.
func NewInflux(w CycleWriter, tags influxdb.Tags) *Influx {
	return &Influx{w: w, tags: tags}
}

// Observe implements lighthouse.Observer.
func (i *Influx) Observe(e lighthouse.Event) {
	switch e.Type {
	case lighthouse.EventConnectFailed:
		i.w.WriteConnectRetry(i.tags, e.Attempt, e.Time)
	case lighthouse.EventCycleComplete, lighthouse.EventCycleFailed:
		if e.Report != nil {
			i.w.WriteCycle(i.tags, e.Report.Summary())
		}
	}
}
