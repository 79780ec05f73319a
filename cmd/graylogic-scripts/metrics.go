package main

import (
	"time"

	"github.com/nerrad567/gray-logic-scripts/internal/engine"
	"github.com/nerrad567/gray-logic-scripts/internal/infrastructure/influxdb"
)

// influxWriter is the part of *influxdb.Client the metrics adapter uses.
type influxWriter interface {
	WriteScriptExecution(script, mode string, exitCode int, duration time.Duration)
	WriteSlotStats(stats influxdb.SlotStats)
}

// influxMetrics adapts the InfluxDB client to engine.Metrics.
type influxMetrics struct {
	client influxWriter
}

// RecordExecution implements engine.Metrics.
func (m influxMetrics) RecordExecution(script, mode string, exitCode int, duration time.Duration) {
	m.client.WriteScriptExecution(script, mode, exitCode, duration)
}

// RecordSlots implements engine.Metrics.
func (m influxMetrics) RecordSlots(stats engine.Stats) {
	m.client.WriteSlotStats(influxdb.SlotStats{
		Live:      stats.Live,
		Running:   stats.Running,
		Max:       stats.Max,
		Listeners: stats.Listeners,
		OldestMS:  stats.Oldest.Milliseconds(),
	})
}
