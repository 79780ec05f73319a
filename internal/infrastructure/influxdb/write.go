package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the script engine.
const (
	MeasurementScriptExecution = "script_execution"
	MeasurementScriptSlots     = "script_slots"
)

// SlotStats is one sample of execution slot usage.
type SlotStats struct {
	Live      int
	Running   int
	Max       int
	Listeners int
	OldestMS  int64
}

// WriteScriptExecution records one finished script run.
//
// Tags are low cardinality (script name and mode); the exit code and
// duration are fields.
//
// Example:
//
//	client.WriteScriptExecution("heating.lua", "keepalive", 0, 42*time.Millisecond)
func (c *Client) WriteScriptExecution(script, mode string, exitCode int, duration time.Duration) {
	c.WritePoint(MeasurementScriptExecution,
		map[string]string{
			"script": script,
			"mode":   mode,
		},
		map[string]interface{}{
			"exit_code":   exitCode,
			"duration_ms": float64(duration.Microseconds()) / 1000,
			"failed":      exitCode != 0,
		},
	)
}

// WriteSlotStats records a gauge sample of the execution slots.
func (c *Client) WriteSlotStats(stats SlotStats) {
	c.WritePoint(MeasurementScriptSlots,
		nil,
		map[string]interface{}{
			"live":      stats.Live,
			"running":   stats.Running,
			"max":       stats.Max,
			"listeners": stats.Listeners,
			"oldest_ms": stats.OldestMS,
		},
	)
}

// WritePoint writes a custom point stamped with the current time.
//
// Example:
//
//	client.WritePoint("system_stats",
//	    map[string]string{"host": "core-01"},
//	    map[string]interface{}{"cpu_percent": 45.2, "memory_mb": 512})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.WritePointWithTime(measurement, tags, fields, c.now())
}

// WritePointWithTime writes a custom point with a specific timestamp.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
