// Package influxdb writes script engine telemetry to InfluxDB v2 through
// influxdb-client-go's batched, non-blocking write API.
//
// Measurements (every point also carries service and, when set, site):
//
//	script_execution  tags: script, mode   fields: exit_code, duration_ms, failed
//	script_slots      fields: live, running, max, listeners, oldest_ms
//
// Typical wiring:
//
//	client, err := influxdb.Connect(cfg.InfluxDB, influxdb.WithTag("site", cfg.Site.ID))
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	client.SetOnError(func(err error) { log.Error("influx write", "error", err) })
//
// Connect and HealthCheck return errors directly; failed batches are
// reported only through SetOnError.
package influxdb
