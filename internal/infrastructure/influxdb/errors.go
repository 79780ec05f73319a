package influxdb

import "errors"

// Errors returned by Connect and HealthCheck. Point writes never return an
// error; batch failures arrive through SetOnError.
var (
	// ErrDisabled is returned by Connect when influxdb.enabled is false.
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	// ErrConnectionFailed wraps the ping failure seen by Connect.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrNotConnected is returned by HealthCheck after Close.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrUnhealthy is returned when the server answers a ping as not ready.
	ErrUnhealthy = errors.New("influxdb: server not healthy")
)
