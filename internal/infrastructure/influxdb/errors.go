package influxdb

import "errors"

var (
	// ErrDisabled is returned by Connect when the influxdb section of the
	// config has enabled: false. Group changes are then only announced over MQTT.
	ErrDisabled = errors.New("influxdb: group change history disabled")

	// ErrConnectionFailed means the server did not answer the startup ping.
	ErrConnectionFailed = errors.New("influxdb: change history server unreachable")

	// ErrNotConnected is returned for group change points offered after Close.
	// The point is dropped.
	ErrNotConnected = errors.New("influxdb: change history client closed")

	// ErrPointRejected wraps batch failures reported by the server. Those
	// arrive asynchronously through the SetOnError callback.
	ErrPointRejected = errors.New("influxdb: group change points rejected")
)
