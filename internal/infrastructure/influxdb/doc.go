// Package influxdb provides InfluxDB connectivity for OTA Core.
//
// It wraps the official influxdb-client-go v2 library for connection
// management, non-blocking batched writes and health monitoring. OTA Core
// uses it to keep a time series of group changes (measurement group_change)
// next to the fleet's other telemetry.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	if err := client.WriteGroupChange(7, "policy", map[string]any{"version": int64(3)}, time.Now()); err != nil {
//	    log.Warn("group change not recorded", "error", err)
//	}
//
// # Error Handling
//
// Writes never block the caller. Batches the server refuses reach the
// SetOnError callback wrapped in ErrPointRejected. A point offered after
// Close returns ErrNotConnected.
package influxdb
