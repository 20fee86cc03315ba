// Package influxdb writes keep-alive metrics to InfluxDB v2.
//
// Two measurements are written:
//
//	lighthouse_cycle          one point per cycle (attempts, timings, success)
//	lighthouse_connect_retry  one point per retried connection attempt
//
// Both are tagged with lighthouse_id, address and run_id. Writes are
// batched and non-blocking; asynchronous failures are delivered through
// SetOnError.
package influxdb
