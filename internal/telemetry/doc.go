// Package telemetry turns keep-alive events into log lines, MQTT messages,
// InfluxDB points and history rows.
//
// Every sink is a lighthouse.Observer; combine them with lighthouse.Observers.
// Sinks never return errors to the loop. Delivery failures are logged and
// dropped so that a missing broker or database cannot stop the lighthouse
// from being pinged.
package telemetry

// Logger interface for structured logging.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}
