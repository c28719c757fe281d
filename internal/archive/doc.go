// Package archive persists greenhouse bus traffic for later analysis.
//
// Telemetry samples become InfluxDB points in the sensor_readings
// measurement. Event alerts become rows in the SQLite sensor_events table,
// which keeps a local record even when InfluxDB is unavailable.
//
// The Archiver is a bus message handler: it classifies with the same
// bridge.Classifier as the live view, so both agree on what a reading and
// an event are.
package archive
