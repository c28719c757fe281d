// Package influxdb archives sensor readings in InfluxDB v2.
//
// It wraps influxdb-client-go with connection verification, a batching
// non-blocking write API and health checks. The data logger writes one
// sensor_readings point per telemetry sample, tagged by node, sensor and
// topic.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // run without a reading archive
//	}
//	defer client.Close()
//
//	client.SetOnError(func(err error) {
//	    logger.Error("influxdb write failed", "error", err)
//	})
//	client.WriteReading(influxdb.Reading{Node: "edge-1", Sensor: "light", Fields: fields})
package influxdb
