package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementSensorReadings is the measurement holding archived telemetry.
const MeasurementSensorReadings = "sensor_readings"

// Reading is one telemetry sample ready to be archived.
type Reading struct {
	Node   string
	Sensor string
	Topic  string

	// Fields are the numeric and boolean values of the sample.
	Fields map[string]interface{}

	Time time.Time
}

// ReadingPoint converts r into a sensor_readings point tagged by node,
// sensor and topic. Empty tags are omitted.
func ReadingPoint(r Reading) *write.Point {
	tags := make(map[string]string, 3)
	if r.Node != "" {
		tags["node"] = r.Node
	}
	if r.Sensor != "" {
		tags["sensor"] = r.Sensor
	}
	if r.Topic != "" {
		tags["topic"] = r.Topic
	}

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	return write.NewPoint(MeasurementSensorReadings, tags, r.Fields, ts)
}

// WriteReading queues a reading for the next batch.
// Readings without fields are skipped; InfluxDB rejects empty points.
//
// Example:
//
//	client.WriteReading(influxdb.Reading{
//	    Node:   "edge-1",
//	    Sensor: "temperature",
//	    Fields: map[string]interface{}{"value": 21.5},
//	    Time:   sample.Timestamp,
//	})
func (c *Client) WriteReading(r Reading) {
	if !c.IsConnected() || len(r.Fields) == 0 {
		c.skipped.Add(1)
		return
	}
	c.writeAPI.WritePoint(ReadingPoint(r))
	c.queued.Add(1)
}
