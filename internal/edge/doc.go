// Package edge simulates a greenhouse edge node.
//
// A Node samples four sensors (temperature, humidity, light, air quality)
// on a fixed interval and publishes each reading to env/{sensor}/raw. A
// reading outside its constraint is also published to
// env/event/{event_type}.
//
// The node listens on the control topic for simulation commands. A mode
// such as "overheat" or "drought" pushes one sensor out of range until
// "reset" is received.
package edge
