package bridge

import "errors"

var (
	// ErrDecode is wrapped by Classify when a payload is not a JSON object.
	ErrDecode = errors.New("bridge: payload is not a JSON object")

	// ErrInvalidCommand is returned for an empty or oversized command type.
	ErrInvalidCommand = errors.New("bridge: invalid command")

	// ErrNotRunning is returned by HandleMessage outside the Running state
	// and by HealthCheck while the bus is down.
	ErrNotRunning = errors.New("bridge: not running")

	// ErrInvalidConfig is returned by New for unusable topic settings.
	ErrInvalidConfig = errors.New("bridge: invalid configuration")
)

// ErrAlreadyStarted is returned by a second call to Start.
var ErrAlreadyStarted = errors.New("bridge: already started")
