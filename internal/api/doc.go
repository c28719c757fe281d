// Package api implements the live-view HTTP and WebSocket server.
//
// This package provides:
//   - The live view page and its static assets
//   - A WebSocket hub that fans bus traffic out to every session
//   - Per-session simulation commands, rate limited, forwarded to the bridge
//   - Health, status and Prometheus endpoints
//
// # Architecture
//
// The server sits between browsers and the bridge. The bridge calls
// Hub.Broadcast for every classified bus message; each session receives
//
//	{"type":"event","event":"sensor_data","timestamp":"...","payload":{...}}
//
// Sessions send {"type":"simulation","payload":{"type":"drought"}}, which is
// handed to the CommandHandler without an acknowledgement, and
// {"type":"ping","id":"..."}, answered with a pong.
//
// # Session isolation
//
// Delivery to a session never blocks: each session has a bounded buffer
// drained by its own write pump. A full, closed or failing session is
// skipped and counted, and the broadcast continues with the others.
//
// Upgrades are limited per client IP (httprate) and refused with 503 once
// the hub has shut down.
package api
