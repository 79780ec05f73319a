// Package api implements the HTTP API and WebSocket event stream of the
// Gray Logic script engine.
//
// This package provides:
//   - REST endpoints to list and execute scripts and inspect engine load
//   - Session authorisation checks backed by interpreter sessions
//   - Device catalog endpoints that also notify running scripts
//   - A WebSocket stream of router events per connected client
//   - Web script serving under /web/
//   - Middleware stack (request ID, logging, recovery, CORS)
//
// # Architecture
//
//	HTTP client → chi router → Engine (execute, sessions, web scripts)
//	                         → Device registry → Event router
//	WS client   ← writePump  ← Event router subscription (ws-<uuid>)
//
// # Graceful Degradation
//
// MQTT and the database are optional. Without them the health endpoint
// reports the missing component and everything else keeps working.
package api
