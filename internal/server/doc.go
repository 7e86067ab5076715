// Package server implements the WebSocket relay: connection acceptance, the
// per-connection session loop, configuration, and the HTTP surface.
//
// Each accepted connection gets its own Session bound to the process-wide
// broadcast hub and name registry. Sessions never wait on each other; a slow
// client only loses its own oldest pending broadcasts.
package server
