// Package main is the entry point for the Kiosk Bridge server.
//
// The server drives a single kiosk browser page and exposes it over HTTP:
// navigation, input, screenshots, window control and script execution.
// Continuous scripts stream their results over server-sent events or a
// WebSocket until they finish, are stopped, or the client goes away.
//
// Configuration:
//   - Environment variables (12-factor), or a YAML file via CONFIG_FILE
//   - CLI flags (override both)
//   - Defaults for development
//
// Usage:
//
//	# Production mode
//	./server -port 3000
//
//	# Development mode with the in-process page (no browser needed)
//	./server -dev -driver sandbox
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown, running scripts are closed first
package main
