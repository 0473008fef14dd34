// Package ws streams continuous script results over WebSocket.
//
// A socket can run several scripts at once. Every script it starts is
// closed with reason "disconnected" when the socket goes away.
//
// Message Types (Client → Server):
//   - execute: {type, script} starts a continuous script
//   - stop: {type, scriptId} stops a script
//   - ping: Keep-alive ping
//
// Message Types (Server → Client):
//   - connected: Sent once with the connection id
//   - started: Script registered, carries scriptId
//   - result: One value sent by a script
//   - closed: Script channel closed, carries the reason
//   - stopped: Reply to stop with success
//   - pong: Reply to ping
//   - error: Request failed
//
// Any client message may carry requestId; replies echo it.
//
// Example Usage:
//
//	handler := ws.NewHandler(driver, executor, logger)
//	router.GET("/api/scripts/stream", handler.HandleConnection)
package ws
