// Package api implements the HTTP REST API and WebSocket server for sessiond.
//
// This package provides:
//   - Login, refresh, logout and claims endpoints
//   - Account, role, session and audit administration guarded by permissions
//   - A session-event WebSocket stream that pushes revocations to clients
//   - Middleware stack (request ID, logging, recovery, metrics, CORS, rate limiting)
//   - TLS support for production deployments
//
// # Security
//
// Protected routes carry an HS256 access credential in the Authorization
// header. The middleware verifies it and then checks its security stamp
// against current revocation state, so a revoked credential is refused
// before it expires. Every authentication failure is the same generic
// 401; clients never learn which check failed.
//
// WebSocket connections use single-use tickets to keep access credentials
// out of URLs.
//
// # Graceful Degradation
//
// The server runs without Redis, MQTT or InfluxDB. Health reports those
// as degraded; only a failing database makes the service unhealthy.
package api
