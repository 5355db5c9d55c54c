// Package httpserver provides the node's admin HTTP endpoint.
//
//   - GET /health: liveness
//   - GET /ready: 200 once the node has restored or created its root bank
//   - GET /status: JSON view of the fork set and the newest archives
//   - GET /metrics: Prometheus metrics
//
// Every route runs behind RequestID, Recover, per-IP RateLimit and
// AccessLog middleware.
package httpserver
