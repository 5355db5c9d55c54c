// Package metric provides Prometheus metrics for ledgersnap.
//
//   - prometheus.go: registry of snapshot pipeline metrics and HTTP handler
//   - collector.go: collector reporting archive and bank snapshot inventory
//
// Metrics are exposed at /metrics in Prometheus format by the node binary.
package metric
