// Package metrics exposes stream, FIFO and HTTP API metrics to Prometheus.
package metrics
