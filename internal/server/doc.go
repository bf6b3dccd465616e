// Package server exposes the HTTP control and monitoring API: health and
// status views, start/stop and retargeting of the stream, and the Prometheus
// scrape endpoint.
package server
