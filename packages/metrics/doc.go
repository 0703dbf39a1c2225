// Package metrics records request latencies for a test server.
//
// Latencies are kept in HDR histograms (microsecond resolution, 1µs to 60s)
// both in aggregate and broken down by request name.
package metrics
