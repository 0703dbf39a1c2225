// Package output formats a human-readable trace of request/response exchanges.
//
// The console formatter prints one coloured line per exchange and, when
// verbose, the response headers that were received.
package output
