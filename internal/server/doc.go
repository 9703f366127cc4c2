// Package server implements the raw-socket side of gamedesk: two listeners
// with fixed worker pools, a one-request-per-connection router over static
// files, listings and dynamic handlers, and the WebSocket push hub.
//
// Responses are written straight to the connection without net/http. Each
// connection carries exactly one request and is closed after the response,
// except WebSocket upgrades, which stay registered with the Hub until a
// write fails or the server stops.
package server
