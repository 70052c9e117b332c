// Package api implements the HTTP server for the CasaLink bridge.
//
// This package provides:
//   - The assistant fulfillment endpoint (POST /smarthome/fulfillment)
//   - OAuth-style account linking (authorize + token endpoints)
//   - REST endpoints for user registration, login, and device provisioning
//   - Middleware stack (request ID, logging, recovery, CORS, body limits)
//   - TLS support for production deployments
//
// # Architecture
//
// The server sits between two outside parties: the assistant platform, which
// calls the fulfillment and OAuth endpoints, and the device owner, who uses
// the /api/v1 surface to manage an account and provision devices. Assistant
// intents are delegated untouched to the smarthome.Dispatcher; this package
// owns only transport concerns (auth extraction, envelope validation, JSON
// encoding).
//
// # Security
//
// Dashboard routes require a user-scope JWT issued at login. The fulfillment
// endpoint requires an assistant-scope JWT issued during account linking;
// invalid credentials surface as the protocol's authFailure error rather
// than a bare HTTP error, because the assistant expects an envelope back.
package api
