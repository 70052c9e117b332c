// Package link manages assistant account links.
//
// An account link ties an assistant-platform identity (the "subject") to a
// local user account. It is created when the user completes the OAuth
// authorization flow from the assistant app and revoked when the assistant
// sends a DISCONNECT intent or the user unlinks from the dashboard.
//
// Raw tokens are never stored; only SHA-256 hashes are persisted so a
// database leak cannot be replayed against the fulfillment endpoint.
package link
