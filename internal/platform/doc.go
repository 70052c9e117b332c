// Package platform is the HTTP client for the upstream device-management
// platform that the controller units are registered on.
//
// The bridge authenticates against the platform with tenant credentials and
// holds a cached admin session token. Every outbound call carries a bounded
// timeout; a timeout is indistinguishable from a transport failure to
// callers, since neither tells us whether the controller acted.
//
// The token cache is explicitly owned and injectable. Concurrent callers
// that find the token expired share a single refresh via singleflight
// instead of stampeding the platform's login endpoint.
package platform
