// Package device provides the Device Registry for CasaLink.
//
// The Device Registry is the persistent catalogue of controller units a user
// has provisioned on the device-management platform. Each record maps an
// externally-visible device identifier to its owner, its declared capability
// set, and the platform-side address (controller ID + sub-device index) used
// by the Remote Command Gateway.
//
// # Key Types
//
//   - Device: one controllable endpoint on a physical controller unit
//   - Capability: what the endpoint can do (light, dimmer, fan, speed, outlet, ...)
//   - Status: explicit lifecycle state (active, deleted) — devices are
//     soft-deleted, never physically removed
//
// # Thread Safety
//
// The SQLite repository is safe for concurrent use; SQLite's own locking
// serialises writers.
package device
