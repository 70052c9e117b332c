// Package smarthome implements the assistant fulfillment core: the envelope
// types of the SYNC/QUERY/EXECUTE/DISCONNECT protocol, the capability
// translator that maps registry devices onto assistant descriptors and
// assistant commands onto platform RPCs, and the intent dispatcher that
// terminates one envelope into one response.
//
// The dispatcher owns no state. It borrows registry records for the duration
// of a single request, never caches them, and never lets a collaborator
// fault propagate past the envelope boundary.
package smarthome
