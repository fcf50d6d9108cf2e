// Package gateway is the REST client for the upstream smart-home gateway
// (eWeLink CUBE / iHost open API).
//
// The gateway keeps its own device list. Third-party devices are added with
// a DiscoveryRequest event and kept current with DeviceStatesChangeReport and
// DeviceOnlineChangeReport events, all posted to /thirdparty/event. Every
// call except AcquireToken carries the bearer token granted to this bridge.
//
// # Response codes
//
//	0       success
//	401     credential invalid (ErrUnauthorized)
//	110000  device not found (ErrNotFound)
//
// Event replies report failures in their payload instead of a code; a
// description of "headers.Authorization is invalid" also maps to
// ErrUnauthorized.
package gateway
