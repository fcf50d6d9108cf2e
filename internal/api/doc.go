// Package api implements the operator HTTP API and WebSocket server for the
// Tasmota bridge.
//
// This package provides:
//   - Broker settings (GET/POST /api/v1/mqtt)
//   - The device list with sync status, and sync/un-sync operations
//   - The auto-sync switch
//   - The control callback the gateway calls for mirrored devices
//     (POST /api/v1/open/device/{mac})
//   - A WebSocket hub relaying bridge notifications to the operator UI
//
// # Responses
//
// Operator endpoints answer HTTP 200 with an envelope:
//
//	{"error": 0, "msg": "Success", "data": ...}
//
// where error is one of the Code constants. The control callback answers in
// the gateway's own event format instead.
//
// # WebSocket
//
// Clients connect to /api/v1/ws and send
//
//	{"type": "subscribe", "payload": {"channels": ["new_device_report"]}}
//
// "*" subscribes to every notification.
package api
